package jobstore

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/ajitpratap0/wealthsync/pkg/errors"
)

// CompressedSuffix selects zstd framing for a FileStore path.
const CompressedSuffix = ".zst"

// FileStore appends job records to a file as JSON lines. When the path ends
// in .zst every record is written as its own zstd frame, so the file stays
// a valid zstd stream after each append.
type FileStore struct {
	mu       sync.Mutex
	path     string
	compress bool
	encoder  *zstd.Encoder
}

// NewFileStore creates the parent directory of path if needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.NewConfiguration("file job store needs a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create job store directory")
	}

	fs := &FileStore{path: path, compress: strings.HasSuffix(path, CompressedSuffix)}
	if fs.compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create zstd encoder")
		}
		fs.encoder = enc
	}
	return fs, nil
}

// Path returns the file being written.
func (fs *FileStore) Path() string { return fs.path }

// SaveJob appends job to the file.
func (fs *FileStore) SaveJob(ctx context.Context, job JobRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode job record")
	}
	line = append(line, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.compress {
		if fs.encoder == nil {
			return errors.New(errors.ErrorTypeInternal, "job store is closed")
		}
		line = fs.encoder.EncodeAll(line, nil)
	}

	f, err := os.OpenFile(fs.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // G304: configured path
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to open job store")
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write job record")
	}
	return f.Close()
}

// ReadAll returns every record in file order. A missing file holds no
// records.
func (fs *FileStore) ReadAll() ([]JobRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to read job store")
	}

	var r io.Reader = bytes.NewReader(data)
	if fs.compress {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to open zstd stream")
		}
		defer dec.Close()
		r = dec
	}

	var jobs []JobRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var job JobRecord
		if err := json.Unmarshal(line, &job); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "corrupt job record")
		}
		jobs = append(jobs, job)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to read job store")
	}
	return jobs, nil
}

// Close releases the encoder.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.encoder != nil {
		err := fs.encoder.Close()
		fs.encoder = nil
		return err
	}
	return nil
}
