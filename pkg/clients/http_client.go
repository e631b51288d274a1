package clients

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/ajitpratap0/wealthsync/pkg/errors"
)

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	// Connection settings
	MaxIdleConns        int           `json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`

	// HTTP/2 settings
	EnableHTTP2 bool `json:"enable_http2"`

	// Timeouts
	DialTimeout           time.Duration `json:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `json:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `json:"response_header_timeout"`
	RequestTimeout        time.Duration `json:"request_timeout"`
	KeepAlive             time.Duration `json:"keep_alive"`

	// Circuit breaker
	CircuitBreakerEnabled bool          `json:"circuit_breaker_enabled"`
	FailureThreshold      int           `json:"failure_threshold"`
	SuccessThreshold      int           `json:"success_threshold"`
	OpenTimeout           time.Duration `json:"open_timeout"`

	UserAgent string `json:"user_agent"`

	// Transport overrides the constructed transport, mainly for tests.
	Transport http.RoundTripper `json:"-"`
}

// DefaultHTTPConfig returns the default configuration used by connectors.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		EnableHTTP2:           true,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		RequestTimeout:        30 * time.Second,
		KeepAlive:             30 * time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
		UserAgent:             "wealthsync/1.0",
	}
}

// HTTPClient issues JSON requests against provider APIs and maps failures
// onto the connector error taxonomy.
type HTTPClient struct {
	config         *HTTPConfig
	source         string
	logger         *zap.Logger
	httpClient     *http.Client
	circuitBreaker *CircuitBreaker

	totalRequests  int64
	failedRequests int64
}

// NewHTTPClient creates a client for one source. source labels errors.
func NewHTTPClient(source string, config *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &HTTPClient{
		config: config,
		source: source,
		logger: logger.With(zap.String("component", "http_client"), zap.String("source", source)),
	}

	transport := config.Transport
	if transport == nil {
		t := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   config.DialTimeout,
				KeepAlive: config.KeepAlive,
			}).DialContext,
			MaxIdleConns:          config.MaxIdleConns,
			MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
			IdleConnTimeout:       config.IdleConnTimeout,
			TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
			ResponseHeaderTimeout: config.ResponseHeaderTimeout,
			ExpectContinueTimeout: 1 * time.Second,
			TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		}
		if config.EnableHTTP2 {
			if err := http2.ConfigureTransport(t); err != nil {
				client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
			}
		}
		transport = t
	}

	client.httpClient = &http.Client{
		Transport: transport,
		Timeout:   config.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	if config.CircuitBreakerEnabled {
		client.circuitBreaker = NewCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: config.FailureThreshold,
			SuccessThreshold: config.SuccessThreshold,
			Timeout:          config.OpenTimeout,
		}, logger)
	}

	return client
}

// WithHTTPClient swaps the underlying client, e.g. for an OAuth2 client
// that injects bearer tokens.
func (c *HTTPClient) WithHTTPClient(hc *http.Client) *HTTPClient {
	cp := *c
	if hc.Timeout == 0 {
		hc.Timeout = c.config.RequestTimeout
	}
	cp.httpClient = hc
	return &cp
}

// Do performs a request guarded by the circuit breaker. Network failures
// become connection or timeout errors; the response status is not checked.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	endpoint := req.URL.Path

	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, errors.New(errors.ErrorTypeConnection,
			fmt.Sprintf("circuit breaker open for %s", c.source)).
			WithDetail(errors.DetailSource, c.source).
			WithDetail(errors.DetailEndpoint, endpoint)
	}

	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	atomic.AddInt64(&c.totalRequests, 1)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		if c.circuitBreaker != nil {
			c.circuitBreaker.RecordFailure()
		}
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		errType := errors.ErrorTypeConnection
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			errType = errors.ErrorTypeTimeout
		}
		c.logger.Debug("request failed",
			zap.String("endpoint", endpoint),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, errors.Wrap(err, errType, fmt.Sprintf("request to %s failed", endpoint)).
			WithDetail(errors.DetailSource, c.source).
			WithDetail(errors.DetailEndpoint, endpoint)
	}

	if c.circuitBreaker != nil {
		if resp.StatusCode >= 500 {
			c.circuitBreaker.RecordFailure()
		} else {
			c.circuitBreaker.RecordSuccess()
		}
	}

	c.logger.Debug("request completed",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed))
	return resp, nil
}

// GetJSON issues a GET and decodes a 2xx JSON body into out.
func (c *HTTPClient) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	return c.DoJSON(ctx, http.MethodGet, url, nil, headers, out)
}

// DoJSON issues a request and decodes a 2xx JSON body into out. A non-2xx
// status is mapped by CheckStatus.
func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, body io.Reader, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errors.NewConfiguration(fmt.Sprintf("invalid request URL %q: %v", url, err))
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := CheckStatus(c.source, resp); err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.WrapDataFetch(err, "invalid JSON response", c.source, req.URL.Path)
	}
	return nil
}

// CheckStatus maps an HTTP status onto the error taxonomy: 401/403 are
// authentication failures, 429 a rate limit honoring Retry-After, anything
// else outside 2xx a data fetch failure.
func CheckStatus(source string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	endpoint := resp.Request.URL.Path
	snippet := readSnippet(resp.Body)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NewAuthentication(source, fmt.Sprintf("HTTP %d from %s", resp.StatusCode, endpoint)).
			WithDetail(errors.DetailStatus, resp.StatusCode)
	case http.StatusTooManyRequests:
		return errors.NewRateLimit(fmt.Sprintf("%s rate limit exceeded", source), ParseRetryAfter(resp.Header.Get("Retry-After"))).
			WithDetail(errors.DetailStatus, resp.StatusCode)
	}
	msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if snippet != "" {
		msg += ": " + snippet
	}
	return errors.NewDataFetch(msg, source, endpoint).WithDetail(errors.DetailStatus, resp.StatusCode)
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. Unparseable values yield zero.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func readSnippet(r io.Reader) string {
	buf, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(buf))
}

// GetStats returns current client statistics
func (c *HTTPClient) GetStats() HTTPStats {
	total := atomic.LoadInt64(&c.totalRequests)
	failed := atomic.LoadInt64(&c.failedRequests)
	stats := HTTPStats{TotalRequests: total, FailedRequests: failed}
	if c.circuitBreaker != nil {
		stats.CircuitState = c.circuitBreaker.State().String()
	}
	return stats
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// HTTPStats represents HTTP client statistics
type HTTPStats struct {
	TotalRequests  int64  `json:"total_requests"`
	FailedRequests int64  `json:"failed_requests"`
	CircuitState   string `json:"circuit_state,omitempty"`
}
