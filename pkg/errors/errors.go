// Package errors provides structured error handling for wealthsync.
//
// Every failure a connector can surface belongs to a small closed taxonomy
// (authentication, rate limit, data fetch, configuration) so callers can
// apply uniform retry and skip policies without inspecting provider
// internals. Plugin loading has its own two kinds.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeAuthentication represents rejected credentials
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeRateLimit represents provider rate limit errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeDataFetch represents failed fetches from a source
	ErrorTypeDataFetch ErrorType = "data_fetch"
	// ErrorTypeConfig represents invalid or incomplete configuration
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeCancelled represents work abandoned because its context ended
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypePluginLoad represents failures to load or instantiate a plugin
	ErrorTypePluginLoad ErrorType = "plugin_load"
	// ErrorTypePluginValidation represents manifest or code validation failures
	ErrorTypePluginValidation ErrorType = "plugin_validation"
)

// Detail keys used by the taxonomy constructors.
const (
	DetailSource     = "source"
	DetailEndpoint   = "endpoint"
	DetailRetryAfter = "retry_after"
	DetailMissing    = "missing"
	DetailStatus     = "status"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. The type is not part of the text;
// callers that need it use IsType or TypeOf.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value and whether it was set.
func (e *Error) Detail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	v, ok := e.Details[key]
	return v, ok
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Details: copyDetails(existingErr.Details),
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// NewAuthentication reports credentials rejected by a source.
func NewAuthentication(source, message string) *Error {
	msg := message
	if source != "" {
		msg = fmt.Sprintf("[%s] %s", source, message)
	}
	e := &Error{Type: ErrorTypeAuthentication, Message: msg, Stack: captureStack(2)}
	if source != "" {
		e.WithDetail(DetailSource, source)
	}
	return e
}

// NewRateLimit reports a provider-side rate limit. retryAfter is a hint for
// the earliest sensible retry, zero when the provider gave none.
func NewRateLimit(message string, retryAfter time.Duration) *Error {
	e := &Error{Type: ErrorTypeRateLimit, Message: message, Stack: captureStack(2)}
	if retryAfter > 0 {
		e.WithDetail(DetailRetryAfter, retryAfter)
	}
	return e
}

// NewDataFetch reports a failed fetch. The message carries the source and
// endpoint as "msg (source=x, endpoint=y)" when they are known.
func NewDataFetch(message, source, endpoint string) *Error {
	e := &Error{Type: ErrorTypeDataFetch, Message: message + fetchContext(source, endpoint), Stack: captureStack(2)}
	if source != "" {
		e.WithDetail(DetailSource, source)
	}
	if endpoint != "" {
		e.WithDetail(DetailEndpoint, endpoint)
	}
	return e
}

// WrapDataFetch is NewDataFetch with an underlying cause.
func WrapDataFetch(err error, message, source, endpoint string) *Error {
	e := NewDataFetch(message, source, endpoint)
	e.Cause = err
	return e
}

// NewConfiguration reports invalid connector or application configuration.
func NewConfiguration(message string) *Error {
	return &Error{Type: ErrorTypeConfig, Message: message, Stack: captureStack(2)}
}

// NewMissingConfig reports every missing configuration key at once.
func NewMissingConfig(missing []string) *Error {
	e := &Error{
		Type:    ErrorTypeConfig,
		Message: fmt.Sprintf("missing required config keys: [%s]", strings.Join(missing, ", ")),
		Stack:   captureStack(2),
	}
	return e.WithDetail(DetailMissing, append([]string(nil), missing...))
}

// NewPluginLoad reports a plugin that could not be loaded or instantiated.
func NewPluginLoad(message string) *Error {
	return &Error{Type: ErrorTypePluginLoad, Message: message, Stack: captureStack(2)}
}

// NewPluginValidation reports a plugin whose manifest or code was rejected.
func NewPluginValidation(message string) *Error {
	return &Error{Type: ErrorTypePluginValidation, Message: message, Stack: captureStack(2)}
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeDataFetch, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the outermost structured error type, or "" for plain errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Type
}

// IsConnectorError reports whether err belongs to the connector taxonomy.
func IsConnectorError(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeAuthentication, ErrorTypeRateLimit, ErrorTypeDataFetch, ErrorTypeConfig:
		return true
	default:
		return false
	}
}

// RetryAfter returns the retry-after hint carried by a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return 0, false
		}
		if v, ok := e.Detail(DetailRetryAfter); ok {
			if d, ok := v.(time.Duration); ok {
				return d, true
			}
		}
		err = e.Cause
	}
	return 0, false
}

// StatusCode returns the HTTP status recorded on err by the HTTP client.
func StatusCode(err error) (int, bool) {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return 0, false
		}
		if v, ok := e.Detail(DetailStatus); ok {
			if code, ok := v.(int); ok {
				return code, true
			}
		}
		err = e.Cause
	}
	return 0, false
}

// Is, As and Join re-export the standard library helpers so callers only
// import one errors package.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Join returns an error that wraps the given errors.
func Join(errs ...error) error { return errors.Join(errs...) }

func fetchContext(source, endpoint string) string {
	var parts []string
	if source != "" {
		parts = append(parts, "source="+source)
	}
	if endpoint != "" {
		parts = append(parts, "endpoint="+endpoint)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func copyDetails(in map[string]interface{}) map[string]interface{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
