package errors_test

import (
	"fmt"
	"io"
	"time"

	"github.com/ajitpratap0/wealthsync/pkg/errors"
)

// Example demonstrates basic error creation and details.
func Example() {
	err := errors.New(errors.ErrorTypeConnection, "failed to reach gateway").
		WithDetail("host", "localhost").
		WithDetail("port", 5000)

	fmt.Println(err.Error())

	// Output:
	// failed to reach gateway
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := errors.Wrap(io.EOF, errors.ErrorTypeDataFetch, "failed to read positions")

	if errors.IsType(err, errors.ErrorTypeDataFetch) {
		fmt.Println("data fetch error")
	}
	if errors.Is(err, io.EOF) {
		fmt.Println("caused by EOF")
	}

	// Output:
	// data fetch error
	// caused by EOF
}

// ExampleNewDataFetch shows the source and endpoint context in the message.
func ExampleNewDataFetch() {
	err := errors.NewDataFetch("Network error", "binance", "/balance")
	fmt.Println(err)

	// Output:
	// Network error (source=binance, endpoint=/balance)
}

// ExampleRetryAfter reads the hint carried by a rate limit error.
func ExampleRetryAfter() {
	err := errors.NewRateLimit("Tiingo rate limit exceeded", time.Minute)
	wrapped := fmt.Errorf("price lookup: %w", err)

	if d, ok := errors.RetryAfter(wrapped); ok {
		fmt.Println(d)
	}
	fmt.Println(errors.IsRetryable(wrapped))

	// Output:
	// 1m0s
	// true
}
