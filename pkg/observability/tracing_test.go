package observability

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func restoreGlobalProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestSetupDisabled(t *testing.T) {
	restoreGlobalProvider(t)
	otel.SetTracerProvider(noop.NewTracerProvider())

	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	ctx, span := StartSync(context.Background(), "job1", 2)
	assert.False(t, trace.SpanFromContext(ctx).SpanContext().IsValid())
	span.End()
}

func TestSetupExportsSpans(t *testing.T) {
	restoreGlobalProvider(t)
	var buf bytes.Buffer

	shutdown, err := Setup(context.Background(), Config{
		Enabled:        true,
		ServiceName:    "wealthsync-test",
		ServiceVersion: "0.0.1",
		SamplingRate:   1,
		Writer:         &buf,
	})
	require.NoError(t, err)

	ctx, syncSpan := StartSync(context.Background(), "a1b2c3d4", 1)
	parent := trace.SpanFromContext(ctx).SpanContext()
	assert.True(t, parent.IsValid())

	srcCtx, srcSpan := StartSource(ctx, "binance", "exchange")
	assert.Equal(t, parent.TraceID(), trace.SpanFromContext(srcCtx).SpanContext().TraceID())
	srcSpan.SetAttribute("records.fetched", 12)
	srcSpan.Fail(fmt.Errorf("rate limited"))
	srcSpan.End()
	syncSpan.End()

	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"Name":"sync"`)
	assert.Contains(t, out, `"Name":"sync.source"`)
	assert.Contains(t, out, "a1b2c3d4")
	assert.Contains(t, out, "rate limited")
	assert.Contains(t, out, "wealthsync-test")
}

func TestSamplingRateZeroDropsSpans(t *testing.T) {
	restoreGlobalProvider(t)
	var buf bytes.Buffer

	shutdown, err := Setup(context.Background(), Config{Enabled: true, Writer: &buf})
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "ignored")
	span.SetAttribute("k", struct{ A int }{1})
	span.End()
	require.NoError(t, shutdown(context.Background()))
	assert.Empty(t, buf.String())
}
