package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "<not set>"},
		{"short", "*****"},
		{"12345678", "********"},
		{"abcd1234wxyz9876", "abcd...9876"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskSecret(tt.in))
		})
	}
}

func TestWithContextAddsFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := Get()
	Set(zap.New(core))
	defer Set(prev)

	ctx := ContextWithSource(ContextWithJobID(context.Background(), "ab12cd34"), "ibkr")
	WithContext(ctx).Info("fetched holdings")

	entries := logs.All()
	assert.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ab12cd34", fields["job_id"])
	assert.Equal(t, "ibkr", fields["source"])
}

func TestInitRejectsBadLevel(t *testing.T) {
	err := Init(Config{Level: "loud"})
	assert.Error(t, err)
}
