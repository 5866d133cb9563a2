package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// requestCtx mimics the fasthttp request context, which exposes fiber locals
// as plain context values.
type requestCtx struct {
	context.Context
	id string
}

func (c requestCtx) Value(key interface{}) interface{} {
	if key == "requestID" {
		return c.id
	}
	return c.Context.Value(key)
}

func TestWithContextAddsRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	Log = zap.New(core)

	ctx := requestCtx{Context: context.Background(), id: "req-123"}
	WithContext(ctx).Info("processing")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-123", entries[0].ContextMap()["request_id"])
}

func TestWithContextWithoutRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	Log = zap.New(core)

	WithContext(context.Background()).Info("processing")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].ContextMap(), "request_id")
}
