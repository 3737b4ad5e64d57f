package notification

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatchWithoutRedisLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	d := NewDispatcher(Params{Log: zap.New(core)})

	d.Dispatch(context.Background(), snowflake.ID(7), EventNewSale, map[string]any{"amount": 50000})

	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "7", fields["user_id"])
	assert.Equal(t, string(EventNewSale), fields["type"])
}

func TestDispatchSkipsAnonymousUser(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	d := NewDispatcher(Params{Log: zap.New(core)})

	d.Dispatch(context.Background(), 0, EventPaymentCompleted, nil)

	assert.Zero(t, logs.Len())
}
