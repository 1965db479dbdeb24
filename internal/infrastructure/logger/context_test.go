package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextIdentifiers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CorrelationID(ctx))
	assert.Empty(t, CommandID(ctx))
	assert.Empty(t, TenantID(ctx))

	ctx = WithCorrelationID(ctx, "corr-1")
	ctx = WithCommandID(ctx, "cmd-1")
	ctx = WithTenantID(ctx, "t-1")

	assert.Equal(t, "corr-1", CorrelationID(ctx))
	assert.Equal(t, "cmd-1", CommandID(ctx))
	assert.Equal(t, "t-1", TenantID(ctx))
}

func TestFromContextDefaultsToNop(t *testing.T) {
	log := FromContext(context.Background())
	require.NotNil(t, log)

	core, logs := observer.New(zap.InfoLevel)
	attached := zap.New(core)
	ctx := WithLogger(context.Background(), attached)

	FromContext(ctx).Info("attached")
	assert.Equal(t, 1, logs.Len())
}

func TestEnrichAddsIdentifierFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)

	ctx := WithCorrelationID(context.Background(), "corr-1")
	ctx = WithCommandID(ctx, "cmd-1")
	ctx = WithTenantID(ctx, "t-1")

	Enrich(ctx, log).Info("processing")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "corr-1", fields["correlation_id"])
	assert.Equal(t, "cmd-1", fields["command_id"])
	assert.Equal(t, "t-1", fields["tenant_id"])
}

func TestEnrichWithoutIdentifiersAddsNothing(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	Enrich(context.Background(), zap.New(core)).Info("bare")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].Context)
}
