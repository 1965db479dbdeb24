package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func newObservedGormLogger(cfg GormConfig) (*GormLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewGormLogger(zap.New(core), cfg), logs
}

func TestGormTraceLogsQuery(t *testing.T) {
	gl, logs := newObservedGormLogger(GormConfig{Level: gormlogger.Info})

	ctx := WithCorrelationID(context.Background(), "corr-1")
	gl.Trace(ctx, time.Now(), func() (string, int64) {
		return "SELECT * FROM events WHERE stream_id = ?", 3
	}, nil)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "sql", entry.Message)
	fields := entry.ContextMap()
	assert.EqualValues(t, 3, fields["rows"])
	assert.Equal(t, "corr-1", fields["correlation_id"])
}

func TestGormTraceLogsError(t *testing.T) {
	gl, logs := newObservedGormLogger(GormConfig{Level: gormlogger.Error})

	gl.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "INSERT INTO events ...", 0
	}, assert.AnError)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zap.ErrorLevel, logs.All()[0].Level)
}

func TestGormTraceSkipsNotFound(t *testing.T) {
	gl, logs := newObservedGormLogger(GormConfig{Level: gormlogger.Error, SkipNotFound: true})

	gl.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT * FROM command_records WHERE command_id = ?", 0
	}, gormlogger.ErrRecordNotFound)

	assert.Equal(t, 0, logs.Len())
}

func TestGormTraceSlowQueryWarns(t *testing.T) {
	gl, logs := newObservedGormLogger(GormConfig{Level: gormlogger.Warn, SlowThreshold: time.Nanosecond})

	gl.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return "SELECT * FROM events", 100
	}, nil)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zap.WarnLevel, entry.Level)
	assert.Equal(t, "slow sql", entry.Message)
}

func TestGormTraceSilent(t *testing.T) {
	gl, logs := newObservedGormLogger(GormConfig{Level: gormlogger.Silent})

	gl.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)

	assert.Equal(t, 0, logs.Len())
}

func TestGormLogMode(t *testing.T) {
	gl, logs := newObservedGormLogger(GormConfig{Level: gormlogger.Silent})

	raised := gl.LogMode(gormlogger.Info)
	raised.Info(context.Background(), "migrated %d tables", 5)

	assert.Equal(t, 1, logs.Len())
}

func TestMapGormLogLevel(t *testing.T) {
	cases := map[string]gormlogger.LogLevel{
		"silent": gormlogger.Silent,
		"error":  gormlogger.Error,
		"warn":   gormlogger.Warn,
		"info":   gormlogger.Info,
		"debug":  gormlogger.Info,
		"other":  gormlogger.Warn,
	}
	for in, want := range cases {
		assert.Equal(t, want, MapGormLogLevel(in), "level %q", in)
	}
}
