// Package telemetry provides OpenTelemetry integration for distributed tracing.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stmtKey int

const stmtStartKey stmtKey = 0

const defaultSlowStatementThresh = 200 * time.Millisecond

// DBTracingConfig controls span generation for event store and ledger
// statements.
type DBTracingConfig struct {
	Enabled             bool
	LogFullSQL          bool // include bind variables in spans; keep off outside development
	SlowStatementThresh time.Duration
	DBSystem            string
}

// RegisterDBTracing attaches otelgorm to db and layers statement
// annotations on top of its spans: affected rows, table name, error
// status, and a slow_statement event when a statement runs past the
// threshold. Appends and ledger upserts dominate the write path, so
// slow statements here usually mean scope contention.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, log *zap.Logger) error {
	if !cfg.Enabled {
		log.Debug("statement tracing disabled")
		return nil
	}
	if cfg.SlowStatementThresh <= 0 {
		cfg.SlowStatementThresh = defaultSlowStatementThresh
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBSystem)}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	if err := registerStatementCallbacks(db, cfg.SlowStatementThresh); err != nil {
		return err
	}

	log.Info("statement tracing enabled",
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.Duration("slow_statement_threshold", cfg.SlowStatementThresh),
	)
	return nil
}

// registerStatementCallbacks hooks every gorm operation with a timing
// callback pair. The before hook stamps the start time into the
// statement context; the after hook annotates the otelgorm span.
func registerStatementCallbacks(db *gorm.DB, slowThresh time.Duration) error {
	before := markStatementStart
	after := annotateStatementSpan(slowThresh)

	hooks := []struct {
		op     string
		before func(string, func(*gorm.DB)) error
		after  func(string, func(*gorm.DB)) error
	}{
		{"create",
			func(n string, fn func(*gorm.DB)) error { return db.Callback().Create().Before("gorm:create").Register(n, fn) },
			func(n string, fn func(*gorm.DB)) error { return db.Callback().Create().After("gorm:create").Register(n, fn) }},
		{"query",
			func(n string, fn func(*gorm.DB)) error { return db.Callback().Query().Before("gorm:query").Register(n, fn) },
			func(n string, fn func(*gorm.DB)) error { return db.Callback().Query().After("gorm:query").Register(n, fn) }},
		{"update",
			func(n string, fn func(*gorm.DB)) error { return db.Callback().Update().Before("gorm:update").Register(n, fn) },
			func(n string, fn func(*gorm.DB)) error { return db.Callback().Update().After("gorm:update").Register(n, fn) }},
		{"delete",
			func(n string, fn func(*gorm.DB)) error { return db.Callback().Delete().Before("gorm:delete").Register(n, fn) },
			func(n string, fn func(*gorm.DB)) error { return db.Callback().Delete().After("gorm:delete").Register(n, fn) }},
		{"row",
			func(n string, fn func(*gorm.DB)) error { return db.Callback().Row().Before("gorm:row").Register(n, fn) },
			func(n string, fn func(*gorm.DB)) error { return db.Callback().Row().After("gorm:row").Register(n, fn) }},
		{"raw",
			func(n string, fn func(*gorm.DB)) error { return db.Callback().Raw().Before("gorm:raw").Register(n, fn) },
			func(n string, fn func(*gorm.DB)) error { return db.Callback().Raw().After("gorm:raw").Register(n, fn) }},
	}

	for _, h := range hooks {
		if err := h.before("stmt_trace:before_"+h.op, before); err != nil {
			return err
		}
		if err := h.after("stmt_trace:after_"+h.op, after); err != nil {
			return err
		}
	}
	return nil
}

func markStatementStart(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, stmtStartKey, time.Now())
	}
}

func annotateStatementSpan(slowThresh time.Duration) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			return
		}
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return
		}

		if db.Statement.RowsAffected >= 0 {
			span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		}
		if db.Statement.Table != "" {
			span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
		}

		// Not-found is an expected lookup outcome, not a failure.
		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, db.Error.Error())
			span.RecordError(db.Error)
		}

		start, ok := ctx.Value(stmtStartKey).(time.Time)
		if !ok {
			return
		}
		if elapsed := time.Since(start); elapsed > slowThresh {
			span.SetAttributes(attribute.Bool("db.slow_statement", true))
			span.AddEvent("slow_statement", trace.WithAttributes(
				attribute.Int64("duration_ms", elapsed.Milliseconds()),
				attribute.Int64("threshold_ms", slowThresh.Milliseconds()),
			))
		}
	}
}
