package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormLogger adapts slog to GORM's logger.Interface. Every statement is
// emitted at Debug level; level filtering is left to the slog handler so
// the SQL string is only formatted when Debug is enabled.
type GormLogger struct {
	logger *slog.Logger
}

// NewGormLogger creates a GORM logger writing to l.
func NewGormLogger(l *slog.Logger) GormLogger {
	if l == nil {
		l = slog.Default()
	}
	return GormLogger{logger: l}
}

// LogMode is a no-op; level filtering is handled by slog.
func (l GormLogger) LogMode(logger.LogLevel) logger.Interface { return l }

// Info logs informational messages from GORM.
func (l GormLogger) Info(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
}

// Warn logs warning messages from GORM.
func (l GormLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
}

// Error logs error messages from GORM.
func (l GormLogger) Error(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
}

const maxSQLLength = 200

func truncateSQL(sql string) string {
	if len(sql) <= maxSQLLength {
		return sql
	}
	half := (maxSQLLength - 3) / 2
	return sql[:half] + "..." + sql[len(sql)-half:]
}

// Trace is called by GORM after every statement. Failed statements are
// logged at Debug with the error attached: callers decide whether a failure
// matters (an "already exists" on index creation does not) and log it there.
func (l GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if !l.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}

	sql, rows := fc()
	attrs := []any{
		slog.String("sql", truncateSQL(sql)),
		slog.Int64("rows", rows),
		slog.Duration("duration", time.Since(begin)),
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		attrs = append(attrs, slog.Any("error", err))
	}
	l.logger.DebugContext(ctx, "gorm query", attrs...)
}
