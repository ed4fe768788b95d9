package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// defaultRedactedTables hold sealed credential payloads; statements touching
// them are logged without their SQL text.
var defaultRedactedTables = []string{"integration_credentials"}

// GormLogger adapts zap to gormlogger.Interface. Statement entries carry the
// request, integration and sync ids found on the query context.
type GormLogger struct {
	logger         *zap.Logger
	level          gormlogger.LogLevel
	slowThreshold  time.Duration
	ignoreNotFound bool
	redactedTables []string
}

// GormLoggerOption configures a GormLogger
type GormLoggerOption func(*GormLogger)

// WithSlowThreshold sets the duration after which a statement is logged as slow.
// Zero disables slow statement warnings.
func WithSlowThreshold(threshold time.Duration) GormLoggerOption {
	return func(l *GormLogger) { l.slowThreshold = threshold }
}

// WithIgnoreRecordNotFoundError controls whether lookups that find nothing are logged as errors
func WithIgnoreRecordNotFoundError(ignore bool) GormLoggerOption {
	return func(l *GormLogger) { l.ignoreNotFound = ignore }
}

// WithRedactedTables adds tables whose statements are logged without SQL text
func WithRedactedTables(tables ...string) GormLoggerOption {
	return func(l *GormLogger) { l.redactedTables = append(l.redactedTables, tables...) }
}

// NewGormLogger creates a GORM logger backed by zap
func NewGormLogger(zapLogger *zap.Logger, level gormlogger.LogLevel, opts ...GormLoggerOption) *GormLogger {
	gl := &GormLogger{
		logger:         zapLogger.Named("gorm"),
		level:          level,
		slowThreshold:  200 * time.Millisecond,
		ignoreNotFound: true,
		redactedTables: append([]string(nil), defaultRedactedTables...),
	}
	for _, opt := range opts {
		opt(gl)
	}
	return gl
}

// LogMode implements gormlogger.Interface
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

// Info implements gormlogger.Interface
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.logger.Info(fmt.Sprintf(msg, data...), l.contextFields(ctx)...)
	}
}

// Warn implements gormlogger.Interface
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.logger.Warn(fmt.Sprintf(msg, data...), l.contextFields(ctx)...)
	}
}

// Error implements gormlogger.Interface
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.logger.Error(fmt.Sprintf(msg, data...), l.contextFields(ctx)...)
	}
}

// Trace implements gormlogger.Interface. Errors are logged at error level,
// slow statements at warn and everything else at debug.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	if err != nil && l.ignoreNotFound && errors.Is(err, gormlogger.ErrRecordNotFound) {
		err = nil
	}

	elapsed := time.Since(begin)
	slow := l.slowThreshold > 0 && elapsed > l.slowThreshold
	switch {
	case err != nil && l.level >= gormlogger.Error:
	case slow && l.level >= gormlogger.Warn:
	case err == nil && l.level >= gormlogger.Info:
	default:
		return
	}

	sql, rows := fc()
	fields := append(l.contextFields(ctx),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", l.redact(sql)),
	)
	switch {
	case err != nil:
		l.logger.Error("SQL Error", append(fields, zap.Error(err))...)
	case slow:
		l.logger.Warn(fmt.Sprintf("SLOW SQL >= %v", l.slowThreshold), fields...)
	default:
		l.logger.Debug("SQL Query", fields...)
	}
}

func (l *GormLogger) contextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if v := GetRequestID(ctx); v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	if v := GetIntegrationID(ctx); v != "" {
		fields = append(fields, zap.String("integration_id", v))
	}
	if v := GetSyncID(ctx); v != "" {
		fields = append(fields, zap.String("sync_id", v))
	}
	return fields
}

// redact keeps the statement verb and table of credential statements
func (l *GormLogger) redact(sql string) string {
	for _, table := range l.redactedTables {
		if strings.Contains(sql, table) {
			verb, _, _ := strings.Cut(strings.TrimSpace(sql), " ")
			return strings.ToUpper(verb) + " " + table + " [REDACTED]"
		}
	}
	return sql
}

// MapGormLogLevel maps a zap level name onto a GORM log level
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "warn":
		return gormlogger.Warn
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
