// Package logging wraps zerolog with the field conventions the sync engine
// uses to correlate log lines with a running job without ever promoting
// high-cardinality identifiers (sync_id, sync_job_id, entity_id) to metric
// labels — those stay in log fields only. See workerruntime/metrics.go for
// the cardinality boundary on the Prometheus side.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with sync/job scoped field helpers.
type Logger struct {
	log zerolog.Logger
}

// New creates a JSON structured logger for a named component (e.g. "pipeline",
// "source.jira", "workerruntime").
func New(component string) *Logger {
	return NewWriter(os.Stdout, component)
}

// NewWriter creates a logger writing JSON lines to w.
func NewWriter(w io.Writer, component string) *Logger {
	if w == nil {
		w = os.Stdout
	}
	log := zerolog.New(w).With().
		Timestamp().
		Str("component", component).
		Logger()
	return &Logger{log: log}
}

// NewConsole creates a human-readable console logger, for local development.
func NewConsole(component string) *Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stdout}
	log := zerolog.New(cw).With().
		Timestamp().
		Str("component", component).
		Logger()
	return &Logger{log: log}
}

// WithSync scopes the logger to one sync.
func (l *Logger) WithSync(syncID string) *Logger {
	return &Logger{log: l.log.With().Str("sync_id", syncID).Logger()}
}

// WithJob scopes the logger to one sync job.
func (l *Logger) WithJob(syncID, jobID string) *Logger {
	return &Logger{log: l.log.With().Str("sync_id", syncID).Str("sync_job_id", jobID).Logger()}
}

// WithSource scopes the logger to a source short_name.
func (l *Logger) WithSource(shortName string) *Logger {
	return &Logger{log: l.log.With().Str("source", shortName).Logger()}
}

// WithField attaches one structured field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{log: l.log.With().Interface(key, value).Logger()}
}

// WithFields attaches several structured fields at once.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	log := l.log
	for k, v := range fields {
		log = log.With().Interface(k, v).Logger()
	}
	return &Logger{log: log}
}

// WithContext pulls a request/trace id out of ctx if present, mirroring the
// echo-context variant used by the worker runtime's HTTP surface.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	log := l.log
	if traceID, ok := ctx.Value(traceIDKey{}).(string); ok && traceID != "" {
		log = log.With().Str("trace_id", traceID).Logger()
	}
	return &Logger{log: log}
}

type traceIDKey struct{}

// ContextWithTraceID stamps a trace id onto ctx for later retrieval via WithContext.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func (l *Logger) Debug(msg string)                          { l.log.Debug().Msg(msg) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.log.Debug().Msgf(format, args...) }
func (l *Logger) Info(msg string)                            { l.log.Info().Msg(msg) }
func (l *Logger) Infof(format string, args ...interface{})   { l.log.Info().Msgf(format, args...) }
func (l *Logger) Warn(msg string)                            { l.log.Warn().Msg(msg) }
func (l *Logger) Warnf(format string, args ...interface{})   { l.log.Warn().Msgf(format, args...) }
func (l *Logger) Error(msg string)                           { l.log.Error().Msg(msg) }
func (l *Logger) Errorf(format string, args ...interface{})  { l.log.Error().Msgf(format, args...) }

// ErrorErr logs an error message with the error attached as a structured field.
func (l *Logger) ErrorErr(err error, msg string) {
	l.log.Error().Err(err).Msg(msg)
}

// Counters logs the sync job counters the orchestrator maintains (§3 SyncJob).
// Kept as one line so operators can grep a single event for job outcome.
func (l *Logger) Counters(inserted, updated, deleted, kept, skipped int) {
	l.log.Info().
		Str("event_type", "job_counters").
		Int("inserted", inserted).
		Int("updated", updated).
		Int("deleted", deleted).
		Int("kept", kept).
		Int("skipped", skipped).
		Msg("job counters")
}

// Zerolog returns the underlying zerolog.Logger for call sites that need the
// richer chained API directly.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.log
}
