// Package sagalog provides the structured event log used by every saga
// component (SE, SSS, EB, CFI, M). Every call emits one human-readable line
// through zerolog's ConsoleWriter (not JSON) carrying the fields
// {timestamp, level, eventType, sagaId, sagaType, serviceName,
// correlationId, message, data}.
package sagalog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	writer := zerolog.MultiLevelWriter(
		specificLevelWriter{
			Writer: zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			},
			Levels: []zerolog.Level{
				zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel,
			},
		},
		specificLevelWriter{
			Writer: zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: time.RFC3339,
			},
			Levels: []zerolog.Level{
				zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel,
			},
		},
	)
	base = zerolog.New(writer).With().Timestamp().Logger()
}

// specificLevelWriter routes a zerolog event to Writer only when its level
// is in Levels, splitting stdout/stderr by severity.
type specificLevelWriter struct {
	io.Writer
	Levels []zerolog.Level
}

func (w specificLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	for _, l := range w.Levels {
		if l == level {
			return w.Write(p)
		}
	}
	return len(p), nil
}

// Event identifies a saga event kind for the eventType field, e.g.
// "SagaStarted", "StepFailed", "CompensationCompleted".
type Event string

// Fields carries the per-call structured context attached to a log line.
type Fields struct {
	SagaID        string
	SagaType      string
	ServiceName   string
	CorrelationID string
	Data          map[string]interface{}
}

// Logger is a saga-aware wrapper around the shared zerolog instance. A
// caller binds the fields that stay constant for its lifetime (typically
// ServiceName) and supplies the rest per call.
type Logger struct {
	serviceName string
}

// New returns a Logger that stamps serviceName onto every event it emits.
func New(serviceName string) *Logger {
	return &Logger{serviceName: serviceName}
}

func (l *Logger) event(level zerolog.Level, eventType Event, f Fields, message string) {
	e := base.WithLevel(level).Str("eventType", string(eventType))

	serviceName := f.ServiceName
	if serviceName == "" {
		serviceName = l.serviceName
	}
	if serviceName != "" {
		e = e.Str("serviceName", serviceName)
	}
	if f.SagaID != "" {
		e = e.Str("sagaId", f.SagaID)
	}
	if f.SagaType != "" {
		e = e.Str("sagaType", f.SagaType)
	}
	if f.CorrelationID != "" {
		e = e.Str("correlationId", f.CorrelationID)
	}
	if len(f.Data) > 0 {
		e = e.Interface("data", f.Data)
	}
	e.Msg(message)
}

func (l *Logger) Debug(eventType Event, f Fields, message string) {
	l.event(zerolog.DebugLevel, eventType, f, message)
}

func (l *Logger) Info(eventType Event, f Fields, message string) {
	l.event(zerolog.InfoLevel, eventType, f, message)
}

func (l *Logger) Warn(eventType Event, f Fields, message string) {
	l.event(zerolog.WarnLevel, eventType, f, message)
}

func (l *Logger) Error(eventType Event, f Fields, err error, message string) {
	e := base.Error().Str("eventType", string(eventType))
	if f.ServiceName != "" {
		e = e.Str("serviceName", f.ServiceName)
	} else if l.serviceName != "" {
		e = e.Str("serviceName", l.serviceName)
	}
	if f.SagaID != "" {
		e = e.Str("sagaId", f.SagaID)
	}
	if f.SagaType != "" {
		e = e.Str("sagaType", f.SagaType)
	}
	if f.CorrelationID != "" {
		e = e.Str("correlationId", f.CorrelationID)
	}
	if len(f.Data) > 0 {
		e = e.Interface("data", f.Data)
	}
	if err != nil {
		e = e.Err(err)
	}
	e.Msg(message)
}

// Package-level helpers give call sites that don't carry a *Logger (package
// init, one-off scripts) the same terse style the teacher used for
// operational logging.
func Infof(format string, args ...interface{}) {
	base.Info().Msgf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	base.Warn().Msgf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	base.Error().Msgf(format, args...)
}

func Debugf(format string, args ...interface{}) {
	base.Debug().Msgf(format, args...)
}
