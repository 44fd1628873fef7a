package engine

import (
	"os"

	"github.com/rs/zerolog"
)

// DefaultLogger adapts zerolog.Logger to the hermodcdc.Logger interface.
type DefaultLogger struct {
	zl zerolog.Logger
}

// NewLogger builds a DefaultLogger writing to stderr at the given level
// ("debug", "info", "warn", "error"; anything else defaults to info).
func NewLogger(level string) *DefaultLogger {
	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
	zl = zl.Level(parseLevel(level))
	return &DefaultLogger{zl: zl}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *DefaultLogger) Debug(msg string, kv ...any) { l.log(l.zl.Debug(), msg, kv) }
func (l *DefaultLogger) Info(msg string, kv ...any)  { l.log(l.zl.Info(), msg, kv) }
func (l *DefaultLogger) Warn(msg string, kv ...any)  { l.log(l.zl.Warn(), msg, kv) }
func (l *DefaultLogger) Error(msg string, kv ...any) { l.log(l.zl.Error(), msg, kv) }

func (l *DefaultLogger) log(event *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, kv[i+1])
	}
	event.Msg(msg)
}
