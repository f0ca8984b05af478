package schedule

import (
	"fmt"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// Logger adapts zap to the Temporal SDK logger.
type Logger struct {
	z *zap.Logger
}

var _ log.Logger = (*Logger)(nil)

// NewLogger wraps z for use in client.Options.
func NewLogger(z *zap.Logger) *Logger {
	return &Logger{z: z.WithOptions(zap.AddCallerSkip(1))}
}

func (l *Logger) Debug(msg string, keyvals ...any) { l.z.Debug(msg, fields(keyvals)...) }
func (l *Logger) Info(msg string, keyvals ...any)  { l.z.Info(msg, fields(keyvals)...) }
func (l *Logger) Warn(msg string, keyvals ...any)  { l.z.Warn(msg, fields(keyvals)...) }
func (l *Logger) Error(msg string, keyvals ...any) { l.z.Error(msg, fields(keyvals)...) }

func fields(keyvals []any) []zap.Field {
	out := make([]zap.Field, 0, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		if i+1 >= len(keyvals) {
			out = append(out, zap.Any(key, nil))
			break
		}
		out = append(out, zap.Any(key, keyvals[i+1]))
	}
	return out
}
