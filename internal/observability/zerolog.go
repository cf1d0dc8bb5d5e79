package observability

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the core Logger contract.
type ZerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger builds a structured logger writing to w at the given level
// ("debug", "info", "warn", "error"; empty defaults to info).
func NewZerologLogger(w io.Writer, level string) (*ZerologLogger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &ZerologLogger{zl: zl}, nil
}

func (l *ZerologLogger) Debug(msg string, args ...any) { l.emit(l.zl.Debug(), msg, args) }
func (l *ZerologLogger) Info(msg string, args ...any)  { l.emit(l.zl.Info(), msg, args) }
func (l *ZerologLogger) Warn(msg string, args ...any)  { l.emit(l.zl.Warn(), msg, args) }
func (l *ZerologLogger) Error(msg string, args ...any) { l.emit(l.zl.Error(), msg, args) }

func (l *ZerologLogger) emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
