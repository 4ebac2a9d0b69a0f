// Package zlog binds corosync.Logger to github.com/rs/zerolog, the
// structured logging idiom used throughout the rest of this module's
// retrieval pack.
package zlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	corosync "github.com/corosync/corosync-sub008"
)

// Logger adapts a zerolog.Logger to corosync.Logger.
type Logger struct {
	z zerolog.Logger
}

// New builds a Logger writing to w in zerolog's console format when
// pretty is set, or newline-delimited JSON otherwise.
func New(w io.Writer, pretty bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	z := zerolog.New(w).With().Timestamp().Logger()
	return &Logger{z: z}
}

func (l *Logger) Log(level corosync.Level, subsys, fn string, args ...any) {
	ev := l.z.WithLevel(zerologLevel(level))
	ev = ev.Str("subsys", subsys).Str("fn", fn)

	var msg string
	for idx := 0; idx+1 < len(args); idx += 2 {
		key, ok := args[idx].(string)
		if !ok {
			continue
		}
		if key == "msg" {
			if s, ok := args[idx+1].(string); ok {
				msg = s
			}
			continue
		}
		ev = ev.Interface(key, args[idx+1])
	}
	ev.Msg(msg)
}

func zerologLevel(l corosync.Level) zerolog.Level {
	switch l {
	case corosync.LevelDebug:
		return zerolog.DebugLevel
	case corosync.LevelInfo:
		return zerolog.InfoLevel
	case corosync.LevelNotice:
		return zerolog.InfoLevel
	case corosync.LevelWarning:
		return zerolog.WarnLevel
	case corosync.LevelError:
		return zerolog.ErrorLevel
	case corosync.LevelCrit:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
