package util

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var globalLog = zerolog.Nop()

func InitLog(level string, dev bool) {
	InitLogTo(os.Stdout, level, dev)
}

// InitLogTo is InitLog with an explicit sink. The CLI logs to stderr so that
// stdout carries only paste output.
func InitLogTo(w io.Writer, level string, dev bool) {
	out := w
	if dev {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}
	zerolog.SetGlobalLevel(ParseLevel(level))
	globalLog = zerolog.New(out).
		With().
		Timestamp().
		Caller().
		Logger()
	log.Logger = globalLog
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}

func Debug() *zerolog.Event { return globalLog.Debug() }
func Info() *zerolog.Event  { return globalLog.Info() }
func Warn() *zerolog.Event  { return globalLog.Warn() }
func Error() *zerolog.Event { return globalLog.Error() }
func Fatal() *zerolog.Event { return globalLog.Fatal() }
func GetLogger() zerolog.Logger {
	return globalLog
}

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return globalLog.With().Str("component", name).Logger()
}
