package logutil

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConfigureLogger sets up the global logger. format is "console" for human
// readable output on stderr or "json" for one object per line.
func ConfigureLogger(level, format string) error {
	return configure(os.Stderr, level, format)
}

func configure(out io.Writer, level, format string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var w io.Writer
	switch format {
	case "json":
		w = out
	case "console", "":
		w = zerolog.ConsoleWriter{Out: out}
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	log.Logger = zerolog.New(w).Level(lvl).With().Timestamp().Logger().Hook(SeverityHook{})
	return nil
}

// SeverityHook mirrors the level into a "severity" field for log collectors
// that expect it.
type SeverityHook struct{}

func (h SeverityHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	e.Str("severity", level.String())
}

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
