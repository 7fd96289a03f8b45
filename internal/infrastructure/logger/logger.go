package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Printer is a leveled printf-style logger.
type Printer struct {
	level zerolog.Level
}

var (
	Info  = &Printer{level: zerolog.InfoLevel}
	Error = &Printer{level: zerolog.ErrorLevel}
	Debug = &Printer{level: zerolog.DebugLevel}
	Warn  = &Printer{level: zerolog.WarnLevel}
)

var base = newLogger(os.Stdout, false)

func newLogger(out io.Writer, jsonOutput bool) zerolog.Logger {
	if !jsonOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// Init configures the level and output format. It must run before any
// goroutine logs.
func Init(level string, jsonOutput bool) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	base = newLogger(os.Stdout, jsonOutput)
	return nil
}

// SetOutput redirects all loggers, used by tests.
func SetOutput(w io.Writer) {
	base = newLogger(w, true)
}

func (p *Printer) Printf(format string, args ...any) {
	base.WithLevel(p.level).Caller(1).Msgf(format, args...)
}

// Component returns a structured logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
