// Package logging builds the process logger.
//
// All packages log through logr.Logger; the sink is zerolog, rendered as a
// console stream on terminals and as JSON lines otherwise.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Options controls logger construction
type Options struct {
	// Verbose enables info level (logr V(0) and V(1))
	Verbose bool
	// Debug enables debug and trace level (logr V(2))
	Debug bool
	// Quiet limits output to errors
	Quiet bool
	// JSON forces JSON output even on a terminal
	JSON bool
	// NoColor disables console colors
	NoColor bool
}

// New returns a logr.Logger writing to w
func New(w io.Writer, opts Options) logr.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerologr.NameFieldName = "logger"
	zerologr.NameSeparator = "/"
	zerologr.SetMaxV(2)

	zl := zerolog.New(w)
	if !opts.JSON && IsTerminal(w) {
		zl = zl.Output(zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    opts.NoColor,
			TimeFormat: time.RFC3339,
		})
	}

	level := Level(opts)
	zerolog.SetGlobalLevel(level)
	zl = zl.Level(level).With().Timestamp().Logger()
	if opts.Debug {
		zl = zl.With().Caller().Logger()
	}

	return zerologr.New(&zl)
}

// Level maps flag combinations onto a zerolog level
func Level(opts Options) zerolog.Level {
	switch {
	case opts.Debug:
		return zerolog.TraceLevel
	case opts.Quiet:
		return zerolog.ErrorLevel
	case opts.Verbose:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Discard returns a logger that drops everything
func Discard() logr.Logger {
	return logr.Discard()
}
