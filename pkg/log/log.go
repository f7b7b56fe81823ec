package log

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// root is the process-wide logger every child derives from. A release run
// is a single short-lived process, so nothing threads loggers through call
// chains; subsystems grab a tagged child at the call site instead. The
// default is console output at info so failures before Init are visible.
var root = console(zerolog.InfoLevel)

func console(level zerolog.Level) zerolog.Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Init reconfigures the root logger from the CLI flags. An unknown level
// name falls back to info rather than failing a release over a typo.
func Init(level string, json bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if json {
		root = zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
		return
	}
	root = console(lvl)
}

// WithComponent returns a child logger tagged with a subsystem name
// (state, upload, docker, ...).
func WithComponent(name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}

// WithPhase tags release-phase log lines, so one run's output can be
// filtered down to a single phase.
func WithPhase(phase string) zerolog.Logger {
	return root.With().Str("phase", phase).Logger()
}

// WithPlatform tags bundler output. Containerized builds interleave; the
// platform field keeps them readable.
func WithPlatform(platform string) zerolog.Logger {
	return root.With().Str("platform", platform).Logger()
}
