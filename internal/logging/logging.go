// Package logging provides one shared, levelled, component-tagged logger
// for every part of the pipeline.
//
// Purpose: the teacher ships a dedicated logging subsystem (src/log.go,
// src/textcolor.go) even though its actual line-printing glue predates
// the ecosystem having a good structured-logging library; this package
// is the equivalent built on github.com/charmbracelet/log instead of a
// hand-rolled color/level switch.
package logging

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

var root = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05.000",
})

// SetLevel parses one of "debug", "info", "warn", "error" and applies it
// to the root logger, and so to every logger For returns afterwards.
// Loggers already returned by For keep the level they were created with.
func SetLevel(level string) error {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("logging: %q: %w", level, err)
	}
	root.SetLevel(parsed)
	return nil
}

// For returns a logger tagged with component, e.g. "reader",
// "analyser.3", "writer". Each logger takes root's level at the time of
// the call and shares root's output.
func For(component string) *log.Logger {
	return root.With("component", component)
}

// Reporter rate-limits a repeating per-event log line (e.g. "disputed
// period") so it fires at most once per every n calls, rather than
// flooding stdout at pixel event rates.
type Reporter struct {
	n     int64
	count atomic.Int64
}

// NewReporter returns a Reporter that allows through one call in every n
// (n <= 1 allows every call through).
func NewReporter(n int) *Reporter {
	if n < 1 {
		n = 1
	}
	return &Reporter{n: int64(n)}
}

// Allow returns true on every nth call, starting with the first.
func (r *Reporter) Allow() bool {
	return (r.count.Add(1)-1)%r.n == 0
}
