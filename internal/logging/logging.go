// Package logging wraps the standard library's log package with a leveled,
// component-tagged line format, matching the teacher's plain fmt.Printf
// style rather than adopting a structured-logging library.
package logging

import (
	"io"
	"log"
	"os"
)

// Logger prints level-prefixed, component-tagged lines: "[component] LEVEL
// message". No JSON, no structured fields, same texture as the teacher's
// bare fmt.Printf("Warning: ...") calls.
type Logger struct {
	component string
	out       *log.Logger
}

// New builds a Logger tagged with component, writing to os.Stderr.
func New(component string) *Logger {
	return &Logger{component: component, out: log.New(os.Stderr, "", log.LstdFlags)}
}

// NewTo builds a Logger writing to an arbitrary writer, for tests.
func NewTo(component string, w io.Writer) *Logger {
	return &Logger{component: component, out: log.New(w, "", log.LstdFlags)}
}

func (l *Logger) line(level, format string, args []any) {
	prefix := "[" + l.component + "] " + level + " "
	l.out.Printf(prefix+format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.line("INFO", format, args)
}

func (l *Logger) Warn(format string, args ...any) {
	l.line("WARN", format, args)
}

func (l *Logger) Error(format string, args ...any) {
	l.line("ERROR", format, args)
}
