// Package logging provides the small logger interface shared by all stages.
package logging

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// Logger interface for observability
type Logger interface {
	Printf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// StdLogger writes through the standard library logger with a component tag.
type StdLogger struct {
	Tag string
}

func (l *StdLogger) Printf(format string, v ...interface{}) {
	log.Printf(l.prefix()+format, v...)
}

func (l *StdLogger) Errorf(format string, v ...interface{}) {
	log.Printf(l.prefix()+"❌ "+format, v...)
}

func (l *StdLogger) prefix() string {
	if l.Tag == "" {
		return ""
	}
	return "[" + l.Tag + "] "
}

// New returns a StdLogger tagged with component.
func New(component string) *StdLogger {
	return &StdLogger{Tag: strings.ToUpper(component)}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Printf(string, ...interface{}) {}
func (Nop) Errorf(string, ...interface{}) {}

// Recorder keeps formatted lines in memory. Tests use it to assert on
// soft failures that are only logged.
type Recorder struct {
	mu    sync.Mutex
	Lines []string
}

func (r *Recorder) Printf(format string, v ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Lines = append(r.Lines, fmt.Sprintf(format, v...))
}

func (r *Recorder) Errorf(format string, v ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Lines = append(r.Lines, "ERROR: "+fmt.Sprintf(format, v...))
}

// Contains reports whether any recorded line contains substr.
func (r *Recorder) Contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.Lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}
