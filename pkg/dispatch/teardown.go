package dispatch

import (
	"io"
	"log"
)

// Releaser is any acquired resource that can be given back to the runtime.
type Releaser interface {
	Release() error
}

type guard struct {
	label string
	r     Releaser
}

// Scope holds acquired resources in acquisition order and releases them in
// reverse. The zero value is not usable; use NewScope.
type Scope struct {
	guards []guard
	logger *log.Logger
}

// NewScope returns an empty scope that logs release failures to logger.
// A nil logger discards them.
func NewScope(logger *log.Logger) *Scope {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Scope{logger: logger}
}

// Track registers r for release. Only successfully acquired resources may
// be tracked.
func (s *Scope) Track(label string, r Releaser) {
	s.guards = append(s.guards, guard{label: label, r: r})
}

// Len returns the number of resources still held.
func (s *Scope) Len() int {
	return len(s.guards)
}

// Release releases every tracked resource, newest first. Failures are
// logged and do not stop the unwind. It returns the number of failures;
// a second call releases nothing.
func (s *Scope) Release() int {
	failed := 0
	for i := len(s.guards) - 1; i >= 0; i-- {
		g := s.guards[i]
		if err := g.r.Release(); err != nil {
			failed++
			s.logger.Printf("teardown: releasing %s: %v", g.label, err)
		}
	}
	s.guards = nil
	return failed
}
