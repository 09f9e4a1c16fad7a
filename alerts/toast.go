// Package alerts carries user-facing toasts out of the core logic. The
// default sink writes structured logs; a UI layers its own Toaster on top.
package alerts

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Toaster receives user-visible success and error messages.
type Toaster interface {
	Success(msg string)
	Error(msg string)
}

// Log is the default Toaster, backed by logrus.
type Log struct{}

func (Log) Success(msg string) { log.WithField("toast", "success").Info(msg) }
func (Log) Error(msg string)   { log.WithField("toast", "error").Error(msg) }

// Recorder is a Toaster that captures messages for tests.
type Recorder struct {
	mu        sync.Mutex
	successes []string
	errors    []string
}

func (r *Recorder) Success(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, msg)
}

func (r *Recorder) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

// Successes returns a copy of recorded success toasts.
func (r *Recorder) Successes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.successes))
	copy(out, r.successes)
	return out
}

// Errors returns a copy of recorded error toasts.
func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.errors))
	copy(out, r.errors)
	return out
}
