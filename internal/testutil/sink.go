package testutil

import (
	"slices"
	"sync"

	"github.com/roach88/storeweave/internal/ir"
)

// ErrorSink records every error handed to the error funnel.
//
// Report has the ir.ErrorFunc signature, so a sink plugs straight into
// app.WithHooks, saga.WithErrorHandler or subscription.Run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ErrorSink struct {
	mu   sync.Mutex
	errs []error
}

// Report records err.
func (s *ErrorSink) Report(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// Errors returns a copy of the recorded errors in report order.
func (s *ErrorSink) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.errs)
}

// Len returns the number of recorded errors.
func (s *ErrorSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

// Codes returns the error code of every recorded error.
func (s *ErrorSink) Codes() []ir.ErrorCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := make([]ir.ErrorCode, len(s.errs))
	for i, err := range s.errs {
		codes[i] = ir.CodeOf(err)
	}
	return codes
}

// ActionLog records dispatched actions.
//
// Record is meant to be called from a dispatch middleware or a plugin
// OnAction hook after the action has been reduced.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ActionLog struct {
	mu      sync.Mutex
	actions []ir.Action
}

// Record appends action.
func (l *ActionLog) Record(action ir.Action) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.actions = append(l.actions, action)
}

// Actions returns a copy of the recorded actions.
func (l *ActionLog) Actions() []ir.Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.actions)
}

// Types returns the recorded action types in dispatch order.
func (l *ActionLog) Types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	types := make([]string, len(l.actions))
	for i, a := range l.actions {
		types[i] = a.Type
	}
	return types
}

// Count returns how many recorded actions have the given type.
func (l *ActionLog) Count(actionType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, a := range l.actions {
		if a.Type == actionType {
			n++
		}
	}
	return n
}
