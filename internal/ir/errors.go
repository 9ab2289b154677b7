package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes every error the runtime raises or funnels.
type ErrorCode string

const (
	// ErrCodeInvalidNamespace indicates an empty or whitespace-only namespace.
	ErrCodeInvalidNamespace ErrorCode = "INVALID_NAMESPACE"

	// ErrCodeAmbiguousEffect indicates a Handler Group with more than one effect.
	ErrCodeAmbiguousEffect ErrorCode = "AMBIGUOUS_EFFECT"

	// ErrCodeDuplicateNamespace indicates a namespace registered twice.
	ErrCodeDuplicateNamespace ErrorCode = "DUPLICATE_NAMESPACE"

	// ErrCodeHandlerRuntime indicates a panic or error inside a handler body.
	ErrCodeHandlerRuntime ErrorCode = "HANDLER_RUNTIME"

	// ErrCodeUnresolvedEffect indicates an effect that failed without recovery.
	ErrCodeUnresolvedEffect ErrorCode = "UNRESOLVED_EFFECT"

	// ErrCodeUnknown is returned by CodeOf for errors outside the taxonomy.
	ErrCodeUnknown ErrorCode = "UNKNOWN"
)

// InvalidNamespaceError is returned when a namespace canonicalizes to "".
type InvalidNamespaceError struct {
	Namespace string
}

func (e *InvalidNamespaceError) Error() string {
	return fmt.Sprintf("%s: namespace %q is empty after canonicalization", ErrCodeInvalidNamespace, e.Namespace)
}

// AmbiguousEffectError is returned when one Handler Group registers more
// than one asynchronous effect.
type AmbiguousEffectError struct {
	Namespace string
	Action    string
	Count     int
}

func (e *AmbiguousEffectError) Error() string {
	return fmt.Sprintf("%s: model %q action %q declares %d effects, at most one is allowed",
		ErrCodeAmbiguousEffect, e.Namespace, e.Action, e.Count)
}

// DuplicateNamespaceError is returned when a namespace is already registered.
type DuplicateNamespaceError struct {
	Namespace string
}

func (e *DuplicateNamespaceError) Error() string {
	return fmt.Sprintf("%s: namespace %q is already registered", ErrCodeDuplicateNamespace, e.Namespace)
}

// HandlerKind identifies the handler family that failed.
type HandlerKind string

const (
	HandlerKindMutation     HandlerKind = "mutation"
	HandlerKindEffect       HandlerKind = "effect"
	HandlerKindSubscription HandlerKind = "subscription"
	HandlerKindListener     HandlerKind = "listener"
)

// HandlerError wraps any throw inside a mutation, effect, subscription or
// listener body. It is always funneled, never returned to a dispatcher.
type HandlerError struct {
	Kind       HandlerKind
	Namespace  string
	ActionType string
	Err        error
}

func (e *HandlerError) Error() string {
	if e.ActionType != "" {
		return fmt.Sprintf("%s: %s handler in %q failed on %q: %v",
			ErrCodeHandlerRuntime, e.Kind, e.Namespace, e.ActionType, e.Err)
	}
	return fmt.Sprintf("%s: %s handler in %q failed: %v", ErrCodeHandlerRuntime, e.Kind, e.Namespace, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// UnresolvedEffectRejection is funneled when an effect task returns an error
// it did not recover from locally.
type UnresolvedEffectRejection struct {
	Namespace string
	Effect    string
	TaskID    string
	Err       error
}

func (e *UnresolvedEffectRejection) Error() string {
	return fmt.Sprintf("%s: effect %q (task %s) in %q: %v",
		ErrCodeUnresolvedEffect, e.Effect, e.TaskID, e.Namespace, e.Err)
}

func (e *UnresolvedEffectRejection) Unwrap() error {
	return e.Err
}

// PanicError carries a value recovered from a panicking handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the recovered value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// CodeOf returns the taxonomy code of err. Uses errors.As to handle wrapped
// errors.
func CodeOf(err error) ErrorCode {
	var (
		invalid    *InvalidNamespaceError
		ambiguous  *AmbiguousEffectError
		duplicate  *DuplicateNamespaceError
		handler    *HandlerError
		unresolved *UnresolvedEffectRejection
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &unresolved):
		return ErrCodeUnresolvedEffect
	case errors.As(err, &handler):
		return ErrCodeHandlerRuntime
	case errors.As(err, &invalid):
		return ErrCodeInvalidNamespace
	case errors.As(err, &ambiguous):
		return ErrCodeAmbiguousEffect
	case errors.As(err, &duplicate):
		return ErrCodeDuplicateNamespace
	default:
		return ErrCodeUnknown
	}
}

// IsHandlerError returns true if err is a funneled handler failure.
func IsHandlerError(err error) bool {
	var he *HandlerError
	return errors.As(err, &he)
}

// IsAmbiguousEffect returns true if err is an AmbiguousEffectError.
func IsAmbiguousEffect(err error) bool {
	var ae *AmbiguousEffectError
	return errors.As(err, &ae)
}

// IsDuplicateNamespace returns true if err is a DuplicateNamespaceError.
func IsDuplicateNamespace(err error) bool {
	var de *DuplicateNamespaceError
	return errors.As(err, &de)
}
