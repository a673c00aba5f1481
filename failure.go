package soundpipe

import (
	"errors"
	"fmt"
)

// Class is the failure classification a processing function reports
// alongside an error. It determines retry eligibility: recoverable
// failures are retried per the engine's retry policy, terminal failures
// are surfaced immediately and never retried.
type Class string

const (
	// ClassRecoverable marks a transient failure (timeout, resource
	// exhaustion, upstream flake). Retried per policy.
	ClassRecoverable Class = "recoverable"
	// ClassTerminal marks a permanent failure (invalid input, rejected
	// request). Never retried, regardless of remaining attempts.
	ClassTerminal Class = "terminal"
	// ClassCancelled marks an intentional abort. Not a fault.
	ClassCancelled Class = "cancelled"
	// ClassInternal marks an engine-internal fault (record store write
	// failure). Escalates to a job-wide failure.
	ClassInternal Class = "internal"
)

// classifiedError wraps an error with an explicit failure class.
type classifiedError struct {
	class Class
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Recoverable marks err as a transient failure eligible for retry.
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassRecoverable, err: err}
}

// Terminal marks err as a permanent failure that must never be retried.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassTerminal, err: err}
}

// Recoverablef is shorthand for Recoverable(fmt.Errorf(...)).
func Recoverablef(format string, args ...any) error {
	return Recoverable(fmt.Errorf(format, args...))
}

// Terminalf is shorthand for Terminal(fmt.Errorf(...)).
func Terminalf(format string, args ...any) error {
	return Terminal(fmt.Errorf(format, args...))
}

// Internal marks err as an engine-internal fault. Internal faults are
// never retried and escalate to a job-wide failure.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassInternal, err: err}
}

// Internalf is shorthand for Internal(fmt.Errorf(...)).
func Internalf(format string, args ...any) error {
	return Internal(fmt.Errorf(format, args...))
}

// Classify returns the failure class of err. Unclassified errors default
// to recoverable: the engine trusts explicit classification from the
// processing function and errs on the side of retrying everything else.
func Classify(err error) Class {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Class
	}
	return ClassRecoverable
}

// Failure is the structured failure reason recorded on an item when an
// attempt fails.
type Failure struct {
	Class   Class  `json:"class"`
	Message string `json:"message"`
}

// NewFailure captures err and its classification into a Failure record.
func NewFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	return &Failure{Class: Classify(err), Message: err.Error()}
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Class, f.Message)
}
