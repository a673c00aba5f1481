package soundpipe

import "errors"

var (
	// Admission errors.
	ErrQueueFull   = errors.New("soundpipe: admission queue full")
	ErrUnknownKind = errors.New("soundpipe: unknown processor kind")
	ErrNoItems     = errors.New("soundpipe: job has no items")

	// Not found errors.
	ErrJobNotFound  = errors.New("soundpipe: job not found")
	ErrItemNotFound = errors.New("soundpipe: item not found")

	// State errors.
	ErrJobTerminal       = errors.New("soundpipe: job already in a terminal state")
	ErrInvalidState      = errors.New("soundpipe: invalid state transition")
	ErrStaleAttempt      = errors.New("soundpipe: outcome for a superseded attempt")
	ErrJobAlreadyExists  = errors.New("soundpipe: job already exists")
	ErrAttemptsExhausted = errors.New("soundpipe: attempts exhausted")

	// Lifecycle errors.
	ErrEngineClosed = errors.New("soundpipe: engine closed")
)
