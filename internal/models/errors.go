// Package models defines the core data structures for Warden.
package models

import "errors"

// Common errors.
var (
	ErrJobNotFound        = errors.New("job not found")
	ErrJobAlreadyExists   = errors.New("job already exists")
	ErrEntrypointRequired = errors.New("job entrypoint is required")
	ErrTargetRequired     = errors.New("job target is required")
	ErrMaxAttemptsInvalid = errors.New("max attempts must be positive")
	ErrInvalidTransition  = errors.New("invalid job state transition")
	ErrQueueFull          = errors.New("queue is at capacity")
	ErrBackpressure       = errors.New("queue backpressure active")
	ErrDeadLetterNotFound = errors.New("dead-letter entry not found")
	ErrMonitorStateEmpty  = errors.New("no persisted monitor state")
	ErrBlobNotFound       = errors.New("blob not found")
)
