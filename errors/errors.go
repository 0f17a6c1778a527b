// Package errors provides error handling for the Lumina scheduler.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrDuplicateJob) {
//	    // another dispatcher got there first
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Scheduler error taxonomy.
//
// Every failure inside the scheduler core is classified as exactly one of
// these kinds. Boundaries (executor loop, dispatcher tick, orchestrator)
// match on them with errors.Is and never on message text.
var (
	// ErrConfiguration marks permanently invalid user configuration
	// (malformed cron expression, unknown timezone, malformed target).
	// Surfaced at schedule creation, never retried.
	ErrConfiguration = New("invalid configuration")

	// ErrTransientTask marks a task failure that is expected to clear on
	// its own (collaborator timeout, transient network failure). Retried
	// with exponential backoff up to the configured attempt limit.
	ErrTransientTask = New("transient task failure")

	// ErrPermanentTask marks a task failure that will never succeed on
	// retry (referenced chart deleted, unsupported payload). Moves the
	// job straight to the error state.
	ErrPermanentTask = New("permanent task failure")

	// ErrLeaseLost is returned by the heartbeat path when the caller no
	// longer owns the job's lease. It is a signal to abort cleanly, not a
	// job failure: whoever reclaimed the job continues the attempt count.
	ErrLeaseLost = New("job lease lost")

	// ErrDuplicateJob is returned by Enqueue when a job already exists
	// for the same (schedule, due time) pair. Racing dispatchers treat it
	// as success.
	ErrDuplicateJob = New("duplicate job")

	// ErrDelivery marks a job failure caused by target deliveries: the
	// schedule's success policy was not met. Retryable; the next attempt
	// re-delivers to every target.
	ErrDelivery = New("delivery failed")

	// ErrJobNotFound indicates the requested job does not exist.
	ErrJobNotFound = New("job not found")

	// ErrScheduleNotFound indicates the requested schedule does not exist.
	ErrScheduleNotFound = New("schedule not found")

	// ErrCancelled marks a job aborted because cancellation was requested
	// while it was running.
	ErrCancelled = New("job cancelled")

	// ErrPollTimeout is returned by bounded poll loops (CLI status
	// watching) when the deadline elapses before the job reaches a
	// terminal state.
	ErrPollTimeout = New("poll deadline exceeded")
)

// NewConfiguration creates a configuration error with a formatted message.
func NewConfiguration(format string, args ...interface{}) error {
	return Wrap(ErrConfiguration, Newf(format, args...).Error())
}

// Transient wraps err as a transient task failure, preserving err's chain.
func Transient(err error, context string) error {
	return WithSecondary(Wrap(ErrTransientTask, context), err)
}

// Permanent wraps err as a permanent task failure, preserving err's chain.
func Permanent(err error, context string) error {
	return WithSecondary(Wrap(ErrPermanentTask, context), err)
}

// WithSecondary attaches cause to err without changing err's identity.
// The cause stays visible in the verbose rendering and in GetAllDetails.
func WithSecondary(err, cause error) error {
	if cause == nil {
		return err
	}
	return crdb.WithSecondaryError(WithDetail(err, cause.Error()), cause)
}

// IsRetryable reports whether a task error should be retried. Anything not
// explicitly classified falls on the retryable side: an unknown failure is
// more often a flaky collaborator than an invalid schedule, and the attempt
// limit bounds the damage of guessing wrong.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsAny(err, ErrConfiguration, ErrPermanentTask, ErrCancelled) {
		return false
	}
	return true
}

// IsConfiguration reports whether err is or wraps ErrConfiguration.
func IsConfiguration(err error) bool {
	return err != nil && Is(err, ErrConfiguration)
}

// IsLeaseLost reports whether err is or wraps ErrLeaseLost.
func IsLeaseLost(err error) bool {
	return err != nil && Is(err, ErrLeaseLost)
}
