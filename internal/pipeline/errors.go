package pipeline

import (
	"context"
	"errors"
	"net"
)

// ErrorClass categorizes a stage failure for the retry controller.
type ErrorClass string

const (
	// ClassTransient failures (network blips, collaborator timeouts) are
	// retried on the backoff schedule.
	ClassTransient ErrorClass = "transient"

	// ClassPermanent failures (corrupt source, invalid input) move the job
	// straight to terminal FAILED.
	ClassPermanent ErrorClass = "permanent"

	// ClassQuota failures (storage or inference quota exceeded) are
	// retryable but surfaced distinctly for operator triage.
	ClassQuota ErrorClass = "quota"
)

// Retryable reports whether the retry controller may reschedule the stage.
func (c ErrorClass) Retryable() bool {
	return c != ClassPermanent
}

type classifiedError struct {
	class ErrorClass
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Permanent marks an error as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassPermanent, err: err}
}

// Transient marks an error as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassTransient, err: err}
}

// QuotaExceeded marks an error as a quota/resource failure.
func QuotaExceeded(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassQuota, err: err}
}

// Classify determines the error class of a stage failure. Explicitly
// marked errors keep their class; stage timeouts and network errors are
// transient; anything unrecognized defaults to transient so a one-off
// collaborator hiccup doesn't permanently fail a job.
func Classify(err error) ErrorClass {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassTransient
}
