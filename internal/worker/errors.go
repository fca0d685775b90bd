package worker

import (
	"errors"
	"time"
)

// fatalError marks a handler failure that cannot succeed on retry
// (malformed payload, violated precondition). Fatal jobs go straight
// to the dead set for operator review.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so the processor dead-letters the job instead of
// rescheduling it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err (anywhere in its chain) is fatal.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}

// retryAtError defers a job to a known future instant. Being early is
// not a failure, so deferred jobs keep their attempt count.
type retryAtError struct {
	at  time.Time
	err error
}

func (e *retryAtError) Error() string { return e.err.Error() }
func (e *retryAtError) Unwrap() error { return e.err }

// RetryAt wraps err so the processor reschedules the job for at without
// consuming an attempt. Use when the work is simply not due yet.
func RetryAt(at time.Time, err error) error {
	if err == nil {
		return nil
	}
	return &retryAtError{at: at, err: err}
}

// retryAt extracts the deferral instant, if err carries one.
func retryAt(err error) (time.Time, bool) {
	var r *retryAtError
	if errors.As(err, &r) {
		return r.at, true
	}
	return time.Time{}, false
}
