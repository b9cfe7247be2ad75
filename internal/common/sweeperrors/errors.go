// Package sweeperrors contains the generic errors returned across the sweep engine.
// Callers should match on them with errors.As rather than by comparing messages, since
// every error is usually wrapped with a stack trace on its way up.
//
// If multiple errors occur in some function (e.g., if several parameters are misconfigured), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package sweeperrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrNotFound struct {
	Type    string // Resource type, e.g., "job" or "result"
	Value   string // Resource name, e.g., a job identity
	Message string // An optional message to include in the error message
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	} else {
		return s
	}
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "sigma0"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	} else {
		return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
	}
}

// ErrExhausted is returned when a bounded resampling loop gave up before finding enough acceptable
// candidates, e.g., because the acceptance predicate can never be satisfied.
type ErrExhausted struct {
	Operation string // e.g. "random sampling" or "candidate repair"
	Attempts  int    // Number of attempts made before giving up
	Found     int    // Number of acceptable candidates found
	Wanted    int    // Number of acceptable candidates requested
}

func (err *ErrExhausted) Error() string {
	return fmt.Sprintf("%s exhausted after %d attempts; found %d of %d acceptable candidates", err.Operation, err.Attempts, err.Found, err.Wanted)
}

// ErrTransient indicates a scheduler query that failed but is expected to succeed if retried later.
type ErrTransient struct {
	Operation string
	Err       error
}

func (err *ErrTransient) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", err.Operation, err.Err)
}

func (err *ErrTransient) Unwrap() error {
	return err.Err
}

// ErrSubmissionRejected indicates the scheduler refused a job outright. Resubmitting the same job
// will not help.
type ErrSubmissionRejected struct {
	JobId   string
	Output  string // Whatever the submit command printed, if anything
	Message string
}

func (err *ErrSubmissionRejected) Error() (s string) {
	s = fmt.Sprintf("submission of job %s rejected", err.JobId)
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	if err.Output != "" {
		s = s + fmt.Sprintf("; output: %s", err.Output)
	}
	return
}

// IsTransient returns true if any error in the chain is an ErrTransient.
func IsTransient(err error) bool {
	var e *ErrTransient
	return errors.As(err, &e)
}

// IsRejected returns true if any error in the chain is an ErrSubmissionRejected.
func IsRejected(err error) bool {
	var e *ErrSubmissionRejected
	return errors.As(err, &e)
}
