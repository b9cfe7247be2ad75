package sweeperrors

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	tests := map[string]struct {
		err      error
		expected string
	}{
		"not found": {
			err:      &ErrNotFound{Type: "result", Value: "abc"},
			expected: `resource "abc" of type "result" does not exist`,
		},
		"not found without type": {
			err:      &ErrNotFound{Value: "abc", Message: "never submitted"},
			expected: `resource "abc" does not exist; never submitted`,
		},
		"invalid argument": {
			err:      &ErrInvalidArgument{Name: "sigma0", Value: -1.0, Message: "must be positive"},
			expected: `value -1 is invalid for field "sigma0"; must be positive`,
		},
		"exhausted": {
			err:      &ErrExhausted{Operation: "random sampling", Attempts: 10, Found: 2, Wanted: 5},
			expected: "random sampling exhausted after 10 attempts; found 2 of 5 acceptable candidates",
		},
		"rejected": {
			err:      &ErrSubmissionRejected{JobId: "a1", Output: "qsub: bad walltime"},
			expected: "submission of job a1 rejected; output: qsub: bad walltime",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.err.Error())
		})
	}
}

func TestIsTransient(t *testing.T) {
	cause := errors.New("connection reset")
	err := errors.WithStack(&ErrTransient{Operation: "qstat", Err: cause})
	assert.True(t, IsTransient(err))
	assert.False(t, IsRejected(err))
	assert.True(t, errors.Is(err, cause))
}

func TestIsRejected(t *testing.T) {
	err := errors.Wrap(&ErrSubmissionRejected{JobId: "a1"}, "submitting")
	assert.True(t, IsRejected(err))
	assert.False(t, IsTransient(err))
}
