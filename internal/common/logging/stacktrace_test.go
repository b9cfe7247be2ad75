package logging

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestWithStacktrace_AddsStack(t *testing.T) {
	err := errors.Wrap(errors.New("inner"), "outer")
	entry := WithStacktrace(logrus.NewEntry(logrus.New()), err)
	assert.Equal(t, err, entry.Data[logrus.ErrorKey])
	assert.NotNil(t, entry.Data[Stacktrace])
}

func TestWithStacktrace_PlainError(t *testing.T) {
	err := fmt.Errorf("no stack")
	entry := WithStacktrace(logrus.NewEntry(logrus.New()), err)
	_, ok := entry.Data[Stacktrace]
	assert.False(t, ok)
}

func TestExtractStack_Innermost(t *testing.T) {
	inner := errors.New("inner")
	outer := errors.WithStack(fmt.Errorf("wrapped: %w", inner))
	assert.Equal(t, inner.(stackTracer).StackTrace(), ExtractStack(outer))
}
