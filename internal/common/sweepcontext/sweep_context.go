package sweepcontext

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/G-Research/paramsweep/internal/common/util"
)

// Log fields identifying the work a log line belongs to.
const (
	RunField        = "run"
	LabelField      = "label"
	JobField        = "job"
	GenerationField = "generation"
)

// Context is a context.Context carrying the logger of the run, job or generation being worked on.
type Context struct {
	context.Context
	Log *logrus.Entry
}

// Background is context.Background with the standard logrus logger.
func Background() *Context {
	return New(context.Background(), logrus.NewEntry(logrus.StandardLogger()))
}

func New(ctx context.Context, log *logrus.Entry) *Context {
	return &Context{Context: ctx, Log: log}
}

func WithCancel(parent *Context) (*Context, context.CancelFunc) {
	c, cancel := context.WithCancel(parent.Context)
	return New(c, parent.Log), cancel
}

func WithLogField(parent *Context, key string, val interface{}) *Context {
	return New(parent.Context, parent.Log.WithField(key, val))
}

func WithLogFields(parent *Context, fields logrus.Fields) *Context {
	return New(parent.Context, parent.Log.WithFields(fields))
}

// WithRun tags every log line with the run id and the label its jobs are submitted under.
func WithRun(parent *Context, run string, label string) *Context {
	return WithLogFields(parent, logrus.Fields{RunField: run, LabelField: label})
}

func WithJob(parent *Context, identity string) *Context {
	return WithLogField(parent, JobField, identity)
}

func WithGeneration(parent *Context, generation int) *Context {
	return WithLogField(parent, GenerationField, generation)
}

// ErrGroup is errgroup.WithContext, keeping the logger of ctx.
func ErrGroup(ctx *Context) (*errgroup.Group, *Context) {
	group, goctx := errgroup.WithContext(ctx)
	return group, New(goctx, ctx.Log)
}

// Backoff sleeps on c for a duration drawn uniformly from [min, max]. It returns early with the context's error if
// ctx is done first.
func Backoff(ctx *Context, c clock.Clock, r *rand.Rand, min, max time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(util.UniformDuration(r, min, max)):
		return nil
	}
}
