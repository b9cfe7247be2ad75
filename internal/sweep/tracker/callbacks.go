package tracker

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/logging"
	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/sweep/job"
)

// CompletionState is threaded through the completion callbacks, one job at a time.
type CompletionState struct {
	Best job.BestResult
	// Number of jobs that completed with a result so far.
	Completed int
}

func NewCompletionState() CompletionState {
	return CompletionState{Best: job.NoBestResult()}
}

// CompletionCallback is invoked once for every job that completes with a result.
// The returned state is passed to the next callback and to the next completion.
type CompletionCallback interface {
	OnCompletion(ctx *sweepcontext.Context, d *job.Descriptor, state CompletionState) (CompletionState, error)
}

type CompletionCallbackFunc func(ctx *sweepcontext.Context, d *job.Descriptor, state CompletionState) (CompletionState, error)

func (f CompletionCallbackFunc) OnCompletion(ctx *sweepcontext.Context, d *job.Descriptor, state CompletionState) (CompletionState, error) {
	return f(ctx, d, state)
}

// runCallback invokes cb, logging and swallowing errors and panics. On failure the input state is returned unchanged.
func runCallback(ctx *sweepcontext.Context, cb CompletionCallback, d *job.Descriptor, state CompletionState) (next CompletionState) {
	next = state
	defer func() {
		if r := recover(); r != nil {
			logging.WithStacktrace(ctx.Log, errors.New(fmt.Sprint(r))).Errorf("completion callback panicked on job %s", d.Identity)
			next = state
		}
	}()
	rv, err := cb.OnCompletion(ctx, d, state)
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Errorf("completion callback failed on job %s", d.Identity)
		return state
	}
	return rv
}
