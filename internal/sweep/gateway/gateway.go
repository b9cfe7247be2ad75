package gateway

import (
	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/sweep/job"
)

// Gateway is the boundary to an external batch scheduler.
type Gateway interface {
	// Submit hands the job to the scheduler and returns without waiting for it to run.
	// Submitting the same rendered command twice must be safe.
	Submit(ctx *sweepcontext.Context, d *job.Descriptor) (job.Handle, error)
	// QueueDepth returns the number of outstanding jobs with the given label.
	QueueDepth(ctx *sweepcontext.Context, label string) (int, error)
	// IsComplete returns true once the job's result artifact exists.
	IsComplete(ctx *sweepcontext.Context, handle job.Handle) (bool, error)
	// FetchResult reads the job's result artifact. Only valid once IsComplete returned true.
	FetchResult(ctx *sweepcontext.Context, handle job.Handle) (float64, error)
}
