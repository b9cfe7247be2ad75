package gateway

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
	"github.com/G-Research/paramsweep/internal/sweep/job"
	"github.com/G-Research/paramsweep/internal/sweep/params"
)

// Fake is an in-memory Gateway whose jobs complete as soon as they are submitted, unless told otherwise.
type Fake struct {
	// Computes a job's result. Nil means every job returns 0.
	Evaluate func(p params.ParameterSet) float64
	// Returns true if the given submission (counting from 1) of d should never complete.
	Hang func(d *job.Descriptor, submission int) bool
	// Returns a non-nil error to fail the submission.
	Reject func(d *job.Descriptor) error
	// Overrides the reported queue depth. By default it is the number of hung jobs.
	Depth func(label string) (int, error)

	mu          sync.Mutex
	submissions map[string]int
	order       []string
	results     map[string]float64
	hung        map[string]bool
	depthCalls  int
}

func NewFake() *Fake {
	return &Fake{
		submissions: map[string]int{},
		results:     map[string]float64{},
		hung:        map[string]bool{},
	}
}

func (f *Fake) Submit(_ *sweepcontext.Context, d *job.Descriptor) (job.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Reject != nil {
		if err := f.Reject(d); err != nil {
			return job.Handle{}, err
		}
	}
	f.submissions[d.Identity]++
	f.order = append(f.order, d.Identity)
	n := f.submissions[d.Identity]
	if f.Hang != nil && f.Hang(d, n) {
		f.hung[d.Identity] = true
		return job.Handle{Identity: d.Identity}, nil
	}
	delete(f.hung, d.Identity)
	v := 0.0
	if f.Evaluate != nil {
		v = f.Evaluate(d.Parameters)
	}
	f.results[d.Identity] = v
	return job.Handle{Identity: d.Identity}, nil
}

func (f *Fake) QueueDepth(_ *sweepcontext.Context, label string) (int, error) {
	f.mu.Lock()
	f.depthCalls++
	depth := f.Depth
	hung := len(f.hung)
	f.mu.Unlock()
	if depth != nil {
		return depth(label)
	}
	return hung, nil
}

func (f *Fake) IsComplete(_ *sweepcontext.Context, handle job.Handle) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.results[handle.Identity]
	return ok, nil
}

func (f *Fake) FetchResult(_ *sweepcontext.Context, handle job.Handle) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.results[handle.Identity]
	if !ok {
		return 0, errors.WithStack(&sweeperrors.ErrNotFound{Type: "result", Value: handle.Identity})
	}
	return v, nil
}

// Complete makes a result available, e.g. for a job that was previously hung.
func (f *Fake) Complete(identity string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hung, identity)
	f.results[identity] = v
}

func (f *Fake) Submissions(identity string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissions[identity]
}

// Submitted returns the identities of all submissions in order, including resubmissions.
func (f *Fake) Submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	rv := make([]string, len(f.order))
	copy(rv, f.order)
	return rv
}

func (f *Fake) DepthCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depthCalls
}
