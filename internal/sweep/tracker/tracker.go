package tracker

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/G-Research/paramsweep/internal/common/logging"
	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
	"github.com/G-Research/paramsweep/internal/sweep/gateway"
	"github.com/G-Research/paramsweep/internal/sweep/job"
	"github.com/G-Research/paramsweep/internal/sweep/ledger"
	"github.com/G-Research/paramsweep/internal/sweep/metrics"
)

const (
	DefaultTimeoutFactor  = 1.2
	DefaultMaxSubmissions = 3
)

// Admitter gates submissions to the scheduler; see throttle.QueueThrottle.
type Admitter interface {
	Wait(ctx *sweepcontext.Context, label string) error
}

// A finished job frees a queue slot, so an admitter caching queue depths should re-query.
type forgetter interface {
	Forget(label string)
}

type Config struct {
	// Walltime requested for every job.
	Walltime time.Duration
	// A job still running after TimeoutFactor * Walltime is assumed lost and resubmitted.
	TimeoutFactor float64
	// After this many submissions a lost job is failed instead.
	MaxSubmissions int
	// Waits between polls are drawn uniformly from [MinPollBackoff, MaxPollBackoff].
	MinPollBackoff time.Duration
	MaxPollBackoff time.Duration
}

func (c Config) timeout() time.Duration {
	return time.Duration(float64(c.Walltime) * c.TimeoutFactor)
}

type record struct {
	descriptor *job.Descriptor
	// Result already known from the ledger; the job is completed with it instead of asking the scheduler.
	known *float64
	// Time of the first submission, for job duration metrics.
	firstSubmittedAt time.Time
}

// JobTracker owns every job from submission until it reaches a terminal status.
//
// Jobs are polled one at a time in FIFO order by whichever goroutine calls Await. A job that is not yet complete is
// examined once, put back at the tail of the queue and followed by a random sleep. Callers only ever see copies of
// the tracked descriptors.
type JobTracker struct {
	gateway   gateway.Gateway
	admitter  Admitter
	ledger    ledger.Ledger
	config    Config
	clock     clock.Clock
	rand      *rand.Rand
	metrics   *metrics.Metrics
	callbacks []CompletionCallback

	mu      sync.Mutex
	records map[string]*record
	state   CompletionState
	// Serialises pollers, so each job is examined by one goroutine at a time.
	pollLock sync.Mutex
}

func New(
	gateway gateway.Gateway,
	admitter Admitter,
	ledger ledger.Ledger,
	config Config,
	clock clock.Clock,
	rand *rand.Rand,
	metrics *metrics.Metrics,
) *JobTracker {
	if config.TimeoutFactor <= 0 {
		config.TimeoutFactor = DefaultTimeoutFactor
	}
	if config.MaxSubmissions <= 0 {
		config.MaxSubmissions = DefaultMaxSubmissions
	}
	return &JobTracker{
		gateway:  gateway,
		admitter: admitter,
		ledger:   ledger,
		config:   config,
		clock:    clock,
		rand:     rand,
		metrics:  metrics,
		records:  map[string]*record{},
		state:    NewCompletionState(),
	}
}

// OnCompletion registers a callback to run, in registration order, whenever a job completes with a result.
func (t *JobTracker) OnCompletion(cb CompletionCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// Submit starts tracking d and hands it to the scheduler, waiting for admission first.
//
// Submitting an identity that is already tracked does nothing. If the job's result is already available, either as
// an artifact or in the ledger, the scheduler is not called and the job completes on its next poll. A job the
// scheduler refuses is failed immediately. The only error returned is the context's, if it was cancelled while
// waiting for admission.
func (t *JobTracker) Submit(ctx *sweepcontext.Context, d *job.Descriptor) (*job.Descriptor, error) {
	t.mu.Lock()
	if existing, ok := t.records[d.Identity]; ok {
		rv := existing.descriptor.DeepCopy()
		t.mu.Unlock()
		return rv, nil
	}
	tracked := d.DeepCopy()
	tracked.Status = job.Pending
	tracked.Handle.Identity = tracked.Identity
	t.records[d.Identity] = &record{descriptor: tracked}
	t.mu.Unlock()

	ctx = sweepcontext.WithJob(ctx, d.Identity)
	if err := t.submit(ctx, d.Identity); err != nil {
		t.mu.Lock()
		delete(t.records, d.Identity)
		t.mu.Unlock()
		return nil, err
	}
	rv, _ := t.Get(d.Identity)
	return rv, nil
}

// submit moves the job to Submitted, calling the scheduler unless its result is already known.
func (t *JobTracker) submit(ctx *sweepcontext.Context, identity string) error {
	t.mu.Lock()
	rec := t.records[identity]
	d := rec.descriptor.DeepCopy()
	t.mu.Unlock()

	skip, known := t.resultKnown(ctx, d)
	handle := d.Handle
	var submitErr error
	if skip {
		ctx.Log.Infof("result for %s already exists; not submitting", identity)
	} else {
		if t.admitter != nil {
			if err := t.admitter.Wait(ctx, d.Label); err != nil {
				return err
			}
		}
		handle, submitErr = t.gateway.Submit(ctx, d)
	}

	now := t.clock.Now()
	t.mu.Lock()
	d = rec.descriptor
	resubmission := d.Submissions > 0
	d.Submissions++
	d.SubmittedAt = &now
	if rec.firstSubmittedAt.IsZero() {
		rec.firstSubmittedAt = now
	}
	if known != nil {
		rec.known = known
	}
	if submitErr == nil {
		if handle.Identity == "" {
			handle.Identity = identity
		}
		d.Handle = handle
		d.Status = job.Submitted
		d.Error = ""
	}
	snapshot := d.DeepCopy()
	t.mu.Unlock()

	if !skip {
		t.metrics.RecordSubmission(snapshot.Label, resubmission)
	}
	if submitErr != nil {
		if sweeperrors.IsRejected(submitErr) {
			logging.WithStacktrace(ctx.Log, submitErr).Errorf("scheduler rejected job %s", identity)
		} else {
			logging.WithStacktrace(ctx.Log, submitErr).Errorf("failed to submit job %s", identity)
		}
		t.fail(ctx, identity, submitErr.Error())
		return nil
	}
	if !skip {
		t.recordLedger(ctx, snapshot)
	}
	return nil
}

// resultKnown checks for a result left behind by an identical job, e.g. in an earlier run of the same sweep.
func (t *JobTracker) resultKnown(ctx *sweepcontext.Context, d *job.Descriptor) (bool, *float64) {
	if t.ledger != nil {
		entry, found, err := t.ledger.Lookup(ctx, d.Identity)
		if err != nil {
			ctx.Log.WithError(err).Warnf("failed to look up %s in ledger", d.Identity)
		} else if found && entry.HasResult() {
			return true, entry.Result
		}
	}
	complete, err := t.gateway.IsComplete(ctx, d.Handle)
	if err != nil {
		ctx.Log.WithError(err).Warnf("failed to check for existing result of %s", d.Identity)
		return false, nil
	}
	return complete, nil
}

// Await polls until every job in identities is Completed or Failed, and returns them in the same order.
// Identities that are not tracked are ignored.
func (t *JobTracker) Await(ctx *sweepcontext.Context, identities []string) ([]*job.Descriptor, error) {
	t.pollLock.Lock()
	defer t.pollLock.Unlock()

	queue := make([]string, 0, len(identities))
	for _, identity := range identities {
		if d, ok := t.Get(identity); ok && !d.Status.Terminal() {
			queue = append(queue, identity)
		}
	}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		identity := queue[0]
		queue = queue[1:]
		if t.examine(sweepcontext.WithJob(ctx, identity), identity) {
			continue
		}
		queue = append(queue, identity)
		if err := t.sleep(ctx); err != nil {
			return nil, err
		}
	}

	rv := make([]*job.Descriptor, 0, len(identities))
	for _, identity := range identities {
		if d, ok := t.Get(identity); ok {
			rv = append(rv, d)
		}
	}
	return rv, nil
}

// AwaitAll waits for every tracked job.
func (t *JobTracker) AwaitAll(ctx *sweepcontext.Context) ([]*job.Descriptor, error) {
	t.mu.Lock()
	identities := make([]string, 0, len(t.records))
	for identity := range t.records {
		identities = append(identities, identity)
	}
	t.mu.Unlock()
	slices.Sort(identities)
	return t.Await(ctx, identities)
}

// examine looks at a job once and acts on what it finds. It returns true if the job is now terminal.
func (t *JobTracker) examine(ctx *sweepcontext.Context, identity string) bool {
	t.mu.Lock()
	rec, ok := t.records[identity]
	if !ok {
		t.mu.Unlock()
		return true
	}
	d := rec.descriptor.DeepCopy()
	known := rec.known
	t.mu.Unlock()

	switch d.Status {
	case job.Completed, job.Failed:
		return true
	case job.Pending:
		// Admission was interrupted; try again.
		if err := t.submit(ctx, identity); err != nil {
			return false
		}
		return t.terminal(identity)
	}

	if known != nil {
		t.complete(ctx, identity, *known)
		return true
	}

	complete, err := t.gateway.IsComplete(ctx, d.Handle)
	if err != nil {
		ctx.Log.WithError(err).Warnf("failed to check whether %s is complete; will retry", identity)
		return false
	}
	if complete {
		result, err := t.gateway.FetchResult(ctx, d.Handle)
		switch {
		case err == nil:
		case sweeperrors.IsTransient(err) || isNotFound(err):
			ctx.Log.WithError(err).Warnf("failed to fetch result of %s; will retry", identity)
			return false
		default:
			logging.WithStacktrace(ctx.Log, err).Errorf("result of %s is unreadable", identity)
			result = math.NaN()
		}
		t.complete(ctx, identity, result)
		return true
	}

	waited := t.clock.Since(*d.SubmittedAt)
	if waited <= t.config.timeout() {
		ctx.Log.Debugf("waiting on %s, waited %s of %s", identity, waited.Round(time.Second), t.config.timeout())
		return false
	}
	if d.Submissions < t.config.MaxSubmissions {
		ctx.Log.Infof("waited %s for %s, resubmitting it (%d/%d)", waited.Round(time.Second), identity, d.Submissions+1, t.config.MaxSubmissions)
		if err := t.submit(ctx, identity); err != nil {
			return false
		}
		return t.terminal(identity)
	}
	t.fail(ctx, identity, fmt.Sprintf("timed out after %d submissions", d.Submissions))
	return true
}

func (t *JobTracker) complete(ctx *sweepcontext.Context, identity string, result float64) {
	now := t.clock.Now()
	t.mu.Lock()
	rec := t.records[identity]
	d := rec.descriptor
	if d.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	d.Status = job.Completed
	d.Result = &result
	d.FinishedAt = &now
	rec.known = nil
	snapshot := d.DeepCopy()
	duration := now.Sub(rec.firstSubmittedAt)
	callbacks := make([]CompletionCallback, len(t.callbacks))
	copy(callbacks, t.callbacks)
	state := t.state
	t.mu.Unlock()

	ctx.Log.Infof("job %s completed with result %g", identity, result)
	t.metrics.RecordFinished(snapshot.Label, job.Completed, duration)
	t.recordLedger(ctx, snapshot)
	t.forget(snapshot.Label)

	state.Completed++
	for _, cb := range callbacks {
		state = runCallback(ctx, cb, snapshot.DeepCopy(), state)
	}
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

func (t *JobTracker) fail(ctx *sweepcontext.Context, identity string, reason string) {
	now := t.clock.Now()
	t.mu.Lock()
	rec := t.records[identity]
	d := rec.descriptor
	if d.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	d.Status = job.Failed
	d.Result = nil
	d.FinishedAt = &now
	d.Error = reason
	snapshot := d.DeepCopy()
	duration := now.Sub(rec.firstSubmittedAt)
	t.mu.Unlock()

	ctx.Log.Warnf("job %s failed: %s", identity, reason)
	t.metrics.RecordFinished(snapshot.Label, job.Failed, duration)
	t.recordLedger(ctx, snapshot)
	t.forget(snapshot.Label)
}

func (t *JobTracker) forget(label string) {
	if f, ok := t.admitter.(forgetter); ok {
		f.Forget(label)
	}
}

func (t *JobTracker) recordLedger(ctx *sweepcontext.Context, d *job.Descriptor) {
	if t.ledger == nil {
		return
	}
	if err := t.ledger.Record(ctx, ledger.EntryFromDescriptor(d, t.clock.Now())); err != nil {
		logging.WithStacktrace(ctx.Log, err).Warnf("failed to record %s in ledger", d.Identity)
	}
}

func (t *JobTracker) terminal(identity string) bool {
	d, ok := t.Get(identity)
	return !ok || d.Status.Terminal()
}

func (t *JobTracker) sleep(ctx *sweepcontext.Context) error {
	return sweepcontext.Backoff(ctx, t.clock, t.rand, t.config.MinPollBackoff, t.config.MaxPollBackoff)
}

// Get returns a copy of the tracked job with the given identity.
func (t *JobTracker) Get(identity string) (*job.Descriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[identity]
	if !ok {
		return nil, false
	}
	return rec.descriptor.DeepCopy(), true
}

// Snapshot returns copies of all tracked jobs, ordered by identity.
func (t *JobTracker) Snapshot() []*job.Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	identities := maps.Keys(t.records)
	slices.Sort(identities)
	rv := make([]*job.Descriptor, len(identities))
	for i, identity := range identities {
		rv[i] = t.records[identity].descriptor.DeepCopy()
	}
	return rv
}

// Counts returns the number of tracked jobs in each status.
func (t *JobTracker) Counts() map[job.Status]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	rv := map[job.Status]int{}
	for _, rec := range t.records {
		rv[rec.descriptor.Status]++
	}
	return rv
}

func (t *JobTracker) State() CompletionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Release stops tracking terminal jobs among identities. Jobs still in flight are kept.
func (t *JobTracker) Release(identities []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, identity := range identities {
		if rec, ok := t.records[identity]; ok && rec.descriptor.Status.Terminal() {
			delete(t.records, identity)
		}
	}
}

func isNotFound(err error) bool {
	var notFound *sweeperrors.ErrNotFound
	return errors.As(err, &notFound)
}
