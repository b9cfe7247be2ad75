package throttle

import (
	"math/rand"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"k8s.io/utils/clock"

	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/sweep/metrics"
)

// DepthReporter reports the number of outstanding jobs with a label.
type DepthReporter interface {
	QueueDepth(ctx *sweepcontext.Context, label string) (int, error)
}

type Config struct {
	// Maximum outstanding jobs per label. Zero or less disables throttling.
	Limit int
	// Waits while the queue is full are drawn uniformly from [MinBackoff, MaxBackoff].
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// How long a queried depth is trusted for.
	DepthCacheTTL time.Duration
}

// QueueThrottle blocks submissions while the scheduler already holds Limit jobs of the same label.
//
// Querying the scheduler is slow, so the last reported depth is cached and incremented on every
// admission. The scheduler is only asked again once the estimate passes three quarters of the limit
// or the cached value expires.
type QueueThrottle struct {
	reporter DepthReporter
	config   Config
	clock    clock.Clock
	rand     *rand.Rand
	metrics  *metrics.Metrics
	depths   *cache.Cache
	// Serialises admissions so concurrent callers can't all pass on the same estimate.
	mu sync.Mutex
}

func New(reporter DepthReporter, config Config, clock clock.Clock, rand *rand.Rand, metrics *metrics.Metrics) *QueueThrottle {
	if config.DepthCacheTTL <= 0 {
		config.DepthCacheTTL = 5 * time.Minute
	}
	return &QueueThrottle{
		reporter: reporter,
		config:   config,
		clock:    clock,
		rand:     rand,
		metrics:  metrics,
		depths:   cache.New(config.DepthCacheTTL, 2*config.DepthCacheTTL),
	}
}

// Wait returns once a job with label may be submitted, or with the context's error if it is cancelled first.
// Failures to query the scheduler are logged and retried after a backoff.
func (q *QueueThrottle) Wait(ctx *sweepcontext.Context, label string) error {
	if q.config.Limit <= 0 {
		return ctx.Err()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		depth, admitted, err := q.admit(ctx, label)
		if err != nil {
			ctx.Log.WithError(err).Warnf("failed to query queue depth for %s; will retry", label)
		} else if admitted {
			return nil
		} else {
			ctx.Log.Infof("%d jobs with label %s queued, limit is %d; waiting", depth, label, q.config.Limit)
			q.metrics.RecordThrottleWait(label)
		}
		if err := q.sleep(ctx); err != nil {
			return err
		}
	}
}

// TryAdmit is Wait without the waiting: it returns false straight away if the queue for label is full.
// A failure to query the scheduler is returned as is.
func (q *QueueThrottle) TryAdmit(ctx *sweepcontext.Context, label string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if q.config.Limit <= 0 {
		return true, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	_, admitted, err := q.admit(ctx, label)
	return admitted, err
}

// admit checks the depth once, counting the job against the cached estimate if there is room for it.
func (q *QueueThrottle) admit(ctx *sweepcontext.Context, label string) (int, bool, error) {
	depth, ok := q.estimate(label)
	if !ok || 4*depth > 3*q.config.Limit {
		reported, err := q.reporter.QueueDepth(ctx, label)
		if err != nil {
			return 0, false, err
		}
		depth = reported
		q.depths.SetDefault(label, depth)
		q.metrics.SetQueueDepth(label, depth)
	}
	if depth < q.config.Limit {
		if _, err := q.depths.IncrementInt(label, 1); err != nil {
			q.depths.SetDefault(label, depth+1)
		}
		return depth, true, nil
	}
	q.depths.Delete(label)
	return depth, false, nil
}

// Forget drops the cached depth for label, so the next Wait queries the scheduler.
func (q *QueueThrottle) Forget(label string) {
	q.depths.Delete(label)
}

func (q *QueueThrottle) estimate(label string) (int, bool) {
	v, ok := q.depths.Get(label)
	if !ok {
		return 0, false
	}
	return v.(int), true
}

func (q *QueueThrottle) sleep(ctx *sweepcontext.Context) error {
	return sweepcontext.Backoff(ctx, q.clock, q.rand, q.config.MinBackoff, q.config.MaxBackoff)
}
