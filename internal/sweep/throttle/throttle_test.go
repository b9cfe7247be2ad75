package throttle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clock "k8s.io/utils/clock/testing"

	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/common/util"
)

type depthStub struct {
	mu     sync.Mutex
	depths []int
	errs   []error
	calls  int
	labels []string
}

// QueueDepth returns depths in order, repeating the last one.
func (s *depthStub) QueueDepth(_ *sweepcontext.Context, label string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.labels = append(s.labels, label)
	if i < len(s.errs) && s.errs[i] != nil {
		return 0, s.errs[i]
	}
	if i >= len(s.depths) {
		i = len(s.depths) - 1
	}
	return s.depths[i], nil
}

func (s *depthStub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newThrottle(stub *depthStub, limit int) (*QueueThrottle, *clock.FakeClock) {
	fakeClock := clock.NewFakeClock(time.Now())
	q := New(stub, Config{Limit: limit, MinBackoff: 30 * time.Second, MaxBackoff: 180 * time.Second}, fakeClock, util.NewThreadsafeRand(1), nil)
	return q, fakeClock
}

// waitStepping runs Wait, advancing the clock whenever it sleeps, and returns the number of sleeps and its error.
func waitStepping(t *testing.T, q *QueueThrottle, fakeClock *clock.FakeClock, ctx *sweepcontext.Context, label string) (int, error) {
	done := make(chan error, 1)
	go func() { done <- q.Wait(ctx, label) }()
	sleeps := 0
	deadline := time.After(10 * time.Second)
	for {
		select {
		case err := <-done:
			return sleeps, err
		case <-deadline:
			t.Fatal("Wait did not return")
		default:
		}
		if fakeClock.HasWaiters() {
			fakeClock.Step(3 * time.Minute)
			sleeps++
		}
		time.Sleep(time.Millisecond)
	}
}

func TestQueueThrottle_AdmitsUnderLimitUsingEstimate(t *testing.T) {
	stub := &depthStub{depths: []int{0}}
	q, fakeClock := newThrottle(stub, 8)
	ctx := sweepcontext.Background()

	for i := 0; i < 7; i++ {
		sleeps, err := waitStepping(t, q, fakeClock, ctx, "sweep")
		require.NoError(t, err)
		assert.Equal(t, 0, sleeps)
	}
	assert.Equal(t, 1, stub.Calls())

	// The estimate is now 7, above three quarters of the limit, so the scheduler is asked again.
	_, err := waitStepping(t, q, fakeClock, ctx, "sweep")
	require.NoError(t, err)
	assert.Equal(t, 2, stub.Calls())
}

func TestQueueThrottle_BlocksWhileFull(t *testing.T) {
	stub := &depthStub{depths: []int{5, 6, 4}}
	q, fakeClock := newThrottle(stub, 5)

	sleeps, err := waitStepping(t, q, fakeClock, sweepcontext.Background(), "sweep")
	require.NoError(t, err)
	assert.Equal(t, 2, sleeps)
	assert.Equal(t, 3, stub.Calls())
}

func TestQueueThrottle_NeverAdmitsAtLimit(t *testing.T) {
	stub := &depthStub{depths: []int{4}}
	q, fakeClock := newThrottle(stub, 4)
	ctx, cancel := sweepcontext.WithCancel(sweepcontext.Background())

	done := make(chan error, 1)
	go func() { done <- q.Wait(ctx, "sweep") }()
	for i := 0; i < 3; i++ {
		require.Eventually(t, fakeClock.HasWaiters, 5*time.Second, time.Millisecond)
		fakeClock.Step(3 * time.Minute)
	}
	select {
	case err := <-done:
		t.Fatalf("Wait returned %v while queue was full", err)
	default:
	}
	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueueThrottle_RetriesQueryErrors(t *testing.T) {
	stub := &depthStub{depths: []int{0, 0, 1}, errs: []error{errors.New("qstat: timeout"), errors.New("qstat: timeout")}}
	q, fakeClock := newThrottle(stub, 5)

	sleeps, err := waitStepping(t, q, fakeClock, sweepcontext.Background(), "sweep")
	require.NoError(t, err)
	assert.Equal(t, 2, sleeps)
	assert.Equal(t, 3, stub.Calls())
}

func TestQueueThrottle_LabelsAreIndependent(t *testing.T) {
	stub := &depthStub{depths: []int{0}}
	q, fakeClock := newThrottle(stub, 10)

	_, err := waitStepping(t, q, fakeClock, sweepcontext.Background(), "a")
	require.NoError(t, err)
	_, err = waitStepping(t, q, fakeClock, sweepcontext.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stub.labels)
}

func TestQueueThrottle_Forget(t *testing.T) {
	stub := &depthStub{depths: []int{0}}
	q, fakeClock := newThrottle(stub, 10)

	_, err := waitStepping(t, q, fakeClock, sweepcontext.Background(), "sweep")
	require.NoError(t, err)
	q.Forget("sweep")
	_, err = waitStepping(t, q, fakeClock, sweepcontext.Background(), "sweep")
	require.NoError(t, err)
	assert.Equal(t, 2, stub.Calls())
}

func TestQueueThrottle_Unlimited(t *testing.T) {
	stub := &depthStub{depths: []int{1000}}
	q, _ := newThrottle(stub, 0)

	require.NoError(t, q.Wait(sweepcontext.Background(), "sweep"))
	assert.Equal(t, 0, stub.Calls())
}

func TestQueueThrottle_CancelledContext(t *testing.T) {
	stub := &depthStub{depths: []int{0}}
	q, _ := newThrottle(stub, 5)
	ctx, cancel := sweepcontext.WithCancel(sweepcontext.Background())
	cancel()

	assert.ErrorIs(t, q.Wait(ctx, "sweep"), context.Canceled)
	assert.Equal(t, 0, stub.Calls())
}

func TestQueueThrottle_TryAdmit(t *testing.T) {
	tests := map[string]struct {
		limit    int
		depths   []int
		errs     []error
		admitted bool
		err      bool
	}{
		"disabled":      {limit: 0, depths: []int{100}, admitted: true},
		"room":          {limit: 2, depths: []int{1}, admitted: true},
		"full":          {limit: 1, depths: []int{1}, admitted: false},
		"query failure": {limit: 1, depths: []int{0}, errs: []error{errors.New("qstat: timeout")}, err: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			stub := &depthStub{depths: tc.depths, errs: tc.errs}
			q, fakeClock := newThrottle(stub, tc.limit)
			admitted, err := q.TryAdmit(sweepcontext.Background(), "sweep")
			if tc.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.admitted, admitted)
			assert.False(t, fakeClock.HasWaiters())
		})
	}
}

func TestQueueThrottle_TryAdmitCountsAdmissions(t *testing.T) {
	stub := &depthStub{depths: []int{0}}
	q, _ := newThrottle(stub, 2)
	ctx := sweepcontext.Background()

	admitted, err := q.TryAdmit(ctx, "sweep")
	require.NoError(t, err)
	assert.True(t, admitted)
	admitted, err = q.TryAdmit(ctx, "sweep")
	require.NoError(t, err)
	assert.True(t, admitted)

	// The estimate of 2 is above three quarters of the limit, so the scheduler is asked again.
	stub.mu.Lock()
	stub.depths = []int{0, 2}
	stub.mu.Unlock()
	admitted, err = q.TryAdmit(ctx, "sweep")
	require.NoError(t, err)
	assert.False(t, admitted)
	assert.Equal(t, 2, stub.Calls())
}
