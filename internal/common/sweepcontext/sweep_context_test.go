package sweepcontext

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clock "k8s.io/utils/clock/testing"
)

func TestNew(t *testing.T) {
	logger := logrus.WithField("foo", "bar")
	ctx := New(context.Background(), logger)
	require.Equal(t, logger, ctx.Log)
	require.Equal(t, context.Background(), ctx.Context)
}

func TestLogFields(t *testing.T) {
	tests := map[string]struct {
		ctx      *Context
		expected logrus.Fields
	}{
		"field":      {ctx: WithLogField(Background(), "fish", "chips"), expected: logrus.Fields{"fish": "chips"}},
		"fields":     {ctx: WithLogFields(Background(), logrus.Fields{"fish": "chips", "salt": "pepper"}), expected: logrus.Fields{"fish": "chips", "salt": "pepper"}},
		"run":        {ctx: WithRun(Background(), "01h", "fit"), expected: logrus.Fields{RunField: "01h", LabelField: "fit"}},
		"job":        {ctx: WithJob(WithRun(Background(), "01h", "fit"), "abc"), expected: logrus.Fields{RunField: "01h", LabelField: "fit", JobField: "abc"}},
		"generation": {ctx: WithGeneration(Background(), 3), expected: logrus.Fields{GenerationField: 3}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, context.Background(), tc.ctx.Context)
			assert.Equal(t, tc.expected, tc.ctx.Log.Data)
		})
	}
}

func TestWithCancel_KeepsLogger(t *testing.T) {
	parent := WithLogField(Background(), "run", "abc")
	ctx, cancel := WithCancel(parent)
	assert.Equal(t, parent.Log, ctx.Log)
	cancel()
	<-ctx.Done()
	assert.Equal(t, context.Canceled, ctx.Err())
}

func TestErrGroup(t *testing.T) {
	parent := WithLogField(Background(), "run", "abc")
	g, ctx := ErrGroup(parent)
	assert.Equal(t, parent.Log, ctx.Log)
	g.Go(func() error {
		return errors.New("boom")
	})
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	assert.EqualError(t, g.Wait(), "boom")
}

func TestBackoff_WaitsOnClock(t *testing.T) {
	fakeClock := clock.NewFakeClock(time.Now())
	done := make(chan error, 1)
	go func() {
		done <- Backoff(Background(), fakeClock, nil, time.Minute, time.Minute)
	}()

	require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
	fakeClock.Step(59 * time.Second)
	select {
	case <-done:
		t.Fatal("returned before the backoff elapsed")
	case <-time.After(10 * time.Millisecond):
	}
	fakeClock.Step(time.Second)
	assert.NoError(t, <-done)
}

func TestBackoff_Cancelled(t *testing.T) {
	ctx, cancel := WithCancel(Background())
	cancel()
	err := Backoff(ctx, clock.NewFakeClock(time.Now()), nil, time.Hour, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
