package loop

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/logging"
	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/sweep/gateway"
	"github.com/G-Research/paramsweep/internal/sweep/job"
	"github.com/G-Research/paramsweep/internal/sweep/params"
	"github.com/G-Research/paramsweep/internal/sweep/tracker"
)

const DefaultConfirmLabel = "bestparam_rerun"

// Admitter decides without blocking whether a job may be submitted now; see throttle.QueueThrottle.
type Admitter interface {
	TryAdmit(ctx *sweepcontext.Context, label string) (bool, error)
}

// GatewayConfirmer submits confirmation jobs straight to a gateway, usually one configured with a longer walltime.
// Confirmation jobs are not tracked.
//
// Confirm never waits for queue space. If the confirmation queue is full the parameters are kept, replacing any
// older pending ones, and submitted on a later Confirm or OnCompletion call.
type GatewayConfirmer struct {
	gateway  gateway.Gateway
	admitter Admitter
	template job.CommandTemplate
	label    string

	mu      sync.Mutex
	pending *params.ParameterSet
}

func NewGatewayConfirmer(gateway gateway.Gateway, admitter Admitter, template job.CommandTemplate, label string) *GatewayConfirmer {
	if label == "" {
		label = DefaultConfirmLabel
	}
	return &GatewayConfirmer{gateway: gateway, admitter: admitter, template: template, label: label}
}

func (c *GatewayConfirmer) Confirm(ctx *sweepcontext.Context, parameters params.ParameterSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = &parameters
	return c.flush(ctx)
}

// OnCompletion retries a deferred confirmation. It is meant to be registered with the tracker, so that every
// completed job gives the confirmation queue another chance.
func (c *GatewayConfirmer) OnCompletion(ctx *sweepcontext.Context, _ *job.Descriptor, state tracker.CompletionState) (tracker.CompletionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return state, c.flush(ctx)
}

// Pending returns the parameters waiting for queue space, if any.
func (c *GatewayConfirmer) Pending() (params.ParameterSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return params.ParameterSet{}, false
	}
	return *c.pending, true
}

func (c *GatewayConfirmer) flush(ctx *sweepcontext.Context) error {
	if c.pending == nil {
		return nil
	}
	parameters := *c.pending
	if c.admitter != nil {
		admitted, err := c.admitter.TryAdmit(ctx, c.label)
		if err != nil {
			logging.WithStacktrace(ctx.Log, err).Warnf("failed to query %s queue; confirmation of %s deferred", c.label, parameters)
			return nil
		}
		if !admitted {
			ctx.Log.Infof("%s queue is full; confirmation of %s deferred", c.label, parameters)
			return nil
		}
	}
	c.pending = nil
	d := job.NewDescriptor(c.label, c.template, parameters)
	handle, err := c.gateway.Submit(ctx, d)
	if err != nil {
		return errors.WithMessagef(err, "confirmation of %s", parameters)
	}
	ctx.Log.Infof("submitted confirmation job %s for %s", handle.Identity, parameters)
	return nil
}
