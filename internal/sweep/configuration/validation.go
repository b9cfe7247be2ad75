package configuration

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/config"
	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
	"github.com/G-Research/paramsweep/internal/sweep/ledger"
)

// Validate checks the struct tags, then the constraints spanning several fields.
func (c SweepConfiguration) Validate() error {
	if err := config.Validate(c); err != nil {
		return err
	}
	var result *multierror.Error
	if err := c.Tracker.PollBackoff.validate("tracker.pollBackoff"); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Throttle.QueueBackoff.validate("throttle.queueBackoff"); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Ledger.Type == ledger.TypeRedis && c.Ledger.Redis == nil {
		result = multierror.Append(result, &sweeperrors.ErrInvalidArgument{
			Name:    "ledger.redis",
			Value:   nil,
			Message: "required for the redis ledger",
		})
	}
	if c.Confirm.Enabled && c.Confirm.Walltime <= 0 {
		result = multierror.Append(result, &sweeperrors.ErrInvalidArgument{
			Name:    "confirm.walltime",
			Value:   c.Confirm.Walltime,
			Message: "must be positive when confirmation is enabled",
		})
	}
	if _, err := c.Cmaes.populationSize(len(c.Parameters)); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := c.Space(); err != nil {
		result = multierror.Append(result, err)
	}
	return errors.WithStack(result.ErrorOrNil())
}

func (b Backoff) validate(name string) error {
	if b.Min > b.Max {
		return &sweeperrors.ErrInvalidArgument{
			Name:    name,
			Value:   b,
			Message: "min is greater than max",
		}
	}
	return nil
}
