package configuration

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/optimisation/cmaes"
	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
	"github.com/G-Research/paramsweep/internal/sweep/gateway"
	"github.com/G-Research/paramsweep/internal/sweep/job"
	"github.com/G-Research/paramsweep/internal/sweep/loop"
	"github.com/G-Research/paramsweep/internal/sweep/params"
	"github.com/G-Research/paramsweep/internal/sweep/throttle"
	"github.com/G-Research/paramsweep/internal/sweep/tracker"
)

const AutoPopulation = "auto_10x"

func (c SweepConfiguration) Space() (*params.Space, error) {
	return params.NewSpace(c.Parameters)
}

// Predicate compiles the sampling predicate against space. Without one every sample is accepted.
func (c SweepConfiguration) Predicate(space *params.Space) (params.Predicate, error) {
	if c.Sampling.Predicate == "" {
		return params.AcceptAll, nil
	}
	return params.NewExpression(c.Sampling.Predicate, space, c.Sampling.PredicateContext)
}

func (c SweepConfiguration) CommandTemplate() job.CommandTemplate {
	return job.CommandTemplate{
		Command:      c.Command.Command,
		Options:      c.Command.Options,
		IdentityFlag: c.Command.IdentityFlag,
	}
}

// ConfirmTemplate is the command template with the confirmation options layered on top. Its jobs never share an
// identity with a sweep job, even when the options are the same.
func (c SweepConfiguration) ConfirmTemplate() job.CommandTemplate {
	options := make(map[string]string, len(c.Command.Options)+len(c.Confirm.Options))
	for k, v := range c.Command.Options {
		options[k] = v
	}
	for k, v := range c.Confirm.Options {
		options[k] = v
	}
	template := c.CommandTemplate()
	template.Options = options
	template.Variant = c.ConfirmLabel()
	return template
}

func (c SweepConfiguration) ConfirmLabel() string {
	if c.Confirm.Label == "" {
		return loop.DefaultConfirmLabel
	}
	return c.Confirm.Label
}

func (c SweepConfiguration) ClusterConfig() gateway.ClusterConfig {
	return gateway.ClusterConfig{
		SubmitCommand:    c.Gateway.SubmitCommand,
		User:             c.user(),
		Memory:           c.Gateway.Memory,
		Walltime:         c.Gateway.Walltime,
		Partition:        c.Gateway.Partition,
		Account:          c.Gateway.Account,
		Qos:              c.Gateway.Qos,
		SetEnv:           c.Gateway.SetEnv,
		EnvKeys:          c.Gateway.EnvKeys,
		SubmitAttempts:   c.Gateway.SubmitAttempts,
		SubmitRetryDelay: c.Gateway.SubmitRetryDelay,
		WorkingDir:       c.WorkingDir,
		ScriptsDir:       c.ScriptsDir,
		OutputDir:        c.OutputDir,
		DryRun:           c.DryRun,
	}
}

// ConfirmClusterConfig is the cluster config used for confirmation jobs, which only differ in their walltime.
func (c SweepConfiguration) ConfirmClusterConfig() gateway.ClusterConfig {
	cluster := c.ClusterConfig()
	if c.Confirm.Walltime > 0 {
		cluster.Walltime = c.Confirm.Walltime
	}
	return cluster
}

func (c SweepConfiguration) user() string {
	if c.Gateway.User != "" {
		return c.Gateway.User
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func (c SweepConfiguration) TrackerConfig() tracker.Config {
	return tracker.Config{
		Walltime:       c.Gateway.Walltime,
		TimeoutFactor:  c.Tracker.TimeoutFactor,
		MaxSubmissions: c.Tracker.MaxSubmissions,
		MinPollBackoff: c.Tracker.PollBackoff.Min,
		MaxPollBackoff: c.Tracker.PollBackoff.Max,
	}
}

func (c SweepConfiguration) ThrottleConfig() throttle.Config {
	return throttle.Config{
		Limit:         c.Throttle.Limit,
		MinBackoff:    c.Throttle.QueueBackoff.Min,
		MaxBackoff:    c.Throttle.QueueBackoff.Max,
		DepthCacheTTL: c.Throttle.DepthCacheTTL,
	}
}

func (c SweepConfiguration) LoopOptions() loop.Options {
	return loop.Options{
		Label:             c.RunLabel,
		Sentinel:          c.Cmaes.Sentinel,
		MaxIterations:     c.Cmaes.MaxIterations,
		MaxRepairAttempts: c.Cmaes.MaxRepairAttempts,
	}
}

// CmaesOptions derives the optimiser's options from the cmaes section and the parameters, as encoded by codec.
func (c SweepConfiguration) CmaesOptions(codec *loop.Codec) (cmaes.Options, error) {
	x0, scaling, err := codec.Initial(c.Cmaes.Sigma0, c.Cmaes.UseAutoScaling)
	if err != nil {
		return cmaes.Options{}, err
	}
	populationSize, err := c.Cmaes.populationSize(codec.Len())
	if err != nil {
		return cmaes.Options{}, err
	}
	options := cmaes.Options{
		X0:             x0,
		Sigma0:         c.Cmaes.Sigma0,
		Scaling:        scaling,
		PopulationSize: populationSize,
		TolX:           c.Cmaes.TolX,
		TolFun:         c.Cmaes.TolFun,
		MaxIterations:  c.Cmaes.MaxIterations,
		Seed:           c.Cmaes.Seed,
	}
	if c.Cmaes.UseBounds {
		options.Lower, options.Upper = codec.SearchBounds()
	}
	return options, nil
}

// populationSize returns zero for the optimiser's default.
func (c CmaesConfig) populationSize(dimensions int) (int, error) {
	switch c.PopulationSize {
	case "":
		return 0, nil
	case AutoPopulation:
		return 10 * dimensions, nil
	}
	n, err := strconv.Atoi(c.PopulationSize)
	if err != nil || n < 2 {
		return 0, errors.WithStack(&sweeperrors.ErrInvalidArgument{
			Name:    "cmaes.populationSize",
			Value:   c.PopulationSize,
			Message: "must be empty, " + AutoPopulation + " or an integer of at least 2",
		})
	}
	return n, nil
}

// BestReportPath returns where the best result is written, or "" if it is not.
func (c SweepConfiguration) BestReportPath() string {
	if c.BestReport == "" || filepath.IsAbs(c.BestReport) {
		return c.BestReport
	}
	return filepath.Join(c.OutputDir, c.BestReport)
}
