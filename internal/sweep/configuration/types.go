package configuration

import (
	"time"

	"github.com/G-Research/paramsweep/internal/sweep/ledger"
	"github.com/G-Research/paramsweep/internal/sweep/params"
)

type SweepConfiguration struct {
	// Label given to every job, used to find them in the scheduler's queue.
	RunLabel   string `validate:"required"`
	WorkingDir string
	ScriptsDir string `validate:"required"`
	OutputDir  string `validate:"required"`
	DryRun     bool
	// Where the best result found so far is written. Relative paths are relative to OutputDir.
	BestReport string
	Gateway    GatewayConfig
	Command    CommandConfig
	Tracker    TrackerConfig
	Throttle   ThrottleConfig
	Sampling   SamplingConfig
	Parameters []params.Spec `validate:"required,min=1,dive"`
	Cmaes      CmaesConfig
	Confirm    ConfirmConfig
	Ledger     ledger.Config
	Metrics    MetricsConfig
}

type GatewayConfig struct {
	SubmitCommand string `validate:"oneof=qsub sbatch sh"`
	// Owner of the jobs in the queue. Defaults to the current user.
	User      string
	Memory    string
	Walltime  time.Duration `validate:"gt=0"`
	Partition string
	Account   string
	// "auto" picks a QoS from the walltime.
	Qos              string
	SetEnv           bool
	EnvKeys          []string
	SubmitAttempts   uint `validate:"gte=1"`
	SubmitRetryDelay time.Duration
	ResultCacheSize  int `validate:"gte=0"`
}

type CommandConfig struct {
	Command      string `validate:"required"`
	IdentityFlag string
	Options      map[string]string
}

type Backoff struct {
	Min time.Duration `validate:"gte=0"`
	Max time.Duration `validate:"gte=0"`
}

type TrackerConfig struct {
	TimeoutFactor  float64 `validate:"gte=1"`
	MaxSubmissions int     `validate:"gte=1"`
	PollBackoff    Backoff
}

type ThrottleConfig struct {
	// Maximum jobs of this run in the queue at once. Zero disables throttling.
	Limit         int `validate:"gte=0"`
	QueueBackoff  Backoff
	DepthCacheTTL time.Duration
}

type SamplingConfig struct {
	// Number of samples in random mode, and of iterations in sequential mode.
	Samples     int `validate:"gte=1"`
	MaxAttempts int `validate:"gte=0"`
	// CEL expression every sample must satisfy. Empty accepts everything.
	Predicate        string
	PredicateContext map[string]interface{}
}

type CmaesConfig struct {
	// Empty for the optimiser's default, "auto_10x" for ten per parameter, or an integer.
	PopulationSize    string
	Sigma0            float64 `validate:"gt=0"`
	Sentinel          float64
	UseBounds         bool
	UseAutoScaling    bool
	TolX              float64 `validate:"gte=0"`
	TolFun            float64 `validate:"gte=0"`
	MaxIterations     int     `validate:"gte=0"`
	MaxRepairAttempts int     `validate:"gte=0"`
	Seed              int64
}

// ConfirmConfig controls the confirmation job submitted for every new best result.
type ConfirmConfig struct {
	Enabled  bool
	Walltime time.Duration
	Label    string
	// Added to the command's options for confirmation jobs only.
	Options map[string]string
}

type MetricsConfig struct {
	// Zero disables the metrics endpoint.
	Port uint16
}
