package gateway

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
	"github.com/G-Research/paramsweep/internal/sweep/job"
)

const (
	ScriptPrefix  = "script."
	SubmitAllFile = "submit_all.sh"
)

type ClusterConfig struct {
	SubmitCommand string
	User          string
	Memory        string
	Walltime      time.Duration
	Partition     string
	Account       string
	Qos           string
	SetEnv        bool
	EnvKeys       []string
	// Attempts made to run the submit command before a job is given up on.
	SubmitAttempts   uint
	SubmitRetryDelay time.Duration
	WorkingDir       string
	ScriptsDir       string
	OutputDir        string
	// Write scripts and the submit log, but never run the submit command.
	DryRun bool
}

// Cluster submits jobs to PBS or Slurm by writing a wrapper script per job and running qsub or sbatch on it.
// With the "sh" submit command jobs run synchronously on the local machine instead.
type Cluster struct {
	config    ClusterConfig
	runner    CommandRunner
	artifacts *Artifacts
	lookupEnv func(string) (string, bool)
	// Guards the submit log.
	mu sync.Mutex
}

func NewCluster(config ClusterConfig, runner CommandRunner, artifacts *Artifacts) (*Cluster, error) {
	switch config.SubmitCommand {
	case SubmitPBS, SubmitSlurm, SubmitLocal:
	default:
		return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{
			Name:    "SubmitCommand",
			Value:   config.SubmitCommand,
			Message: fmt.Sprintf("must be one of %s, %s or %s", SubmitPBS, SubmitSlurm, SubmitLocal),
		})
	}
	if config.SubmitAttempts == 0 {
		config.SubmitAttempts = 1
	}
	for _, dir := range []string{config.ScriptsDir, config.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return &Cluster{
		config:    config,
		runner:    runner,
		artifacts: artifacts,
		lookupEnv: os.LookupEnv,
	}, nil
}

func (c *Cluster) Submit(ctx *sweepcontext.Context, d *job.Descriptor) (job.Handle, error) {
	handle := job.Handle{
		Identity: d.Identity,
		Script:   filepath.Join(c.config.ScriptsDir, ScriptPrefix+d.Identity),
	}

	script, err := RenderScript(ScriptOptions{
		SubmitCommand: c.config.SubmitCommand,
		Label:         d.Label,
		Memory:        c.config.Memory,
		Walltime:      c.config.Walltime,
		Partition:     c.config.Partition,
		Account:       c.config.Account,
		Qos:           c.config.Qos,
		Env:           c.env(),
		Filename:      handle.Script,
		WorkingDir:    c.config.WorkingDir,
		Command:       d.Command,
	})
	if err != nil {
		return handle, err
	}
	if err := os.WriteFile(handle.Script, []byte(script), 0o755); err != nil {
		return handle, errors.WithStack(&sweeperrors.ErrTransient{Operation: "write job script", Err: err})
	}
	if err := c.appendSubmitLog(handle.Script, d.Command); err != nil {
		ctx.Log.WithError(err).Warn("failed to append to submit log")
	}
	if c.config.DryRun {
		ctx.Log.WithField("script", handle.Script).Info("dry run: not submitting")
		return handle, nil
	}

	var rejected error
	err = retry.Do(
		func() error {
			out, err := c.runner.Run(ctx, c.config.OutputDir, c.config.SubmitCommand, handle.Script)
			if err != nil {
				var exitErr *ExitError
				if errors.As(err, &exitErr) {
					rejected = errors.WithStack(&sweeperrors.ErrSubmissionRejected{
						JobId:   d.Identity,
						Output:  strings.TrimSpace(string(exitErr.Output)),
						Message: exitErr.Error(),
					})
					return rejected
				}
				return err
			}
			if c.config.SubmitCommand != SubmitLocal {
				handle.SchedulerId = strings.TrimSpace(string(out))
			}
			return nil
		},
		retry.Attempts(c.config.SubmitAttempts),
		retry.Delay(c.config.SubmitRetryDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool { return !sweeperrors.IsRejected(err) }),
		retry.OnRetry(func(n uint, err error) {
			ctx.Log.WithError(err).Warnf("submission of %s failed on attempt %d", d.Identity, n+1)
		}),
	)
	if rejected != nil {
		return handle, rejected
	}
	if err != nil {
		return handle, errors.WithStack(&sweeperrors.ErrTransient{Operation: "submit " + d.Identity, Err: err})
	}
	return handle, nil
}

func (c *Cluster) QueueDepth(ctx *sweepcontext.Context, label string) (int, error) {
	var out []byte
	var err error
	switch c.config.SubmitCommand {
	case SubmitLocal:
		return 0, nil
	case SubmitPBS:
		out, err = c.runner.Run(ctx, c.config.OutputDir, "qstat", "-u", c.config.User)
		if len(label) > pbsJobNameWidth {
			label = label[:pbsJobNameWidth]
		}
	case SubmitSlurm:
		out, err = c.runner.Run(ctx, c.config.OutputDir, "squeue", "-h", "-u", c.config.User, "-o", "%i %j %u %P")
	}
	if err != nil {
		return 0, errors.WithStack(&sweeperrors.ErrTransient{Operation: "queue depth", Err: err})
	}
	return countQueued(string(out), c.config.User, label, c.config.Partition), nil
}

// countQueued counts queue listing lines mentioning the user and job name, and the partition if one is given.
func countQueued(listing string, user string, label string, partition string) int {
	count := 0
	scanner := bufio.NewScanner(strings.NewReader(listing))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if contains(fields, user) && contains(fields, label) && (partition == "" || contains(fields, partition)) {
			count++
		}
	}
	return count
}

func contains(fields []string, s string) bool {
	for _, f := range fields {
		if f == s {
			return true
		}
	}
	return false
}

func (c *Cluster) IsComplete(_ *sweepcontext.Context, handle job.Handle) (bool, error) {
	return c.artifacts.Exists(handle.Identity)
}

func (c *Cluster) FetchResult(_ *sweepcontext.Context, handle job.Handle) (float64, error) {
	return c.artifacts.Read(handle.Identity)
}

func (c *Cluster) env() [][2]string {
	if !c.config.SetEnv {
		return nil
	}
	var rv [][2]string
	for _, key := range c.config.EnvKeys {
		if v, ok := c.lookupEnv(key); ok {
			rv = append(rv, [2]string{key, v})
		}
	}
	return rv
}

func (c *Cluster) appendSubmitLog(script string, command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	path := filepath.Join(c.config.ScriptsDir, SubmitAllFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o755)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s %s # %s\n", c.config.SubmitCommand, script, command); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
