package loop

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	"k8s.io/utils/clock"

	"github.com/G-Research/paramsweep/internal/common/logging"
	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/sweep/job"
	"github.com/G-Research/paramsweep/internal/sweep/metrics"
	"github.com/G-Research/paramsweep/internal/sweep/params"
	"github.com/G-Research/paramsweep/internal/sweep/tracker"
)

// Confirmer re-runs the best parameters found so far, typically with a longer walltime.
type Confirmer interface {
	Confirm(ctx *sweepcontext.Context, parameters params.ParameterSet) error
}

// BestResultCallback keeps track of the best result as jobs complete. On every improvement it publishes the new best
// fitness, writes a report and optionally asks for the parameters to be confirmed.
type BestResultCallback struct {
	Label string
	// Report file; empty disables it.
	ReportPath string
	Confirmer  Confirmer
	Metrics    *metrics.Metrics
	Clock      clock.PassiveClock
}

func (b *BestResultCallback) OnCompletion(ctx *sweepcontext.Context, d *job.Descriptor, state tracker.CompletionState) (tracker.CompletionState, error) {
	best, improved := state.Best.Update(d)
	if !improved {
		return state, nil
	}
	state.Best = best
	ctx.Log.Infof("new best fitness %g from job %s: %s", best.Fitness, best.Identity, best.Parameters)
	b.Metrics.SetBestFitness(b.Label, best.Fitness)

	if b.ReportPath != "" {
		report := NewBestReport(b.Label, best, d.Command, b.now())
		if err := WriteBestReport(b.ReportPath, report); err != nil {
			logging.WithStacktrace(ctx.Log, err).Warnf("failed to write %s", b.ReportPath)
		}
	}
	if b.Confirmer != nil {
		if err := b.Confirmer.Confirm(ctx, best.Parameters); err != nil {
			logging.WithStacktrace(ctx.Log, err).Warn("failed to submit confirmation job for best parameters")
		}
	}
	return state, nil
}

func (b *BestResultCallback) now() time.Time {
	if b.Clock == nil {
		return time.Now()
	}
	return b.Clock.Now()
}

// BestReport is the on-disk record of the best result of a sweep.
type BestReport struct {
	Label      string                 `yaml:"label"`
	Identity   string                 `yaml:"identity"`
	Fitness    float64                `yaml:"fitness"`
	Parameters map[string]interface{} `yaml:"parameters"`
	Command    string                 `yaml:"command,omitempty"`
	UpdatedAt  time.Time              `yaml:"updatedAt"`
}

func NewBestReport(label string, best job.BestResult, command string, now time.Time) *BestReport {
	return &BestReport{
		Label:      label,
		Identity:   best.Identity,
		Fitness:    best.Fitness,
		Parameters: best.Parameters.Natives(),
		Command:    command,
		UpdatedAt:  now.UTC(),
	}
}

func WriteBestReport(path string, report *BestReport) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WithStack(err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(tmp, path))
}

func ReadBestReport(path string) (*BestReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var report BestReport
	if err := yaml.Unmarshal(data, &report); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return &report, nil
}
