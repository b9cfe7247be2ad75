package sweep

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/mattn/go-zglob"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/G-Research/paramsweep/internal/common"
	"github.com/G-Research/paramsweep/internal/common/logging"
	"github.com/G-Research/paramsweep/internal/common/optimisation/cmaes"
	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
	"github.com/G-Research/paramsweep/internal/common/util"
	"github.com/G-Research/paramsweep/internal/sweep/configuration"
	"github.com/G-Research/paramsweep/internal/sweep/gateway"
	"github.com/G-Research/paramsweep/internal/sweep/job"
	"github.com/G-Research/paramsweep/internal/sweep/ledger"
	"github.com/G-Research/paramsweep/internal/sweep/loop"
	"github.com/G-Research/paramsweep/internal/sweep/metrics"
	"github.com/G-Research/paramsweep/internal/sweep/params"
	"github.com/G-Research/paramsweep/internal/sweep/throttle"
	"github.com/G-Research/paramsweep/internal/sweep/tracker"
)

// App runs sweeps described by a SweepConfiguration.
type App struct {
	Config configuration.SweepConfiguration
	Out    io.Writer
	Clock  clock.Clock
	Rand   *rand.Rand
	// Registry for the sweep's metrics.
	Registerer prometheus.Registerer
	// Builds the gateway for a cluster config. Defaults to a Cluster running the real submit commands.
	NewGateway func(config gateway.ClusterConfig) (gateway.Gateway, error)
}

func New(config configuration.SweepConfiguration) *App {
	return &App{
		Config:     config,
		Out:        os.Stdout,
		Clock:      clock.RealClock{},
		Rand:       util.NewSeededRand(config.Cmaes.Seed),
		Registerer: prometheus.DefaultRegisterer,
	}
}

// session holds everything a single run needs.
type session struct {
	ledger  ledger.Ledger
	metrics *metrics.Metrics
	gateway gateway.Gateway
	tracker *tracker.JobTracker
	sampler *params.Sampler
}

func (a *App) newSession(ctx *sweepcontext.Context) (*session, func(), error) {
	c := a.Config
	space, err := c.Space()
	if err != nil {
		return nil, nil, err
	}
	predicate, err := c.Predicate(space)
	if err != nil {
		return nil, nil, err
	}

	l, err := ledger.Open(c.Ledger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := l.Close(); err != nil {
			logging.WithStacktrace(ctx.Log, err).Warn("ledger didn't close cleanly")
		}
	}

	m := metrics.New()
	if err := a.Registerer.Register(m); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if !errors.As(err, &alreadyRegistered) {
			cleanup()
			return nil, nil, errors.WithStack(err)
		}
		m = alreadyRegistered.ExistingCollector.(*metrics.Metrics)
	}

	g, err := a.gateway(c.ClusterConfig())
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	admitter := throttle.New(g, c.ThrottleConfig(), a.Clock, a.Rand, m)
	t := tracker.New(g, admitter, l, c.TrackerConfig(), a.Clock, a.Rand, m)

	best := &loop.BestResultCallback{
		Label:      c.RunLabel,
		ReportPath: c.BestReportPath(),
		Metrics:    m,
		Clock:      a.Clock,
	}
	if c.Confirm.Enabled {
		confirmGateway, err := a.gateway(c.ConfirmClusterConfig())
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		confirmAdmitter := throttle.New(confirmGateway, c.ThrottleConfig(), a.Clock, a.Rand, m)
		confirmer := loop.NewGatewayConfirmer(confirmGateway, confirmAdmitter, c.ConfirmTemplate(), c.ConfirmLabel())
		best.Confirmer = confirmer
		t.OnCompletion(best)
		t.OnCompletion(confirmer)
	} else {
		t.OnCompletion(best)
	}

	s := &session{
		ledger:  l,
		metrics: m,
		gateway: g,
		tracker: t,
		sampler: params.NewSampler(space, predicate, c.Sampling.PredicateContext, a.Rand, c.Sampling.MaxAttempts),
	}
	return s, cleanup, nil
}

func (a *App) gateway(config gateway.ClusterConfig) (gateway.Gateway, error) {
	if a.NewGateway != nil {
		return a.NewGateway(config)
	}
	artifacts, err := gateway.NewArtifacts(config.OutputDir, a.Config.Gateway.ResultCacheSize)
	if err != nil {
		return nil, err
	}
	return gateway.NewCluster(config, gateway.ExecRunner{}, artifacts)
}

// run runs fn in an errgroup alongside the metrics endpoint, which is shut down once fn returns.
func (a *App) run(ctx *sweepcontext.Context, fn func(ctx *sweepcontext.Context, s *session) error) error {
	ctx = sweepcontext.WithRun(ctx, util.NewRunId(a.Clock.Now()), a.Config.RunLabel)
	s, cleanup, err := a.newSession(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := sweepcontext.WithCancel(ctx)
	defer cancel()
	g, ctx := sweepcontext.ErrGroup(ctx)
	if port := a.Config.Metrics.Port; port > 0 {
		shutdown := common.ServeMetrics(port)
		g.Go(func() error {
			<-ctx.Done()
			shutdown()
			return nil
		})
	}
	g.Go(func() error {
		defer cancel()
		return fn(ctx, s)
	})
	return g.Wait()
}

// Grid submits a job for every combination of the declared parameter values.
func (a *App) Grid(ctx *sweepcontext.Context, wait bool) error {
	if wait {
		if err := a.checkNotDryRun("grid --wait"); err != nil {
			return err
		}
	}
	return a.run(ctx, func(ctx *sweepcontext.Context, s *session) error {
		parameters, err := s.sampler.Grid(ctx)
		if err != nil {
			return err
		}
		return a.submitAll(ctx, s, parameters, wait)
	})
}

// Random submits Sampling.Samples jobs with randomly drawn parameters.
func (a *App) Random(ctx *sweepcontext.Context, wait bool) error {
	if wait {
		if err := a.checkNotDryRun("random --wait"); err != nil {
			return err
		}
	}
	return a.run(ctx, func(ctx *sweepcontext.Context, s *session) error {
		parameters, err := s.sampler.Random(ctx, a.Config.Sampling.Samples)
		if err != nil {
			return err
		}
		return a.submitAll(ctx, s, parameters, wait)
	})
}

// Nothing is submitted in a dry run, so modes that wait for results would only ever time out.
func (a *App) checkNotDryRun(mode string) error {
	if !a.Config.DryRun {
		return nil
	}
	return errors.WithStack(&sweeperrors.ErrInvalidArgument{
		Name:    "dryRun",
		Value:   true,
		Message: mode + " waits for results and cannot run dry",
	})
}

func (a *App) submitAll(ctx *sweepcontext.Context, s *session, parameters []params.ParameterSet, wait bool) error {
	jobs, err := loop.SubmitAll(ctx, s.tracker, a.Config.CommandTemplate(), a.Config.RunLabel, parameters, wait)
	if err != nil {
		return err
	}
	if wait {
		a.report(s.tracker.State().Best, countStatuses(jobs))
	} else {
		fmt.Fprintf(a.Out, "Submitted %d jobs for %s\n", len(jobs), a.Config.RunLabel)
	}
	return nil
}

// Sequential evaluates Sampling.Samples random samples, one job at a time.
func (a *App) Sequential(ctx *sweepcontext.Context) error {
	if err := a.checkNotDryRun("sequential"); err != nil {
		return err
	}
	return a.run(ctx, func(ctx *sweepcontext.Context, s *session) error {
		best, err := loop.NewSequential(s.sampler, s.tracker, a.Config.CommandTemplate(), a.Config.RunLabel, a.Config.Sampling.Samples).Run(ctx)
		a.report(best, nil)
		return err
	})
}

// Cmaes optimises the parameters with CMA-ES, one generation of jobs at a time.
func (a *App) Cmaes(ctx *sweepcontext.Context) error {
	if err := a.checkNotDryRun("cmaes"); err != nil {
		return err
	}
	return a.run(ctx, func(ctx *sweepcontext.Context, s *session) error {
		codec, err := loop.NewCodec(s.sampler.Space())
		if err != nil {
			return err
		}
		options, err := a.Config.CmaesOptions(codec)
		if err != nil {
			return err
		}
		optimizer, err := cmaes.New(options)
		if err != nil {
			return err
		}
		ctx.Log.Infof("optimising %v with population %d", codec.Names(), optimizer.PopulationSize())

		l := loop.NewOptimizationLoop(optimizer, codec, s.tracker, a.Config.CommandTemplate(), a.Config.LoopOptions(), s.metrics)
		best, err := l.Run(ctx)
		if reason := optimizer.StopReason(); reason != "" {
			ctx.Log.Infof("optimiser stopped: %s", reason)
		}
		a.report(best, nil)
		return err
	})
}

func (a *App) report(best job.BestResult, counts map[job.Status]int) {
	w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
	defer w.Flush()
	for _, status := range []job.Status{job.Completed, job.Failed, job.Submitted, job.Pending} {
		if n := counts[status]; n > 0 {
			fmt.Fprintf(w, "%s:\t%d\n", status, n)
		}
	}
	if !best.Found() {
		fmt.Fprintf(w, "Best:\tnone\n")
		return
	}
	fmt.Fprintf(w, "Best fitness:\t%g\n", best.Fitness)
	fmt.Fprintf(w, "Best parameters:\t%s\n", best.Parameters)
	fmt.Fprintf(w, "Best job:\t%s\n", best.Identity)
}

func countStatuses(jobs []*job.Descriptor) map[job.Status]int {
	counts := map[job.Status]int{}
	for _, d := range jobs {
		counts[d.Status]++
	}
	return counts
}

// Reload imports every result artifact under OutputDir into the ledger, so later runs skip those jobs.
// It returns the number of results imported.
func (a *App) Reload(ctx *sweepcontext.Context) (int, error) {
	l, err := ledger.Open(a.Config.Ledger)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := l.Close(); err != nil {
			logging.WithStacktrace(ctx.Log, err).Warn("ledger didn't close cleanly")
		}
	}()

	if _, err := os.Stat(a.Config.OutputDir); os.IsNotExist(err) {
		return 0, nil
	}
	paths, err := zglob.Glob(filepath.Join(a.Config.OutputDir, "**", gateway.ArtifactPrefix+"*"))
	if err != nil {
		return 0, errors.WithStack(err)
	}
	slices.Sort(paths)

	imported := 0
	for _, path := range paths {
		identity, ok := gateway.IdentityFromPath(path)
		if !ok {
			continue
		}
		result, err := gateway.ReadArtifact(path)
		if err != nil {
			logging.WithStacktrace(ctx.Log, err).Warnf("skipping %s", path)
			continue
		}
		entry, found, err := l.Lookup(ctx, identity)
		if err != nil {
			return imported, err
		}
		if !found {
			entry = &ledger.Entry{Identity: identity, Label: a.Config.RunLabel}
		}
		entry.Status = job.Completed
		entry.Result = &result
		entry.UpdatedAt = a.Clock.Now()
		if err := l.Record(ctx, entry); err != nil {
			return imported, err
		}
		imported++
	}
	ctx.Log.Infof("imported %d results from %s", imported, a.Config.OutputDir)
	return imported, nil
}

// Status prints a summary of the jobs recorded in the ledger for the run label, and the best result among them.
func (a *App) Status(ctx *sweepcontext.Context) error {
	l, err := ledger.Open(a.Config.Ledger)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Close(); err != nil {
			logging.WithStacktrace(ctx.Log, err).Warn("ledger didn't close cleanly")
		}
	}()

	entries, err := l.List(ctx, a.Config.RunLabel)
	if err != nil {
		return err
	}
	counts := map[job.Status]int{}
	var best *ledger.Entry
	for _, entry := range entries {
		counts[entry.Status]++
		if entry.HasResult() && !math.IsNaN(*entry.Result) && (best == nil || *entry.Result < *best.Result) {
			best = entry
		}
	}

	w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "Label:\t%s\n", a.Config.RunLabel)
	fmt.Fprintf(w, "Jobs:\t%d\n", len(entries))
	for _, status := range []job.Status{job.Completed, job.Failed, job.Submitted, job.Pending} {
		fmt.Fprintf(w, "%s:\t%d\n", status, counts[status])
	}
	if best != nil {
		fmt.Fprintf(w, "Best fitness:\t%g\n", *best.Result)
		fmt.Fprintf(w, "Best job:\t%s\n", best.Identity)
		if len(best.Parameters) > 0 {
			fmt.Fprintf(w, "Best parameters:\t%s\n", formatParameters(best.Parameters))
		}
	}
	if path := a.Config.BestReportPath(); path != "" {
		if report, err := loop.ReadBestReport(path); err == nil {
			fmt.Fprintf(w, "Reported best:\t%g (%s, %s)\n", report.Fitness, report.Identity, report.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}

func formatParameters(parameters map[string]string) string {
	names := maps.Keys(parameters)
	slices.Sort(names)
	s := ""
	for i, name := range names {
		if i > 0 {
			s += " "
		}
		s += name + "=" + parameters[name]
	}
	return s
}
