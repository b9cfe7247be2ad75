package gateway

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
	"github.com/G-Research/paramsweep/internal/sweep/job"
	"github.com/G-Research/paramsweep/internal/sweep/params"
)

type runnerCall struct {
	dir  string
	name string
	args []string
}

type stubRunner struct {
	mu      sync.Mutex
	calls   []runnerCall
	respond func(name string, args []string) ([]byte, error)
}

func (r *stubRunner) Run(_ context.Context, dir string, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, runnerCall{dir: dir, name: name, args: args})
	r.mu.Unlock()
	if r.respond == nil {
		return nil, nil
	}
	return r.respond(name, args)
}

func testDescriptor() *job.Descriptor {
	template := job.CommandTemplate{Command: "python launcher.py", IdentityFlag: "job_name"}
	p := params.NewParameterSet(map[string]params.Value{"x": params.FloatValue(0.5)})
	return job.NewDescriptor("sweep", template, p)
}

func testCluster(t *testing.T, submitCommand string, runner CommandRunner, modify func(*ClusterConfig)) (*Cluster, ClusterConfig) {
	dir := t.TempDir()
	config := ClusterConfig{
		SubmitCommand:  submitCommand,
		User:           "alice",
		Memory:         "2gb",
		Walltime:       time.Hour,
		SubmitAttempts: 3,
		WorkingDir:     dir,
		ScriptsDir:     filepath.Join(dir, "scripts"),
		OutputDir:      filepath.Join(dir, "output"),
	}
	if modify != nil {
		modify(&config)
	}
	artifacts, err := NewArtifacts(config.OutputDir, 16)
	require.NoError(t, err)
	cluster, err := NewCluster(config, runner, artifacts)
	require.NoError(t, err)
	return cluster, config
}

func TestAutoQos(t *testing.T) {
	tests := map[string]struct {
		walltime time.Duration
		expected string
	}{
		"one hour":       {walltime: time.Hour, expected: "short"},
		"just over hour": {walltime: time.Hour + time.Second, expected: "normal"},
		"one day":        {walltime: 24 * time.Hour, expected: "normal"},
		"two days":       {walltime: 48 * time.Hour, expected: "medium"},
		"four days":      {walltime: 96 * time.Hour, expected: "long"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, AutoQos(tc.walltime))
		})
	}
}

func TestRenderScript_Pbs(t *testing.T) {
	script, err := RenderScript(ScriptOptions{
		SubmitCommand: SubmitPBS,
		Label:         "sweep",
		Memory:        "4gb",
		Walltime:      90 * time.Minute,
		Filename:      "/scripts/script.abc",
		WorkingDir:    "/work",
		Command:       "python launcher.py --x 1",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(script, "#!/bin/bash\n#PBS -l mem=4gb\n#PBS -l pmem=4gb\n#PBS -l walltime=1:30:00\n"))
	assert.Contains(t, script, "#PBS -N sweep\nexport OMP_NUM_THREADS=1\n")
	assert.Contains(t, script, "cd /work\n")
	assert.Contains(t, script, "nice -n 15 python launcher.py --x 1\n")
	assert.NotContains(t, script, "#SBATCH")
}

func TestRenderScript_Slurm(t *testing.T) {
	script, err := RenderScript(ScriptOptions{
		SubmitCommand: SubmitSlurm,
		Label:         "sweep",
		Memory:        "4gb",
		Walltime:      30 * time.Hour,
		Partition:     "compute",
		Account:       "proj",
		Qos:           "auto",
		Env:           [][2]string{{"PYTHONPATH", "/lib"}},
		Command:       "run",
	})
	require.NoError(t, err)
	assert.Contains(t, script, "#SBATCH -n1 --time=30:00:00 --mem-per-cpu=4gb\n")
	assert.Contains(t, script, "#SBATCH -J sweep\n")
	assert.Contains(t, script, "#SBATCH -p compute\n")
	assert.Contains(t, script, "#SBATCH -A proj\n")
	assert.Contains(t, script, "#SBATCH --qos=medium\n")
	assert.Contains(t, script, "export PYTHONPATH=\"/lib\"\n")
}

func TestRenderScript_Local(t *testing.T) {
	script, err := RenderScript(ScriptOptions{SubmitCommand: SubmitLocal, Command: "run"})
	require.NoError(t, err)
	assert.NotContains(t, script, "#PBS")
	assert.NotContains(t, script, "#SBATCH")
	assert.Contains(t, script, "nice -n 15 run\n")
}

func TestRenderScript_UnknownScheduler(t *testing.T) {
	_, err := RenderScript(ScriptOptions{SubmitCommand: "bsub"})
	assert.Error(t, err)
}

func TestNewCluster_InvalidSubmitCommand(t *testing.T) {
	_, err := NewCluster(ClusterConfig{SubmitCommand: "bsub"}, &stubRunner{}, nil)
	var invalid *sweeperrors.ErrInvalidArgument
	assert.ErrorAs(t, err, &invalid)
}

func TestCluster_Submit(t *testing.T) {
	runner := &stubRunner{respond: func(string, []string) ([]byte, error) {
		return []byte("12345.pbs\n"), nil
	}}
	cluster, config := testCluster(t, SubmitPBS, runner, nil)
	d := testDescriptor()

	handle, err := cluster.Submit(sweepcontext.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, d.Identity, handle.Identity)
	assert.Equal(t, "12345.pbs", handle.SchedulerId)
	assert.Equal(t, filepath.Join(config.ScriptsDir, "script."+d.Identity), handle.Script)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "qsub", runner.calls[0].name)
	assert.Equal(t, []string{handle.Script}, runner.calls[0].args)
	assert.Equal(t, config.OutputDir, runner.calls[0].dir)

	script, err := os.ReadFile(handle.Script)
	require.NoError(t, err)
	assert.Contains(t, string(script), d.Command)

	log, err := os.ReadFile(filepath.Join(config.ScriptsDir, SubmitAllFile))
	require.NoError(t, err)
	assert.Equal(t, "qsub "+handle.Script+" # "+d.Command+"\n", string(log))
}

func TestCluster_Submit_AppendsToSubmitLog(t *testing.T) {
	cluster, config := testCluster(t, SubmitSlurm, &stubRunner{}, nil)
	_, err := cluster.Submit(sweepcontext.Background(), testDescriptor())
	require.NoError(t, err)
	_, err = cluster.Submit(sweepcontext.Background(), testDescriptor())
	require.NoError(t, err)

	log, err := os.ReadFile(filepath.Join(config.ScriptsDir, SubmitAllFile))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(log), "\n"))
}

func TestCluster_Submit_DryRun(t *testing.T) {
	runner := &stubRunner{}
	cluster, _ := testCluster(t, SubmitSlurm, runner, func(c *ClusterConfig) { c.DryRun = true })

	handle, err := cluster.Submit(sweepcontext.Background(), testDescriptor())
	require.NoError(t, err)
	assert.Empty(t, runner.calls)
	assert.FileExists(t, handle.Script)
}

func TestCluster_Submit_RejectedIsNotRetried(t *testing.T) {
	runner := &stubRunner{respond: func(name string, _ []string) ([]byte, error) {
		return nil, &ExitError{Name: name, Code: 1, Output: []byte("qsub: Illegal attribute")}
	}}
	cluster, _ := testCluster(t, SubmitPBS, runner, nil)

	_, err := cluster.Submit(sweepcontext.Background(), testDescriptor())
	require.Error(t, err)
	assert.True(t, sweeperrors.IsRejected(err))
	assert.Len(t, runner.calls, 1)
}

func TestCluster_Submit_TransientIsRetried(t *testing.T) {
	attempts := 0
	runner := &stubRunner{respond: func(string, []string) ([]byte, error) {
		attempts++
		if attempts < 3 {
			return nil, os.ErrDeadlineExceeded
		}
		return []byte("42"), nil
	}}
	cluster, _ := testCluster(t, SubmitSlurm, runner, nil)

	handle, err := cluster.Submit(sweepcontext.Background(), testDescriptor())
	require.NoError(t, err)
	assert.Equal(t, "42", handle.SchedulerId)
	assert.Len(t, runner.calls, 3)
}

func TestCluster_Submit_TransientExhausted(t *testing.T) {
	runner := &stubRunner{respond: func(string, []string) ([]byte, error) {
		return nil, os.ErrDeadlineExceeded
	}}
	cluster, _ := testCluster(t, SubmitSlurm, runner, nil)

	_, err := cluster.Submit(sweepcontext.Background(), testDescriptor())
	require.Error(t, err)
	assert.True(t, sweeperrors.IsTransient(err))
	assert.False(t, sweeperrors.IsRejected(err))
	assert.Len(t, runner.calls, 3)
}

func TestCluster_QueueDepth_Pbs(t *testing.T) {
	listing := `
Job ID          Username Queue    Jobname          SessID NDS TSK Memory Time  S Time
--------------- -------- -------- ---------------- ------ --- --- ------ ----- - -----
1.server        alice    workq    a_very_long_labe    --    1   1    2gb 01:00 Q   --
2.server        alice    workq    a_very_long_labe    --    1   1    2gb 01:00 R 00:01
3.server        bob      workq    a_very_long_labe    --    1   1    2gb 01:00 Q   --
4.server        alice    workq    other               --    1   1    2gb 01:00 Q   --
`
	runner := &stubRunner{respond: func(string, []string) ([]byte, error) { return []byte(listing), nil }}
	cluster, _ := testCluster(t, SubmitPBS, runner, nil)

	depth, err := cluster.QueueDepth(sweepcontext.Background(), "a_very_long_label_indeed")
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
	assert.Equal(t, "qstat", runner.calls[0].name)
	assert.Equal(t, []string{"-u", "alice"}, runner.calls[0].args)
}

func TestCluster_QueueDepth_SlurmPartition(t *testing.T) {
	listing := "1 sweep alice compute\n2 sweep alice gpu\n3 sweep alice compute\n4 other alice compute\n"
	runner := &stubRunner{respond: func(string, []string) ([]byte, error) { return []byte(listing), nil }}
	cluster, _ := testCluster(t, SubmitSlurm, runner, func(c *ClusterConfig) { c.Partition = "compute" })

	depth, err := cluster.QueueDepth(sweepcontext.Background(), "sweep")
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
	assert.Equal(t, "squeue", runner.calls[0].name)
}

func TestCluster_QueueDepth_Local(t *testing.T) {
	runner := &stubRunner{}
	cluster, _ := testCluster(t, SubmitLocal, runner, nil)

	depth, err := cluster.QueueDepth(sweepcontext.Background(), "sweep")
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
	assert.Empty(t, runner.calls)
}

func TestCluster_QueueDepth_Error(t *testing.T) {
	runner := &stubRunner{respond: func(string, []string) ([]byte, error) { return nil, os.ErrDeadlineExceeded }}
	cluster, _ := testCluster(t, SubmitSlurm, runner, nil)

	_, err := cluster.QueueDepth(sweepcontext.Background(), "sweep")
	assert.True(t, sweeperrors.IsTransient(err))
}

func TestCluster_EnvExport(t *testing.T) {
	cluster, _ := testCluster(t, SubmitSlurm, &stubRunner{}, func(c *ClusterConfig) {
		c.SetEnv = true
		c.EnvKeys = []string{"PATH", "MISSING", "PYTHONPATH"}
	})
	cluster.lookupEnv = func(key string) (string, bool) {
		switch key {
		case "PATH":
			return "/bin", true
		case "PYTHONPATH":
			return "/lib", true
		}
		return "", false
	}
	assert.Equal(t, [][2]string{{"PATH", "/bin"}, {"PYTHONPATH", "/lib"}}, cluster.env())
}

func TestCluster_IsCompleteAndFetchResult(t *testing.T) {
	cluster, config := testCluster(t, SubmitSlurm, &stubRunner{}, nil)
	handle := job.Handle{Identity: "abc"}

	complete, err := cluster.IsComplete(sweepcontext.Background(), handle)
	require.NoError(t, err)
	assert.False(t, complete)

	require.NoError(t, os.WriteFile(filepath.Join(config.OutputDir, "result_sync_abc"), []byte("1.5 extra\n2\n"), 0o644))

	complete, err = cluster.IsComplete(sweepcontext.Background(), handle)
	require.NoError(t, err)
	assert.True(t, complete)

	v, err := cluster.FetchResult(sweepcontext.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
}

func TestArtifacts(t *testing.T) {
	dir := t.TempDir()
	artifacts, err := NewArtifacts(dir, 4)
	require.NoError(t, err)

	_, err = artifacts.Read("missing")
	var notFound *sweeperrors.ErrNotFound
	assert.ErrorAs(t, err, &notFound)

	require.NoError(t, artifacts.Write("abc", 2.25))
	v, err := artifacts.Read("abc")
	require.NoError(t, err)
	assert.Equal(t, 2.25, v)

	// Served from the cache once read.
	require.NoError(t, os.Remove(artifacts.Path("abc")))
	v, err = artifacts.Read("abc")
	require.NoError(t, err)
	assert.Equal(t, 2.25, v)
}

func TestReadArtifact(t *testing.T) {
	tests := map[string]struct {
		contents string
		expected float64
		isNaN    bool
		invalid  bool
	}{
		"plain":       {contents: "3.5\n", expected: 3.5},
		"extra lines": {contents: "-1\nlog output\n", expected: -1},
		"nan":         {contents: "nan\n", isNaN: true},
		"empty":       {contents: "", invalid: true},
		"blank":       {contents: "   \n1\n", invalid: true},
		"garbage":     {contents: "done\n", invalid: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "result_sync_x")
			require.NoError(t, os.WriteFile(path, []byte(tc.contents), 0o644))
			v, err := ReadArtifact(path)
			if tc.invalid {
				var invalid *sweeperrors.ErrInvalidArgument
				assert.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)
			if tc.isNaN {
				assert.True(t, math.IsNaN(v))
				return
			}
			assert.Equal(t, tc.expected, v)
		})
	}
}

func TestIdentityFromPath(t *testing.T) {
	identity, ok := IdentityFromPath("/out/result_sync_abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", identity)

	_, ok = IdentityFromPath("/out/result_sync_abc.tmp")
	assert.False(t, ok)
	_, ok = IdentityFromPath("/out/script.abc")
	assert.False(t, ok)
}

func TestFake(t *testing.T) {
	fake := NewFake()
	fake.Evaluate = func(p params.ParameterSet) float64 {
		v, _ := p.Get("x")
		return v.Float64() * 2
	}
	fake.Hang = func(_ *job.Descriptor, submission int) bool { return submission == 1 }
	d := testDescriptor()
	ctx := sweepcontext.Background()

	handle, err := fake.Submit(ctx, d)
	require.NoError(t, err)
	complete, err := fake.IsComplete(ctx, handle)
	require.NoError(t, err)
	assert.False(t, complete)
	depth, err := fake.QueueDepth(ctx, "sweep")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	_, err = fake.Submit(ctx, d)
	require.NoError(t, err)
	complete, err = fake.IsComplete(ctx, handle)
	require.NoError(t, err)
	assert.True(t, complete)
	v, err := fake.FetchResult(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
	assert.Equal(t, 2, fake.Submissions(d.Identity))
	assert.Equal(t, []string{d.Identity, d.Identity}, fake.Submitted())
}
