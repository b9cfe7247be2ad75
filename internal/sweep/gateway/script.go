package gateway

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/config"
)

const (
	SubmitPBS   = "qsub"
	SubmitSlurm = "sbatch"
	SubmitLocal = "sh"

	// Job names longer than this are truncated by qstat.
	pbsJobNameWidth = 16
)

var scriptTemplate = template.Must(template.New("script").Parse(`#!/bin/bash
{{- range .Directives }}
{{ . }}
{{- end }}
{{- range .Exports }}
export {{ . }}
{{- end }}

hostn=$(hostname)
echo "Job execution host: $hostn"
echo "Filename: {{ .Filename }}"
cd {{ .WorkingDir }}
T="$(date +%s)"
nice -n 15 {{ .Command }}
echo "+++ Job completed +++"
T="$(($(date +%s)-T))"
printf "Elapsed time: %02d:%02d:%02d\n" "$((T/3600))" "$((T/60%60))" "$((T%60))"
`))

// ScriptOptions is everything that goes into a job wrapper script.
type ScriptOptions struct {
	SubmitCommand string
	Label         string
	Memory        string
	Walltime      time.Duration
	Partition     string
	Account       string
	Qos           string
	// Exported in the script in order, as KEY="value".
	Env        [][2]string
	Filename   string
	WorkingDir string
	Command    string
}

// AutoQos picks the Slurm QoS class matching walltime.
func AutoQos(walltime time.Duration) string {
	switch {
	case walltime <= time.Hour:
		return "short"
	case walltime <= 24*time.Hour:
		return "normal"
	case walltime <= 72*time.Hour:
		return "medium"
	default:
		return "long"
	}
}

func RenderScript(o ScriptOptions) (string, error) {
	walltime := config.FormatWalltime(o.Walltime)
	var directives []string
	switch o.SubmitCommand {
	case SubmitPBS:
		directives = append(directives,
			"#PBS -l mem="+o.Memory,
			"#PBS -l pmem="+o.Memory,
			"#PBS -l walltime="+walltime,
			"#PBS -l ncpus=1",
			"#PBS -N "+o.Label,
		)
	case SubmitSlurm:
		directives = append(directives,
			fmt.Sprintf("#SBATCH -n1 --time=%s --mem-per-cpu=%s", walltime, o.Memory),
			"#SBATCH -J "+o.Label,
		)
		if o.Partition != "" {
			directives = append(directives, "#SBATCH -p "+o.Partition)
		}
		if o.Account != "" {
			directives = append(directives, "#SBATCH -A "+o.Account)
		}
		if qos := o.Qos; qos != "" {
			if qos == "auto" {
				qos = AutoQos(o.Walltime)
			}
			directives = append(directives, "#SBATCH --qos="+qos)
		}
	case SubmitLocal:
	default:
		return "", errors.Errorf("unsupported submit command %q", o.SubmitCommand)
	}

	exports := []string{"OMP_NUM_THREADS=1"}
	for _, kv := range o.Env {
		exports = append(exports, fmt.Sprintf("%s=%q", kv[0], kv[1]))
	}

	var sb strings.Builder
	err := scriptTemplate.Execute(&sb, struct {
		Directives []string
		Exports    []string
		Filename   string
		WorkingDir string
		Command    string
	}{
		Directives: directives,
		Exports:    exports,
		Filename:   o.Filename,
		WorkingDir: o.WorkingDir,
		Command:    o.Command,
	})
	if err != nil {
		return "", errors.WithStack(err)
	}
	return sb.String(), nil
}
