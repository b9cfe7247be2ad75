package gateway

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/pkg/errors"
)

// CommandRunner runs an external program in dir and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// ExitError is returned by a CommandRunner when the program ran but exited unsuccessfully.
type ExitError struct {
	Name   string
	Code   int
	Output []byte
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d: %s", e.Name, e.Code, e.Output)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, &ExitError{Name: name, Code: exitErr.ExitCode(), Output: out}
		}
		return out, errors.WithStack(err)
	}
	return out, nil
}
