package hostrun

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Result holds the captured outcome of a single host command.
type Result struct {
	// ExitCode is the process exit code (0 on success).
	ExitCode int `json:"exit_code"`

	// Stdout is the captured standard output.
	Stdout string `json:"stdout,omitempty"`

	// Stderr is the captured standard error.
	Stderr string `json:"stderr,omitempty"`

	// Duration is how long the command ran.
	Duration time.Duration `json:"duration"`
}

// Runner executes commands on the target host.
type Runner interface {
	// Run executes name with args and returns the captured result.
	// A non-zero exit code is returned in the Result, not as an error;
	// an error means the command could not be started or was cut off.
	Run(ctx context.Context, name string, args ...string) (*Result, error)

	// LookPath reports the absolute path of an executable, or an error
	// if it is not installed.
	LookPath(name string) (string, error)
}

// LocalRunner executes commands on the local host via os/exec.
type LocalRunner struct {
	// WorkDir is the working directory for commands. Empty means the
	// process working directory.
	WorkDir string

	// Env is the environment for commands. Nil means inherit the
	// process environment.
	Env []string
}

// NewLocalRunner creates a runner executing in the given working directory.
func NewLocalRunner(workDir string) *LocalRunner {
	return &LocalRunner{WorkDir: workDir}
}

// Run executes the command and captures its output.
func (r *LocalRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	if name == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmd := exec.CommandContext(ctx, name, args...)

	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}
	if r.Env != nil {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if err != nil {
		// A command cut off by the context dies by signal and surfaces as
		// an ExitError, so the context check has to come first.
		if ctx.Err() != nil {
			return result, fmt.Errorf("command %s interrupted: %w", name, ctx.Err())
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("failed to execute %s: %w", name, err)
	}

	result.ExitCode = 0
	return result, nil
}

// LookPath resolves an executable name against PATH.
func (r *LocalRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
