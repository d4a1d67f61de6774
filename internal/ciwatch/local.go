package ciwatch

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// TestResult is the outcome of one local test execution.
type TestResult struct {
	Success bool
	Output  string
}

// LocalRunner executes the repository's test command inside the working
// copy. It supplies the failing output the analyzer classifies, and serves
// as the CI outcome for repositories that carry no workflow definitions.
type LocalRunner struct {
	command []string
	timeout time.Duration
	logger  *zap.Logger
}

// NewLocalRunner creates a runner for the given test command. An empty
// command defaults to a quiet pytest invocation, matching the repositories
// this service targets.
func NewLocalRunner(command []string, timeout time.Duration, logger *zap.Logger) *LocalRunner {
	if len(command) == 0 {
		command = []string{"python", "-m", "pytest", "--tb=short", "-q"}
	}
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalRunner{
		command: command,
		timeout: timeout,
		logger:  logger,
	}
}

// Run executes the test command in workdir and captures combined output.
// A non-zero exit is a test failure, not an error; errors are reserved for
// the command not starting at all.
func (r *LocalRunner) Run(ctx context.Context, workdir string) (TestResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Dir = workdir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return TestResult{}, err
		}
		r.logger.Debug("test command exited non-zero",
			zap.String("workdir", workdir),
			zap.Int("exit_code", exitErr.ExitCode()),
		)
		return TestResult{Success: false, Output: output}, nil
	}
	return TestResult{Success: true, Output: output}, nil
}
