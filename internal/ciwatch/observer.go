// Package ciwatch observes the external CI provider for a job's fix branch.
//
// The provider itself is opaque: it answers "latest run for branch" and
// "logs for run". The observer turns that into a bounded await with
// exponential backoff and an explicit timeout outcome, so the polling loop
// is testable with fast simulated schedules.
package ciwatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Outcome is the terminal result of awaiting a CI run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// Run is the provider's view of one workflow run.
type Run struct {
	ID         int64
	Status     string // queued | in_progress | completed
	Conclusion string // success | failure | cancelled | timed_out | ...
	HTMLURL    string
}

// Completed reports whether the provider considers the run finished.
func (r *Run) Completed() bool {
	return r != nil && r.Status == "completed"
}

// Provider is the CI provider query surface the observer polls.
type Provider interface {
	// LatestRun returns the most recent run for the branch, or nil when the
	// provider has not registered any run yet.
	LatestRun(ctx context.Context, branch string) (*Run, error)

	// RunLogs returns a log summary for the run, best effort.
	RunLogs(ctx context.Context, runID int64) (string, error)
}

// Result is what AwaitResult hands back to the orchestrator.
type Result struct {
	Outcome Outcome
	Logs    string
}

// PollConfig bounds the observer's polling schedule.
type PollConfig struct {
	// Initial is the first poll interval. Default: 10 seconds.
	Initial time.Duration

	// Max caps the interval growth. Default: 30 seconds.
	Max time.Duration

	// Multiplier grows the interval between polls. Default: 1.5.
	Multiplier float64
}

// ApplyDefaults sets default values for unset fields.
func (c *PollConfig) ApplyDefaults() {
	if c.Initial == 0 {
		c.Initial = 10 * time.Second
	}
	if c.Max == 0 {
		c.Max = 30 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 1.5
	}
}

// Observer awaits terminal CI run statuses for a branch.
type Observer struct {
	provider Provider
	poll     PollConfig
	logger   *zap.Logger
}

// NewObserver creates an observer over the given provider.
func NewObserver(provider Provider, poll PollConfig, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	poll.ApplyDefaults()
	return &Observer{
		provider: provider,
		poll:     poll,
		logger:   logger,
	}
}

// AwaitResult polls the provider until the latest run for the branch
// reaches a terminal status or the timeout budget is exhausted. Transient
// provider errors count against the same budget. Exhausting the budget
// yields OutcomeTimeout with no logs.
func (o *Observer) AwaitResult(ctx context.Context, branch string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := o.poll.Initial
	for {
		run, err := o.provider.LatestRun(ctx, branch)
		switch {
		case err != nil:
			// Retries inside the provider are exhausted; keep polling until
			// the overall budget runs out.
			o.logger.Warn("CI provider query failed, will poll again",
				zap.String("branch", branch),
				zap.Error(err),
			)
		case run.Completed():
			outcome := OutcomeFailure
			if run.Conclusion == "success" {
				outcome = OutcomeSuccess
			}
			logs := ""
			if outcome == OutcomeFailure {
				logs, _ = o.provider.RunLogs(ctx, run.ID)
			}
			o.logger.Info("CI run completed",
				zap.String("branch", branch),
				zap.String("conclusion", run.Conclusion),
				zap.Int64("run_id", run.ID),
			)
			return Result{Outcome: outcome, Logs: logs}
		}

		select {
		case <-ctx.Done():
			o.logger.Warn("CI await timed out",
				zap.String("branch", branch),
				zap.Duration("timeout", timeout),
			)
			return Result{Outcome: OutcomeTimeout}
		case <-time.After(interval):
		}

		next := time.Duration(float64(interval) * o.poll.Multiplier)
		if next > o.poll.Max {
			next = o.poll.Max
		}
		interval = next
	}
}

// HasWorkflows reports whether the working copy carries any GitHub Actions
// workflow definitions. Jobs for repos without workflows fall back to the
// local test runner for CI outcomes.
func HasWorkflows(workdir string) bool {
	entries, err := os.ReadDir(filepath.Join(workdir, ".github", "workflows"))
	if err != nil {
		return false
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml") {
			return true
		}
	}
	return false
}
