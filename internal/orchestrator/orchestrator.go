// Package orchestrator drives the per-job repair state machine.
//
// One orchestrator run owns one job end to end: it sequences the source
// control gateway, failure analyzer, fix generator and CI observer across
// iterations, publishes an immutable snapshot to the store after every
// transition, and terminates deterministically with a computed score.
//
// The orchestrator is the sole writer of its job; readers only ever see
// snapshots committed through the store.
package orchestrator

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cifixd/internal/analyzer"
	"github.com/fyrsmithlabs/cifixd/internal/ciwatch"
	"github.com/fyrsmithlabs/cifixd/internal/fixer"
	"github.com/fyrsmithlabs/cifixd/internal/gitops"
	"github.com/fyrsmithlabs/cifixd/internal/job"
	"github.com/fyrsmithlabs/cifixd/internal/score"
	"github.com/fyrsmithlabs/cifixd/internal/store"
)

// Client-visible failure reasons. Raw internal error detail stays in the
// server logs.
const (
	reasonSetupFailed    = "repository setup failed"
	reasonNoProgress     = "no applicable fixes for remaining failures"
	reasonBudgetExceeded = "iteration budget exhausted"
	reasonTimedOut       = "job wall-clock timeout exceeded"
	reasonInternal       = "internal error"
)

// SourceControl is the gateway to one job's working copy. Implementations
// must serialize their operations; the orchestrator never issues two
// concurrently.
type SourceControl interface {
	Clone(ctx context.Context, jobID string) (workdir string, err error)
	EnsureBranch(name string) error
	ApplyAndCommit(file, content, message string) (sha string, err error)
	Push(ctx context.Context) error
	Cleanup()
}

// FixGenerator produces a patch for one classified candidate.
type FixGenerator interface {
	Generate(ctx context.Context, cand analyzer.Candidate, fileContent string) (*fixer.Patch, error)
}

// CIObserver awaits a terminal CI status for the fix branch.
type CIObserver interface {
	AwaitResult(ctx context.Context, branch string, timeout time.Duration) ciwatch.Result
}

// TestRunner executes the repository's tests locally. It supplies the
// failure output for analysis and stands in for the CI provider when the
// repository has no workflow definitions.
type TestRunner interface {
	Run(ctx context.Context, workdir string) (ciwatch.TestResult, error)
}

// Collaborators bundles the per-job external collaborators.
type Collaborators struct {
	Source   SourceControl
	Fixer    FixGenerator
	Observer CIObserver
	Runner   TestRunner

	// HasWorkflows decides whether CI results come from the remote provider
	// or the local runner. Defaults to ciwatch.HasWorkflows.
	HasWorkflows func(workdir string) bool
}

// Config bounds a job run.
type Config struct {
	// MaxIterations caps analyze→fix→push→observe cycles. Default: 5.
	MaxIterations int

	// CITimeout bounds each AwaitResult call. Default: 5 minutes.
	CITimeout time.Duration

	// JobTimeout bounds the whole job's wall clock. Default: 30 minutes.
	JobTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 5
	}
	if c.CITimeout == 0 {
		c.CITimeout = 5 * time.Minute
	}
	if c.JobTimeout == 0 {
		c.JobTimeout = 30 * time.Minute
	}
}

// Orchestrator runs repair jobs against a shared snapshot store.
type Orchestrator struct {
	store  *store.Store
	cfg    Config
	logger *zap.Logger
}

// New creates an orchestrator publishing to the given store.
func New(st *store.Store, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if st == nil {
		return nil, errors.New("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	return &Orchestrator{
		store:  st,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Config returns the effective run configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Run drives the job to a terminal status. It blocks until termination and
// is meant to be launched in its own goroutine, one per job.
func (o *Orchestrator) Run(ctx context.Context, j *job.Job, c Collaborators) {
	log := o.logger.With(zap.String("job_id", j.ID), zap.String("repo", j.RepoURL))
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.JobTimeout)
	defer cancel()
	defer c.Source.Cleanup()

	if c.HasWorkflows == nil {
		c.HasWorkflows = ciwatch.HasWorkflows
	}

	o.publish(j)

	// Fatal setup phase: clone and first branch creation. Any error here
	// aborts with no score.
	workdir, err := c.Source.Clone(ctx, j.ID)
	if err != nil {
		log.Error("clone failed", zap.Error(err))
		o.fail(j, reasonSetupFailed)
		return
	}

	branch := gitops.BranchName(j.Team, j.Leader)
	if err := c.Source.EnsureBranch(branch); err != nil {
		log.Error("branch creation failed", zap.Error(err), zap.String("branch", branch))
		o.fail(j, reasonSetupFailed)
		return
	}
	j.Branch = branch
	j.BranchURL = gitops.BranchURL(j.RepoURL, branch)
	o.publish(j)

	// Publish the branch so it exists remotely before the first fix lands.
	// Non-fatal: a repo without push access still gets local fixes.
	if err := c.Source.Push(ctx); err != nil {
		log.Warn("initial branch push failed", zap.Error(err))
	}

	hasCI := c.HasWorkflows(workdir)
	commits := 0
	passed := false

	for iteration := 1; iteration <= o.cfg.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			log.Warn("job timed out", zap.Int("iteration", iteration))
			o.failScored(j, reasonTimedOut, start, commits)
			return
		}

		j.Progress.CurrentIteration = iteration
		o.publish(j)

		result, err := c.Runner.Run(ctx, workdir)
		if err != nil {
			if ctx.Err() != nil {
				log.Warn("job timed out during test execution", zap.Int("iteration", iteration))
				o.failScored(j, reasonTimedOut, start, commits)
				return
			}
			log.Error("test execution failed", zap.Int("iteration", iteration), zap.Error(err))
			o.failScored(j, reasonInternal, start, commits)
			return
		}

		passing, failing := analyzer.CountTests(result.Output)
		j.Progress.TestsPassing = passing
		j.Progress.TestsFailing = failing
		o.publish(j)

		if result.Success {
			j.CIRuns = append(j.CIRuns, job.CIRun{
				Iteration: iteration,
				Status:    job.RunSuccess,
				Timestamp: time.Now().UTC(),
			})
			passed = true
			o.publish(j)
			break
		}

		applied := o.attemptFixes(ctx, j, c, workdir, result.Output, &commits, log)
		if applied == 0 {
			log.Warn("no applicable fixes, terminating", zap.Int("iteration", iteration))
			o.failScored(j, reasonNoProgress, start, commits)
			return
		}

		run := job.CIRun{
			Iteration: iteration,
			Status:    job.RunPending,
			Timestamp: time.Now().UTC(),
		}
		j.CIRuns = append(j.CIRuns, run)
		runIdx := len(j.CIRuns) - 1
		o.publish(j)

		if err := c.Source.Push(ctx); err != nil {
			// Push already retried once inside the gateway. The failure is
			// scoped to this iteration; the loop may still make progress.
			log.Warn("push failed for iteration", zap.Int("iteration", iteration), zap.Error(err))
			o.updateRun(j, runIdx, job.RunFailure, "")
			continue
		}

		outcome := o.observe(ctx, j, c, runIdx, branch, workdir, hasCI, log)
		if outcome == ciwatch.OutcomeSuccess {
			passed = true
			break
		}
	}

	elapsed := time.Since(start)
	breakdown := score.Compute(elapsed, commits)
	j.Score = &breakdown
	if passed {
		j.Status = job.StatusCompleted
	} else {
		j.Status = job.StatusFailed
		j.Reason = reasonBudgetExceeded
	}
	o.publish(j)

	log.Info("job finished",
		zap.String("status", string(j.Status)),
		zap.Duration("elapsed", elapsed),
		zap.Int("commits", commits),
		zap.Int("final_score", breakdown.Final),
	)
}

// attemptFixes runs the analyzer over the failure output and tries every
// candidate in order. A single candidate failure never aborts the
// iteration. Returns the number of fixes applied.
func (o *Orchestrator) attemptFixes(ctx context.Context, j *job.Job, c Collaborators, workdir, output string, commits *int, log *zap.Logger) int {
	candidates := analyzer.Parse(output)
	applied := 0

	for _, cand := range candidates {
		record := job.FixRecord{
			File:    cand.File,
			BugType: cand.BugType,
			Line:    cand.Line,
			Outcome: job.FixFailed,
		}

		path, err := gitops.WorkPath(workdir, cand.File)
		if err != nil {
			log.Warn("candidate file path rejected", zap.String("file", cand.File), zap.Error(err))
			record.CommitMessage = "Attempted fix for " + string(cand.BugType) + " in " + cand.File
			j.Fixes = append(j.Fixes, record)
			o.publish(j)
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			log.Warn("cannot read candidate file", zap.String("file", cand.File), zap.Error(err))
			record.CommitMessage = "Attempted fix for " + string(cand.BugType) + " in " + cand.File
			j.Fixes = append(j.Fixes, record)
			o.publish(j)
			continue
		}

		patch, err := c.Fixer.Generate(ctx, cand, string(content))
		if err != nil {
			log.Warn("fix generation failed",
				zap.String("file", cand.File),
				zap.String("bug_type", string(cand.BugType)),
				zap.Error(err),
			)
			record.CommitMessage = "Attempted fix for " + string(cand.BugType) + " in " + cand.File
			j.Fixes = append(j.Fixes, record)
			o.publish(j)
			continue
		}

		record.CommitMessage = patch.CommitMessage
		if _, err := c.Source.ApplyAndCommit(patch.File, patch.Content, patch.CommitMessage); err != nil {
			log.Warn("applying fix failed", zap.String("file", cand.File), zap.Error(err))
			j.Fixes = append(j.Fixes, record)
			o.publish(j)
			continue
		}

		*commits++
		applied++
		record.Outcome = job.FixApplied
		j.Fixes = append(j.Fixes, record)
		o.publish(j)
	}

	return applied
}

// observe resolves the iteration's CIRun to a terminal status, either by
// awaiting the remote provider or by re-running tests locally when the
// repository has no workflows. A timeout is recorded as failure with no
// logs.
func (o *Orchestrator) observe(ctx context.Context, j *job.Job, c Collaborators, runIdx int, branch, workdir string, hasCI bool, log *zap.Logger) ciwatch.Outcome {
	if !hasCI {
		result, err := c.Runner.Run(ctx, workdir)
		if err != nil {
			log.Warn("local verification run failed", zap.Error(err))
			o.updateRun(j, runIdx, job.RunFailure, "")
			return ciwatch.OutcomeFailure
		}
		if result.Success {
			o.updateRun(j, runIdx, job.RunSuccess, "")
			return ciwatch.OutcomeSuccess
		}
		o.updateRun(j, runIdx, job.RunFailure, result.Output)
		return ciwatch.OutcomeFailure
	}

	o.updateRun(j, runIdx, job.RunRunning, "")
	result := c.Observer.AwaitResult(ctx, branch, o.cfg.CITimeout)
	switch result.Outcome {
	case ciwatch.OutcomeSuccess:
		o.updateRun(j, runIdx, job.RunSuccess, result.Logs)
	case ciwatch.OutcomeFailure:
		o.updateRun(j, runIdx, job.RunFailure, result.Logs)
	default:
		// Timeout continues the loop like a failure, recorded with no logs.
		o.updateRun(j, runIdx, job.RunFailure, "")
	}
	return result.Outcome
}

// updateRun mutates a CIRun in place. Runs are only ever updated while
// their own status is non-terminal.
func (o *Orchestrator) updateRun(j *job.Job, idx int, status job.RunStatus, logs string) {
	if j.CIRuns[idx].Status.Terminal() {
		return
	}
	j.CIRuns[idx].Status = status
	if logs != "" {
		j.CIRuns[idx].Logs = logs
	}
	o.publish(j)
}

// fail terminates the job without a score. Reserved for fatal setup errors.
func (o *Orchestrator) fail(j *job.Job, reason string) {
	j.Status = job.StatusFailed
	j.Reason = reason
	o.publish(j)
}

// failScored terminates the job with the score computed from the work done
// so far.
func (o *Orchestrator) failScored(j *job.Job, reason string, start time.Time, commits int) {
	breakdown := score.Compute(time.Since(start), commits)
	j.Score = &breakdown
	j.Status = job.StatusFailed
	j.Reason = reason
	o.publish(j)
}

func (o *Orchestrator) publish(j *job.Job) {
	o.store.Publish(j.Snapshot())
}
