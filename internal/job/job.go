// Package job defines the data model for a CI repair job: the job record
// itself, its progress counters, the append-only fix and CI run histories,
// and the final score breakdown.
//
// A Job is mutated exclusively by the orchestrator that owns it. Everything
// readers see is a deep copy produced by Snapshot, so a reader can never
// observe a half-applied transition.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of a job.
type Status string

const (
	// StatusRunning means the repair loop is still in progress.
	StatusRunning Status = "running"

	// StatusCompleted means the final CI run succeeded.
	StatusCompleted Status = "completed"

	// StatusFailed means the job terminated without a passing CI run.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// BugType classifies a fix candidate. The set is fixed; the analyzer never
// emits values outside it.
type BugType string

const (
	BugLinting     BugType = "linting"
	BugSyntax      BugType = "syntax"
	BugLogic       BugType = "logic"
	BugTypeError   BugType = "type-error"
	BugImport      BugType = "import"
	BugIndentation BugType = "indentation"
)

// FixOutcome records whether an attempted fix landed.
type FixOutcome string

const (
	FixApplied FixOutcome = "fixed"
	FixFailed  FixOutcome = "failed"
)

// FixRecord is one attempted fix. Records are append-only and ordered by
// the iteration that produced them.
type FixRecord struct {
	File          string     `json:"file"`
	BugType       BugType    `json:"bug_type"`
	Line          int        `json:"line_number,omitempty"`
	CommitMessage string     `json:"commit_message"`
	Outcome       FixOutcome `json:"outcome"`
}

// RunStatus is the observed state of one CI run.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailure RunStatus = "failure"
)

// Terminal reports whether the run status is final for its iteration.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailure
}

// CIRun is one observed CI execution tied to an iteration's push. It is
// appended in a pending state and updated in place only until its status
// turns terminal.
type CIRun struct {
	Iteration int       `json:"iteration"`
	Status    RunStatus `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Logs      string    `json:"logs,omitempty"`
}

// ScoreBreakdown is computed exactly once, at job termination.
type ScoreBreakdown struct {
	Base              int `json:"base_score"`
	SpeedBonus        int `json:"speed_bonus"`
	EfficiencyPenalty int `json:"efficiency_penalty"`
	Final             int `json:"final_score"`
}

// Progress tracks where the repair loop is and what the tests last said.
type Progress struct {
	CurrentIteration int `json:"current_iteration"`
	TotalIterations  int `json:"total_iterations"`
	TestsPassing     int `json:"tests_passing"`
	TestsFailing     int `json:"tests_failing"`
}

// Job is one end-to-end repair attempt for a repository.
type Job struct {
	ID        string          `json:"id"`
	RepoURL   string          `json:"repo_url"`
	Team      string          `json:"team_name"`
	Leader    string          `json:"team_leader"`
	Branch    string          `json:"branch_name,omitempty"`
	BranchURL string          `json:"branch_url,omitempty"`
	Status    Status          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Progress  Progress        `json:"progress"`
	Fixes     []FixRecord     `json:"fixes"`
	CIRuns    []CIRun         `json:"ci_runs"`
	Score     *ScoreBreakdown `json:"score,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// New creates a running job for the given start request fields.
func New(repoURL, team, leader string, totalIterations int) *Job {
	return &Job{
		ID:      uuid.NewString(),
		RepoURL: repoURL,
		Team:    team,
		Leader:  leader,
		Status:  StatusRunning,
		Progress: Progress{
			TotalIterations: totalIterations,
		},
		Fixes:     []FixRecord{},
		CIRuns:    []CIRun{},
		CreatedAt: time.Now().UTC(),
	}
}

// Snapshot returns a deep copy safe to hand to concurrent readers.
func (j *Job) Snapshot() *Job {
	cp := *j
	cp.Fixes = make([]FixRecord, len(j.Fixes))
	copy(cp.Fixes, j.Fixes)
	cp.CIRuns = make([]CIRun, len(j.CIRuns))
	copy(cp.CIRuns, j.CIRuns)
	if j.Score != nil {
		score := *j.Score
		cp.Score = &score
	}
	return &cp
}
