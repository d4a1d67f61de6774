// Package service assembles the per-job collaborators and launches repair
// jobs.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cifixd/internal/ciwatch"
	"github.com/fyrsmithlabs/cifixd/internal/config"
	"github.com/fyrsmithlabs/cifixd/internal/fixer"
	"github.com/fyrsmithlabs/cifixd/internal/gitops"
	"github.com/fyrsmithlabs/cifixd/internal/job"
	"github.com/fyrsmithlabs/cifixd/internal/orchestrator"
	"github.com/fyrsmithlabs/cifixd/internal/store"
)

// Manager creates jobs and runs each one on its own goroutine. Jobs share
// nothing but the snapshot store.
type Manager struct {
	cfg    *config.Config
	store  *store.Store
	orch   *orchestrator.Orchestrator
	client fixer.CompletionClient
	logger *zap.Logger
}

// NewManager wires the orchestrator and the completion client. When no
// completion credentials are configured the manager still accepts jobs;
// fix generation then fails per candidate instead of at startup.
func NewManager(cfg *config.Config, st *store.Store, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	orch, err := orchestrator.New(st, orchestrator.Config{
		MaxIterations: cfg.Jobs.MaxIterations,
		CITimeout:     cfg.Jobs.CITimeout.Duration(),
		JobTimeout:    cfg.Jobs.JobTimeout.Duration(),
	}, logger.Named("orchestrator"))
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	client := fixer.Unconfigured()
	if cfg.Completion.APIKey.IsSet() {
		client, err = fixer.NewChatClient(fixer.ClientConfig{
			BaseURL: cfg.Completion.BaseURL,
			APIKey:  cfg.Completion.APIKey.Value(),
			Model:   cfg.Completion.Model,
			Timeout: cfg.Completion.Timeout.Duration(),
		})
		if err != nil {
			return nil, fmt.Errorf("creating completion client: %w", err)
		}
	} else {
		logger.Warn("completion credentials not configured, fixes will not be generated")
	}

	return &Manager{
		cfg:    cfg,
		store:  st,
		orch:   orch,
		client: client,
		logger: logger,
	}, nil
}

// Start creates a job for the repository, publishes its initial snapshot,
// and launches the repair loop in the background. The returned snapshot is
// immediately pollable.
func (m *Manager) Start(ctx context.Context, repoURL, team, leader string) (*job.Job, error) {
	// The orchestrator config carries the defaulted iteration budget, so the
	// job's total matches what the loop will actually run.
	j := job.New(repoURL, team, leader, m.orch.Config().MaxIterations)
	log := m.logger.With(zap.String("job_id", j.ID))

	token := m.cfg.GitHub.Token.Value()
	provider, err := ciwatch.NewGitHubProvider(ctx, repoURL, token, nil, log.Named("ciwatch"))
	if err != nil {
		return nil, fmt.Errorf("creating CI provider: %w", err)
	}

	gen, err := fixer.NewGenerator(m.client, log.Named("fixer"))
	if err != nil {
		return nil, fmt.Errorf("creating fix generator: %w", err)
	}

	collaborators := orchestrator.Collaborators{
		Source:   gitops.NewGateway(repoURL, token, log.Named("gitops")),
		Fixer:    gen,
		Observer: ciwatch.NewObserver(provider, ciwatch.PollConfig{}, log.Named("ciwatch")),
		Runner:   ciwatch.NewLocalRunner(m.cfg.Jobs.TestCommandArgs(), 0, log.Named("testrunner")),
	}

	// Snapshot is visible before the goroutine gets scheduled, so a poll
	// right after the start response never sees not-found.
	snapshot := j.Snapshot()
	m.store.Publish(snapshot)

	// The job's lifetime is detached from the start request.
	go m.orch.Run(context.Background(), j, collaborators)

	log.Info("job started", zap.String("repo", repoURL), zap.String("team", team))
	return snapshot, nil
}

// Get returns the latest snapshot for the job ID.
func (m *Manager) Get(id string) (*job.Job, error) {
	return m.store.Get(id)
}

// Subscribe attaches a snapshot stream for the job ID.
func (m *Manager) Subscribe(id string) (<-chan *job.Job, func(), error) {
	return m.store.Subscribe(id)
}
