package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cifixd/internal/config"
	"github.com/fyrsmithlabs/cifixd/internal/job"
	"github.com/fyrsmithlabs/cifixd/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Host: "localhost", Port: 8080},
		Logging: config.LoggingConfig{Level: "info", Format: "json"},
		Jobs: config.JobsConfig{
			MaxIterations: 5,
			CITimeout:     config.Duration(5 * time.Minute),
			JobTimeout:    config.Duration(30 * time.Minute),
		},
	}
}

func TestNewManager(t *testing.T) {
	t.Run("nil config rejected", func(t *testing.T) {
		_, err := NewManager(nil, store.New(), nil)
		assert.Error(t, err)
	})

	t.Run("nil store rejected", func(t *testing.T) {
		_, err := NewManager(testConfig(), nil, nil)
		assert.Error(t, err)
	})

	t.Run("runs without completion credentials", func(t *testing.T) {
		m, err := NewManager(testConfig(), store.New(), nil)
		require.NoError(t, err)
		assert.NotNil(t, m)
	})

	t.Run("incomplete completion config rejected", func(t *testing.T) {
		cfg := testConfig()
		cfg.Completion.APIKey = "sk-test"
		// API key set but base URL and model missing.
		_, err := NewManager(cfg, store.New(), nil)
		assert.Error(t, err)
	})

	t.Run("full completion config accepted", func(t *testing.T) {
		cfg := testConfig()
		cfg.Completion.APIKey = "sk-test"
		cfg.Completion.BaseURL = "https://api.openai.com"
		cfg.Completion.Model = "gpt-4o-mini"

		m, err := NewManager(cfg, store.New(), nil)
		require.NoError(t, err)
		assert.NotNil(t, m)
	})
}

// seedRepo creates a local repository with one commit, usable as a clone
// source without touching the network.
func seedRepo(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "acme", "widgets")
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("def handler():\n    return 0\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("app.py")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "seed", Email: "seed@test", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func TestManagerStart(t *testing.T) {
	// MaxIterations deliberately unset: the job's total must reflect the
	// orchestrator's defaulted budget, not the raw config value.
	cfg := testConfig()
	cfg.Jobs.MaxIterations = 0
	cfg.Jobs.TestCommand = "true"

	st := store.New()
	m, err := NewManager(cfg, st, nil)
	require.NoError(t, err)

	snapshot, err := m.Start(context.Background(), seedRepo(t), "team", "lead")
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, snapshot.Status)
	assert.Equal(t, 5, snapshot.Progress.TotalIterations)

	// The initial snapshot is pollable before the repair loop gets going.
	got, err := m.Get(snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, snapshot.ID, got.ID)

	ch, cancel, err := m.Subscribe(snapshot.ID)
	require.NoError(t, err)
	defer cancel()

	deadline := time.After(15 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				t.Fatal("stream closed without a terminal snapshot")
			}
			assert.LessOrEqual(t, snap.Progress.CurrentIteration, snap.Progress.TotalIterations)
			if snap.Status.Terminal() {
				assert.Equal(t, job.StatusCompleted, snap.Status)
				require.NotNil(t, snap.Score)
				require.Len(t, snap.CIRuns, 1)
				assert.Equal(t, job.RunSuccess, snap.CIRuns[0].Status)
				return
			}
		case <-deadline:
			t.Fatal("job did not terminate in time")
		}
	}
}

func TestManagerReads(t *testing.T) {
	m, err := NewManager(testConfig(), store.New(), nil)
	require.NoError(t, err)

	t.Run("get unknown job", func(t *testing.T) {
		_, err := m.Get("missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("subscribe unknown job", func(t *testing.T) {
		_, _, err := m.Subscribe("missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
