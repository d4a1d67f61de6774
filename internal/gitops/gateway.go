// Package gitops is the source control gateway: clone, branch, commit and
// push against a single working copy per job.
//
// All operations on a gateway are strictly serialized by an internal mutex;
// no two operations for the same job ever run concurrently.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"
)

// ErrNotCloned indicates an operation was attempted before Clone.
var ErrNotCloned = errors.New("repository not cloned")

const (
	commitAuthorName  = "cifixd"
	commitAuthorEmail = "cifixd@fyrsmithlabs.com"
)

// Gateway owns one job's working copy.
type Gateway struct {
	mu      sync.Mutex
	repoURL string
	token   string
	logger  *zap.Logger

	workdir string
	repo    *git.Repository
	branch  string
}

// NewGateway creates a gateway for the given repository. The token is used
// for HTTPS basic auth on clone and push; it may be empty for public repos
// that never get pushed to.
func NewGateway(repoURL, token string, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		repoURL: repoURL,
		token:   token,
		logger:  logger,
	}
}

func (g *Gateway) auth() *githttp.BasicAuth {
	if g.token == "" {
		return nil
	}
	return &githttp.BasicAuth{
		Username: "x-access-token",
		Password: g.token,
	}
}

// Clone checks the repository out into a fresh directory under the system
// temp dir and returns the workdir path.
func (g *Gateway) Clone(ctx context.Context, jobID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	workdir := filepath.Join(os.TempDir(), "cifixd-"+jobID)
	repo, err := git.PlainCloneContext(ctx, workdir, false, &git.CloneOptions{
		URL:  g.repoURL,
		Auth: g.auth(),
	})
	if err != nil {
		return "", fmt.Errorf("cloning %s: %w", g.repoURL, err)
	}

	g.workdir = workdir
	g.repo = repo
	g.logger.Info("repository cloned",
		zap.String("repo", g.repoURL),
		zap.String("workdir", workdir),
	)
	return workdir, nil
}

// Workdir returns the path of the working copy, empty before Clone.
func (g *Gateway) Workdir() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.workdir
}

// EnsureBranch creates and checks out the named branch from the current
// HEAD.
func (g *Gateway) EnsureBranch(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.repo == nil {
		return ErrNotCloned
	}
	wt, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	err = wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
	})
	if err != nil {
		return fmt.Errorf("creating branch %s: %w", name, err)
	}
	g.branch = name
	return nil
}

// WorkPath resolves file inside workdir. File paths come from untrusted
// test output, so absolute paths and paths escaping the workdir are
// rejected; symlinks in the working copy resolve against the workdir root.
func WorkPath(workdir, file string) (string, error) {
	if filepath.IsAbs(file) {
		return "", fmt.Errorf("absolute path not allowed: %s", file)
	}
	rel, err := filepath.Rel(workdir, filepath.Join(workdir, file))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes working copy: %s", file)
	}
	return securejoin.SecureJoin(workdir, file)
}

// ApplyAndCommit writes the replacement file content into the working copy,
// stages it, and commits with the given message. Returns the commit hash.
func (g *Gateway) ApplyAndCommit(file, content, message string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.repo == nil {
		return "", ErrNotCloned
	}

	path, err := WorkPath(g.workdir, file)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", file, err)
	}

	wt, err := g.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}
	if _, err := wt.Add(file); err != nil {
		return "", fmt.Errorf("staging %s: %w", file, err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  commitAuthorName,
			Email: commitAuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("committing %s: %w", file, err)
	}
	return hash.String(), nil
}

// Push publishes the fix branch to origin. A push rejected by conflicting
// remote state is retried once after refreshing from the remote; the second
// failure is returned to the caller and scoped to the current iteration.
func (g *Gateway) Push(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.repo == nil {
		return ErrNotCloned
	}
	if g.branch == "" {
		return fmt.Errorf("no fix branch checked out")
	}

	err := g.push(ctx)
	if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}

	g.logger.Warn("push rejected, refreshing from remote and retrying",
		zap.String("branch", g.branch),
		zap.Error(err),
	)
	if ferr := g.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		Auth:       g.auth(),
	}); ferr != nil && !errors.Is(ferr, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("refreshing before push retry: %w", ferr)
	}

	if err := g.push(ctx); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pushing branch %s: %w", g.branch, err)
	}
	return nil
}

func (g *Gateway) push(ctx context.Context) error {
	refspec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", g.branch, g.branch))
	return g.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{refspec},
		Auth:       g.auth(),
	})
}

// Cleanup removes the temporary working copy. Safe to call more than once.
func (g *Gateway) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.workdir == "" {
		return
	}
	if err := os.RemoveAll(g.workdir); err != nil {
		g.logger.Warn("failed to remove workdir",
			zap.String("workdir", g.workdir),
			zap.Error(err),
		)
	}
	g.workdir = ""
	g.repo = nil
}
