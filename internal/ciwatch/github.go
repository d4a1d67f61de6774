package ciwatch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// GitHubProvider queries the GitHub Actions API for workflow runs.
type GitHubProvider struct {
	client *github.Client
	owner  string
	repo   string
	retry  *RetryConfig
	logger *zap.Logger
}

// NewGitHubProvider creates a provider for the repository behind repoURL.
// An empty token yields an unauthenticated client, which is enough for
// public repositories at a reduced rate limit.
func NewGitHubProvider(ctx context.Context, repoURL, token string, retry *RetryConfig, logger *zap.Logger) (*GitHubProvider, error) {
	owner, repo, err := ParseOwnerRepo(repoURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := github.NewClient(nil)
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		client = github.NewClient(oauth2.NewClient(ctx, ts))
	}

	return &GitHubProvider{
		client: client,
		owner:  owner,
		repo:   repo,
		retry:  retry,
		logger: logger,
	}, nil
}

// ParseOwnerRepo extracts the owner and repository name from a GitHub URL.
func ParseOwnerRepo(repoURL string) (owner, repo string, err error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", "", fmt.Errorf("parsing repo URL: %w", err)
	}
	path := strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("cannot parse owner/repo from URL: %s", repoURL)
	}
	return parts[0], parts[1], nil
}

// LatestRun returns the most recent workflow run on the branch, or nil when
// none has been registered yet.
func (p *GitHubProvider) LatestRun(ctx context.Context, branch string) (*Run, error) {
	var runs *github.WorkflowRuns
	_, err := retryOperation(ctx, p.retry, p.logger, func() (*github.Response, error) {
		var resp *github.Response
		var opErr error
		runs, resp, opErr = p.client.Actions.ListRepositoryWorkflowRuns(ctx, p.owner, p.repo, &github.ListWorkflowRunsOptions{
			Branch:      branch,
			ListOptions: github.ListOptions{PerPage: 1},
		})
		return resp, opErr
	})
	if err != nil {
		return nil, fmt.Errorf("listing workflow runs for %s: %w", branch, err)
	}
	if runs == nil || len(runs.WorkflowRuns) == 0 {
		return nil, nil
	}

	run := runs.WorkflowRuns[0]
	return &Run{
		ID:         run.GetID(),
		Status:     run.GetStatus(),
		Conclusion: run.GetConclusion(),
		HTMLURL:    run.GetHTMLURL(),
	}, nil
}

// RunLogs summarizes the failed jobs and steps of a workflow run. The
// summary is attached to the job's CIRun; failures here are not fatal to
// the observation.
func (p *GitHubProvider) RunLogs(ctx context.Context, runID int64) (string, error) {
	var jobs *github.Jobs
	_, err := retryOperation(ctx, p.retry, p.logger, func() (*github.Response, error) {
		var resp *github.Response
		var opErr error
		jobs, resp, opErr = p.client.Actions.ListWorkflowJobs(ctx, p.owner, p.repo, runID, &github.ListWorkflowJobsOptions{})
		return resp, opErr
	})
	if err != nil {
		return "", fmt.Errorf("listing workflow jobs for run %d: %w", runID, err)
	}

	var lines []string
	for _, j := range jobs.Jobs {
		conclusion := j.GetConclusion()
		if conclusion != "failure" && conclusion != "timed_out" {
			continue
		}
		lines = append(lines, fmt.Sprintf("Job '%s' failed.", j.GetName()))
		for _, step := range j.Steps {
			if step.GetConclusion() == "failure" {
				lines = append(lines, fmt.Sprintf("  Step failed: %s", step.GetName()))
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

// Ensure the interface is implemented at compile time.
var _ Provider = (*GitHubProvider)(nil)
