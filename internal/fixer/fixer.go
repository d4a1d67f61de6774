// Package fixer turns one fix candidate plus the current file content into
// a patch and a commit message.
//
// The completion call is an opaque collaborator behind CompletionClient.
// Whatever comes back is treated as untyped text and validated at this
// boundary; a response that does not survive validation is a typed failure,
// never a silent pass-through.
package fixer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cifixd/internal/analyzer"
)

var (
	// ErrGenerationFailed indicates the completion collaborator produced no
	// usable response.
	ErrGenerationFailed = errors.New("fix generation failed")

	// ErrInvalidPatch indicates the produced patch does not apply cleanly
	// against the current file content.
	ErrInvalidPatch = errors.New("invalid patch")
)

// CompletionClient is the opaque language-model boundary: structured prompt
// in, raw text out.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Unconfigured returns a CompletionClient that always fails. Deployments
// without completion credentials still run the repair loop; every candidate
// simply lands as a failed FixRecord.
func Unconfigured() CompletionClient {
	return unconfiguredClient{}
}

type unconfiguredClient struct{}

func (unconfiguredClient) Complete(context.Context, string) (string, error) {
	return "", errors.New("completion client not configured")
}

// Patch is a full-content replacement for one file, plus the commit message
// describing it.
type Patch struct {
	File          string
	Content       string
	CommitMessage string
}

// Generator produces patches for classified fix candidates.
type Generator struct {
	client CompletionClient
	logger *zap.Logger
}

// NewGenerator creates a fix generator. The completion client is required.
func NewGenerator(client CompletionClient, logger *zap.Logger) (*Generator, error) {
	if client == nil {
		return nil, fmt.Errorf("completion client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{client: client, logger: logger}, nil
}

// Generate asks the completion client for a repaired version of the file
// and validates the response before reporting success.
//
// Failure modes:
//   - ErrGenerationFailed: the client errored or returned an empty response
//   - ErrInvalidPatch: the response does not apply as valid file content
func (g *Generator) Generate(ctx context.Context, cand analyzer.Candidate, fileContent string) (*Patch, error) {
	raw, err := g.client.Complete(ctx, buildPrompt(cand, fileContent))
	if err != nil {
		g.logger.Warn("completion call failed",
			zap.String("file", cand.File),
			zap.String("bug_type", string(cand.BugType)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	content, err := validate(raw)
	if err != nil {
		g.logger.Warn("generated patch rejected",
			zap.String("file", cand.File),
			zap.Error(err),
		)
		return nil, err
	}

	return &Patch{
		File:          cand.File,
		Content:       content,
		CommitMessage: fmt.Sprintf("Fix %s in %s", cand.BugType, cand.File),
	}, nil
}

// buildPrompt renders the structured input for the completion collaborator.
func buildPrompt(cand analyzer.Candidate, fileContent string) string {
	var b strings.Builder
	b.WriteString("You are a code fixer. Fix the following bug in the file content provided.\n\n")
	fmt.Fprintf(&b, "Bug type: %s\n", cand.BugType)
	fmt.Fprintf(&b, "Error: %s\n", cand.ErrorText)
	fmt.Fprintf(&b, "File: %s\n", cand.File)
	if cand.Line > 0 {
		fmt.Fprintf(&b, "Line number: %d\n", cand.Line)
	}
	fmt.Fprintf(&b, "Context:\n%s\n\n", cand.Context)
	fmt.Fprintf(&b, "Current file content:\n```\n%s\n```\n\n", fileContent)
	b.WriteString("Return ONLY the fixed file content with no explanation or markdown fences.")
	return b.String()
}

// validate checks the raw completion output and normalizes it into file
// content. Models occasionally wrap the file in markdown fences despite
// instructions, so fences are stripped before the shape checks.
func validate(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) < 3 {
			return "", fmt.Errorf("%w: fenced response without body", ErrInvalidPatch)
		}
		last := len(lines) - 1
		for last > 0 && strings.TrimSpace(lines[last]) == "" {
			last--
		}
		if strings.TrimSpace(lines[last]) != "```" {
			return "", fmt.Errorf("%w: unterminated markdown fence", ErrInvalidPatch)
		}
		content = strings.Join(lines[1:last], "\n")
	}

	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: empty file content", ErrInvalidPatch)
	}
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidPatch)
	}

	// Replacement content always carries a trailing newline.
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content, nil
}
