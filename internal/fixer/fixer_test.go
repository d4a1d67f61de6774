package fixer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cifixd/internal/analyzer"
	"github.com/fyrsmithlabs/cifixd/internal/job"
)

// completionFunc adapts a function to the CompletionClient interface.
type completionFunc func(ctx context.Context, prompt string) (string, error)

func (f completionFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func testCandidate() analyzer.Candidate {
	return analyzer.Candidate{
		File:      "src/calc.py",
		Line:      14,
		BugType:   job.BugTypeError,
		ErrorText: "TypeError: unsupported operand type(s)",
		Context:   "E  TypeError: unsupported operand type(s)",
	}
}

func TestNewGenerator(t *testing.T) {
	t.Run("nil client rejected", func(t *testing.T) {
		_, err := NewGenerator(nil, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("nil logger tolerated", func(t *testing.T) {
		g, err := NewGenerator(Unconfigured(), nil)
		require.NoError(t, err)
		assert.NotNil(t, g)
	})
}

func TestGenerate(t *testing.T) {
	t.Run("valid response becomes a patch", func(t *testing.T) {
		client := completionFunc(func(ctx context.Context, prompt string) (string, error) {
			assert.Contains(t, prompt, "src/calc.py")
			assert.Contains(t, prompt, "TypeError")
			return "def divide(a, b):\n    return a / b\n", nil
		})
		g, err := NewGenerator(client, zap.NewNop())
		require.NoError(t, err)

		patch, err := g.Generate(context.Background(), testCandidate(), "def divide(a, b):\n    return a - b\n")
		require.NoError(t, err)
		assert.Equal(t, "src/calc.py", patch.File)
		assert.Equal(t, "def divide(a, b):\n    return a / b\n", patch.Content)
		assert.Equal(t, "Fix type-error in src/calc.py", patch.CommitMessage)
	})

	t.Run("markdown fences are stripped", func(t *testing.T) {
		client := completionFunc(func(context.Context, string) (string, error) {
			return "```python\nx = 1\n```", nil
		})
		g, err := NewGenerator(client, zap.NewNop())
		require.NoError(t, err)

		patch, err := g.Generate(context.Background(), testCandidate(), "x = ?")
		require.NoError(t, err)
		assert.Equal(t, "x = 1\n", patch.Content)
	})

	t.Run("client error maps to ErrGenerationFailed", func(t *testing.T) {
		client := completionFunc(func(context.Context, string) (string, error) {
			return "", errors.New("upstream unavailable")
		})
		g, err := NewGenerator(client, zap.NewNop())
		require.NoError(t, err)

		_, err = g.Generate(context.Background(), testCandidate(), "x = 1")
		assert.ErrorIs(t, err, ErrGenerationFailed)
	})

	t.Run("empty response maps to ErrGenerationFailed", func(t *testing.T) {
		client := completionFunc(func(context.Context, string) (string, error) {
			return "   \n", nil
		})
		g, err := NewGenerator(client, zap.NewNop())
		require.NoError(t, err)

		_, err = g.Generate(context.Background(), testCandidate(), "x = 1")
		assert.ErrorIs(t, err, ErrGenerationFailed)
	})

	t.Run("unterminated fence maps to ErrInvalidPatch", func(t *testing.T) {
		client := completionFunc(func(context.Context, string) (string, error) {
			return "```python\nx = 1\nstill going", nil
		})
		g, err := NewGenerator(client, zap.NewNop())
		require.NoError(t, err)

		_, err = g.Generate(context.Background(), testCandidate(), "x = ?")
		assert.ErrorIs(t, err, ErrInvalidPatch)
	})

	t.Run("fence with empty body maps to ErrInvalidPatch", func(t *testing.T) {
		client := completionFunc(func(context.Context, string) (string, error) {
			return "```\n```", nil
		})
		g, err := NewGenerator(client, zap.NewNop())
		require.NoError(t, err)

		_, err = g.Generate(context.Background(), testCandidate(), "x = ?")
		assert.ErrorIs(t, err, ErrInvalidPatch)
	})

	t.Run("trailing newline is ensured", func(t *testing.T) {
		client := completionFunc(func(context.Context, string) (string, error) {
			return "x = 1", nil
		})
		g, err := NewGenerator(client, zap.NewNop())
		require.NoError(t, err)

		patch, err := g.Generate(context.Background(), testCandidate(), "x = ?")
		require.NoError(t, err)
		assert.Equal(t, "x = 1\n", patch.Content)
	})
}

func TestUnconfigured(t *testing.T) {
	_, err := Unconfigured().Complete(context.Background(), "prompt")
	assert.Error(t, err)
}
