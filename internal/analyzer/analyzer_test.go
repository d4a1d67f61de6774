package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cifixd/internal/job"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want job.BugType
	}{
		{"indentation error", "IndentationError: unexpected indent", job.BugIndentation},
		{"import error", "ImportError: cannot import name 'foo'", job.BugImport},
		{"missing module", "ModuleNotFoundError: No module named 'requests'", job.BugImport},
		{"type error", "TypeError: unsupported operand type(s)", job.BugTypeError},
		{"attribute error", "AttributeError: 'NoneType' object has no attribute 'x'", job.BugTypeError},
		{"syntax error", "SyntaxError: invalid syntax", job.BugSyntax},
		{"flake8 finding", "flake8 E501 line too long", job.BugLinting},
		{"plain assertion falls through to logic", "AssertionError: assert 2 == 3", job.BugLogic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text))
		})
	}

	t.Run("specific signature wins over generic syntax", func(t *testing.T) {
		text := "SyntaxError while importing\nImportError: No module named 'calc'"
		assert.Equal(t, job.BugImport, Classify(text))
	})

	t.Run("indentation wins over syntax", func(t *testing.T) {
		text := "SyntaxError\nIndentationError: unexpected indent"
		assert.Equal(t, job.BugIndentation, Classify(text))
	})
}

func TestParse(t *testing.T) {
	t.Run("single failure with matching location", func(t *testing.T) {
		output := strings.Join([]string{
			"=================================== FAILURES ===================================",
			"tests/test_app.py:7: IndentationError",
			"FAILED tests/test_app.py::test_handler",
			"=========================== 1 failed in 0.05s =============================",
		}, "\n")

		got := Parse(output)
		require.Len(t, got, 1)
		assert.Equal(t, "tests/test_app.py", got[0].File)
		assert.Equal(t, 7, got[0].Line)
		assert.Equal(t, job.BugIndentation, got[0].BugType)
		assert.Equal(t, "IndentationError", got[0].ErrorText)
		assert.Contains(t, got[0].Context, "FAILED tests/test_app.py")
	})

	t.Run("error detail line used when no location matches", func(t *testing.T) {
		output := strings.Join([]string{
			"    def test_divide():",
			">       assert divide(4, 2) == 2",
			"E       TypeError: unsupported operand type(s)",
			"",
			"FAILED tests/test_calc.py::test_divide",
		}, "\n")

		got := Parse(output)
		require.Len(t, got, 1)
		assert.Equal(t, "tests/test_calc.py", got[0].File)
		assert.Zero(t, got[0].Line)
		assert.Equal(t, job.BugTypeError, got[0].BugType)
		assert.Equal(t, "TypeError: unsupported operand type(s)", got[0].ErrorText)
	})

	t.Run("one candidate per file, sorted by path", func(t *testing.T) {
		output := strings.Join([]string{
			"FAILED tests/z_test.py::test_one",
			"FAILED tests/a_test.py::test_two",
			"FAILED tests/z_test.py::test_three",
		}, "\n")

		got := Parse(output)
		require.Len(t, got, 2)
		assert.Equal(t, "tests/a_test.py", got[0].File)
		assert.Equal(t, "tests/z_test.py", got[1].File)
	})

	t.Run("no failures yields nothing", func(t *testing.T) {
		assert.Empty(t, Parse("=== 12 passed in 0.3s ==="))
	})

	t.Run("identical input yields identical candidates", func(t *testing.T) {
		output := "FAILED tests/b.py::t\nFAILED tests/a.py::t"
		assert.Equal(t, Parse(output), Parse(output))
	})
}

func TestCountTests(t *testing.T) {
	t.Run("summary with both counts", func(t *testing.T) {
		passing, failing := CountTests("=== 3 passed, 2 failed in 0.12s ===")
		assert.Equal(t, 3, passing)
		assert.Equal(t, 2, failing)
	})

	t.Run("all passing", func(t *testing.T) {
		passing, failing := CountTests("=== 12 passed in 1.03s ===")
		assert.Equal(t, 12, passing)
		assert.Zero(t, failing)
	})

	t.Run("no summary", func(t *testing.T) {
		passing, failing := CountTests("collection error")
		assert.Zero(t, passing)
		assert.Zero(t, failing)
	})
}
