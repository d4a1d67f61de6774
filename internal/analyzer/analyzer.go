// Package analyzer turns raw test failure output into typed fix candidates.
//
// Classification is pure pattern matching over the failure text: identical
// input always yields the identical candidate list, in the same order. No
// clock, no randomness.
package analyzer

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/cifixd/internal/job"
)

// Candidate is one classified, addressable problem location proposed for
// repair.
type Candidate struct {
	File      string
	Line      int
	BugType   job.BugType
	ErrorText string
	Context   string
}

var (
	// pytest failure markers: FAILED path/to/test.py::TestCase::test_method
	failedRe = regexp.MustCompile(`FAILED\s+([\w/\\.\-]+\.py)(?:::\S+)?`)

	// error locations: path/to/file.py:42: SomeError
	locationRe = regexp.MustCompile(`([\w/\\.\-]+\.py):(\d+):\s*(.*)`)

	// pytest assertion detail lines: "E   SomeError: message"
	errorLineRe = regexp.MustCompile(`(?m)^\s*E\s+(.+)`)

	passedRe = regexp.MustCompile(`(\d+) passed`)
	failRe   = regexp.MustCompile(`(\d+) failed`)
)

// contextBefore/contextAfter bound how far around a FAILED marker the
// analyzer looks for error details.
const (
	contextBefore = 20
	contextAfter  = 5
)

// Classify maps an error block to exactly one bug type. Specific signatures
// (indentation, import, type-checker) win over the generic syntax bucket;
// anything unmatched falls through to logic.
func Classify(errorText string) job.BugType {
	text := strings.ToLower(errorText)
	switch {
	case strings.Contains(text, "indentationerror"), strings.Contains(text, "unexpected indent"):
		return job.BugIndentation
	case strings.Contains(text, "importerror"), strings.Contains(text, "modulenotfounderror"), strings.Contains(text, "no module named"):
		return job.BugImport
	case strings.Contains(text, "typeerror"), strings.Contains(text, "attributeerror"):
		return job.BugTypeError
	case strings.Contains(text, "syntaxerror"):
		return job.BugSyntax
	case strings.Contains(text, "flake8"), strings.Contains(text, "pylint"), strings.Contains(text, "e1"), strings.Contains(text, "w0"):
		return job.BugLinting
	default:
		return job.BugLogic
	}
}

// Parse extracts fix candidates from raw failure output. One candidate is
// produced per failing file; candidates are ordered by file path, then line
// number, so re-runs on identical input are reproducible.
func Parse(output string) []Candidate {
	lines := strings.Split(output, "\n")
	seen := make(map[string]bool)
	var candidates []Candidate

	for i, line := range lines {
		m := failedRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		file := m[1]
		if seen[file] {
			continue
		}
		seen[file] = true

		start := i - contextBefore
		if start < 0 {
			start = 0
		}
		end := i + contextAfter
		if end > len(lines) {
			end = len(lines)
		}
		block := strings.Join(lines[start:end], "\n")

		var lineNo int
		var errText string
		for _, ctx := range lines[start:end] {
			loc := locationRe.FindStringSubmatch(ctx)
			if loc == nil {
				continue
			}
			if loc[1] != file && loc[1] != strings.ReplaceAll(file, `\`, "/") {
				continue
			}
			if n, err := strconv.Atoi(loc[2]); err == nil {
				lineNo = n
			}
			errText = strings.TrimSpace(loc[3])
			break
		}
		if errText == "" {
			if e := errorLineRe.FindStringSubmatch(block); e != nil {
				errText = strings.TrimSpace(e[1])
			}
		}
		if errText == "" {
			errText = strings.TrimSpace(line)
		}

		candidates = append(candidates, Candidate{
			File:      file,
			Line:      lineNo,
			BugType:   Classify(block),
			ErrorText: errText,
			Context:   block,
		})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].File != candidates[b].File {
			return candidates[a].File < candidates[b].File
		}
		return candidates[a].Line < candidates[b].Line
	})
	return candidates
}

// CountTests extracts passing and failing totals from the summary line of
// the failure output. Missing counts read as zero.
func CountTests(output string) (passing, failing int) {
	if m := passedRe.FindStringSubmatch(output); m != nil {
		passing, _ = strconv.Atoi(m[1])
	}
	if m := failRe.FindStringSubmatch(output); m != nil {
		failing, _ = strconv.Atoi(m[1])
	}
	return passing, failing
}
