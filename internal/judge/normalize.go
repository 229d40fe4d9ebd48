// Package judge compares program output against expected output and drives
// a submission through its test cases to a final verdict.
package judge

import (
	"fmt"
	"strings"
)

// Normalize canonicalizes output for comparison: trim the whole buffer,
// strip trailing whitespace per line, drop empty trailing lines, rejoin
// with single newlines. Judged programs routinely emit an extra trailing
// newline, so comparison is tolerant by default.
func Normalize(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// Compare reports whether actual matches expected. In strict mode the
// comparison is byte-exact with no normalization.
func Compare(actual, expected string, strict bool) bool {
	if strict {
		return actual == expected
	}
	return Normalize(actual) == Normalize(expected)
}

const excerptLimit = 500

// ComparisonDetail carries a mismatch report with bounded excerpts. Used
// for error messages only; it never affects correctness.
type ComparisonDetail struct {
	Match    bool
	Message  string
	Actual   string
	Expected string
}

// CompareDetailed is Compare plus a truncated excerpt report on mismatch.
func CompareDetailed(actual, expected string, strict bool) ComparisonDetail {
	if Compare(actual, expected, strict) {
		return ComparisonDetail{Match: true}
	}
	return ComparisonDetail{
		Match:    false,
		Message:  "Output does not match expected",
		Actual:   truncate(actual, excerptLimit),
		Expected: truncate(expected, excerptLimit),
	}
}

// FormatDiff compares the first maxLines lines of each side and renders
// every divergent line pair; matching lines are omitted. Display-only.
func FormatDiff(actual, expected string, maxLines int) string {
	actualLines := strings.Split(actual, "\n")
	expectedLines := strings.Split(expected, "\n")
	truncated := len(actualLines) > maxLines || len(expectedLines) > maxLines
	if len(actualLines) > maxLines {
		actualLines = actualLines[:maxLines]
	}
	if len(expectedLines) > maxLines {
		expectedLines = expectedLines[:maxLines]
	}

	n := len(actualLines)
	if len(expectedLines) > n {
		n = len(expectedLines)
	}

	var diff []string
	for i := 0; i < n; i++ {
		actualLine := "<missing>"
		expectedLine := "<missing>"
		if i < len(actualLines) {
			actualLine = actualLines[i]
		}
		if i < len(expectedLines) {
			expectedLine = expectedLines[i]
		}
		if actualLine != expectedLine {
			diff = append(diff, fmt.Sprintf("Line %d:", i+1))
			diff = append(diff, fmt.Sprintf("  Expected: %q", expectedLine))
			diff = append(diff, fmt.Sprintf("  Actual:   %q", actualLine))
		}
	}
	if truncated {
		diff = append(diff, fmt.Sprintf("... (truncated, showing first %d lines)", maxLines))
	}
	return strings.Join(diff, "\n")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
