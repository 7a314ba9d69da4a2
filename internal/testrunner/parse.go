package testrunner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/mendd/internal/controller"
	"github.com/fyrsmithlabs/mendd/internal/run"
)

// Output line patterns per framework. Parsing is deliberately loose: the fix
// adapter only needs a file, an approximate line, and the failure text.
var (
	// go test: "    main_test.go:42: got 3, want 4"
	goFailLine = regexp.MustCompile(`^\s*([\w./\-]+_test\.go):(\d+):\s*(.*)$`)

	// pytest short tb: "path/test_x.py:12: AssertionError" and
	// summary lines "FAILED path/test_x.py::test_name - AssertionError: ..."
	pytestFailLine    = regexp.MustCompile(`^([\w./\-]+\.py):(\d+):\s*(.*)$`)
	pytestSummaryLine = regexp.MustCompile(`^FAILED\s+([\w./\-]+\.py)::\S+(?:\s+-\s+(.*))?$`)

	// jest/vitest/mocha stack frames: "at Object.<anonymous> (src/x.test.js:7:15)"
	jsStackFrame = regexp.MustCompile(`\(([\w./\-]+\.(?:js|ts|jsx|tsx)):(\d+):\d+\)`)
)

// ParseFailures extracts structured failures from raw test output. Lines
// that match no pattern are ignored; duplicate file:line pairs collapse to
// the first occurrence.
func ParseFailures(framework, output string) []controller.Failure {
	var failures []controller.Failure
	seen := map[string]struct{}{}

	add := func(file string, line int, msg string) {
		key := file + ":" + strconv.Itoa(line)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		failures = append(failures, controller.Failure{
			File:    file,
			Line:    line,
			BugType: ClassifyBug(msg),
			Message: strings.TrimSpace(msg),
		})
	}

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimRight(raw, "\r")
		switch framework {
		case FrameworkGo:
			if m := goFailLine.FindStringSubmatch(line); m != nil {
				n, _ := strconv.Atoi(m[2])
				add(m[1], n, m[3])
			}
		case FrameworkPytest:
			if m := pytestFailLine.FindStringSubmatch(line); m != nil {
				n, _ := strconv.Atoi(m[2])
				add(m[1], n, m[3])
			} else if m := pytestSummaryLine.FindStringSubmatch(line); m != nil {
				add(m[1], 0, m[2])
			}
		case FrameworkJest, FrameworkVitest, FrameworkMocha:
			if m := jsStackFrame.FindStringSubmatch(line); m != nil {
				n, _ := strconv.Atoi(m[2])
				add(m[1], n, line)
			}
		}
	}
	return failures
}

// ClassifyBug buckets a failure message into the fix-record taxonomy by
// keyword. Unrecognized failures default to LOGIC.
func ClassifyBug(msg string) run.BugType {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "syntaxerror") || strings.Contains(lower, "syntax error") ||
		strings.Contains(lower, "unexpected token"):
		return run.BugSyntax
	case strings.Contains(lower, "importerror") || strings.Contains(lower, "modulenotfounderror") ||
		strings.Contains(lower, "cannot find module") || strings.Contains(lower, "undefined:"):
		return run.BugImport
	case strings.Contains(lower, "typeerror") || strings.Contains(lower, "type error") ||
		strings.Contains(lower, "mismatched types"):
		return run.BugTypeError
	case strings.Contains(lower, "indentationerror") || strings.Contains(lower, "taberror"):
		return run.BugIndentation
	case strings.Contains(lower, "lint"):
		return run.BugLinting
	case strings.Contains(lower, "config") || strings.Contains(lower, "collection error"):
		return run.BugConfig
	default:
		return run.BugLogic
	}
}
