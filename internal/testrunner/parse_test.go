package testrunner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mendd/internal/run"
)

func TestParseFailures_Go(t *testing.T) {
	output := `--- FAIL: TestAdd (0.00s)
    math_test.go:42: got 3, want 4
    math_test.go:42: duplicate line is collapsed
    math_test.go:57: undefined: helper
FAIL`

	failures := ParseFailures(FrameworkGo, output)
	require.Len(t, failures, 2)

	assert.Equal(t, "math_test.go", failures[0].File)
	assert.Equal(t, 42, failures[0].Line)
	assert.Equal(t, "got 3, want 4", failures[0].Message)
	assert.Equal(t, run.BugLogic, failures[0].BugType)

	assert.Equal(t, 57, failures[1].Line)
	assert.Equal(t, run.BugImport, failures[1].BugType)
}

func TestParseFailures_Pytest(t *testing.T) {
	output := `tests/test_app.py:12: AssertionError
E   SyntaxError: invalid syntax
FAILED tests/test_other.py::test_import - ModuleNotFoundError: No module named 'foo'`

	failures := ParseFailures(FrameworkPytest, output)
	require.Len(t, failures, 2)

	assert.Equal(t, "tests/test_app.py", failures[0].File)
	assert.Equal(t, 12, failures[0].Line)

	assert.Equal(t, "tests/test_other.py", failures[1].File)
	assert.Equal(t, 0, failures[1].Line)
	assert.Equal(t, run.BugImport, failures[1].BugType)
}

func TestParseFailures_JSStackFrames(t *testing.T) {
	output := `FAIL src/app.test.js
  ● adds numbers
    TypeError: Cannot read properties of undefined
      at Object.<anonymous> (src/app.test.js:7:15)
      at processTicksAndRejections (node:internal/process/task_queues:95:5)`

	failures := ParseFailures(FrameworkJest, output)
	require.Len(t, failures, 1)
	assert.Equal(t, "src/app.test.js", failures[0].File)
	assert.Equal(t, 7, failures[0].Line)
	assert.Equal(t, run.BugTypeError, failures[0].BugType)
}

func TestParseFailures_NoMatches(t *testing.T) {
	assert.Empty(t, ParseFailures(FrameworkGo, "ok  \texample.com/app\t0.01s"))
	assert.Empty(t, ParseFailures(FrameworkPytest, ""))
}

func TestClassifyBug(t *testing.T) {
	tests := []struct {
		msg  string
		want run.BugType
	}{
		{"SyntaxError: invalid syntax", run.BugSyntax},
		{"Unexpected token '}'", run.BugSyntax},
		{"ModuleNotFoundError: No module named 'requests'", run.BugImport},
		{"Cannot find module './util'", run.BugImport},
		{"undefined: helperFunc", run.BugImport},
		{"TypeError: unsupported operand", run.BugTypeError},
		{"mismatched types int and string", run.BugTypeError},
		{"IndentationError: unexpected indent", run.BugIndentation},
		{"eslint: no-unused-vars", run.BugLinting},
		{"collection error in conftest", run.BugConfig},
		{"assert 3 == 4", run.BugLogic},
		{"", run.BugLogic},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyBug(tt.msg), "message %q", tt.msg)
	}
}
