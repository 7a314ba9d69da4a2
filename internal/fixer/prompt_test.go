package fixer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/mendd/internal/controller"
	"github.com/fyrsmithlabs/mendd/internal/run"
)

func TestBuildPrompt(t *testing.T) {
	failure := controller.Failure{
		File:    "app.py",
		Line:    7,
		BugType: run.BugImport,
		Message: "ModuleNotFoundError: No module named 'foo'",
	}

	t.Run("existing file includes source", func(t *testing.T) {
		prompt := buildPrompt(failure, "import foo\n")

		assert.Contains(t, prompt, "IMPORT")
		assert.Contains(t, prompt, "app.py")
		assert.Contains(t, prompt, "Reported line: 7")
		assert.Contains(t, prompt, "import foo")
		assert.Contains(t, prompt, "COMPLETE corrected file")
	})

	t.Run("missing file asks for full contents", func(t *testing.T) {
		prompt := buildPrompt(failure, "")
		assert.Contains(t, prompt, "does not exist yet")
	})

	t.Run("zero line is omitted", func(t *testing.T) {
		f := failure
		f.Line = 0
		assert.NotContains(t, buildPrompt(f, "x"), "Reported line")
	})
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"fenced with language tag", "```python\nprint('hi')\n```", "print('hi')"},
		{"fenced without tag", "```\nprint('hi')\n```", "print('hi')"},
		{"leading commentary before fence", "Here you go:\n```go\npackage main\n```", "package main"},
		{"unterminated fence", "```\nprint('hi')", "print('hi')"},
		{"bare code without fences", "print('hi')", "print('hi')"},
		{"empty response", "", ""},
		{"preserves interior blank lines", "```\na\n\nb\n```", "a\n\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractCode(tt.in))
		})
	}
}
