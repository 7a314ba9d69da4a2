package fixer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/mendd/internal/controller"
	"github.com/fyrsmithlabs/mendd/internal/run"
)

// fakeModel implements llms.Model with a canned response.
type fakeModel struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				f.prompts = append(f.prompts, text.Text)
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.response}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func syntaxFailure(file string) controller.Failure {
	return controller.Failure{
		File:    file,
		Line:    3,
		BugType: run.BugSyntax,
		Message: "SyntaxError: invalid syntax",
	}
}

func TestNewService_RequiresAPIKey(t *testing.T) {
	_, err := NewService(&Config{}, nil)
	assert.Error(t, err)
}

func TestPropose_RewritesFile(t *testing.T) {
	dir := t.TempDir()
	original := "def add(a, b)\n    return a + b\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte(original), 0o644))

	model := &fakeModel{response: "```python\ndef add(a, b):\n    return a + b\n```"}
	svc := NewServiceWithModel(nil, model, nil)

	fix, err := svc.Propose(context.Background(), dir, syntaxFailure("app.py"))
	require.NoError(t, err)
	assert.Equal(t, "app.py", fix.File)
	assert.False(t, fix.Created)
	assert.Contains(t, fix.Detail, "SYNTAX")

	patched, err := os.ReadFile(filepath.Join(dir, "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "def add(a, b):\n    return a + b", string(patched))

	// The prompt carries the failure context and the current source.
	require.NotEmpty(t, model.prompts)
	assert.Contains(t, model.prompts[0], "SyntaxError: invalid syntax")
	assert.Contains(t, model.prompts[0], original)
}

func TestPropose_CreatesMissingFile(t *testing.T) {
	dir := t.TempDir()
	model := &fakeModel{response: "```\nexport const x = 1\n```"}
	svc := NewServiceWithModel(nil, model, nil)

	fix, err := svc.Propose(context.Background(), dir, syntaxFailure("src/util.js"))
	require.NoError(t, err)
	assert.True(t, fix.Created)

	_, err = os.Stat(filepath.Join(dir, "src", "util.js"))
	require.NoError(t, err)
}

func TestPropose_Rejections(t *testing.T) {
	t.Run("path escaping the working copy", func(t *testing.T) {
		svc := NewServiceWithModel(nil, &fakeModel{response: "x"}, nil)

		_, err := svc.Propose(context.Background(), t.TempDir(), syntaxFailure("../etc/passwd"))
		assert.Error(t, err)

		_, err = svc.Propose(context.Background(), t.TempDir(), syntaxFailure("/etc/passwd"))
		assert.Error(t, err)
	})

	t.Run("model failure is transient", func(t *testing.T) {
		svc := NewServiceWithModel(nil, &fakeModel{err: errors.New("rate limited")}, nil)

		_, err := svc.Propose(context.Background(), t.TempDir(), syntaxFailure("app.py"))
		require.Error(t, err)
		assert.True(t, controller.IsTransient(err))
	})

	t.Run("empty patch", func(t *testing.T) {
		svc := NewServiceWithModel(nil, &fakeModel{response: "```\n```"}, nil)

		_, err := svc.Propose(context.Background(), t.TempDir(), syntaxFailure("app.py"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no usable patch")
	})

	t.Run("identical patch", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("same"), 0o644))
		svc := NewServiceWithModel(nil, &fakeModel{response: "```\nsame\n```"}, nil)

		_, err := svc.Propose(context.Background(), dir, syntaxFailure("app.py"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "identical")
	})
}
