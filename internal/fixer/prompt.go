package fixer

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/mendd/internal/controller"
)

// buildPrompt asks for a complete corrected file so the patch can be applied
// by plain file replacement. Diff application is far more fragile across
// model families.
func buildPrompt(failure controller.Failure, source string) string {
	var b strings.Builder
	b.WriteString("You are fixing a failing automated test in a source repository.\n\n")
	fmt.Fprintf(&b, "Failure category: %s\n", failure.BugType)
	fmt.Fprintf(&b, "File: %s\n", failure.File)
	if failure.Line > 0 {
		fmt.Fprintf(&b, "Reported line: %d\n", failure.Line)
	}
	fmt.Fprintf(&b, "Failure message:\n%s\n\n", failure.Message)

	if source == "" {
		b.WriteString("The file does not exist yet. Write its full contents so the test passes.\n")
	} else {
		b.WriteString("Current file contents:\n```\n")
		b.WriteString(source)
		b.WriteString("\n```\n\n")
		b.WriteString("Return the COMPLETE corrected file.\n")
	}
	b.WriteString("Respond with a single fenced code block containing only the file contents. No commentary.")
	return b.String()
}

// extractCode pulls the contents of the first fenced code block from a model
// response, tolerating a language tag after the opening fence. A response
// with no fence is returned as-is when it looks like bare code.
func extractCode(resp string) string {
	resp = strings.TrimSpace(resp)
	start := strings.Index(resp, "```")
	if start == -1 {
		return resp
	}

	rest := resp[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		// Drop the language tag line.
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimRight(rest[:end], "\n")
}
