// Package prompt builds the instruction and stdin context handed to each
// agent call.
package prompt

import (
	"fmt"
	"strings"
)

// Analysis is one file's analysis produced by the map phase.
type Analysis struct {
	FilePath string
	Text     string
}

// FileContent is the staged content of one file.
type FileContent struct {
	FilePath string
	Content  string
}

const (
	conventionalStyle = "Follow conventional commit style if the recent commit history uses it, otherwise match the existing style."
	outputOnly        = "Output ONLY the commit message text. No explanations, no markdown formatting, no code fences."
	subjectLine       = "Keep the subject line under 72 characters. If the changes warrant a body, add it after a blank line."
)

// AnalysisInstruction is the instruction given to every per-file agent.
func AnalysisInstruction() string {
	return strings.Join([]string{
		"You are analyzing the staged changes to a single file, provided via stdin, as input for a commit message.",
		"Describe in a few short lines:",
		"WHAT changed (functions, types, behavior),",
		"WHY it likely changed (bug fix, new capability, cleanup),",
		"TYPE of change (feat, fix, refactor, docs, test, chore, perf, style, build, ci).",
		"Be factual and terse. Do not write a commit message.",
	}, "\n")
}

// AnalysisContext is the stdin payload for one per-file agent. content is
// the staged file content, or nil when unavailable.
func AnalysisContext(filePath, rawDiff string, content *string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== FILE: %s ===\n\n", filePath)
	sb.WriteString("=== DIFF ===\n")
	sb.WriteString(rawDiff)
	sb.WriteString("\n\n=== STAGED FILE CONTENT ===\n")
	if content != nil {
		sb.WriteString(*content)
	} else {
		sb.WriteString("(not available)")
	}
	return sb.String()
}

// SynthesisInstruction is the instruction for the agent that turns the
// per-file analyses into one commit message.
func SynthesisInstruction() string {
	return strings.Join([]string{
		"Generate a single git commit message from the per-file analyses provided via stdin.",
		"Use conventional commit format if the recent commit history uses conventional commit style, otherwise match the existing style.",
		"Write a subject line that captures the overall intent of the change set, not a list of files.",
		outputOnly,
		subjectLine,
	}, "\n")
}

// SynthesisContext is the stdin payload for the synthesis agent.
func SynthesisContext(analyses []Analysis, binaryFiles []string, log string) string {
	var sb strings.Builder
	sb.WriteString("=== PER-FILE ANALYSES ===\n")
	for _, a := range analyses {
		fmt.Fprintf(&sb, "\n--- %s ---\n%s\n", a.FilePath, a.Text)
	}

	sb.WriteString("\n=== BINARY FILES CHANGED ===\n")
	if len(binaryFiles) == 0 {
		sb.WriteString("(none)\n")
	} else {
		for _, f := range binaryFiles {
			sb.WriteString(f)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n=== RECENT COMMITS ===\n")
	if strings.TrimSpace(log) == "" {
		sb.WriteString("(no history)\n")
	} else {
		sb.WriteString(strings.TrimRight(log, "\n"))
		sb.WriteString("\n")
	}

	sb.WriteString("\n=== SUMMARY ===\n")
	fmt.Fprintf(&sb, "%d files analyzed, %d binary files changed\n", len(analyses), len(binaryFiles))
	return sb.String()
}

// SingleCallInstruction is the instruction used when one agent sees the
// whole staged diff.
func SingleCallInstruction() string {
	return strings.Join([]string{
		"Generate a concise git commit message for the staged changes provided via stdin.",
		"Use conventional commit format when the history does. " + conventionalStyle,
		outputOnly,
		subjectLine,
	}, "\n")
}

// SingleCallContext is the stdin payload for the single-call path. Files
// and log are optional.
func SingleCallContext(rawDiff, log string, files []FileContent) string {
	var sb strings.Builder
	sb.WriteString("=== STAGED DIFF ===\n")
	sb.WriteString(rawDiff)

	if len(files) > 0 {
		sb.WriteString("\n\n=== FULL FILE CONTENTS ===\n")
		for _, f := range files {
			fmt.Fprintf(&sb, "\n--- %s ---\n%s\n", f.FilePath, f.Content)
		}
	}

	if strings.TrimSpace(log) != "" {
		sb.WriteString("\n\n=== RECENT COMMITS ===\n")
		sb.WriteString(log)
	}
	return sb.String()
}
