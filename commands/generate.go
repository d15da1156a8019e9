// Package commands implements the user-facing operations behind the CLI and
// the MCP server.
package commands

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ByteMirror/clawdcommit/agent"
	"github.com/ByteMirror/clawdcommit/config"
	"github.com/ByteMirror/clawdcommit/diff"
	"github.com/ByteMirror/clawdcommit/git"
	"github.com/ByteMirror/clawdcommit/log"
	"github.com/ByteMirror/clawdcommit/pipeline"
)

// HistoryCount is how many recent commits are shown to the agents.
const HistoryCount = 5

var (
	// ErrNoStagedChanges is returned when the index matches HEAD.
	ErrNoStagedChanges = errors.New("No staged changes found. Stage some changes first.")
	// ErrEmptyResponse is returned when the agent answered with nothing usable.
	ErrEmptyResponse = errors.New("Claude returned an empty response.")
	// ErrGenerationFailed is returned when every strategy failed.
	ErrGenerationFailed = errors.New("failed to generate commit message")
)

// GenerateOptions configures a Generate call. Only Dir is required.
type GenerateOptions struct {
	// Dir is any directory inside the repository.
	Dir string
	// Config replaces the configuration loaded for the repository.
	Config *config.Config
	// Override is applied on top of the loaded configuration.
	Override func(cfg *config.Config)
	Progress pipeline.ProgressSink
	Reporter agent.ErrorReporter
	// Invoker replaces the agent runner built from the configuration.
	Invoker pipeline.Invoker
}

// Generation is a produced commit message and the repository it belongs to.
type Generation struct {
	Message string
	Repo    *git.Repo
	Files   []diff.FileDiff
}

// Generate writes a commit message for the changes staged in the repository
// containing opts.Dir. It returns context.Canceled (or the ctx error) when
// ctx is done before a message was produced.
func Generate(ctx context.Context, opts GenerateOptions) (*Generation, error) {
	repo, err := git.Open(opts.Dir)
	if err != nil {
		return nil, err
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.LoadForRepo(repo.Root())
	}
	if opts.Override != nil {
		opts.Override(cfg)
	}
	cfg.Validate()

	rawDiff, err := repo.StagedDiff(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("Failed to get staged diff: %w", err)
	}
	if strings.TrimSpace(rawDiff) == "" {
		return nil, ErrNoStagedChanges
	}

	history, err := repo.RecentCommitLog(HistoryCount)
	if err != nil {
		// A repository without commits has no history to show.
		log.DebugLog.Printf("no commit history: %v", err)
		history = ""
	}

	files := diff.ParseUnifiedDiff(rawDiff)
	log.InfoLog.Printf("generating commit message for %d staged files in %s", len(files), repo.Root())

	invoker := opts.Invoker
	if invoker == nil {
		invoker = agent.NewRunner(cfg.Program, opts.Reporter)
	}
	p := pipeline.New(invoker, repo.StagedFileContent, opts.Progress, repo.Root(), pipeline.SettingsFromConfig(cfg))

	res := p.Dispatch(ctx, files, rawDiff, history)
	switch res.Status {
	case pipeline.StatusCancelled:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, context.Canceled
	case pipeline.StatusFailed:
		return nil, ErrGenerationFailed
	}

	message := StripCodeFences(strings.TrimSpace(res.Text))
	if message == "" {
		return nil, ErrEmptyResponse
	}
	return &Generation{Message: message, Repo: repo, Files: files}, nil
}

var fenceRegex = regexp.MustCompile("(?s)^```\\w*\\n(.*?)\\n```$")

// StripCodeFences unwraps text that is entirely one fenced code block.
func StripCodeFences(text string) string {
	if m := fenceRegex.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}
