package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ByteMirror/clawdcommit/commands"
	"github.com/ByteMirror/clawdcommit/diff"
	"github.com/ByteMirror/clawdcommit/git"
	"github.com/ByteMirror/clawdcommit/pipeline"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// stagedFileView is the JSON shape of one staged file.
type stagedFileView struct {
	Path    string `json:"path"`
	OldPath string `json:"old_path,omitempty"`
	Status  string `json:"status"`
	Binary  bool   `json:"binary,omitempty"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

func repoPath(req gomcp.CallToolRequest, defaultDir string) string {
	if p := strings.TrimSpace(req.GetString("repo_path", "")); p != "" {
		return p
	}
	return defaultDir
}

// handleGetStagedChanges lists the staged files without running any agent.
func handleGetStagedChanges(defaultDir string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		dir := repoPath(req, defaultDir)
		Log("tool call: get_staged_changes (repo=%s)", dir)

		repo, err := git.Open(dir)
		if err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}
		raw, err := repo.StagedDiff(ctx)
		if err != nil {
			return gomcp.NewToolResultError("Failed to get staged diff: " + err.Error()), nil
		}
		files := diff.ParseUnifiedDiff(raw)
		if len(files) == 0 {
			return gomcp.NewToolResultText(commands.ErrNoStagedChanges.Error()), nil
		}

		views := make([]stagedFileView, 0, len(files))
		for _, f := range files {
			views = append(views, stagedFileView{
				Path:    f.FilePath,
				OldPath: f.OldPath,
				Status:  string(f.Status),
				Binary:  f.IsBinary,
				Added:   f.Added,
				Removed: f.Removed,
			})
		}
		data, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return gomcp.NewToolResultError("failed to marshal staged changes: " + err.Error()), nil
		}
		return gomcp.NewToolResultText(string(data)), nil
	}
}

// handleGenerateCommitMessage runs the generator with the request context,
// so a cancelled request stops the agents.
func handleGenerateCommitMessage(generate GenerateFunc, defaultDir string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		dir := repoPath(req, defaultDir)
		doCommit := req.GetBool("commit", false)
		Log("tool call: generate_commit_message (repo=%s, commit=%v)", dir, doCommit)

		reports := &reportCollector{}
		gen, err := generate(ctx, commands.GenerateOptions{
			Dir:      dir,
			Progress: newProgressNotifier(ctx, req),
			Reporter: reports,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				Log("generate_commit_message cancelled: %v", err)
				return gomcp.NewToolResultError("Commit message generation was cancelled."), nil
			}
			Log("generate_commit_message failed: %v", err)
			return gomcp.NewToolResultError(reports.withCause(err)), nil
		}

		if !doCommit {
			return gomcp.NewToolResultText(gen.Message), nil
		}
		summary, err := gen.Repo.Commit(ctx, gen.Message)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Generated message:\n%s\n\n%v", gen.Message, err)), nil
		}
		return gomcp.NewToolResultText(gen.Message + "\n\n" + summary), nil
	}
}

// reportCollector keeps agent error reports so they can be returned to the
// client instead of being shown on a terminal.
type reportCollector struct {
	mu       sync.Mutex
	messages []string
}

func (r *reportCollector) ReportError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *reportCollector) withCause(err error) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return err.Error()
	}
	return err.Error() + ": " + strings.Join(r.messages, "; ")
}

// progressNotifier forwards pipeline progress as MCP progress notifications
// when the client asked for them with a progress token.
type progressNotifier struct {
	ctx    context.Context
	server *mcpserver.MCPServer
	token  gomcp.ProgressToken

	mu      sync.Mutex
	percent float64
}

func newProgressNotifier(ctx context.Context, req gomcp.CallToolRequest) pipeline.ProgressSink {
	srv := mcpserver.ServerFromContext(ctx)
	if srv == nil || req.Params.Meta == nil || req.Params.Meta.ProgressToken == nil {
		return pipeline.NopProgress
	}
	return &progressNotifier{ctx: ctx, server: srv, token: req.Params.Meta.ProgressToken}
}

func (p *progressNotifier) Report(ev pipeline.ProgressEvent) {
	p.mu.Lock()
	p.percent = min(100, p.percent+ev.Increment)
	params := map[string]any{
		"progressToken": p.token,
		"progress":      p.percent,
		"total":         100,
	}
	if ev.Message != "" {
		params["message"] = ev.Message
	}
	p.mu.Unlock()

	if err := p.server.SendNotificationToClient(p.ctx, "notifications/progress", params); err != nil {
		Log("failed to send progress notification: %v", err)
	}
}
