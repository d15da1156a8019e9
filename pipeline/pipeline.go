// Package pipeline turns a parsed staged diff into a commit message, either
// with one agent call or with per-file analysis agents followed by a
// synthesis agent.
package pipeline

import (
	"context"

	"github.com/ByteMirror/clawdcommit/agent"
	"github.com/ByteMirror/clawdcommit/config"
	"github.com/ByteMirror/clawdcommit/log"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/ByteMirror/clawdcommit/pipeline")

// Status is how a pipeline run ended.
type Status int

const (
	// StatusFailed means no message was produced and the caller may fall back.
	StatusFailed Status = iota
	// StatusSucceeded means Text holds the agent's message.
	StatusSucceeded
	// StatusCancelled means the context was done; no fallback should run.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the outcome of a pipeline run.
type Result struct {
	Status Status
	// Text is the raw agent output, set only for StatusSucceeded.
	Text string
}

func succeeded(text string) Result { return Result{Status: StatusSucceeded, Text: text} }

var (
	failed    = Result{Status: StatusFailed}
	cancelled = Result{Status: StatusCancelled}
)

// Invoker runs a single agent call. *agent.Runner implements it.
type Invoker interface {
	Run(ctx context.Context, req agent.Request) (string, error)
}

// ContentFetcher returns the staged content of path, or false when it is
// unavailable.
type ContentFetcher func(ctx context.Context, path string) (string, bool)

// Settings are the knobs a run reads from configuration.
type Settings struct {
	AnalysisModel         string
	SynthesisModel        string
	SingleCallModel       string
	ParallelFileThreshold int
	MaxConcurrentAgents   int
	IncludeFileContext    bool
}

// SettingsFromConfig copies the pipeline settings out of cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		AnalysisModel:         cfg.AnalysisModel,
		SynthesisModel:        cfg.SynthesisModel,
		SingleCallModel:       cfg.SingleCallModel,
		ParallelFileThreshold: cfg.ParallelFileThreshold,
		MaxConcurrentAgents:   cfg.MaxConcurrentAgents,
		IncludeFileContext:    cfg.IncludeFileContext,
	}
}

// Pipeline holds the collaborators of a run.
type Pipeline struct {
	Invoker Invoker
	// Fetch is consulted only when Settings.IncludeFileContext is set. Nil
	// means no content is ever available.
	Fetch    ContentFetcher
	Progress ProgressSink
	// Dir is the working directory of every agent call.
	Dir      string
	Settings Settings
}

// New creates a Pipeline. A nil progress sink drops every event.
func New(invoker Invoker, fetch ContentFetcher, progress ProgressSink, dir string, settings Settings) *Pipeline {
	if progress == nil {
		progress = NopProgress
	}
	return &Pipeline{
		Invoker:  invoker,
		Fetch:    fetch,
		Progress: progress,
		Dir:      dir,
		Settings: settings,
	}
}

func (p *Pipeline) report(ev ProgressEvent) {
	if p.Progress == nil {
		return
	}
	p.Progress.Report(ev)
}

func (p *Pipeline) fetch(ctx context.Context, path string) *string {
	if p.Fetch == nil || ctx.Err() != nil {
		return nil
	}
	content, ok := p.Fetch(ctx, path)
	if !ok {
		log.DebugLog.Printf("pipeline: no staged content for %s", path)
		return nil
	}
	return &content
}

// runFailed maps a failed agent call onto the run result.
func runFailed(ctx context.Context) Result {
	if ctx.Err() != nil {
		return cancelled
	}
	return failed
}
