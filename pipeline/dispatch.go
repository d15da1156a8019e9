package pipeline

import (
	"context"

	"github.com/ByteMirror/clawdcommit/agent"
	"github.com/ByteMirror/clawdcommit/diff"
	"github.com/ByteMirror/clawdcommit/log"
	"github.com/ByteMirror/clawdcommit/prompt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Dispatch picks the strategy for files. Change sets of at least
// ParallelFileThreshold files go through MapReduce and fall back to a
// single call when it fails; smaller ones use the single call directly. A
// cancelled map/reduce run never falls back.
func (p *Pipeline) Dispatch(ctx context.Context, files []diff.FileDiff, rawDiff, history string) Result {
	if len(files) >= p.Settings.ParallelFileThreshold {
		res := p.MapReduce(ctx, files, history)
		switch {
		case res.Status == StatusSucceeded, res.Status == StatusCancelled:
			return res
		case ctx.Err() != nil:
			return cancelled
		}
		log.InfoLog.Printf("map/reduce failed for %d files, falling back to a single call", len(files))
		p.report(ProgressEvent{Message: "Falling back to single-call generation..."})
	}
	return p.SingleCall(ctx, files, rawDiff, history)
}

// SingleCall sends the whole staged diff, and optionally the staged content
// of every non-binary, non-deleted file, to one agent.
func (p *Pipeline) SingleCall(ctx context.Context, files []diff.FileDiff, rawDiff, history string) Result {
	ctx, span := tracer.Start(ctx, "pipeline.single_call", trace.WithAttributes(attribute.Int("files.total", len(files))))
	defer span.End()

	var contents []prompt.FileContent
	if p.Settings.IncludeFileContext {
		contents = p.fetchAll(ctx, files)
	}

	out, err := p.Invoker.Run(ctx, agent.Request{
		Instruction: prompt.SingleCallInstruction(),
		Context:     prompt.SingleCallContext(rawDiff, history, contents),
		Dir:         p.Dir,
		Model:       p.Settings.SingleCallModel,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return runFailed(ctx)
	}
	return succeeded(out)
}

// fetchAll loads staged content for every eligible file at once. Files whose
// fetch fails are left out.
func (p *Pipeline) fetchAll(ctx context.Context, files []diff.FileDiff) []prompt.FileContent {
	slots := make([]*string, len(files))
	var g errgroup.Group
	for i, f := range files {
		if f.IsBinary || f.IsDeleted() {
			continue
		}
		g.Go(func() error {
			slots[i] = p.fetch(ctx, f.FilePath)
			return nil
		})
	}
	_ = g.Wait()

	var contents []prompt.FileContent
	for i, content := range slots {
		if content != nil {
			contents = append(contents, prompt.FileContent{FilePath: files[i].FilePath, Content: *content})
		}
	}
	return contents
}
