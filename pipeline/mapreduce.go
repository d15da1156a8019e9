package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync/atomic"

	"github.com/ByteMirror/clawdcommit/agent"
	"github.com/ByteMirror/clawdcommit/concurrency"
	"github.com/ByteMirror/clawdcommit/diff"
	"github.com/ByteMirror/clawdcommit/log"
	"github.com/ByteMirror/clawdcommit/prompt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MapReduce analyzes every non-binary file with its own agent, at most
// MaxConcurrentAgents at a time, then asks one synthesis agent for the
// message.
//
// It returns StatusFailed when there is nothing to analyze, when no analysis
// survived, or when synthesis fails; StatusCancelled as soon as ctx is done
// between phases or synthesis fails after cancellation.
func (p *Pipeline) MapReduce(ctx context.Context, files []diff.FileDiff, history string) Result {
	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "pipeline.map_reduce", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("files.total", len(files)),
	))
	defer span.End()

	res := p.mapReduce(ctx, runID, files, history)
	span.SetAttributes(attribute.String("result.status", res.Status.String()))
	if res.Status != StatusSucceeded {
		span.SetStatus(codes.Error, res.Status.String())
	}
	log.InfoLog.Printf("pipeline %s: map/reduce %s", runID, res.Status)
	return res
}

func (p *Pipeline) mapReduce(ctx context.Context, runID string, files []diff.FileDiff, history string) Result {
	var analyzable []diff.FileDiff
	var binary []string
	for _, f := range files {
		if f.IsBinary {
			binary = append(binary, f.FilePath)
		} else {
			analyzable = append(analyzable, f)
		}
	}
	if len(analyzable) == 0 {
		log.InfoLog.Printf("pipeline %s: no analyzable files (%d binary)", runID, len(binary))
		return failed
	}

	contents := make([]*string, len(analyzable))
	if p.Settings.IncludeFileContext {
		contents = p.prefetch(ctx, runID, analyzable)
	}
	if ctx.Err() != nil {
		return cancelled
	}

	analyses := p.analyze(ctx, runID, analyzable, contents)
	if ctx.Err() != nil {
		return cancelled
	}
	if len(analyses) == 0 {
		log.WarningLog.Printf("pipeline %s: every analysis failed", runID)
		return failed
	}

	return p.synthesize(ctx, runID, analyses, binary, history)
}

// prefetch loads the staged content of every analyzable file. Deleted files
// and failed fetches get nil.
func (p *Pipeline) prefetch(ctx context.Context, runID string, files []diff.FileDiff) []*string {
	ctx, span := tracer.Start(ctx, "pipeline.prefetch", trace.WithAttributes(attribute.Int("files", len(files))))
	defer span.End()

	outcomes := concurrency.Map(ctx, files, p.Settings.MaxConcurrentAgents, func(ctx context.Context, f diff.FileDiff, _ int) (*string, error) {
		if f.IsDeleted() {
			return nil, nil
		}
		return p.fetch(ctx, f.FilePath), nil
	})

	contents := make([]*string, len(files))
	found := 0
	for i, o := range outcomes {
		if v, ok := o.OK(); ok && v != nil {
			contents[i] = v
			found++
		}
	}
	span.SetAttributes(attribute.Int("files.with_content", found))
	log.DebugLog.Printf("pipeline %s: prefetched content for %d of %d files", runID, found, len(files))
	return contents
}

func (p *Pipeline) analyze(ctx context.Context, runID string, files []diff.FileDiff, contents []*string) []prompt.Analysis {
	ctx, span := tracer.Start(ctx, "pipeline.analyze", trace.WithAttributes(
		attribute.Int("files", len(files)),
		attribute.Int("concurrency", p.Settings.MaxConcurrentAgents),
	))
	defer span.End()

	n := len(files)
	instruction := prompt.AnalysisInstruction()
	var completed atomic.Int64

	outcomes := concurrency.Map(ctx, files, p.Settings.MaxConcurrentAgents, func(ctx context.Context, f diff.FileDiff, i int) (*prompt.Analysis, error) {
		out, err := p.Invoker.Run(ctx, agent.Request{
			Instruction: instruction,
			Context:     prompt.AnalysisContext(f.FilePath, f.RawDiff, contents[i]),
			Dir:         p.Dir,
			Model:       p.Settings.AnalysisModel,
			Silent:      true,
		})

		k := completed.Add(1)
		p.report(ProgressEvent{
			Increment: analysisShare / float64(n),
			Message:   fmt.Sprintf("Analyzing file %d of %d: %s...", k, n, path.Base(f.FilePath)),
		})

		if err != nil {
			if ctx.Err() != nil {
				// Cancelled calls are dropped, not counted as failures.
				return nil, nil
			}
			log.WarningLog.Printf("pipeline %s: analysis of %s failed: %v", runID, f.FilePath, err)
			return &prompt.Analysis{
				FilePath: f.FilePath,
				Text:     "[Analysis unavailable] Changes in " + f.FilePath,
			}, nil
		}
		return &prompt.Analysis{FilePath: f.FilePath, Text: strings.TrimSpace(out)}, nil
	})

	analyses := make([]prompt.Analysis, 0, n)
	for _, a := range concurrency.Values(outcomes) {
		if a != nil {
			analyses = append(analyses, *a)
		}
	}
	span.SetAttributes(attribute.Int("analyses", len(analyses)))
	log.InfoLog.Printf("pipeline %s: %d of %d analyses collected", runID, len(analyses), n)
	return analyses
}

func (p *Pipeline) synthesize(ctx context.Context, runID string, analyses []prompt.Analysis, binary []string, history string) Result {
	ctx, span := tracer.Start(ctx, "pipeline.synthesize", trace.WithAttributes(
		attribute.Int("analyses", len(analyses)),
		attribute.Int("binary_files", len(binary)),
	))
	defer span.End()

	p.report(ProgressEvent{Message: "Synthesizing commit message..."})
	out, err := p.Invoker.Run(ctx, agent.Request{
		Instruction: prompt.SynthesisInstruction(),
		Context:     prompt.SynthesisContext(analyses, binary, history),
		Dir:         p.Dir,
		Model:       p.Settings.SynthesisModel,
	})
	p.report(ProgressEvent{Increment: synthesisShare})

	if err != nil {
		span.RecordError(err)
		log.WarningLog.Printf("pipeline %s: synthesis failed: %v", runID, err)
		return runFailed(ctx)
	}
	return succeeded(out)
}
