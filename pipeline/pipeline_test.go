package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	stdlog "log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ByteMirror/clawdcommit/agent"
	"github.com/ByteMirror/clawdcommit/config"
	"github.com/ByteMirror/clawdcommit/diff"
	"github.com/ByteMirror/clawdcommit/log"
	"github.com/ByteMirror/clawdcommit/prompt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var spanRecorder = tracetest.NewSpanRecorder()

func TestMain(m *testing.M) {
	log.Initialize(false)
	defer log.Close()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder)))
	os.Exit(m.Run())
}

var errAgent = errors.New("agent failed")

// fakeInvoker records every request and answers with handle. Like the real
// runner it refuses to start once ctx is done.
type fakeInvoker struct {
	mu       sync.Mutex
	requests []agent.Request
	handle   func(ctx context.Context, req agent.Request) (string, error)

	running, peak atomic.Int32
}

func (f *fakeInvoker) Run(ctx context.Context, req agent.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.handle == nil {
		return defaultAnswer(req), nil
	}
	return f.handle(ctx, req)
}

func (f *fakeInvoker) Requests() []agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Request(nil), f.requests...)
}

func (f *fakeInvoker) count(instruction string) int {
	n := 0
	for _, r := range f.Requests() {
		if r.Instruction == instruction {
			n++
		}
	}
	return n
}

func isAnalysis(req agent.Request) bool  { return req.Instruction == prompt.AnalysisInstruction() }
func isSynthesis(req agent.Request) bool { return req.Instruction == prompt.SynthesisInstruction() }

func defaultAnswer(req agent.Request) string {
	switch {
	case isAnalysis(req):
		return "  analysis of " + fileOf(req.Context) + "\n"
	case isSynthesis(req):
		return "feat: synthesized\n"
	default:
		return "fix: single call\n"
	}
}

// fileOf extracts the path from an analysis context.
func fileOf(context string) string {
	line, _, _ := strings.Cut(context, "\n")
	return strings.TrimSuffix(strings.TrimPrefix(line, "=== FILE: "), " ===")
}

type recordingProgress struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *recordingProgress) Report(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingProgress) Events() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProgressEvent(nil), r.events...)
}

func (r *recordingProgress) hasMessage(msg string) bool {
	for _, ev := range r.Events() {
		if ev.Message == msg {
			return true
		}
	}
	return false
}

func textFile(path string) diff.FileDiff {
	return diff.FileDiff{
		FilePath: path,
		RawDiff:  fmt.Sprintf("diff --git a/%s b/%s\n+line in %s\n", path, path, path),
		Status:   diff.StatusModified,
		Added:    1,
	}
}

func binaryFile(path string) diff.FileDiff {
	return diff.FileDiff{FilePath: path, Status: diff.StatusModified, IsBinary: true,
		RawDiff: fmt.Sprintf("diff --git a/%s b/%s\nBinary files differ\n", path, path)}
}

func deletedFile(path string) diff.FileDiff {
	f := textFile(path)
	f.Status = diff.StatusDeleted
	return f
}

func testSettings() Settings {
	return Settings{
		AnalysisModel:         "haiku",
		SynthesisModel:        "sonnet",
		SingleCallModel:       "opus",
		ParallelFileThreshold: 3,
		MaxConcurrentAgents:   2,
	}
}

func newTestPipeline(inv Invoker, fetch ContentFetcher, settings Settings) (*Pipeline, *recordingProgress) {
	progress := &recordingProgress{}
	return New(inv, fetch, progress, "/repo", settings), progress
}

func TestDispatchBelowThresholdUsesSingleCall(t *testing.T) {
	inv := &fakeInvoker{}
	p, progress := newTestPipeline(inv, nil, testSettings())

	res := p.Dispatch(context.Background(), []diff.FileDiff{textFile("a.go"), textFile("b.go")}, "RAW DIFF", "abc1234 init")

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, "fix: single call\n", res.Text)
	reqs := inv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, prompt.SingleCallInstruction(), reqs[0].Instruction)
	assert.Equal(t, "opus", reqs[0].Model)
	assert.Equal(t, "/repo", reqs[0].Dir)
	assert.False(t, reqs[0].Silent)
	assert.Contains(t, reqs[0].Context, "=== STAGED DIFF ===\nRAW DIFF")
	assert.Contains(t, reqs[0].Context, "abc1234 init")
	assert.Empty(t, progress.Events())
}

func TestDispatchAtThresholdUsesMapReduce(t *testing.T) {
	inv := &fakeInvoker{}
	p, progress := newTestPipeline(inv, nil, testSettings())
	files := []diff.FileDiff{textFile("src/a.go"), textFile("src/b.go"), textFile("c.md"), binaryFile("logo.png")}

	res := p.Dispatch(context.Background(), files, "RAW", "abc1234 init")

	require.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, "feat: synthesized\n", res.Text)
	assert.Equal(t, 3, inv.count(prompt.AnalysisInstruction()))
	assert.Equal(t, 1, inv.count(prompt.SynthesisInstruction()))
	assert.Equal(t, 0, inv.count(prompt.SingleCallInstruction()))

	for _, r := range inv.Requests() {
		switch {
		case isAnalysis(r):
			assert.Equal(t, "haiku", r.Model)
			assert.True(t, r.Silent)
			assert.Contains(t, r.Context, "(not available)")
		case isSynthesis(r):
			assert.Equal(t, "sonnet", r.Model)
			assert.False(t, r.Silent)
			assert.Contains(t, r.Context, "--- src/a.go ---\nanalysis of src/a.go\n")
			assert.Contains(t, r.Context, "=== BINARY FILES CHANGED ===\nlogo.png\n")
			assert.Contains(t, r.Context, "=== RECENT COMMITS ===\nabc1234 init\n")
			assert.Contains(t, r.Context, "3 files analyzed, 1 binary files changed")
		}
	}

	events := progress.Events()
	require.Len(t, events, 5)
	var total float64
	var messages []string
	for _, ev := range events[:3] {
		assert.InDelta(t, 70.0/3, ev.Increment, 1e-9)
		messages = append(messages, ev.Message)
		total += ev.Increment
	}
	sort.Strings(messages)
	for k, msg := range messages {
		assert.True(t, strings.HasPrefix(msg, fmt.Sprintf("Analyzing file %d of 3: ", k+1)), msg)
		assert.True(t, strings.HasSuffix(msg, "..."), msg)
	}
	assert.Equal(t, ProgressEvent{Message: "Synthesizing commit message..."}, events[3])
	assert.Equal(t, ProgressEvent{Increment: 30}, events[4])
	total += events[4].Increment
	assert.InDelta(t, 100, total, 1e-9)
}

func TestAnalysisProgressUsesBaseName(t *testing.T) {
	inv := &fakeInvoker{}
	p, progress := newTestPipeline(inv, nil, testSettings())

	res := p.MapReduce(context.Background(), []diff.FileDiff{textFile("deep/nested/dir/file.go")}, "")

	require.Equal(t, StatusSucceeded, res.Status)
	assert.True(t, progress.hasMessage("Analyzing file 1 of 1: file.go..."))
}

func TestMapReduceRespectsConcurrencyLimit(t *testing.T) {
	inv := &fakeInvoker{}
	settings := testSettings()
	settings.MaxConcurrentAgents = 2
	p, _ := newTestPipeline(inv, nil, settings)

	var files []diff.FileDiff
	for i := 0; i < 10; i++ {
		files = append(files, textFile(fmt.Sprintf("f%d.go", i)))
	}
	release := make(chan struct{})
	inv.handle = func(ctx context.Context, req agent.Request) (string, error) {
		if isAnalysis(req) {
			<-release
		}
		return defaultAnswer(req), nil
	}
	go func() {
		for i := 0; i < len(files); i++ {
			release <- struct{}{}
		}
	}()

	res := p.MapReduce(context.Background(), files, "")

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.LessOrEqual(t, int(inv.peak.Load()), 2)
	assert.Equal(t, 10, inv.count(prompt.AnalysisInstruction()))
}

func TestMapReduceOnlyBinaryFilesFails(t *testing.T) {
	inv := &fakeInvoker{}
	p, _ := newTestPipeline(inv, nil, testSettings())

	res := p.MapReduce(context.Background(), []diff.FileDiff{binaryFile("a.png"), binaryFile("b.png")}, "")

	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, inv.Requests())
}

func TestMapReduceFailedAnalysisBecomesPlaceholder(t *testing.T) {
	inv := &fakeInvoker{handle: func(_ context.Context, req agent.Request) (string, error) {
		if isAnalysis(req) && fileOf(req.Context) == "b.go" {
			return "", errAgent
		}
		return defaultAnswer(req), nil
	}}
	p, _ := newTestPipeline(inv, nil, testSettings())

	files := []diff.FileDiff{textFile("a.go"), binaryFile("img.png"), textFile("b.go")}
	res := p.MapReduce(context.Background(), files, "")

	require.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 1, inv.count(prompt.SynthesisInstruction()))
	var synth agent.Request
	for _, r := range inv.Requests() {
		if isSynthesis(r) {
			synth = r
		}
	}
	assert.Contains(t, synth.Context, "--- b.go ---\n[Analysis unavailable] Changes in b.go\n")
	assert.Contains(t, synth.Context, "--- a.go ---\nanalysis of a.go\n")
	assert.Less(t, strings.Index(synth.Context, "--- a.go ---"), strings.Index(synth.Context, "--- b.go ---"))
	assert.Contains(t, synth.Context, "=== BINARY FILES CHANGED ===\nimg.png\n\n")
	assert.NotContains(t, synth.Context, "--- img.png ---")
}

func TestMapReduceEveryAnalysisFailingStillSynthesizes(t *testing.T) {
	inv := &fakeInvoker{handle: func(_ context.Context, req agent.Request) (string, error) {
		if isAnalysis(req) {
			return "", errAgent
		}
		return defaultAnswer(req), nil
	}}
	p, _ := newTestPipeline(inv, nil, testSettings())

	res := p.MapReduce(context.Background(), []diff.FileDiff{textFile("a.go"), textFile("b.go")}, "")

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 1, inv.count(prompt.SynthesisInstruction()))
}

func TestDispatchFallsBackWhenSynthesisFails(t *testing.T) {
	inv := &fakeInvoker{handle: func(_ context.Context, req agent.Request) (string, error) {
		if isSynthesis(req) {
			return "", errAgent
		}
		return defaultAnswer(req), nil
	}}
	p, progress := newTestPipeline(inv, nil, testSettings())
	files := []diff.FileDiff{textFile("a.go"), textFile("b.go"), textFile("c.go")}

	res := p.Dispatch(context.Background(), files, "RAW", "")

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, "fix: single call\n", res.Text)
	assert.Equal(t, 1, inv.count(prompt.SingleCallInstruction()))
	assert.True(t, progress.hasMessage("Falling back to single-call generation..."))
}

func TestDispatchFallsBackWhenNothingAnalyzable(t *testing.T) {
	inv := &fakeInvoker{}
	p, progress := newTestPipeline(inv, nil, testSettings())
	files := []diff.FileDiff{binaryFile("a.png"), binaryFile("b.png"), binaryFile("c.png")}

	res := p.Dispatch(context.Background(), files, "RAW", "")

	assert.Equal(t, StatusSucceeded, res.Status)
	reqs := inv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, prompt.SingleCallInstruction(), reqs[0].Instruction)
	assert.True(t, progress.hasMessage("Falling back to single-call generation..."))
}

func TestDispatchSingleCallFailure(t *testing.T) {
	inv := &fakeInvoker{handle: func(context.Context, agent.Request) (string, error) { return "", errAgent }}
	p, _ := newTestPipeline(inv, nil, testSettings())

	res := p.Dispatch(context.Background(), []diff.FileDiff{textFile("a.go")}, "RAW", "")

	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, res.Text)
}

func TestDispatchCancelledDuringAnalysisNeverFallsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	inv := &fakeInvoker{handle: func(ctx context.Context, req agent.Request) (string, error) {
		if isAnalysis(req) {
			once.Do(cancel)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return defaultAnswer(req), nil
	}}
	p, progress := newTestPipeline(inv, nil, testSettings())
	files := []diff.FileDiff{textFile("a.go"), textFile("b.go"), textFile("c.go"), textFile("d.go"), textFile("e.go")}

	var errLog bytes.Buffer
	saved := log.ErrorLog
	log.ErrorLog = stdlog.New(&errLog, "", 0)
	defer func() { log.ErrorLog = saved }()

	res := p.Dispatch(ctx, files, "RAW", "")

	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, 0, inv.count(prompt.SynthesisInstruction()))
	assert.Equal(t, 0, inv.count(prompt.SingleCallInstruction()))
	assert.LessOrEqual(t, inv.count(prompt.AnalysisInstruction()), 2)
	assert.False(t, progress.hasMessage("Falling back to single-call generation..."))
	assert.False(t, progress.hasMessage("Synthesizing commit message..."))
	assert.Empty(t, errLog.String(), "cancelled analyses are not task failures")
}

func TestMapReduceSynthesisFailureAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &fakeInvoker{handle: func(_ context.Context, req agent.Request) (string, error) {
		if isSynthesis(req) {
			cancel()
			return "", context.Canceled
		}
		return defaultAnswer(req), nil
	}}
	p, progress := newTestPipeline(inv, nil, testSettings())

	res := p.MapReduce(ctx, []diff.FileDiff{textFile("a.go")}, "")

	assert.Equal(t, StatusCancelled, res.Status)
	events := progress.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, ProgressEvent{Increment: 30}, events[len(events)-1])
}

func TestAlreadyCancelledMakesNoCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, includeContent := range []bool{false, true} {
		var fetches atomic.Int32
		fetch := func(context.Context, string) (string, bool) {
			fetches.Add(1)
			return "content", true
		}
		inv := &fakeInvoker{}
		settings := testSettings()
		settings.IncludeFileContext = includeContent
		p, _ := newTestPipeline(inv, fetch, settings)
		files := []diff.FileDiff{textFile("a.go"), textFile("b.go"), textFile("c.go")}

		assert.Equal(t, StatusCancelled, p.MapReduce(ctx, files, "").Status)
		assert.Equal(t, StatusCancelled, p.Dispatch(ctx, files, "RAW", "").Status)
		assert.Equal(t, StatusCancelled, p.SingleCall(ctx, files, "RAW", "").Status)
		assert.Empty(t, inv.Requests())
		assert.Zero(t, fetches.Load())
	}
}

func TestDispatchCancelledDuringPrefetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fetches atomic.Int32
	fetch := func(context.Context, string) (string, bool) {
		if fetches.Add(1) == 1 {
			cancel()
		}
		return "content", true
	}
	inv := &fakeInvoker{}
	settings := testSettings()
	settings.IncludeFileContext = true
	settings.MaxConcurrentAgents = 1
	p, progress := newTestPipeline(inv, fetch, settings)
	files := []diff.FileDiff{textFile("a.go"), textFile("b.go"), textFile("c.go"), textFile("d.go")}

	res := p.Dispatch(ctx, files, "RAW", "")

	assert.Equal(t, StatusCancelled, res.Status)
	assert.Empty(t, res.Text)
	assert.Empty(t, inv.Requests())
	assert.Equal(t, int32(1), fetches.Load())
	assert.False(t, progress.hasMessage("Falling back to single-call generation..."))
}

func TestMapReducePrefetchesContent(t *testing.T) {
	var mu sync.Mutex
	var fetched []string
	fetch := func(_ context.Context, path string) (string, bool) {
		mu.Lock()
		fetched = append(fetched, path)
		mu.Unlock()
		if path == "missing.go" {
			return "", false
		}
		return "CONTENT OF " + path, true
	}
	inv := &fakeInvoker{}
	settings := testSettings()
	settings.IncludeFileContext = true
	p, _ := newTestPipeline(inv, fetch, settings)

	files := []diff.FileDiff{textFile("a.go"), deletedFile("gone.go"), textFile("missing.go"), binaryFile("img.png")}
	res := p.MapReduce(context.Background(), files, "")
	require.Equal(t, StatusSucceeded, res.Status)

	mu.Lock()
	sort.Strings(fetched)
	assert.Equal(t, []string{"a.go", "missing.go"}, fetched)
	mu.Unlock()

	contexts := map[string]string{}
	for _, r := range inv.Requests() {
		if isAnalysis(r) {
			contexts[fileOf(r.Context)] = r.Context
		}
	}
	require.Len(t, contexts, 3)
	assert.Contains(t, contexts["a.go"], "=== STAGED FILE CONTENT ===\nCONTENT OF a.go")
	assert.Contains(t, contexts["gone.go"], "=== STAGED FILE CONTENT ===\n(not available)")
	assert.Contains(t, contexts["missing.go"], "=== STAGED FILE CONTENT ===\n(not available)")
}

func TestFileContextDisabledSkipsFetch(t *testing.T) {
	var fetches atomic.Int32
	fetch := func(context.Context, string) (string, bool) {
		fetches.Add(1)
		return "x", true
	}
	inv := &fakeInvoker{}
	p, _ := newTestPipeline(inv, fetch, testSettings())
	files := []diff.FileDiff{textFile("a.go"), textFile("b.go"), textFile("c.go")}

	assert.Equal(t, StatusSucceeded, p.Dispatch(context.Background(), files, "RAW", "").Status)
	assert.Equal(t, StatusSucceeded, p.SingleCall(context.Background(), files, "RAW", "").Status)
	assert.Zero(t, fetches.Load())
}

func TestSingleCallIncludesEligibleFileContents(t *testing.T) {
	fetch := func(_ context.Context, path string) (string, bool) {
		if path == "broken.go" {
			return "", false
		}
		return "BODY " + path, true
	}
	inv := &fakeInvoker{}
	settings := testSettings()
	settings.IncludeFileContext = true
	p, _ := newTestPipeline(inv, fetch, settings)

	files := []diff.FileDiff{textFile("a.go"), binaryFile("img.png"), deletedFile("gone.go"), textFile("broken.go"), textFile("z.go")}
	res := p.SingleCall(context.Background(), files, "RAW", "")
	require.Equal(t, StatusSucceeded, res.Status)

	reqs := inv.Requests()
	require.Len(t, reqs, 1)
	ctx := reqs[0].Context
	assert.Contains(t, ctx, "=== FULL FILE CONTENTS ===")
	assert.Contains(t, ctx, "--- a.go ---\nBODY a.go\n")
	assert.Contains(t, ctx, "--- z.go ---\nBODY z.go\n")
	assert.Less(t, strings.Index(ctx, "--- a.go ---"), strings.Index(ctx, "--- z.go ---"))
	assert.NotContains(t, ctx, "img.png ---")
	assert.NotContains(t, ctx, "gone.go ---")
	assert.NotContains(t, ctx, "broken.go ---")
}

func TestMapReduceRecordsPhaseSpans(t *testing.T) {
	inv := &fakeInvoker{}
	settings := testSettings()
	settings.IncludeFileContext = true
	p, _ := newTestPipeline(inv, func(context.Context, string) (string, bool) { return "", false }, settings)

	before := len(spanRecorder.Ended())
	res := p.MapReduce(context.Background(), []diff.FileDiff{textFile("a.go")}, "")
	require.Equal(t, StatusSucceeded, res.Status)

	names := map[string]bool{}
	for _, s := range spanRecorder.Ended()[before:] {
		names[s.Name()] = true
	}
	for _, want := range []string{"pipeline.map_reduce", "pipeline.prefetch", "pipeline.analyze", "pipeline.synthesize"} {
		assert.True(t, names[want], "missing span %s", want)
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxConcurrentAgents = 9
	s := SettingsFromConfig(cfg)

	assert.Equal(t, Settings{
		AnalysisModel:         "haiku",
		SynthesisModel:        "sonnet",
		SingleCallModel:       "sonnet",
		ParallelFileThreshold: 4,
		MaxConcurrentAgents:   9,
		IncludeFileContext:    true,
	}, s)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "succeeded", StatusSucceeded.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "cancelled", StatusCancelled.String())
	assert.Equal(t, "unknown", Status(9).String())
}
