package pipeline

// ProgressEvent is one progress update. Increment is a percentage of the
// whole run; zero leaves the bar where it is.
type ProgressEvent struct {
	Increment float64
	Message   string
}

// ProgressSink receives progress events. Report may be called from several
// goroutines at once.
type ProgressSink interface {
	Report(ev ProgressEvent)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ev ProgressEvent)

func (f ProgressFunc) Report(ev ProgressEvent) { f(ev) }

// NopProgress drops every event.
var NopProgress ProgressSink = ProgressFunc(func(ProgressEvent) {})

const (
	// analysisShare is the percentage spread over the per-file analyses.
	analysisShare = 70
	// synthesisShare is reported once the synthesis call returns.
	synthesisShare = 30
)
