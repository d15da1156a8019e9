// Package ui renders progress and messages for the command line.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ByteMirror/clawdcommit/pipeline"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	defaultWidth = 80
	barWidth     = 20
	// messagePrefix marks every user-facing message.
	messagePrefix = "Claude Commit: "
)

// Terminal writes progress and error reports to one stream, usually stderr.
// On a TTY the progress line is redrawn in place; otherwise every new
// message is printed on its own line without colour. It is safe for
// concurrent use and implements pipeline.ProgressSink and
// agent.ErrorReporter.
type Terminal struct {
	mu sync.Mutex

	out     io.Writer
	tty     bool
	width   int
	profile termenv.Profile

	errorStyle   lipgloss.Style
	warningStyle lipgloss.Style
	successStyle lipgloss.Style
	dimStyle     lipgloss.Style

	percent  float64
	message  string
	drawn    bool
	progress bool
}

// NewTerminal creates a Terminal for out, detecting whether it is a TTY.
func NewTerminal(out io.Writer) *Terminal {
	tty, width := false, defaultWidth
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			width = w
		}
	}

	profile := termenv.Ascii
	if tty && !termenv.EnvNoColor() {
		profile = termenv.NewOutput(out).EnvColorProfile()
	}
	return newTerminal(out, tty, width, profile)
}

func newTerminal(out io.Writer, tty bool, width int, profile termenv.Profile) *Terminal {
	r := lipgloss.NewRenderer(out)
	r.SetColorProfile(profile)
	return &Terminal{
		out:          out,
		tty:          tty,
		width:        width,
		profile:      profile,
		errorStyle:   r.NewStyle().Foreground(lipgloss.Color("#E06C75")).Bold(true),
		warningStyle: r.NewStyle().Foreground(lipgloss.Color("#E5C07B")).Bold(true),
		successStyle: r.NewStyle().Foreground(lipgloss.Color("#98C379")).Bold(true),
		dimStyle:     r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}),
	}
}

// Report applies a progress event and redraws the progress line.
func (t *Terminal) Report(ev pipeline.ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.progress = true
	t.percent = min(100, t.percent+ev.Increment)
	changed := ev.Message != "" && ev.Message != t.message
	if ev.Message != "" {
		t.message = ev.Message
	}

	if t.tty {
		fmt.Fprint(t.out, "\r\033[K"+t.progressLine())
		t.drawn = true
		return
	}
	if changed {
		fmt.Fprintln(t.out, t.progressLine())
	}
}

// Start shows the initial progress line.
func (t *Terminal) Start(message string) {
	t.Report(pipeline.ProgressEvent{Message: message})
}

// Done clears the progress line so later output starts on a fresh line.
func (t *Terminal) Done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLine()
	t.percent, t.message, t.progress = 0, "", false
}

// ReportError shows an error message.
func (t *Terminal) ReportError(message string) {
	t.printMessage(t.errorStyle.Render("✗ "+messagePrefix) + message)
}

// Warn shows a warning message.
func (t *Terminal) Warn(message string) {
	t.printMessage(t.warningStyle.Render("! "+messagePrefix) + message)
}

// Success shows a confirmation message.
func (t *Terminal) Success(message string) {
	t.printMessage(t.successStyle.Render("✓ ") + message)
}

func (t *Terminal) printMessage(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clearLine()
	fmt.Fprintln(t.out, line)
	if t.tty && t.progress {
		fmt.Fprint(t.out, t.progressLine())
		t.drawn = true
	}
}

// clearLine removes a drawn progress line. Callers hold t.mu.
func (t *Terminal) clearLine() {
	if t.drawn {
		fmt.Fprint(t.out, "\r\033[K")
		t.drawn = false
	}
}

// progressLine renders "<bar> NN% message", truncated to the terminal width.
// Without a TTY the bar is replaced by a bracketed percentage.
func (t *Terminal) progressLine() string {
	pct := fmt.Sprintf("%3.0f%%", t.percent)

	var head string
	if t.tty {
		head = progressBar(t.profile, barWidth, t.percent) + " " + pct
	} else {
		head = "[" + pct + "]"
	}
	headWidth := lipgloss.Width(head)

	msg := t.message
	if avail := t.width - headWidth - 2; avail > 0 {
		msg = runewidth.Truncate(msg, avail, "…")
	}
	if msg == "" {
		return head
	}
	return head + " " + t.dimStyle.Render(msg)
}
