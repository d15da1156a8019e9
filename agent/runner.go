// Package agent runs one-shot `claude -p` invocations.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ByteMirror/clawdcommit/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NotFoundMessage is reported whenever the agent CLI cannot be launched
// because it is not installed. It is never silenced.
const NotFoundMessage = `"claude" CLI not found. Install Claude Code and ensure it is in your PATH.`

// DefaultWaitDelay is how long a process may keep running after it was sent
// SIGTERM on cancellation before it is killed.
const DefaultWaitDelay = 5 * time.Second

// ErrNotFound is returned when the agent executable does not exist.
var ErrNotFound = errors.New("agent CLI not found")

var tracer = otel.Tracer("github.com/ByteMirror/clawdcommit/agent")

// ExitError is returned when the agent exits with a non-zero code.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return msg
	}
	return fmt.Sprintf("Process exited with code %d", e.Code)
}

// ErrorReporter shows agent failures to the user.
type ErrorReporter interface {
	ReportError(message string)
}

// ReporterFunc adapts a function to ErrorReporter.
type ReporterFunc func(message string)

func (f ReporterFunc) ReportError(message string) { f(message) }

// Discard drops every report.
var Discard ErrorReporter = ReporterFunc(func(string) {})

// Request is a single agent call.
type Request struct {
	// Instruction is passed as the -p argument.
	Instruction string
	// Context is written to the agent's stdin.
	Context string
	// Dir is the working directory of the agent process.
	Dir string
	// Model is passed as --model when set.
	Model string
	// Silent suppresses error reports for ordinary failures. A missing CLI is
	// reported regardless.
	Silent bool
}

// Runner launches the agent CLI.
type Runner struct {
	// Program is the executable name or path, "claude" when empty.
	Program string
	// Reporter receives at most one message per failed call. Nil discards.
	Reporter ErrorReporter
	// WaitDelay bounds the wait for a cancelled process to exit.
	WaitDelay time.Duration

	terminate func(*os.Process) error
}

// NewRunner creates a Runner for program reporting failures to reporter.
func NewRunner(program string, reporter ErrorReporter) *Runner {
	return &Runner{Program: program, Reporter: reporter, WaitDelay: DefaultWaitDelay}
}

// Run starts the agent with req and returns its raw stdout once it exits
// with code 0.
//
// When ctx is done before the call, nothing is started. When ctx is done
// while the agent runs, the process is sent SIGTERM and Run returns the
// context error without reporting anything, whatever the exit code. A
// non-zero exit returns an *ExitError; a missing executable returns
// ErrNotFound.
func (r *Runner) Run(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ctx, span := tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.model", req.Model),
		attribute.Bool("agent.silent", req.Silent),
		attribute.Int("agent.context_bytes", len(req.Context)),
	))
	defer span.End()

	args := []string{"-p", req.Instruction}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.program(), args...)
	cmd.Dir = req.Dir
	cmd.Stdin = strings.NewReader(req.Context)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		log.InfoLog.Printf("agent: cancellation requested, terminating pid %d", cmd.Process.Pid)
		return r.terminateFunc()(cmd.Process)
	}
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	log.DebugLog.Printf("agent: starting %s (model=%q, %d bytes of context)", r.program(), req.Model, len(req.Context))
	if err := cmd.Start(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", r.launchFailed(span, err, req.Silent)
	}

	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		span.SetStatus(codes.Error, "cancelled")
		return "", ctxErr
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			failure := &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
			span.SetAttributes(attribute.Int("agent.exit_code", failure.Code))
			span.SetStatus(codes.Error, failure.Error())
			log.WarningLog.Printf("agent: exited with code %d: %s", failure.Code, failure.Error())
			r.report(failure.Error(), req.Silent)
			return "", failure
		}
		span.RecordError(waitErr)
		span.SetStatus(codes.Error, waitErr.Error())
		log.ErrorLog.Printf("agent: wait failed: %v", waitErr)
		r.report(fmt.Sprintf("Failed to run Claude CLI: %v", waitErr), req.Silent)
		return "", waitErr
	}

	span.SetAttributes(attribute.Int("agent.exit_code", 0), attribute.Int("agent.output_bytes", stdout.Len()))
	return stdout.String(), nil
}

func (r *Runner) launchFailed(span trace.Span, err error, silent bool) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		log.ErrorLog.Printf("agent: %s not found: %v", r.program(), err)
		r.report(NotFoundMessage, false)
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	log.ErrorLog.Printf("agent: failed to start %s: %v", r.program(), err)
	r.report(fmt.Sprintf("Failed to start Claude CLI: %v", err), silent)
	return fmt.Errorf("failed to start agent: %w", err)
}

func (r *Runner) report(message string, silent bool) {
	if silent || r.Reporter == nil {
		return
	}
	r.Reporter.ReportError(message)
}

func (r *Runner) program() string {
	if r.Program == "" {
		return "claude"
	}
	return r.Program
}

func (r *Runner) terminateFunc() func(*os.Process) error {
	if r.terminate != nil {
		return r.terminate
	}
	return terminateProcess
}
