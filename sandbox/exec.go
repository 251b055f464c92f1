// Package sandbox runs external commands for the agent under a sandbox
// policy, a wall-clock timeout, and the caller's cancellation.
//
// Every Run is bracketed by exactly one ExecCommandBegin event, sent before
// the process is spawned, and one ExecCommandEnd event sharing its call id,
// sent on every exit path including cancellation and spawn failure.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/telemetry"
	"github.com/martinemde/agentcore/truncate"
)

const (
	DefaultTimeout = 10 * time.Second
	MaxTimeout     = 10 * time.Minute

	// ExitCodeTimeout is reported when the timeout kills a command.
	ExitCodeTimeout = 124

	// ExitCodeAborted is reported for cancelled commands and spawn failures.
	ExitCodeAborted = -1

	// AbortedMessage is the synthetic stderr of a cancelled command.
	AbortedMessage = "command aborted by user"

	// maxCaptureBytes bounds each captured stream.
	maxCaptureBytes = 1 << 20

	waitDelay = 2 * time.Second
)

// ErrCancelled reports that the caller's context ended before the command
// finished. The synthetic result is still returned alongside it.
var ErrCancelled = errors.New("sandbox: command cancelled")

// SpawnError reports that the command could not be started.
type SpawnError struct {
	Command []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %v: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExecParams describes one command.
type ExecParams struct {
	Command []string
	Cwd     string
	Env     map[string]string

	// Timeout of zero selects DefaultTimeout; values above MaxTimeout are
	// clamped.
	Timeout       time.Duration
	Justification string
}

// ExecRequest is one command together with the turn state it runs under.
type ExecRequest struct {
	Params     ExecParams
	Policy     protocol.SandboxPolicy
	Truncation truncate.Policy

	// CallID is echoed on both events; a random id is used when empty.
	CallID string
	TurnID string
	Source protocol.ExecCommandSource
}

// Output is the structured result of a command.
type Output struct {
	ExitCode         int           `json:"exit_code"`
	Stdout           string        `json:"stdout"`
	Stderr           string        `json:"stderr"`
	AggregatedOutput string        `json:"aggregated_output"`
	Duration         time.Duration `json:"duration"`
	TimedOut         bool          `json:"timed_out"`
}

// EventSink receives the begin and end events of each command.
type EventSink interface {
	Send(ctx context.Context, msg protocol.EventMsg)
}

// Executor runs commands. The zero value is not usable; call NewExecutor.
type Executor struct {
	logger  *slog.Logger
	metrics *telemetry.Metrics
	environ func() []string
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics records command counters and durations into m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithEnviron replaces the inherited environment source.
func WithEnviron(fn func() []string) Option {
	return func(e *Executor) { e.environ = fn }
}

// NewExecutor returns an executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		logger:  slog.Default(),
		environ: inheritedEnv,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes req and reports it to sink. The returned error is
// ErrCancelled, a *SpawnError, or nil; a non-zero exit code is not an
// error.
func (e *Executor) Run(ctx context.Context, req ExecRequest, sink EventSink) (Output, error) {
	callID := req.CallID
	if callID == "" {
		callID = uuid.NewString()
	}
	params := req.Params
	parsed := ParseCommand(params.Command)
	ctx, span := telemetry.StartSpan(ctx, "sandbox.exec",
		"call_id", callID, "source", string(req.Source), "sandbox", req.Policy.String())

	sink.Send(ctx, protocol.ExecCommandBegin(protocol.ExecCommandBeginEvent{
		CallID:    callID,
		TurnID:    req.TurnID,
		Command:   params.Command,
		Cwd:       params.Cwd,
		ParsedCmd: parsed,
		Source:    req.Source,
	}))

	out, err := e.run(ctx, params, req.Policy)

	// The end event must go out even when ctx is already cancelled.
	endCtx := context.WithoutCancel(ctx)
	sink.Send(endCtx, protocol.ExecCommandEnd(protocol.ExecCommandEndEvent{
		CallID:           callID,
		TurnID:           req.TurnID,
		Command:          params.Command,
		Cwd:              params.Cwd,
		ParsedCmd:        parsed,
		Source:           req.Source,
		Stdout:           truncate.Text(out.Stdout, req.Truncation),
		Stderr:           truncate.Text(out.Stderr, req.Truncation),
		AggregatedOutput: truncate.Text(out.AggregatedOutput, req.Truncation),
		ExitCode:         out.ExitCode,
		Duration:         out.Duration,
		FormattedOutput:  FormatOutput(out, req.Truncation),
	}))

	e.record(req.Source, out, err)
	e.logger.Debug("exec finished",
		"call_id", callID,
		"source", req.Source,
		"exit_code", out.ExitCode,
		"timed_out", out.TimedOut,
		"duration", out.Duration,
	)
	telemetry.EndSpan(span, err)
	return out, err
}

func (e *Executor) run(ctx context.Context, params ExecParams, policy protocol.SandboxPolicy) (Output, error) {
	if len(params.Command) == 0 {
		err := &SpawnError{Command: params.Command, Err: errors.New("empty command")}
		return spawnFailure(err), err
	}
	if err := ctx.Err(); err != nil {
		return abortedOutput(), ErrCancelled
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	// The process group is killed explicitly below, so the command is not
	// bound to ctx.
	cmd := exec.Command(params.Command[0], params.Command[1:]...)
	cmd.Dir = params.Cwd
	cmd.Env = BuildEnv(e.environ(), params.Env, policy)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = waitDelay

	var agg capture
	stdout := &stream{agg: &agg}
	stderr := &stream{agg: &agg}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		serr := &SpawnError{Command: params.Command, Err: err}
		return spawnFailure(serr), serr
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		killGroup(cmd)
		waitErr = <-done
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		return abortedOutput(), ErrCancelled
	}

	out := Output{
		Stdout:           stdout.String(),
		Stderr:           stderr.String(),
		AggregatedOutput: agg.String(),
		Duration:         time.Since(start),
		TimedOut:         timedOut,
	}
	switch {
	case timedOut:
		out.ExitCode = ExitCodeTimeout
	case waitErr == nil:
		out.ExitCode = 0
	default:
		out.ExitCode = exitCodeOf(waitErr)
	}
	return out, nil
}

func (e *Executor) record(source protocol.ExecCommandSource, out Output, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, ErrCancelled):
		outcome = "cancelled"
	case err != nil:
		outcome = "spawn_error"
	case out.TimedOut:
		outcome = "timeout"
	case out.ExitCode != 0:
		outcome = "nonzero_exit"
	}
	e.metrics.ExecCommands.WithLabelValues(string(source), outcome).Inc()
	e.metrics.ExecDuration.WithLabelValues(string(source)).Observe(out.Duration.Seconds())
}

func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ExitCodeAborted
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return exitErr.ExitCode()
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid targets the whole process group.
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}

func abortedOutput() Output {
	return Output{
		ExitCode:         ExitCodeAborted,
		Stderr:           AbortedMessage,
		AggregatedOutput: AbortedMessage,
	}
}

func spawnFailure(err error) Output {
	msg := err.Error()
	return Output{
		ExitCode:         ExitCodeAborted,
		Stderr:           msg,
		AggregatedOutput: msg,
	}
}

// capture is the interleaved stdout+stderr buffer.
type capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *capture) write(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room := 2*maxCaptureBytes - c.buf.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		c.buf.Write(p)
	}
}

func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// stream captures one of stdout or stderr and mirrors it into agg.
type stream struct {
	mu  sync.Mutex
	buf bytes.Buffer
	agg *capture
}

func (s *stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	if room := maxCaptureBytes - s.buf.Len(); room > 0 {
		chunk := p
		if len(chunk) > room {
			chunk = chunk[:room]
		}
		s.buf.Write(chunk)
	}
	s.mu.Unlock()
	s.agg.write(p)
	return len(p), nil
}

func (s *stream) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
