package sandbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/telemetry"
	"github.com/martinemde/agentcore/truncate"
)

// recordingSink collects events in arrival order.
type recordingSink struct {
	mu     sync.Mutex
	events []protocol.EventMsg
}

func (s *recordingSink) Send(_ context.Context, msg protocol.EventMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, msg)
}

func (s *recordingSink) snapshot() []protocol.EventMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.EventMsg(nil), s.events...)
}

// assertPaired checks there is exactly one begin followed by one end with
// the same call id, command and cwd.
func assertPaired(t *testing.T, events []protocol.EventMsg) *protocol.ExecCommandEndEvent {
	t.Helper()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	begin, end := events[0].ExecCommandBegin, events[1].ExecCommandEnd
	if begin == nil || end == nil {
		t.Fatalf("expected begin then end, got %s then %s", events[0].Type, events[1].Type)
	}
	if begin.CallID == "" || begin.CallID != end.CallID {
		t.Errorf("call ids differ: %q vs %q", begin.CallID, end.CallID)
	}
	if begin.Cwd != end.Cwd || strings.Join(begin.Command, " ") != strings.Join(end.Command, " ") {
		t.Errorf("begin/end disagree on command or cwd: %+v vs %+v", begin, end)
	}
	return end
}

func newRequest(t *testing.T, timeout time.Duration, argv ...string) ExecRequest {
	return ExecRequest{
		Params: ExecParams{
			Command: argv,
			Cwd:     t.TempDir(),
			Timeout: timeout,
		},
		Policy:     protocol.NewWorkspaceWritePolicy(nil, false),
		Truncation: truncate.Bytes(10_000),
		TurnID:     "turn-1",
		Source:     protocol.ExecSourceAgent,
	}
}

func TestRunSuccess(t *testing.T) {
	sink := &recordingSink{}
	out, err := NewExecutor().Run(context.Background(), newRequest(t, time.Second, "sh", "-c", "echo out; echo err 1>&2"), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.ExitCode != 0 {
		t.Errorf("exit code = %d", out.ExitCode)
	}
	if strings.TrimSpace(out.Stdout) != "out" || strings.TrimSpace(out.Stderr) != "err" {
		t.Errorf("stdout=%q stderr=%q", out.Stdout, out.Stderr)
	}
	if !strings.Contains(out.AggregatedOutput, "out") || !strings.Contains(out.AggregatedOutput, "err") {
		t.Errorf("aggregated output missing streams: %q", out.AggregatedOutput)
	}
	end := assertPaired(t, sink.snapshot())
	if end.ExitCode != 0 || end.FormattedOutput == "" {
		t.Errorf("end event = %+v", end)
	}
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	sink := &recordingSink{}
	out, err := NewExecutor().Run(context.Background(), newRequest(t, time.Second, "sh", "-c", "exit 3"), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", out.ExitCode)
	}
	assertPaired(t, sink.snapshot())
}

func TestRunTimeout(t *testing.T) {
	sink := &recordingSink{}
	start := time.Now()
	out, err := NewExecutor().Run(context.Background(), newRequest(t, 100*time.Millisecond, "sleep", "5"), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout not enforced")
	}
	if !out.TimedOut || out.ExitCode != ExitCodeTimeout {
		t.Errorf("out = %+v, want timed out with %d", out, ExitCodeTimeout)
	}
	end := assertPaired(t, sink.snapshot())
	if !strings.HasPrefix(end.FormattedOutput, "command timed out after") {
		t.Errorf("formatted output = %q", end.FormattedOutput)
	}
}

func TestRunCancelled(t *testing.T) {
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	out, err := NewExecutor().Run(ctx, newRequest(t, 30*time.Second, "sleep", "10"), sink)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if out.ExitCode != ExitCodeAborted {
		t.Errorf("exit code = %d, want %d", out.ExitCode, ExitCodeAborted)
	}
	end := assertPaired(t, sink.snapshot())
	if end.ExitCode != -1 || end.Stderr != AbortedMessage || end.AggregatedOutput != AbortedMessage {
		t.Errorf("end event = %+v", end)
	}
	if end.Stdout != "" || end.Duration != 0 {
		t.Errorf("cancelled end should have empty stdout and zero duration: %+v", end)
	}
}

func TestRunAlreadyCancelled(t *testing.T) {
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExecutor().Run(ctx, newRequest(t, time.Second, "echo", "never"), sink)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	assertPaired(t, sink.snapshot())
}

func TestRunSpawnFailure(t *testing.T) {
	sink := &recordingSink{}
	_, err := NewExecutor().Run(context.Background(), newRequest(t, time.Second, "/definitely/not/a/binary"), sink)
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("err = %v, want *SpawnError", err)
	}
	end := assertPaired(t, sink.snapshot())
	if end.ExitCode != -1 || end.Stderr == "" {
		t.Errorf("end event = %+v", end)
	}
}

func TestRunUsesGivenCallID(t *testing.T) {
	sink := &recordingSink{}
	req := newRequest(t, time.Second, "true")
	req.CallID = "call-42"
	if _, err := NewExecutor().Run(context.Background(), req, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	end := assertPaired(t, sink.snapshot())
	if end.CallID != "call-42" {
		t.Errorf("call id = %q", end.CallID)
	}
}

func TestRunPassesSandboxEnv(t *testing.T) {
	sink := &recordingSink{}
	exe := NewExecutor(WithEnviron(func() []string {
		return []string{"PATH=/usr/bin:/bin", "OPENAI_API_KEY=sk-secret"}
	}))
	out, err := exe.Run(context.Background(), newRequest(t, time.Second, "sh", "-c", "echo $AGENTCORE_SANDBOX_NETWORK_DISABLED:$OPENAI_API_KEY"), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out.Stdout) != "1:" {
		t.Errorf("stdout = %q, want network marker and no secret", out.Stdout)
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	m := telemetry.NewMetrics(nil)
	exe := NewExecutor(WithMetrics(m))
	if _, err := exe.Run(context.Background(), newRequest(t, time.Second, "sh", "-c", "exit 1"), &recordingSink{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := testutil.ToFloat64(m.ExecCommands.WithLabelValues("agent", "nonzero_exit")); got != 1 {
		t.Errorf("nonzero_exit counter = %v", got)
	}
}

func TestBuildEnv(t *testing.T) {
	env := BuildEnv(
		[]string{"PATH=/bin", "GITHUB_TOKEN=x", "MY_PASSWORD=y", "HOME=/h", "EDITOR=vi"},
		map[string]string{"EXTRA": "1"},
		protocol.NewReadOnlyPolicy(),
	)
	joined := strings.Join(env, "\n")
	for _, want := range []string{"PATH=/bin", "HOME=/h", "EDITOR=vi", "EXTRA=1", "AGENTCORE_SANDBOX=read-only", "AGENTCORE_SANDBOX_NETWORK_DISABLED=1"} {
		if !strings.Contains(joined, want) {
			t.Errorf("env missing %q:\n%s", want, joined)
		}
	}
	for _, bad := range []string{"GITHUB_TOKEN", "MY_PASSWORD"} {
		if strings.Contains(joined, bad) {
			t.Errorf("env leaked %s", bad)
		}
	}

	full := strings.Join(BuildEnv(nil, nil, protocol.NewFullAccessPolicy()), "\n")
	if strings.Contains(full, EnvSandboxMode) || strings.Contains(full, EnvSandboxNetworkDisabled) {
		t.Errorf("full access should not set sandbox markers: %s", full)
	}
}
