package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/sandbox"
	"github.com/martinemde/agentcore/unifiedllm"
)

// step produces one model response. A nil step blocks until the request
// is cancelled.
type step func(req unifiedllm.Request) (*unifiedllm.Response, error)

// mockClient replays scripted steps in order and records every request.
type mockClient struct {
	mu       sync.Mutex
	steps    []step
	requests []unifiedllm.Request
}

func newMockClient(steps ...step) *mockClient {
	return &mockClient{steps: steps}
}

func (m *mockClient) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if len(m.steps) == 0 {
		m.mu.Unlock()
		return nil, errors.New("mock client: script exhausted")
	}
	next := m.steps[0]
	m.steps = m.steps[1:]
	m.mu.Unlock()

	if next == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return next(req)
}

func (m *mockClient) Requests() []unifiedllm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]unifiedllm.Request(nil), m.requests...)
}

func reply(text string) step {
	return func(unifiedllm.Request) (*unifiedllm.Response, error) {
		return &unifiedllm.Response{
			Output: []protocol.ResponseItem{protocol.AssistantMessage(text)},
			Usage:  unifiedllm.Usage{InputTokens: 100, OutputTokens: 10, TotalTokens: 110},
		}, nil
	}
}

func callTool(callID, name, arguments string) step {
	return func(unifiedllm.Request) (*unifiedllm.Response, error) {
		return &unifiedllm.Response{
			Output: []protocol.ResponseItem{protocol.FunctionCall(callID, name, arguments)},
			Usage:  unifiedllm.Usage{InputTokens: 50, OutputTokens: 5, TotalTokens: 55},
		}, nil
	}
}

func overflow() step {
	return func(unifiedllm.Request) (*unifiedllm.Response, error) {
		return nil, unifiedllm.NewContextLengthError("mock", "context length exceeded")
	}
}

func blocked() step { return nil }

// fakeRunner answers every command with out, emitting the begin and end
// events the way the executor does.
type fakeRunner struct {
	mu   sync.Mutex
	reqs []sandbox.ExecRequest
	out  sandbox.Output
}

func (r *fakeRunner) Run(ctx context.Context, req sandbox.ExecRequest, sink sandbox.EventSink) (sandbox.Output, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	sink.Send(ctx, protocol.ExecCommandBegin(protocol.ExecCommandBeginEvent{CallID: req.CallID, Command: req.Params.Command}))
	sink.Send(ctx, protocol.ExecCommandEnd(protocol.ExecCommandEndEvent{CallID: req.CallID, Command: req.Params.Command, ExitCode: r.out.ExitCode}))
	return r.out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.Retry = unifiedllm.RetryPolicy{}
	return cfg
}

func spawn(t *testing.T, cfg Config, deps Deps) *Codex {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = testLogger()
	}
	codex, err := Spawn(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = codex.Submit(ctx, protocol.ShutdownOp())
		select {
		case <-codex.Done():
		case <-ctx.Done():
			t.Error("session did not shut down")
		}
	})
	return codex
}

func submit(t *testing.T, codex *Codex, op protocol.Op) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := codex.Submit(ctx, op)
	if err != nil {
		t.Fatalf("Submit(%s): %v", op.Type, err)
	}
	return id
}

// eventsUntil reads events until one under subID satisfies done, returning
// everything read.
func eventsUntil(t *testing.T, codex *Codex, subID string, done func(protocol.EventMsg) bool) []protocol.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out []protocol.Event
	for {
		ev, err := codex.NextEvent(ctx)
		if err != nil {
			t.Fatalf("NextEvent after %d events: %v", len(out), err)
		}
		out = append(out, ev)
		if ev.ID == subID && done(ev.Msg) {
			return out
		}
	}
}

func terminal(msg protocol.EventMsg) bool {
	return msg.Type == protocol.EventTaskComplete || msg.Type == protocol.EventTurnAborted
}

func isType(typ protocol.EventType) func(protocol.EventMsg) bool {
	return func(msg protocol.EventMsg) bool { return msg.Type == typ }
}

func types(events []protocol.Event) []protocol.EventType {
	out := make([]protocol.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Msg.Type
	}
	return out
}

func find(events []protocol.Event, typ protocol.EventType) []protocol.EventMsg {
	var out []protocol.EventMsg
	for _, ev := range events {
		if ev.Msg.Type == typ {
			out = append(out, ev.Msg)
		}
	}
	return out
}

// waitFor polls cond until it holds or five seconds pass.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 5s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
