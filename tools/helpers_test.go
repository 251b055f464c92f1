package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/sandbox"
)

type emitted struct {
	subID string
	msg   protocol.EventMsg
}

type fakeSession struct {
	mu      sync.Mutex
	events  []emitted
	control AgentControl
}

func (s *fakeSession) Emit(_ context.Context, subID string, msg protocol.EventMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, emitted{subID, msg})
}

func (s *fakeSession) AgentControl() AgentControl { return s.control }

func (s *fakeSession) ConversationID() string { return "conv-1" }

func (s *fakeSession) types() []protocol.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.msg.Type
	}
	return out
}

// fakeRunner records requests and returns a canned result, emitting the
// begin/end pair the way the real executor does.
type fakeRunner struct {
	mu   sync.Mutex
	reqs []sandbox.ExecRequest
	out  sandbox.Output
	err  error
}

func (r *fakeRunner) Run(ctx context.Context, req sandbox.ExecRequest, sink sandbox.EventSink) (sandbox.Output, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	sink.Send(ctx, protocol.ExecCommandBegin(protocol.ExecCommandBeginEvent{CallID: req.CallID, Command: req.Params.Command, Cwd: req.Params.Cwd}))
	sink.Send(ctx, protocol.ExecCommandEnd(protocol.ExecCommandEndEvent{CallID: req.CallID, Command: req.Params.Command, Cwd: req.Params.Cwd, ExitCode: r.out.ExitCode}))
	return r.out, r.err
}

type fakeControl struct {
	mu       sync.Mutex
	spawned  []SpawnRequest
	waits    []time.Duration
	statuses map[string]AgentStatus
	closed   []string
}

func (c *fakeControl) Spawn(_ context.Context, req SpawnRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spawned = append(c.spawned, req)
	return "agent-1", nil
}

func (c *fakeControl) SendInput(_ context.Context, id string, _ []protocol.InputItem, _ bool) (string, error) {
	if _, ok := c.statuses[id]; !ok {
		return "", ErrAgentNotFound
	}
	return "sub-1", nil
}

func (c *fakeControl) Wait(_ context.Context, ids []string, timeout time.Duration) (map[string]AgentStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, timeout)
	out := make(map[string]AgentStatus, len(ids))
	done := false
	for _, id := range ids {
		st, ok := c.statuses[id]
		if !ok {
			st = AgentStatus{State: AgentNotFound}
		}
		out[id] = st
		done = done || st.Final()
	}
	return out, !done, nil
}

func (c *fakeControl) Close(_ context.Context, id string) (AgentStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.statuses[id]
	if !ok {
		return AgentStatus{}, ErrAgentNotFound
	}
	c.closed = append(c.closed, id)
	return st, nil
}

func invocation(t *testing.T, name string, args any) ToolInvocation {
	t.Helper()
	data, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return ToolInvocation{
		Session:  &fakeSession{},
		Turn:     TurnInfo{SubID: "turn-1", Cwd: t.TempDir()},
		CallID:   "call-1",
		ToolName: name,
		Payload:  FunctionPayload(string(data)),
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func decode[T any](t *testing.T, content string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		t.Fatalf("decode %q: %v", content, err)
	}
	return v
}

func intPtr(n int) *int { return &n }
