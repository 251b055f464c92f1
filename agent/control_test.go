package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/tools"
	"github.com/martinemde/agentcore/unifiedllm"
)

// echoClient answers every request with the text of its last user message.
// Requests whose last message contains "hang" block until cancelled.
type echoClient struct{}

func (echoClient) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	var last string
	for _, item := range req.Input {
		if item.IsUserMessage() {
			last = item.Text()
		}
	}
	if strings.Contains(last, "hang") {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &unifiedllm.Response{Output: []protocol.ResponseItem{protocol.AssistantMessage("echo: " + last)}}, nil
}

func controlFor(t *testing.T, codex *Codex) *AgentControl {
	t.Helper()
	control := codex.Session().control
	if control == nil {
		t.Fatal("session has no agent control")
	}
	return control
}

func TestAgentControlSpawnWaitClose(t *testing.T) {
	codex := spawn(t, testConfig(t), Deps{Client: echoClient{}})
	control := controlFor(t, codex)
	ctx := context.Background()

	id, err := control.Spawn(ctx, tools.SpawnRequest{Items: []protocol.InputItem{protocol.TextInput("do it")}, Label: "worker"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	statuses, timedOut, err := control.Wait(ctx, []string{id}, 5*time.Second)
	if err != nil || timedOut {
		t.Fatalf("Wait = %v, timedOut=%v, err=%v", statuses, timedOut, err)
	}
	if got := statuses[id]; got.State != tools.AgentCompleted || got.Message != "echo: do it" {
		t.Fatalf("status = %+v", got)
	}

	before, err := control.Close(ctx, id)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if before.State != tools.AgentCompleted {
		t.Errorf("Close should report the status before shutdown, got %+v", before)
	}
	deadline := time.Now().Add(5 * time.Second)
	for control.Status(id).State != tools.AgentShutdown {
		if time.Now().After(deadline) {
			t.Fatalf("status after close = %+v", control.Status(id))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAgentControlWaitTimeout(t *testing.T) {
	codex := spawn(t, testConfig(t), Deps{Client: echoClient{}})
	control := controlFor(t, codex)
	ctx := context.Background()

	id, err := control.Spawn(ctx, tools.SpawnRequest{Items: []protocol.InputItem{protocol.TextInput("hang")}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	statuses, timedOut, err := control.Wait(ctx, []string{id}, 0)
	if err != nil || !timedOut {
		t.Fatalf("zero timeout should return at once: %v %v %v", statuses, timedOut, err)
	}

	start := time.Now()
	_, timedOut, err = control.Wait(ctx, []string{id}, 50*time.Millisecond)
	if err != nil || !timedOut {
		t.Fatalf("expected a timeout, got timedOut=%v err=%v", timedOut, err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Error("Wait returned before the timeout")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, _, err := control.Wait(cctx, []string{id}, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled Wait: %v", err)
	}
}

func TestAgentControlSendInputInterrupts(t *testing.T) {
	codex := spawn(t, testConfig(t), Deps{Client: echoClient{}})
	control := controlFor(t, codex)
	ctx := context.Background()

	id, err := control.Spawn(ctx, tools.SpawnRequest{Items: []protocol.InputItem{protocol.TextInput("hang")}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, err := control.SendInput(ctx, id, []protocol.InputItem{protocol.TextInput("now answer")}, true); err != nil {
		t.Fatalf("SendInput: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		st := control.Status(id)
		if st.State == tools.AgentCompleted && st.Message == "echo: now answer" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status = %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAgentControlUnknownAgent(t *testing.T) {
	codex := spawn(t, testConfig(t), Deps{Client: echoClient{}})
	control := controlFor(t, codex)
	ctx := context.Background()

	statuses, timedOut, err := control.Wait(ctx, []string{"missing"}, time.Minute)
	if err != nil || timedOut || statuses["missing"].State != tools.AgentNotFound {
		t.Fatalf("Wait(missing) = %v %v %v", statuses, timedOut, err)
	}
	if _, err := control.SendInput(ctx, "missing", nil, false); !errors.Is(err, tools.ErrAgentNotFound) {
		t.Errorf("SendInput(missing): %v", err)
	}
	if _, err := control.Close(ctx, "missing"); !errors.Is(err, tools.ErrAgentNotFound) {
		t.Errorf("Close(missing): %v", err)
	}
}

func TestAgentControlSpawnSubmitFailureCleansUp(t *testing.T) {
	codex := spawn(t, testConfig(t), Deps{Client: echoClient{}})
	control := controlFor(t, codex)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := control.Spawn(ctx, tools.SpawnRequest{Items: []protocol.InputItem{protocol.TextInput("x")}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Spawn with a cancelled context: %v", err)
	}
	control.mu.Lock()
	n := len(control.agents)
	control.mu.Unlock()
	if n != 0 {
		t.Errorf("a sub-agent that never received input must not stay registered, have %d", n)
	}
}

func TestAgentDepthLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSubagentDepth = 0
	codex := spawn(t, cfg, Deps{Client: echoClient{}})
	if codex.Session().AgentControl() != nil {
		t.Fatal("a session at the depth limit must not control agents")
	}
	for _, name := range codex.Session().router.Registry().Names() {
		if name == "spawn_agent" {
			t.Error("collab tools should not be offered at the depth limit")
		}
	}

	cfg.MaxSubagentDepth = 1
	parent := spawn(t, cfg, Deps{Client: echoClient{}})
	control := controlFor(t, parent)
	id, err := control.Spawn(context.Background(), tools.SpawnRequest{Items: []protocol.InputItem{protocol.TextInput("x")}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	control.mu.Lock()
	child := control.agents[id].codex
	control.mu.Unlock()
	if child.Session().AgentControl() != nil {
		t.Error("a child at the depth limit must not control agents")
	}
}

func TestSpawnAgentTool(t *testing.T) {
	parentClient := newMockClient(
		callTool("call-1", "spawn_agent", `{"items":[{"type":"text","text":"sub task"}]}`),
		reply("delegated"),
	)
	client := &routingClient{parent: parentClient, child: echoClient{}}
	codex := spawn(t, testConfig(t), Deps{Client: client})

	id := submit(t, codex, protocol.UserInputOp(protocol.TextInput("delegate")))
	eventsUntil(t, codex, id, terminal)

	var output string
	for _, item := range codex.Session().History() {
		if item.Type == protocol.ItemFunctionCallOutput {
			output = item.Output.Content
		}
	}
	if !strings.Contains(output, "agent_id") {
		t.Fatalf("spawn_agent output = %q", output)
	}
}

// routingClient sends requests from the top-level conversation to parent
// and everything else to child.
type routingClient struct {
	parent *mockClient
	child  ModelClient
}

func (r *routingClient) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	for _, item := range req.Input {
		if item.IsUserMessage() && item.Text() == "delegate" {
			return r.parent.Complete(ctx, req)
		}
	}
	return r.child.Complete(ctx, req)
}
