package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/agentcore/protocol"
)

// Sub-agent errors returned by AgentControl implementations.
var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrDepthExceeded = errors.New("agent depth limit reached")
)

const (
	DefaultWaitTimeout = 30 * time.Second
	MaxWaitTimeout     = 300 * time.Second
)

// AgentState is the lifecycle state of a sub-agent.
type AgentState string

const (
	AgentPendingInit AgentState = "pending_init"
	AgentRunning     AgentState = "running"
	AgentCompleted   AgentState = "completed"
	AgentErrored     AgentState = "errored"
	AgentShutdown    AgentState = "shutdown"
	AgentNotFound    AgentState = "not_found"
)

// AgentStatus is a sub-agent's state plus its final message or error.
type AgentStatus struct {
	State   AgentState
	Message string
}

// Final reports whether the agent will not change state again.
func (s AgentStatus) Final() bool {
	switch s.State {
	case AgentCompleted, AgentErrored, AgentShutdown, AgentNotFound:
		return true
	}
	return false
}

// MarshalJSON renders message-less states as a bare string and the others
// as {"completed": msg} or {"errored": msg}.
func (s AgentStatus) MarshalJSON() ([]byte, error) {
	switch s.State {
	case AgentCompleted, AgentErrored:
		var msg *string
		if s.State == AgentErrored || s.Message != "" {
			msg = &s.Message
		}
		return json.Marshal(map[AgentState]*string{s.State: msg})
	}
	return json.Marshal(string(s.State))
}

// SpawnRequest describes a sub-agent to start.
type SpawnRequest struct {
	Items     []protocol.InputItem
	AgentType string
	Label     string
	Model     string
}

// AgentControl starts and supervises sub-agents.
type AgentControl interface {
	Spawn(ctx context.Context, req SpawnRequest) (string, error)
	SendInput(ctx context.Context, id string, items []protocol.InputItem, interrupt bool) (string, error)

	// Wait blocks until any of ids reaches a final state, the timeout
	// elapses, or ctx ends. It reports the status of every id and whether
	// the timeout fired.
	Wait(ctx context.Context, ids []string, timeout time.Duration) (map[string]AgentStatus, bool, error)
	Close(ctx context.Context, id string) (AgentStatus, error)
}

type SpawnAgentArgs struct {
	Items     []protocol.InputItem `json:"items" jsonschema_description:"Input for the new agent: text items, or skill items with name and path"`
	AgentType string               `json:"agent_type,omitempty" jsonschema:"enum=default,enum=worker,enum=explorer,enum=orchestrator"`
	Label     string               `json:"label,omitempty"`
	Model     string               `json:"model,omitempty"`
}

type SendInputArgs struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Interrupt bool   `json:"interrupt,omitempty" jsonschema_description:"Abort the agent's current task before delivering the message"`
}

type WaitArgs struct {
	IDs       []string `json:"ids"`
	TimeoutMs *int64   `json:"timeout_ms,omitempty" jsonschema_description:"Milliseconds to wait; defaults to 30000, at most 300000"`
}

type CloseAgentArgs struct {
	ID string `json:"id"`
}

// WaitResult is the JSON body of a wait call.
type WaitResult struct {
	Status       map[string]AgentStatus `json:"status"`
	TimedOut     bool                   `json:"timed_out"`
	WakeupReason string                 `json:"wakeup_reason"`
}

// CollabSpecs describes the four sub-agent tools.
func CollabSpecs() []ToolSpec {
	return []ToolSpec{
		{Name: "spawn_agent", Description: "Starts a sub-agent on a scoped task and returns its id.", Parameters: SchemaFor[SpawnAgentArgs]()},
		{Name: "send_input", Description: "Sends a message to a running sub-agent.", Parameters: SchemaFor[SendInputArgs]()},
		{Name: "wait", Description: "Waits for any of the given sub-agents to finish, up to a timeout.", Parameters: SchemaFor[WaitArgs]()},
		{Name: "close_agent", Description: "Shuts a sub-agent down and returns its final status.", Parameters: SchemaFor[CloseAgentArgs]()},
	}
}

// CollabHandler serves spawn_agent, send_input, wait, and close_agent.
type CollabHandler struct {
	functionHandler
}

func (h CollabHandler) Handle(ctx context.Context, inv ToolInvocation) (ToolOutput, error) {
	var control AgentControl
	if inv.Session != nil {
		control = inv.Session.AgentControl()
	}
	if control == nil {
		return ToolOutput{}, RespondToModel(inv.Turn.T("collab.error.unavailable"))
	}
	switch inv.ToolName {
	case "spawn_agent":
		return h.spawn(ctx, inv, control)
	case "send_input":
		return h.sendInput(ctx, inv, control)
	case "wait":
		return h.wait(ctx, inv, control)
	case "close_agent":
		return h.close(ctx, inv, control)
	}
	return ToolOutput{}, RespondToModel(inv.Turn.T("tools.error.unsupported_call", "name", inv.ToolName))
}

func (CollabHandler) spawn(ctx context.Context, inv ToolInvocation, control AgentControl) (ToolOutput, error) {
	args, err := parseArguments[SpawnAgentArgs](inv)
	if err != nil {
		return ToolOutput{}, err
	}
	if len(args.Items) == 0 {
		return ToolOutput{}, RespondToModel(inv.Turn.T("collab.error.empty_items"))
	}
	id, err := control.Spawn(ctx, SpawnRequest{
		Items:     args.Items,
		AgentType: args.AgentType,
		Label:     args.Label,
		Model:     args.Model,
	})
	if errors.Is(err, ErrDepthExceeded) {
		return ToolOutput{}, RespondToModel(inv.Turn.T("collab.error.depth_exceeded"))
	}
	if err != nil {
		return ToolOutput{}, RespondToModel(fmt.Sprintf("spawn_agent failed: %v", err))
	}
	return jsonOutput(map[string]string{"agent_id": id}, boolPtr(true))
}

func (CollabHandler) sendInput(ctx context.Context, inv ToolInvocation, control AgentControl) (ToolOutput, error) {
	args, err := parseArguments[SendInputArgs](inv)
	if err != nil {
		return ToolOutput{}, err
	}
	if strings.TrimSpace(args.Message) == "" {
		return ToolOutput{}, RespondToModel(inv.Turn.T("collab.error.empty_message"))
	}
	subID, err := control.SendInput(ctx, args.ID, []protocol.InputItem{protocol.TextInput(args.Message)}, args.Interrupt)
	if errors.Is(err, ErrAgentNotFound) {
		return ToolOutput{}, RespondToModel(inv.Turn.T("collab.error.agent_not_found", "id", args.ID))
	}
	if err != nil {
		return ToolOutput{}, RespondToModel(fmt.Sprintf("send_input failed: %v", err))
	}
	return jsonOutput(map[string]string{"submission_id": subID}, boolPtr(true))
}

func (CollabHandler) wait(ctx context.Context, inv ToolInvocation, control AgentControl) (ToolOutput, error) {
	args, err := parseArguments[WaitArgs](inv)
	if err != nil {
		return ToolOutput{}, err
	}
	if len(args.IDs) == 0 {
		return ToolOutput{}, RespondToModel(inv.Turn.T("collab.error.empty_ids"))
	}
	timeout := DefaultWaitTimeout
	if args.TimeoutMs != nil {
		timeout = clampWait(time.Duration(*args.TimeoutMs) * time.Millisecond)
	}
	statuses, timedOut, err := control.Wait(ctx, args.IDs, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return ToolOutput{}, Fatal(fmt.Sprintf("wait cancelled: %v", err))
		}
		return ToolOutput{}, RespondToModel(fmt.Sprintf("wait failed: %v", err))
	}
	result := WaitResult{Status: statuses, TimedOut: timedOut, WakeupReason: "completed"}
	if timedOut {
		result.WakeupReason = "timeout"
		out, err := jsonOutput(result, nil)
		if err != nil {
			return ToolOutput{}, err
		}
		return Unflagged(out.Content), nil
	}
	return jsonOutput(result, boolPtr(true))
}

func (CollabHandler) close(ctx context.Context, inv ToolInvocation, control AgentControl) (ToolOutput, error) {
	args, err := parseArguments[CloseAgentArgs](inv)
	if err != nil {
		return ToolOutput{}, err
	}
	status, err := control.Close(ctx, args.ID)
	if errors.Is(err, ErrAgentNotFound) {
		return ToolOutput{}, RespondToModel(inv.Turn.T("collab.error.agent_not_found", "id", args.ID))
	}
	if err != nil {
		return ToolOutput{}, RespondToModel(fmt.Sprintf("close_agent failed: %v", err))
	}
	return jsonOutput(map[string]AgentStatus{"status": status}, boolPtr(true))
}

func clampWait(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > MaxWaitTimeout {
		return MaxWaitTimeout
	}
	return d
}

func jsonOutput(v any, success *bool) (ToolOutput, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return ToolOutput{}, Fatal(fmt.Sprintf("encode tool result: %v", err))
	}
	return ToolOutput{Content: string(data), Success: success}, nil
}

func boolPtr(b bool) *bool { return &b }
