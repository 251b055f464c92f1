package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Claude-style tool names accepted as aliases for the canonical tools.
const (
	ClaudeTask       = "Task"
	ClaudeTaskOutput = "TaskOutput"
	ClaudeTaskStop   = "TaskStop"
	ClaudeToolSearch = "ToolSearch"
	ClaudeSkill      = "Skill"
)

// TaskArgs accepts the full Claude Task vocabulary; fields with no
// canonical counterpart are ignored.
type TaskArgs struct {
	Description     string `json:"description,omitempty"`
	Prompt          string `json:"prompt,omitempty"`
	SubagentType    string `json:"subagent_type,omitempty"`
	MaxTurns        int    `json:"max_turns,omitempty"`
	Mode            string `json:"mode,omitempty"`
	Model           string `json:"model,omitempty"`
	Name            string `json:"name,omitempty"`
	Resume          string `json:"resume,omitempty"`
	RunInBackground bool   `json:"run_in_background,omitempty"`
	TeamName        string `json:"team_name,omitempty"`
}

type TaskOutputArgs struct {
	TaskID  string `json:"task_id,omitempty"`
	Block   *bool  `json:"block,omitempty" jsonschema_description:"Wait for completion; defaults to true"`
	Timeout *int64 `json:"timeout,omitempty" jsonschema_description:"Milliseconds to wait when blocking"`
}

type TaskStopArgs struct {
	TaskID  string `json:"task_id,omitempty"`
	ShellID string `json:"shell_id,omitempty"`
}

type ToolSearchArgs struct {
	Query      string `json:"query,omitempty"`
	MaxResults *int   `json:"max_results,omitempty"`
}

type SkillArgs struct {
	Skill string `json:"skill,omitempty"`
	Args  string `json:"args,omitempty"`
}

// ClaudeAdapterSpecs describes the alias tools.
func ClaudeAdapterSpecs() []ToolSpec {
	return []ToolSpec{
		{Name: ClaudeTask, Description: "Launches a sub-agent with a prompt.", Parameters: SchemaFor[TaskArgs]()},
		{Name: ClaudeTaskOutput, Description: "Gets the output of a sub-agent, optionally waiting for it.", Parameters: SchemaFor[TaskOutputArgs]()},
		{Name: ClaudeTaskStop, Description: "Stops a sub-agent.", Parameters: SchemaFor[TaskStopArgs]()},
		{Name: ClaudeToolSearch, Description: "Searches the available tools.", Parameters: SchemaFor[ToolSearchArgs]()},
		{Name: ClaudeSkill, Description: "Runs a skill in a sub-agent.", Parameters: SchemaFor[SkillArgs]()},
	}
}

var supportedAgentTypes = map[string]bool{
	"default":      true,
	"worker":       true,
	"explorer":     true,
	"orchestrator": true,
}

// ClaudeAdapter translates Claude tool names into canonical calls and
// dispatches them back through the registry under the same call id. It has
// no side effects of its own.
type ClaudeAdapter struct {
	functionHandler
	Registry *Registry
}

func (a ClaudeAdapter) Handle(ctx context.Context, inv ToolInvocation) (ToolOutput, error) {
	if inv.Payload.Type != PayloadFunction {
		return ToolOutput{}, RespondToModel(inv.Turn.T("tools.error.incompatible_payload", "name", inv.ToolName))
	}
	var (
		target string
		mapped any
		err    error
	)
	switch inv.ToolName {
	case ClaudeTask:
		var args TaskArgs
		if args, err = parseArguments[TaskArgs](inv); err == nil {
			target = "spawn_agent"
			mapped, err = mapTask(inv.Turn, args)
		}
	case ClaudeTaskOutput:
		var args TaskOutputArgs
		if args, err = parseArguments[TaskOutputArgs](inv); err == nil {
			target = "wait"
			mapped, err = mapTaskOutput(inv.Turn, args)
		}
	case ClaudeTaskStop:
		var args TaskStopArgs
		if args, err = parseArguments[TaskStopArgs](inv); err == nil {
			target = "close_agent"
			mapped, err = mapTaskStop(inv.Turn, args)
		}
	case ClaudeToolSearch:
		var args ToolSearchArgs
		if args, err = parseArguments[ToolSearchArgs](inv); err == nil {
			target = "search_tool_bm25"
			mapped, err = mapToolSearch(inv.Turn, args)
		}
	case ClaudeSkill:
		var args SkillArgs
		if args, err = parseArguments[SkillArgs](inv); err == nil {
			target = "spawn_agent"
			mapped, err = mapSkill(inv.Turn, args)
		}
	default:
		return ToolOutput{}, RespondToModel(inv.Turn.T("claude_adapter.error.unsupported_alias", "name", inv.ToolName))
	}
	if err != nil {
		return ToolOutput{}, err
	}

	data, err := json.Marshal(mapped)
	if err != nil {
		return ToolOutput{}, Fatal(fmt.Sprintf("failed to serialize %s alias arguments: %v", target, err))
	}
	if a.Registry == nil {
		return ToolOutput{}, Fatal("claude tool adapter has no registry")
	}
	return a.Registry.Dispatch(ctx, ToolInvocation{
		Session:  inv.Session,
		Turn:     inv.Turn,
		CallID:   inv.CallID,
		ToolName: target,
		Payload:  FunctionPayload(string(data)),
	})
}

func mapTask(turn TurnInfo, args TaskArgs) (map[string]any, error) {
	prompt, ok := nonEmpty(args.Prompt)
	if !ok {
		return nil, RespondToModel(turn.T("claude_adapter.error.prompt_empty"))
	}
	payload := map[string]any{
		"items": []map[string]string{{"type": "text", "text": prompt}},
	}
	if t, ok := nonEmpty(args.SubagentType); ok && supportedAgentTypes[t] {
		payload["agent_type"] = t
	}
	if label, ok := nonEmpty(args.Name); ok {
		payload["label"] = label
	} else if label, ok := nonEmpty(args.Description); ok {
		payload["label"] = label
	}
	if model, ok := nonEmpty(args.Model); ok {
		payload["model"] = model
	}
	return payload, nil
}

func mapTaskOutput(turn TurnInfo, args TaskOutputArgs) (map[string]any, error) {
	id, ok := nonEmpty(args.TaskID)
	if !ok {
		return nil, RespondToModel(turn.T("claude_adapter.error.task_id_empty"))
	}
	payload := map[string]any{"ids": []string{id}}
	block := args.Block == nil || *args.Block
	if !block {
		payload["timeout_ms"] = 0
		return payload, nil
	}
	if args.Timeout != nil {
		if *args.Timeout < 0 {
			return nil, RespondToModel(turn.T("claude_adapter.error.timeout_negative"))
		}
		payload["timeout_ms"] = *args.Timeout
	}
	return payload, nil
}

func mapTaskStop(turn TurnInfo, args TaskStopArgs) (map[string]any, error) {
	id, ok := nonEmpty(args.TaskID)
	if !ok {
		id, ok = nonEmpty(args.ShellID)
	}
	if !ok {
		return nil, RespondToModel(turn.T("claude_adapter.error.stop_id_empty"))
	}
	return map[string]any{"id": id}, nil
}

func mapToolSearch(turn TurnInfo, args ToolSearchArgs) (map[string]any, error) {
	query, ok := nonEmpty(args.Query)
	if !ok {
		return nil, RespondToModel(turn.T("claude_adapter.error.query_empty"))
	}
	payload := map[string]any{"query": query}
	if args.MaxResults != nil {
		if *args.MaxResults <= 0 {
			return nil, RespondToModel(turn.T("claude_adapter.error.max_results_zero"))
		}
		payload["limit"] = *args.MaxResults
	}
	return payload, nil
}

func mapSkill(turn TurnInfo, args SkillArgs) (map[string]any, error) {
	skill, ok := nonEmpty(args.Skill)
	if !ok {
		return nil, RespondToModel(turn.T("claude_adapter.error.skill_empty"))
	}
	items := []map[string]string{{"type": "skill", "name": skill, "path": "skill://" + skill}}
	if text, ok := nonEmpty(args.Args); ok {
		items = append(items, map[string]string{"type": "text", "text": text})
	}
	return map[string]any{"items": items, "label": "skill:" + skill}, nil
}

func nonEmpty(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}
