package unifiedllm

import (
	"encoding/json"

	"github.com/martinemde/agentcore/protocol"
)

// ToolDefinition is a tool advertised to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// Request is the input of Complete.
type Request struct {
	Model    string `json:"model"`
	Provider string `json:"provider,omitempty"`

	// Instructions is the system prompt.
	Instructions string                  `json:"instructions,omitempty"`
	Input        []protocol.ResponseItem `json:"input"`
	Tools        []ToolDefinition        `json:"tools,omitempty"`

	ParallelToolCalls bool     `json:"parallel_tool_calls,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxTokens         *int     `json:"max_tokens,omitempty"`
}

// FinishReason describes why generation stopped.
type FinishReason struct {
	Reason string `json:"reason"` // "stop", "length", "tool_calls", "content_filter", "error", "other"
	Raw    string `json:"raw,omitempty"`
}

// Usage tracks token consumption of one response.
type Usage struct {
	InputTokens     int  `json:"input_tokens"`
	OutputTokens    int  `json:"output_tokens"`
	TotalTokens     int  `json:"total_tokens"`
	ReasoningTokens *int `json:"reasoning_tokens,omitempty"`
	CacheReadTokens *int `json:"cache_read_tokens,omitempty"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:     u.InputTokens + other.InputTokens,
		OutputTokens:    u.OutputTokens + other.OutputTokens,
		TotalTokens:     u.TotalTokens + other.TotalTokens,
		ReasoningTokens: addOptionalInt(u.ReasoningTokens, other.ReasoningTokens),
		CacheReadTokens: addOptionalInt(u.CacheReadTokens, other.CacheReadTokens),
	}
}

// TokenUsage converts u into the protocol's accounting type.
func (u Usage) TokenUsage() protocol.TokenUsage {
	out := protocol.TokenUsage{
		InputTokens:  int64(u.InputTokens),
		OutputTokens: int64(u.OutputTokens),
		TotalTokens:  int64(u.TotalTokens),
	}
	if u.CacheReadTokens != nil {
		out.CachedInputTokens = int64(*u.CacheReadTokens)
	}
	if u.ReasoningTokens != nil {
		out.ReasoningOutputTokens = int64(*u.ReasoningTokens)
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.InputTokens + out.OutputTokens
	}
	return out
}

func addOptionalInt(a, b *int) *int {
	if a == nil && b == nil {
		return nil
	}
	va, vb := 0, 0
	if a != nil {
		va = *a
	}
	if b != nil {
		vb = *b
	}
	sum := va + vb
	return &sum
}

// Response is the output of Complete.
type Response struct {
	ID           string                  `json:"id"`
	Model        string                  `json:"model"`
	Provider     string                  `json:"provider"`
	Output       []protocol.ResponseItem `json:"output"`
	FinishReason FinishReason            `json:"finish_reason"`
	Usage        Usage                   `json:"usage"`
}

// ToolCalls returns the function-call items of the response in order.
func (r *Response) ToolCalls() []protocol.ResponseItem {
	var calls []protocol.ResponseItem
	for _, item := range r.Output {
		if item.Type == protocol.ItemFunctionCall {
			calls = append(calls, item)
		}
	}
	return calls
}

// LastAgentMessage returns the text of the last assistant message, or nil
// when the response has none.
func (r *Response) LastAgentMessage() *string {
	for i := len(r.Output) - 1; i >= 0; i-- {
		if r.Output[i].IsMessageFrom(protocol.RoleAssistant) {
			text := r.Output[i].Text()
			return &text
		}
	}
	return nil
}
