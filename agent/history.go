package agent

import (
	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/truncate"
)

// ContextManager holds the conversation history in the order the model
// sees it. It is not safe for concurrent use; the Session guards it.
type ContextManager struct {
	items []protocol.ResponseItem
}

// NewContextManager starts a history from items, as when resuming.
func NewContextManager(items []protocol.ResponseItem) *ContextManager {
	return &ContextManager{items: append([]protocol.ResponseItem(nil), items...)}
}

// Record appends items.
func (h *ContextManager) Record(items ...protocol.ResponseItem) {
	h.items = append(h.items, items...)
}

// Snapshot returns a copy of the history.
func (h *ContextManager) Snapshot() []protocol.ResponseItem {
	return append([]protocol.ResponseItem(nil), h.items...)
}

// Replace swaps the whole history for items.
func (h *ContextManager) Replace(items []protocol.ResponseItem) {
	h.items = append([]protocol.ResponseItem(nil), items...)
}

// DropOldest removes the first item. It reports false when the history is
// empty.
func (h *ContextManager) DropOldest() bool {
	if len(h.items) == 0 {
		return false
	}
	h.items[0] = protocol.ResponseItem{}
	h.items = h.items[1:]
	return true
}

func (h *ContextManager) Len() int { return len(h.items) }

// HasContextMessage reports whether an injected environment context is
// already present.
func (h *ContextManager) HasContextMessage() bool {
	for _, item := range h.items {
		if item.IsContextMessage() {
			return true
		}
	}
	return false
}

// EstimateTokens approximates the prompt size of the history at four bytes
// per token, rounding each item up. It is positive whenever the history
// holds any text.
func (h *ContextManager) EstimateTokens() int64 {
	var total int64
	for _, item := range h.items {
		total += int64(truncate.ApproxTokens(itemText(item)))
	}
	return total
}

func itemText(item protocol.ResponseItem) string {
	switch item.Type {
	case protocol.ItemFunctionCall:
		return item.Name + item.Arguments
	case protocol.ItemFunctionCallOutput:
		if item.Output != nil {
			return item.Output.Content
		}
		return ""
	case protocol.ItemReasoning:
		return item.Summary
	default:
		return item.Text()
	}
}
