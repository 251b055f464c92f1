package agent

import (
	"crypto/sha256"
	"fmt"

	"github.com/martinemde/agentcore/protocol"
)

// toolCallSignature computes a deterministic signature for a tool call
// (name + hash of arguments).
func toolCallSignature(name, arguments string) string {
	h := sha256.Sum256([]byte(arguments))
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentCallSignatures returns the signatures of the last count function
// calls in history, oldest first.
func recentCallSignatures(history []protocol.ResponseItem, count int) []string {
	var sigs []string
	for i := len(history) - 1; i >= 0 && len(sigs) < count; i-- {
		if item := history[i]; item.Type == protocol.ItemFunctionCall {
			sigs = append(sigs, toolCallSignature(item.Name, item.Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop checks if the last windowSize tool calls follow a repeating
// pattern of length 1, 2, or 3.
func DetectLoop(history []protocol.ResponseItem, windowSize int) bool {
	if windowSize <= 0 {
		return false
	}
	sigs := recentCallSignatures(history, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		matched := true
		for i := patternLen; i < windowSize && matched; i++ {
			matched = sigs[i] == sigs[i%patternLen]
		}
		if matched {
			return true
		}
	}
	return false
}
