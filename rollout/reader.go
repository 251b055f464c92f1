package rollout

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/martinemde/agentcore/protocol"
)

// Read parses every line of the rollout at path.
func Read(path string) ([]protocol.RolloutLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rollout: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses rollout lines from r until EOF.
func Decode(r io.Reader) ([]protocol.RolloutLine, error) {
	dec := json.NewDecoder(r)
	var lines []protocol.RolloutLine
	for {
		var line protocol.RolloutLine
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				return lines, nil
			}
			return lines, fmt.Errorf("decode rollout line %d: %w", len(lines)+1, err)
		}
		lines = append(lines, line)
	}
}

// Meta returns the session metadata record of lines.
func Meta(lines []protocol.RolloutLine) (protocol.SessionMeta, bool) {
	for _, l := range lines {
		if l.Item.Type == protocol.RolloutSessionMeta && l.Item.SessionMeta != nil {
			return *l.Item.SessionMeta, true
		}
	}
	return protocol.SessionMeta{}, false
}

// History rebuilds the conversation history recorded in lines. A Compacted
// record with a replacement history resets the history to it; one without
// appends its summary as a user message after the surviving items.
func History(lines []protocol.RolloutLine) []protocol.ResponseItem {
	var history []protocol.ResponseItem
	for _, l := range lines {
		switch l.Item.Type {
		case protocol.RolloutResponseItem:
			if l.Item.ResponseItem != nil {
				history = append(history, *l.Item.ResponseItem)
			}
		case protocol.RolloutCompacted:
			c := l.Item.Compacted
			if c == nil {
				continue
			}
			if c.ReplacementHistory != nil {
				history = append([]protocol.ResponseItem(nil), c.ReplacementHistory...)
				continue
			}
			msg := c.Message
			if !strings.HasPrefix(msg, protocol.SummaryPrefix) {
				msg = protocol.SummaryPrefix + "\n" + msg
			}
			history = append(history, protocol.UserMessage(msg))
		}
	}
	return history
}

// Count returns the number of lines of the given type.
func Count(lines []protocol.RolloutLine, typ protocol.RolloutItemType) int {
	n := 0
	for _, l := range lines {
		if l.Item.Type == typ {
			n++
		}
	}
	return n
}
