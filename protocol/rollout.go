package protocol

import "time"

// RolloutItemType discriminates persisted rollout records.
type RolloutItemType string

const (
	RolloutSessionMeta  RolloutItemType = "session_meta"
	RolloutResponseItem RolloutItemType = "response_item"
	RolloutTurnContext  RolloutItemType = "turn_context"
	RolloutCompacted    RolloutItemType = "compacted"
	RolloutEventMsg     RolloutItemType = "event_msg"
)

// RolloutLine is one JSONL record of a rollout file.
type RolloutLine struct {
	Timestamp time.Time   `json:"timestamp"`
	Item      RolloutItem `json:"item"`
}

// RolloutItem is a persisted record of session activity.
type RolloutItem struct {
	Type RolloutItemType `json:"type"`

	SessionMeta  *SessionMeta       `json:"session_meta,omitempty"`
	ResponseItem *ResponseItem      `json:"response_item,omitempty"`
	TurnContext  *TurnContextRecord `json:"turn_context,omitempty"`
	Compacted    *CompactedItem     `json:"compacted,omitempty"`
	EventMsg     *EventMsg          `json:"event_msg,omitempty"`
}

// SessionMeta is the first record of every rollout.
type SessionMeta struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Cwd        string    `json:"cwd"`
	Originator string    `json:"originator"`
	CLIVersion string    `json:"cli_version"`
}

// TurnContextRecord snapshots the turn settings used for one model call.
type TurnContextRecord struct {
	Cwd            string         `json:"cwd"`
	ApprovalPolicy AskForApproval `json:"approval_policy"`
	SandboxPolicy  SandboxPolicy  `json:"sandbox_policy"`
	Model          string         `json:"model"`
}

// CompactedItem marks a successful compaction.
type CompactedItem struct {
	Message            string         `json:"message"`
	ReplacementHistory []ResponseItem `json:"replacement_history,omitempty"`
}

func SessionMetaItem(m SessionMeta) RolloutItem {
	return RolloutItem{Type: RolloutSessionMeta, SessionMeta: &m}
}

func ResponseRolloutItem(i ResponseItem) RolloutItem {
	return RolloutItem{Type: RolloutResponseItem, ResponseItem: &i}
}

func TurnContextItem(r TurnContextRecord) RolloutItem {
	return RolloutItem{Type: RolloutTurnContext, TurnContext: &r}
}

func CompactedRolloutItem(c CompactedItem) RolloutItem {
	return RolloutItem{Type: RolloutCompacted, Compacted: &c}
}

func EventRolloutItem(m EventMsg) RolloutItem {
	return RolloutItem{Type: RolloutEventMsg, EventMsg: &m}
}
