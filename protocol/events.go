package protocol

import "time"

// EventType discriminates EventMsg variants.
type EventType string

const (
	EventTaskStarted       EventType = "task_started"
	EventTaskComplete      EventType = "task_complete"
	EventTurnAborted       EventType = "turn_aborted"
	EventAgentMessage      EventType = "agent_message"
	EventExecCommandBegin  EventType = "exec_command_begin"
	EventExecCommandEnd    EventType = "exec_command_end"
	EventWarning           EventType = "warning"
	EventError             EventType = "error"
	EventTokenCount        EventType = "token_count"
	EventContextCompacted  EventType = "context_compacted"
	EventEnteredReviewMode EventType = "entered_review_mode"
	EventExitedReviewMode  EventType = "exited_review_mode"
	EventBackground        EventType = "background_event"
	EventShutdownComplete  EventType = "shutdown_complete"
)

// Event is one element of the outbound stream. ID is the submission id of
// the operation that produced it.
type Event struct {
	ID  string   `json:"id"`
	Msg EventMsg `json:"msg"`
}

// EventMsg is the typed event payload.
type EventMsg struct {
	Type EventType `json:"type"`

	TaskStarted       *TaskStartedEvent       `json:"task_started,omitempty"`
	TaskComplete      *TaskCompleteEvent      `json:"task_complete,omitempty"`
	TurnAborted       *TurnAbortedEvent       `json:"turn_aborted,omitempty"`
	AgentMessage      *AgentMessageEvent      `json:"agent_message,omitempty"`
	ExecCommandBegin  *ExecCommandBeginEvent  `json:"exec_command_begin,omitempty"`
	ExecCommandEnd    *ExecCommandEndEvent    `json:"exec_command_end,omitempty"`
	Warning           *WarningEvent           `json:"warning,omitempty"`
	Error             *ErrorEvent             `json:"error,omitempty"`
	TokenCount        *TokenCountEvent        `json:"token_count,omitempty"`
	BackgroundEvent   *BackgroundEvent        `json:"background_event,omitempty"`
	ContextCompacted  *ContextCompactedEvent  `json:"context_compacted,omitempty"`
	EnteredReviewMode *EnteredReviewModeEvent `json:"entered_review_mode,omitempty"`
	ExitedReviewMode  *ExitedReviewModeEvent  `json:"exited_review_mode,omitempty"`
}

type TaskStartedEvent struct {
	ModelContextWindow *int64 `json:"model_context_window,omitempty"`
}

type TaskCompleteEvent struct {
	LastAgentMessage *string `json:"last_agent_message,omitempty"`
}

// TurnAbortReason explains why a task ended without completing.
type TurnAbortReason string

const (
	AbortInterrupted TurnAbortReason = "interrupted"
	AbortReplaced    TurnAbortReason = "replaced"
)

type TurnAbortedEvent struct {
	Reason TurnAbortReason `json:"reason"`
}

type AgentMessageEvent struct {
	Message string `json:"message"`
}

// ExecCommandSource tags which path issued a command.
type ExecCommandSource string

const (
	ExecSourceAgent     ExecCommandSource = "agent"
	ExecSourceUserShell ExecCommandSource = "user_shell"
	ExecSourceSddGit    ExecCommandSource = "sdd_git"
)

// ParsedCommandType classifies a command for display.
type ParsedCommandType string

const (
	ParsedRead      ParsedCommandType = "read"
	ParsedListFiles ParsedCommandType = "list_files"
	ParsedSearch    ParsedCommandType = "search"
	ParsedUnknown   ParsedCommandType = "unknown"
)

// ParsedCommand is a best-effort reading of what a command does.
type ParsedCommand struct {
	Type  ParsedCommandType `json:"type"`
	Cmd   string            `json:"cmd"`
	Name  string            `json:"name,omitempty"`
	Path  string            `json:"path,omitempty"`
	Query string            `json:"query,omitempty"`
}

type ExecCommandBeginEvent struct {
	CallID    string            `json:"call_id"`
	TurnID    string            `json:"turn_id"`
	Command   []string          `json:"command"`
	Cwd       string            `json:"cwd"`
	ParsedCmd []ParsedCommand   `json:"parsed_cmd"`
	Source    ExecCommandSource `json:"source"`
}

type ExecCommandEndEvent struct {
	CallID           string            `json:"call_id"`
	TurnID           string            `json:"turn_id"`
	Command          []string          `json:"command"`
	Cwd              string            `json:"cwd"`
	ParsedCmd        []ParsedCommand   `json:"parsed_cmd"`
	Source           ExecCommandSource `json:"source"`
	Stdout           string            `json:"stdout"`
	Stderr           string            `json:"stderr"`
	AggregatedOutput string            `json:"aggregated_output"`
	ExitCode         int               `json:"exit_code"`
	Duration         time.Duration     `json:"duration"`
	FormattedOutput  string            `json:"formatted_output"`
}

type WarningEvent struct {
	Message string `json:"message"`
}

// ErrorCode is a structured classification attached to error events.
type ErrorCode string

const (
	ErrorContextWindowExceeded ErrorCode = "context_window_exceeded"
	ErrorSandbox               ErrorCode = "sandbox_error"
	ErrorBadRequest            ErrorCode = "bad_request"
	ErrorInternal              ErrorCode = "internal"
	ErrorOther                 ErrorCode = "other"
)

type ErrorEvent struct {
	Message string     `json:"message"`
	Info    *ErrorCode `json:"codex_error_info,omitempty"`
}

type TokenCountEvent struct {
	Info *TokenUsageInfo `json:"info,omitempty"`
}

type BackgroundEvent struct {
	Message string `json:"message"`
}

// ContextCompactedEvent carries the summary that replaced the history.
type ContextCompactedEvent struct {
	Summary string `json:"summary"`
}

// Constructors keep the Type tag and payload pointer in sync.

func TaskStarted(window *int64) EventMsg {
	return EventMsg{Type: EventTaskStarted, TaskStarted: &TaskStartedEvent{ModelContextWindow: window}}
}

func TaskComplete(last *string) EventMsg {
	return EventMsg{Type: EventTaskComplete, TaskComplete: &TaskCompleteEvent{LastAgentMessage: last}}
}

func TurnAborted(reason TurnAbortReason) EventMsg {
	return EventMsg{Type: EventTurnAborted, TurnAborted: &TurnAbortedEvent{Reason: reason}}
}

func AgentMessage(text string) EventMsg {
	return EventMsg{Type: EventAgentMessage, AgentMessage: &AgentMessageEvent{Message: text}}
}

func ExecCommandBegin(ev ExecCommandBeginEvent) EventMsg {
	return EventMsg{Type: EventExecCommandBegin, ExecCommandBegin: &ev}
}

func ExecCommandEnd(ev ExecCommandEndEvent) EventMsg {
	return EventMsg{Type: EventExecCommandEnd, ExecCommandEnd: &ev}
}

func Warning(msg string) EventMsg {
	return EventMsg{Type: EventWarning, Warning: &WarningEvent{Message: msg}}
}

func Error(msg string) EventMsg {
	return EventMsg{Type: EventError, Error: &ErrorEvent{Message: msg}}
}

func ErrorWithCode(msg string, code ErrorCode) EventMsg {
	return EventMsg{Type: EventError, Error: &ErrorEvent{Message: msg, Info: &code}}
}

func TokenCount(info *TokenUsageInfo) EventMsg {
	return EventMsg{Type: EventTokenCount, TokenCount: &TokenCountEvent{Info: info}}
}

func ContextCompacted(summary string) EventMsg {
	return EventMsg{Type: EventContextCompacted, ContextCompacted: &ContextCompactedEvent{Summary: summary}}
}

func Background(msg string) EventMsg {
	return EventMsg{Type: EventBackground, BackgroundEvent: &BackgroundEvent{Message: msg}}
}

func ShutdownComplete() EventMsg {
	return EventMsg{Type: EventShutdownComplete}
}

// IsTerminal reports whether the event ends a task.
func (m EventMsg) IsTerminal() bool {
	return m.Type == EventTaskComplete || m.Type == EventTurnAborted
}
