// Package tools maps model-issued tool calls onto handlers.
//
// A handler declares the payload kind it accepts and is registered by name.
// The Registry rejects unknown names and mismatched payloads before a
// handler runs, validates function arguments against the tool's JSON
// schema, and converts handler panics into fatal errors. Handler errors are
// either recoverable, in which case the message goes back to the model as a
// failed tool result, or fatal, in which case the turn ends.
package tools

import (
	"context"
	"errors"

	"github.com/martinemde/agentcore/i18n"
	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/sandbox"
	"github.com/martinemde/agentcore/truncate"
)

// ToolKind is the payload family a handler accepts.
type ToolKind string

const (
	KindFunction ToolKind = "function"
	KindCustom   ToolKind = "custom"
)

// PayloadType discriminates ToolPayload variants.
type PayloadType string

const (
	PayloadFunction PayloadType = "function"
	PayloadCustom   PayloadType = "custom"
)

// ToolPayload is what the model sent for one call.
type ToolPayload struct {
	Type PayloadType

	Arguments string // Function
	Input     string // Custom
}

// FunctionPayload wraps JSON function arguments.
func FunctionPayload(arguments string) ToolPayload {
	return ToolPayload{Type: PayloadFunction, Arguments: arguments}
}

// CustomPayload wraps free-form custom tool input.
func CustomPayload(input string) ToolPayload {
	return ToolPayload{Type: PayloadCustom, Input: input}
}

// CommandRunner runs one sandboxed command. *sandbox.Executor implements it.
type CommandRunner interface {
	Run(ctx context.Context, req sandbox.ExecRequest, sink sandbox.EventSink) (sandbox.Output, error)
}

// SessionHandle is the part of a session a handler may use.
type SessionHandle interface {
	// Emit publishes msg on the session's event stream under subID.
	Emit(ctx context.Context, subID string, msg protocol.EventMsg)

	// AgentControl returns the sub-agent controller, or nil when the
	// session may not spawn agents.
	AgentControl() AgentControl

	ConversationID() string
}

// TurnInfo is a read-only view of the turn a call belongs to.
type TurnInfo struct {
	SubID         string
	Cwd           string
	SandboxPolicy protocol.SandboxPolicy
	Truncation    truncate.Policy
	Catalog       i18n.Catalog
	Language      i18n.Language
	Runner        CommandRunner
}

// T returns the catalog string for key with kv interpolated as name/value
// pairs.
func (t TurnInfo) T(key string, kv ...string) string {
	cat := t.Catalog
	if cat == nil {
		cat = defaultCatalog()
	}
	if len(kv) == 0 {
		return cat.Tr(t.Language, key)
	}
	args := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		args[kv[i]] = kv[i+1]
	}
	return cat.TrArgs(t.Language, key, args)
}

// ToolInvocation is one tool call handed to exactly one handler.
type ToolInvocation struct {
	Session  SessionHandle
	Turn     TurnInfo
	CallID   string
	ToolName string
	Payload  ToolPayload
}

// sink routes executor events onto the session stream under the turn's id.
func (inv ToolInvocation) sink() sandbox.EventSink {
	return sessionSink{session: inv.Session, subID: inv.Turn.SubID}
}

type sessionSink struct {
	session SessionHandle
	subID   string
}

func (s sessionSink) Send(ctx context.Context, msg protocol.EventMsg) {
	if s.session != nil {
		s.session.Emit(ctx, s.subID, msg)
	}
}

// ToolOutput is a handler's result. A nil Success means the handler gave
// no explicit signal, as for a poll that timed out.
type ToolOutput struct {
	Content string
	Success *bool
}

// Succeeded returns an output flagged successful.
func Succeeded(content string) ToolOutput {
	ok := true
	return ToolOutput{Content: content, Success: &ok}
}

// Failed returns an output flagged unsuccessful.
func Failed(content string) ToolOutput {
	ok := false
	return ToolOutput{Content: content, Success: &ok}
}

// Unflagged returns an output without a success signal.
func Unflagged(content string) ToolOutput {
	return ToolOutput{Content: content}
}

// ResponseItem converts the output into the history item answering callID.
func (o ToolOutput) ResponseItem(callID string) protocol.ResponseItem {
	return protocol.FunctionCallOutputItem(callID, protocol.FunctionCallOutput{Content: o.Content, Success: o.Success})
}

// ErrorKind separates errors the model can act on from those that end the
// turn.
type ErrorKind int

const (
	ErrorRespondToModel ErrorKind = iota
	ErrorFatal
)

// FunctionCallError is the error type returned by handlers.
type FunctionCallError struct {
	Kind    ErrorKind
	Message string
}

func (e *FunctionCallError) Error() string {
	if e.Kind == ErrorFatal {
		return "fatal tool error: " + e.Message
	}
	return e.Message
}

// RespondToModel returns a recoverable error. Its message is sent back to
// the model as an unsuccessful tool result and the turn continues.
func RespondToModel(msg string) error {
	return &FunctionCallError{Kind: ErrorRespondToModel, Message: msg}
}

// Fatal returns an error that aborts the turn.
func Fatal(msg string) error {
	return &FunctionCallError{Kind: ErrorFatal, Message: msg}
}

// IsFatal reports whether err aborts the turn. Errors that are not a
// FunctionCallError are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fce *FunctionCallError
	if errors.As(err, &fce) {
		return fce.Kind == ErrorFatal
	}
	return true
}

// ModelMessage returns the text of a recoverable error, and false for
// anything that is not one.
func ModelMessage(err error) (string, bool) {
	var fce *FunctionCallError
	if errors.As(err, &fce) && fce.Kind == ErrorRespondToModel {
		return fce.Message, true
	}
	return "", false
}

// ToolHandler executes one family of tools.
type ToolHandler interface {
	Kind() ToolKind
	MatchesKind(p ToolPayload) bool
	Handle(ctx context.Context, inv ToolInvocation) (ToolOutput, error)
}

// functionHandler is embedded by handlers that accept only function
// payloads.
type functionHandler struct{}

func (functionHandler) Kind() ToolKind { return KindFunction }

func (functionHandler) MatchesKind(p ToolPayload) bool { return p.Type == PayloadFunction }
