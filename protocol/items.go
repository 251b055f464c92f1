package protocol

import "strings"

// Role identifies who authored a message item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleDeveloper Role = "developer"
)

// ItemType discriminates ResponseItem variants.
type ItemType string

const (
	ItemMessage            ItemType = "message"
	ItemFunctionCall       ItemType = "function_call"
	ItemFunctionCallOutput ItemType = "function_call_output"
	ItemReasoning          ItemType = "reasoning"
)

// Tags wrapping injected context that is not part of the user's own words.
const (
	EnvironmentContextOpenTag  = "<environment_context>"
	EnvironmentContextCloseTag = "</environment_context>"
	UserInstructionsOpenTag    = "<user_instructions>"
)

// SummaryPrefix starts every compaction summary message in history.
const SummaryPrefix = "Another language model started to solve this problem and produced a summary of its thinking process. You also have access to the state of the tools that were used by that language model. Use this to build on the work that has already been done and avoid duplicating work. Here is the summary produced by the other language model, use the information in this summary to assist with your own analysis:"

// ContentItem is one part of a message.
type ContentItem struct {
	Type string `json:"type"` // "input_text" or "output_text"
	Text string `json:"text"`
}

// FunctionCallOutput is the body returned to the model for a tool call.
// A nil Success means the handler gave no explicit signal.
type FunctionCallOutput struct {
	Content string `json:"content"`
	Success *bool  `json:"success,omitempty"`
}

// ResponseItem is one entry of the conversation history as seen by the
// model.
type ResponseItem struct {
	Type ItemType `json:"type"`

	// Message
	Role    Role          `json:"role,omitempty"`
	Content []ContentItem `json:"content,omitempty"`

	// FunctionCall and FunctionCallOutput
	Name      string              `json:"name,omitempty"`
	Arguments string              `json:"arguments,omitempty"`
	CallID    string              `json:"call_id,omitempty"`
	Output    *FunctionCallOutput `json:"output,omitempty"`

	// Reasoning
	Summary string `json:"summary,omitempty"`
}

// UserMessage builds a user message item.
func UserMessage(text string) ResponseItem {
	return ResponseItem{Type: ItemMessage, Role: RoleUser, Content: []ContentItem{{Type: "input_text", Text: text}}}
}

// AssistantMessage builds an assistant message item.
func AssistantMessage(text string) ResponseItem {
	return ResponseItem{Type: ItemMessage, Role: RoleAssistant, Content: []ContentItem{{Type: "output_text", Text: text}}}
}

// FunctionCall builds a function call item.
func FunctionCall(callID, name, arguments string) ResponseItem {
	return ResponseItem{Type: ItemFunctionCall, CallID: callID, Name: name, Arguments: arguments}
}

// FunctionCallOutputItem builds the output item answering callID.
func FunctionCallOutputItem(callID string, out FunctionCallOutput) ResponseItem {
	return ResponseItem{Type: ItemFunctionCallOutput, CallID: callID, Output: &out}
}

// Text concatenates the text of a message item.
func (i ResponseItem) Text() string {
	var sb strings.Builder
	for _, c := range i.Content {
		sb.WriteString(c.Text)
	}
	return sb.String()
}

// IsMessageFrom reports whether the item is a message with the given role.
func (i ResponseItem) IsMessageFrom(role Role) bool {
	return i.Type == ItemMessage && i.Role == role
}

// IsSummaryMessage reports whether the item is a compaction summary.
func (i ResponseItem) IsSummaryMessage() bool {
	return i.IsMessageFrom(RoleUser) && strings.HasPrefix(i.Text(), SummaryPrefix+"\n")
}

// IsContextMessage reports whether the item is injected session context
// rather than something the user typed.
func (i ResponseItem) IsContextMessage() bool {
	if !i.IsMessageFrom(RoleUser) {
		return false
	}
	text := strings.TrimSpace(i.Text())
	return strings.HasPrefix(text, EnvironmentContextOpenTag) || strings.HasPrefix(text, UserInstructionsOpenTag)
}

// IsUserMessage reports whether the item is a real user message: not
// injected context and not a compaction summary.
func (i ResponseItem) IsUserMessage() bool {
	return i.IsMessageFrom(RoleUser) && !i.IsContextMessage() && !i.IsSummaryMessage()
}

// InputItem is one element of user input.
type InputItem struct {
	Type string `json:"type"` // "text" or "skill"
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
	Path string `json:"path,omitempty"`
}

// TextInput builds a text input item.
func TextInput(text string) InputItem {
	return InputItem{Type: "text", Text: text}
}

// InputItemsToResponseItem folds input items into one user message.
func InputItemsToResponseItem(items []InputItem) ResponseItem {
	msg := ResponseItem{Type: ItemMessage, Role: RoleUser}
	for _, it := range items {
		switch it.Type {
		case "skill":
			msg.Content = append(msg.Content, ContentItem{Type: "input_text", Text: "<skill name=\"" + it.Name + "\" path=\"" + it.Path + "\"/>"})
		default:
			msg.Content = append(msg.Content, ContentItem{Type: "input_text", Text: it.Text})
		}
	}
	return msg
}
