package agent

import (
	"context"
	"errors"
	"strconv"

	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/truncate"
	"github.com/martinemde/agentcore/unifiedllm"
)

// SummarizationPrompt asks the model for a handoff summary of the
// conversation so far.
const SummarizationPrompt = `You are performing a CONTEXT CHECKPOINT COMPACTION. Create a handoff summary for another LLM that will resume the task.

Include:
- Current progress and key decisions made
- Important context, constraints, or user preferences
- What remains to be done (clear next steps)
- Any critical data, examples, or references needed to continue

Be concise, structured, and focused on helping the next LLM seamlessly continue the work.`

// compactUserMessageMaxTokens bounds the user messages carried across a
// compaction.
const compactUserMessageMaxTokens = 20_000

// CompactTask replaces the history with a model-written summary.
type CompactTask struct{}

func (CompactTask) Kind() TaskKind { return TaskCompact }

func (CompactTask) Run(ctx context.Context, sess *Session, tc *TurnContext, input []protocol.InputItem) *string {
	runCompact(ctx, sess, tc, input)
	return nil
}

type compactOutcome string

const (
	compactSucceeded compactOutcome = "success"
	compactOverflow  compactOutcome = "context_window_exceeded"
	compactFailed    compactOutcome = "failed"
	compactAborted   compactOutcome = "aborted"
)

// runCompact summarizes the history and swaps it for the compacted form.
// When the prompt overflows the context window the oldest history item is
// dropped and the request retried.
func runCompact(ctx context.Context, sess *Session, tc *TurnContext, input []protocol.InputItem) {
	outcome := compactFailed
	defer func() {
		if sess.metrics != nil {
			sess.metrics.Compactions.WithLabelValues(string(outcome)).Inc()
		}
	}()

	if len(input) == 0 {
		prompt := tc.CompactPrompt
		if prompt == "" {
			prompt = SummarizationPrompt
		}
		input = []protocol.InputItem{protocol.TextInput(prompt)}
	}
	request := protocol.InputItemsToResponseItem(input)

	truncated := 0
	var resp *unifiedllm.Response
	for {
		history := sess.History()
		prompt := append(history, request)

		var err error
		resp, err = sess.complete(ctx, tc, prompt)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			outcome = compactAborted
			return
		}

		var overflow *unifiedllm.ContextLengthError
		if errors.As(err, &overflow) {
			if len(history) > 1 && sess.DropOldestItem() {
				truncated++
				sess.logger.Debug("trimmed history item for compaction", "sub_id", tc.SubID, "truncated", truncated)
				continue
			}
			outcome = compactOverflow
			sess.Emit(ctx, tc.SubID, protocol.ErrorWithCode(tc.T("session.error.context_window_exceeded"), protocol.ErrorContextWindowExceeded))
			return
		}

		sess.logger.Error("compaction failed", "sub_id", tc.SubID, "error", err)
		sess.Emit(ctx, tc.SubID, protocol.Error(tc.T("compact.failed", "error", err.Error())))
		return
	}

	if truncated > 0 {
		if sess.metrics != nil {
			sess.metrics.CompactionTrimmed.Add(float64(truncated))
		}
		sess.Emit(ctx, tc.SubID, protocol.Background(tc.T("compact.trimmed", "count", strconv.Itoa(truncated))))
	}

	summary := ""
	if msg := resp.LastAgentMessage(); msg != nil {
		summary = *msg
	}
	summaryText := protocol.SummaryPrefix + "\n" + summary

	replacement := buildCompactedHistory(tc.EnvironmentContext(), sess.History(), summaryText)
	sess.ReplaceHistory(replacement)

	info := sess.UpdateTokenUsage(resp.Usage.TokenUsage(), tc.ModelContextWindow)
	sess.Emit(ctx, tc.SubID, protocol.TokenCount(info))
	sess.Emit(ctx, tc.SubID, protocol.TokenCount(sess.RecalculateTokenUsage(tc.ModelContextWindow)))

	sess.recordRollout(ctx, protocol.CompactedRolloutItem(protocol.CompactedItem{
		Message:            summaryText,
		ReplacementHistory: replacement,
	}))

	outcome = compactSucceeded
	sess.Emit(ctx, tc.SubID, protocol.ContextCompacted(summaryText))
	sess.Emit(ctx, tc.SubID, protocol.Warning(tc.T("compact.warning")))
}

// collectUserMessages returns the text of the real user messages in
// history, oldest first.
func collectUserMessages(history []protocol.ResponseItem) []string {
	var out []string
	for _, item := range history {
		if item.IsUserMessage() {
			out = append(out, item.Text())
		}
	}
	return out
}

// buildCompactedHistory assembles the history that replaces a compacted
// conversation: the environment context, the most recent user messages
// that fit the token budget, and the summary.
func buildCompactedHistory(envContext protocol.ResponseItem, history []protocol.ResponseItem, summaryText string) []protocol.ResponseItem {
	messages := collectUserMessages(history)

	var kept []string
	remaining := compactUserMessageMaxTokens
	for i := len(messages) - 1; i >= 0 && remaining > 0; i-- {
		msg := messages[i]
		tokens := truncate.ApproxTokens(msg)
		if tokens > remaining {
			kept = append(kept, truncate.Text(msg, truncate.Tokens(remaining)))
			break
		}
		kept = append(kept, msg)
		remaining -= tokens
	}

	out := make([]protocol.ResponseItem, 0, len(kept)+2)
	out = append(out, envContext)
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, protocol.UserMessage(kept[i]))
	}
	return append(out, protocol.UserMessage(summaryText))
}
