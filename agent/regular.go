package agent

import (
	"context"
	"errors"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/sandbox"
	"github.com/martinemde/agentcore/tools"
	"github.com/martinemde/agentcore/unifiedllm"
)

// RegularTask runs user input through the model, executing tool calls
// until the model answers without calling tools.
type RegularTask struct{}

func (RegularTask) Kind() TaskKind { return TaskRegular }

func (RegularTask) Run(ctx context.Context, sess *Session, tc *TurnContext, input []protocol.InputItem) *string {
	sess.ensureInitialContext(ctx, tc)
	if len(input) > 0 {
		sess.RecordItems(ctx, protocol.InputItemsToResponseItem(input))
	}

	var last *string
	for {
		if ctx.Err() != nil {
			return last
		}

		resp, err := sess.complete(ctx, tc, sess.History())
		if err != nil {
			if ctx.Err() != nil {
				return last
			}
			var overflow *unifiedllm.ContextLengthError
			if errors.As(err, &overflow) {
				sess.Emit(ctx, tc.SubID, protocol.ErrorWithCode(tc.T("session.error.context_window_exceeded"), protocol.ErrorContextWindowExceeded))
				return last
			}
			sess.logger.Error("model request failed", "sub_id", tc.SubID, "error", err)
			sess.Emit(ctx, tc.SubID, protocol.Error(err.Error()))
			return last
		}

		sess.RecordItems(ctx, resp.Output...)
		info := sess.UpdateTokenUsage(resp.Usage.TokenUsage(), tc.ModelContextWindow)
		sess.Emit(ctx, tc.SubID, protocol.TokenCount(info))
		if msg := resp.LastAgentMessage(); msg != nil {
			last = msg
			sess.Emit(ctx, tc.SubID, protocol.AgentMessage(*msg))
		}

		calls := resp.ToolCalls()
		if len(calls) > 0 {
			outputs, fatal := runToolCalls(ctx, sess, tc, calls)
			sess.RecordItems(ctx, outputs...)
			if fatal != nil {
				sess.Emit(ctx, tc.SubID, protocol.Error(fatal.Error()))
				return last
			}
			sess.checkLoop(ctx, tc)
		}

		pending := sess.takePendingInput(tc.SubID, len(calls) == 0)
		for _, items := range pending {
			sess.RecordItems(ctx, protocol.InputItemsToResponseItem(items))
		}
		if len(calls) == 0 && len(pending) == 0 {
			return last
		}
	}
}

// runToolCalls dispatches calls concurrently and returns their outputs in
// call order. A fatal tool error is returned after every call has an
// output.
func runToolCalls(ctx context.Context, sess *Session, tc *TurnContext, calls []protocol.ResponseItem) ([]protocol.ResponseItem, error) {
	outputs := make([]protocol.ResponseItem, len(calls))
	var fatal error
	if tc.Tools != nil {
		g, gctx := errgroup.WithContext(ctx)
		turn := tc.TurnInfo()
		for i, item := range calls {
			call, ok := tc.Tools.BuildToolCall(item)
			if !ok {
				continue
			}
			g.Go(func() error {
				out, err := tc.Tools.DispatchToolCall(gctx, sess, turn, call)
				if err != nil {
					sess.logger.Warn("tool call failed", "sub_id", tc.SubID, "tool", call.Name, "call_id", call.CallID, "error", err)
					outputs[i] = tools.Failed(err.Error()).ResponseItem(call.CallID)
					return err
				}
				outputs[i] = out
				return nil
			})
		}
		fatal = g.Wait()
	}

	for i, item := range calls {
		if outputs[i].Type == "" {
			outputs[i] = tools.Failed(sandbox.AbortedMessage).ResponseItem(item.CallID)
		}
	}
	return outputs, fatal
}

// checkLoop warns the model when its recent tool calls repeat.
func (s *Session) checkLoop(ctx context.Context, tc *TurnContext) {
	s.mu.Lock()
	enabled, window := s.cfg.EnableLoopDetection, s.cfg.LoopDetectionWindow
	s.mu.Unlock()
	if !enabled || !DetectLoop(s.History(), window) {
		return
	}
	msg := tc.T("session.warning.loop_detected", "count", strconv.Itoa(window))
	s.logger.Warn("tool call loop detected", "sub_id", tc.SubID, "window", window)
	s.Emit(ctx, tc.SubID, protocol.Warning(msg))
	s.RecordItems(ctx, protocol.ResponseItem{
		Type:    protocol.ItemMessage,
		Role:    protocol.RoleDeveloper,
		Content: []protocol.ContentItem{{Type: "input_text", Text: msg}},
	})
}
