package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/agentcore/i18n"
	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/rollout"
	"github.com/martinemde/agentcore/sandbox"
	"github.com/martinemde/agentcore/telemetry"
	"github.com/martinemde/agentcore/tools"
	"github.com/martinemde/agentcore/unifiedllm"
)

const shutdownTimeout = 10 * time.Second

// Session is the state shared by the tasks of one conversation. The
// history is mutated only through its methods.
type Session struct {
	id  string
	ctx context.Context

	events   *EventEmitter
	recorder *rollout.Recorder
	client   ModelClient
	executor tools.CommandRunner
	catalog  i18n.Catalog
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	router   *tools.Router
	control  *AgentControl

	mu        sync.Mutex
	cfg       Config
	history   *ContextManager
	tokenInfo *protocol.TokenUsageInfo
	active    *runningTask
	pending   [][]protocol.InputItem
}

func newSession(ctx context.Context, cfg Config, deps Deps) (*Session, error) {
	if deps.Client == nil {
		return nil, errors.New("agent: a model client is required")
	}
	id := deps.ID
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		id:       id,
		ctx:      ctx,
		events:   NewEventEmitter(),
		recorder: deps.Recorder,
		client:   deps.Client,
		executor: deps.Executor,
		catalog:  deps.Catalog,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		cfg:      cfg,
		history:  NewContextManager(deps.History),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("conversation_id", s.id)
	if s.catalog == nil {
		s.catalog = i18n.Default()
	}
	if s.executor == nil {
		opts := []sandbox.Option{sandbox.WithLogger(s.logger)}
		if s.metrics != nil {
			opts = append(opts, sandbox.WithMetrics(s.metrics))
		}
		s.executor = sandbox.NewExecutor(opts...)
	}
	if cfg.depth < cfg.MaxSubagentDepth {
		s.control = newAgentControl(s, deps)
	}

	toolOpts := []tools.Option{tools.WithLogger(s.logger)}
	if s.metrics != nil {
		toolOpts = append(toolOpts, tools.WithMetrics(s.metrics))
	}
	router, err := tools.NewDefaultRouter(tools.RouterConfig{Collab: s.control != nil, ClaudeAliases: true}, toolOpts...)
	if err != nil {
		return nil, fmt.Errorf("build tool router: %w", err)
	}
	s.router = router
	return s, nil
}

// ConversationID returns the session identifier.
func (s *Session) ConversationID() string { return s.id }

// AgentControl returns the sub-agent controller, or nil at the maximum
// agent depth.
func (s *Session) AgentControl() tools.AgentControl {
	if s.control == nil {
		return nil
	}
	return s.control
}

// Emit publishes msg under subID and records it in the rollout when it is
// persisted there. Emitting never blocks and survives cancellation of ctx.
func (s *Session) Emit(ctx context.Context, subID string, msg protocol.EventMsg) {
	s.recordRollout(ctx, protocol.EventRolloutItem(msg))
	s.events.Emit(protocol.Event{ID: subID, Msg: msg})
}

// sink adapts the session to the executor's event sink for one turn.
func (s *Session) sink(subID string) sandbox.EventSink {
	return turnSink{session: s, subID: subID}
}

type turnSink struct {
	session *Session
	subID   string
}

func (t turnSink) Send(ctx context.Context, msg protocol.EventMsg) {
	t.session.Emit(ctx, t.subID, msg)
}

func (s *Session) recordRollout(ctx context.Context, items ...protocol.RolloutItem) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(context.WithoutCancel(ctx), items...); err != nil {
		s.logger.Warn("failed to record rollout", "path", s.recorder.Path(), "error", err)
	}
}

// RecordItems appends items to the history and the rollout.
func (s *Session) RecordItems(ctx context.Context, items ...protocol.ResponseItem) {
	if len(items) == 0 {
		return
	}
	s.mu.Lock()
	s.history.Record(items...)
	s.mu.Unlock()

	rolloutItems := make([]protocol.RolloutItem, len(items))
	for i, item := range items {
		rolloutItems[i] = protocol.ResponseRolloutItem(item)
	}
	s.recordRollout(ctx, rolloutItems...)
}

// History returns a snapshot of the conversation history.
func (s *Session) History() []protocol.ResponseItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Snapshot()
}

// ReplaceHistory swaps the history for items.
func (s *Session) ReplaceHistory(items []protocol.ResponseItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Replace(items)
}

// DropOldestItem removes the first history item. It reports false when
// the history is empty.
func (s *Session) DropOldestItem() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.DropOldest()
}

// ensureInitialContext records the environment context unless the history
// already carries one.
func (s *Session) ensureInitialContext(ctx context.Context, tc *TurnContext) {
	s.mu.Lock()
	has := s.history.HasContextMessage()
	s.mu.Unlock()
	if !has {
		s.RecordItems(ctx, tc.EnvironmentContext())
	}
}

// UpdateTokenUsage adds the usage of one model call and returns the new
// totals.
func (s *Session) UpdateTokenUsage(usage protocol.TokenUsage, window *int64) *protocol.TokenUsageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenInfo = s.tokenInfo.Append(usage, window)
	info := *s.tokenInfo
	return &info
}

// RecalculateTokenUsage replaces the last usage with a local estimate of
// the current history, keeping the accumulated total.
func (s *Session) RecalculateTokenUsage(window *int64) *protocol.TokenUsageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	estimate := s.history.EstimateTokens()
	info := protocol.TokenUsageInfo{ModelContextWindow: window}
	if s.tokenInfo != nil {
		info.TotalTokenUsage = s.tokenInfo.TotalTokenUsage
		if window == nil {
			info.ModelContextWindow = s.tokenInfo.ModelContextWindow
		}
	}
	info.LastTokenUsage = protocol.TokenUsage{InputTokens: estimate, TotalTokens: estimate}
	s.tokenInfo = &info
	out := info
	return &out
}

// TokenUsage returns the current token accounting, or nil before the first
// model call.
func (s *Session) TokenUsage() *protocol.TokenUsageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenInfo == nil {
		return nil
	}
	info := *s.tokenInfo
	return &info
}

func (s *Session) newTurnContext(subID string) *TurnContext {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	return &TurnContext{
		SubID:              subID,
		Cwd:                cfg.Cwd,
		ApprovalPolicy:     cfg.ApprovalPolicy,
		SandboxPolicy:      cfg.SandboxPolicy,
		Truncation:         cfg.Truncation,
		Client:             s.client,
		Model:              cfg.Model,
		Provider:           cfg.Provider,
		ModelContextWindow: cfg.contextWindow(cfg.Model),
		Instructions:       cfg.Instructions,
		CompactPrompt:      cfg.CompactPrompt,
		Retry:              cfg.Retry,
		Language:           cfg.Language,
		Catalog:            s.catalog,
		Executor:           s.executor,
		Tools:              s.router,
	}
}

// complete sends input to the model, retrying retryable errors, and
// records the turn context of the completed call.
func (s *Session) complete(ctx context.Context, tc *TurnContext, input []protocol.ResponseItem) (*unifiedllm.Response, error) {
	req := tc.request(input)
	ctx, span := telemetry.StartSpan(ctx, "model.complete", "model", tc.Model, "sub_id", tc.SubID)

	policy := tc.Retry
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		s.logger.Warn("retrying model request", "sub_id", tc.SubID, "attempt", attempt, "delay", delay, "error", err)
	}
	resp, err := unifiedllm.Retry(ctx, policy, func(ctx context.Context) (*unifiedllm.Response, error) {
		return tc.Client.Complete(ctx, req)
	})
	if err == nil && resp == nil {
		err = errors.New("model returned no response")
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	s.recordRollout(ctx, protocol.TurnContextItem(tc.Record()))
	return resp, nil
}

// handle runs one submission. It reports true once the session has shut
// down.
func (s *Session) handle(sub protocol.Submission) bool {
	s.logger.Debug("submission", "sub_id", sub.ID, "op", sub.Op.Type)
	switch sub.Op.Type {
	case protocol.OpUserInput:
		if s.queueInput(sub.Op.Items) {
			return false
		}
		s.spawnTask(sub.ID, RegularTask{}, sub.Op.Items)
	case protocol.OpCompact:
		s.spawnTask(sub.ID, CompactTask{}, nil)
	case protocol.OpSddGitAction:
		if sub.Op.Action == nil {
			s.Emit(s.ctx, sub.ID, protocol.ErrorWithCode("sdd_git_action requires an action", protocol.ErrorBadRequest))
			return false
		}
		s.spawnTask(sub.ID, GitWorkflowTask{Action: *sub.Op.Action}, nil)
	case protocol.OpReview:
		if sub.Op.Review == nil {
			s.Emit(s.ctx, sub.ID, protocol.ErrorWithCode("review requires a review_request", protocol.ErrorBadRequest))
			return false
		}
		s.spawnTask(sub.ID, ReviewTask{Request: *sub.Op.Review}, nil)
	case protocol.OpOverrideTurnContext:
		if sub.Op.Override != nil {
			s.mu.Lock()
			s.cfg = applyOverride(s.cfg, *sub.Op.Override)
			s.mu.Unlock()
		}
	case protocol.OpInterrupt:
		s.abort(protocol.AbortInterrupted)
	case protocol.OpShutdown:
		s.shutdown(sub.ID)
		return true
	default:
		s.Emit(s.ctx, sub.ID, protocol.ErrorWithCode(fmt.Sprintf("unknown operation %q", sub.Op.Type), protocol.ErrorBadRequest))
	}
	return false
}

// shutdown aborts the active task, closes sub-agents, flushes the rollout,
// and closes the event stream after ShutdownComplete.
func (s *Session) shutdown(subID string) {
	s.abort(protocol.AbortInterrupted)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), shutdownTimeout)
	defer cancel()
	if s.control != nil {
		s.control.CloseAll(ctx)
	}
	if s.recorder != nil {
		if err := s.recorder.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shut down rollout recorder", "path", s.recorder.Path(), "error", err)
		}
	}
	s.Emit(ctx, subID, protocol.ShutdownComplete())
	s.events.Close()
	s.logger.Debug("session shut down")
}
