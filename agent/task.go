package agent

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/martinemde/agentcore/protocol"
)

// TaskKind identifies a family of tasks.
type TaskKind string

const (
	TaskRegular TaskKind = "regular"
	TaskCompact TaskKind = "compact"
	TaskSddGit  TaskKind = "sdd_git"
	TaskReview  TaskKind = "review"
)

// SessionTask is one cancellable unit of work bound to a turn. Run returns
// the last agent message, if any. It must return promptly once ctx is
// done.
type SessionTask interface {
	Kind() TaskKind
	Run(ctx context.Context, sess *Session, tc *TurnContext, input []protocol.InputItem) *string
}

// runningTask tracks the active task of a session.
type runningTask struct {
	subID  string
	kind   TaskKind
	cancel context.CancelFunc
	done   chan struct{}

	// Guarded by Session.mu.
	abortReason  protocol.TurnAbortReason
	acceptsInput bool
}

// spawnTask aborts the active task, if any, and starts task under subID.
func (s *Session) spawnTask(subID string, task SessionTask, input []protocol.InputItem) {
	s.abort(protocol.AbortReplaced)

	tc := s.newTurnContext(subID)
	ctx, cancel := context.WithCancel(s.ctx)
	rt := &runningTask{
		subID:        subID,
		kind:         task.Kind(),
		cancel:       cancel,
		done:         make(chan struct{}),
		acceptsInput: task.Kind() == TaskRegular,
	}

	s.mu.Lock()
	s.active = rt
	s.pending = nil
	s.mu.Unlock()

	s.logger.Debug("task started", "sub_id", subID, "kind", rt.kind)
	go s.runTask(ctx, rt, task, tc, input)
}

func (s *Session) runTask(ctx context.Context, rt *runningTask, task SessionTask, tc *TurnContext, input []protocol.InputItem) {
	defer close(rt.done)
	defer rt.cancel()

	s.Emit(ctx, rt.subID, protocol.TaskStarted(tc.ModelContextWindow))

	last, err := runGuarded(ctx, task, s, tc, input)
	if err != nil {
		s.logger.Error("task panicked", "sub_id", rt.subID, "kind", rt.kind, "error", err)
		s.Emit(ctx, rt.subID, protocol.ErrorWithCode(tc.T("session.error.panic", "error", err.Error()), protocol.ErrorInternal))
	}

	s.mu.Lock()
	reason := rt.abortReason
	if s.active == rt {
		s.active = nil
		s.pending = nil
	}
	s.mu.Unlock()

	if reason != "" {
		s.logger.Debug("task aborted", "sub_id", rt.subID, "kind", rt.kind, "reason", reason)
		s.Emit(ctx, rt.subID, protocol.TurnAborted(reason))
		return
	}
	s.logger.Debug("task complete", "sub_id", rt.subID, "kind", rt.kind)
	s.Emit(ctx, rt.subID, protocol.TaskComplete(last))
}

// runGuarded converts a panic in task into an error.
func runGuarded(ctx context.Context, task SessionTask, s *Session, tc *TurnContext, input []protocol.InputItem) (last *string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("task panic stack", "sub_id", tc.SubID, "stack", string(debug.Stack()))
			last, err = nil, fmt.Errorf("%v", r)
		}
	}()
	return task.Run(ctx, s, tc, input), nil
}

// abort cancels the active task and waits for its terminal event.
func (s *Session) abort(reason protocol.TurnAbortReason) {
	s.mu.Lock()
	rt := s.active
	if rt != nil && rt.abortReason == "" {
		rt.abortReason = reason
	}
	s.mu.Unlock()
	if rt == nil {
		return
	}
	rt.cancel()
	<-rt.done
}

// queueInput hands items to the running regular task. It reports false
// when no task can take them.
func (s *Session) queueInput(items []protocol.InputItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || !s.active.acceptsInput || s.active.abortReason != "" {
		return false
	}
	s.pending = append(s.pending, items)
	return true
}

// takePendingInput returns the input queued for the task running under
// subID. With finishing set and nothing queued, the task stops accepting
// input so the next submission starts a new task.
func (s *Session) takePendingInput(subID string, finishing bool) [][]protocol.InputItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.subID != subID {
		return nil
	}
	pending := s.pending
	s.pending = nil
	if finishing && len(pending) == 0 {
		s.active.acceptsInput = false
	}
	return pending
}
