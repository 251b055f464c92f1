package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/tools"
)

// AgentControl supervises the sub-agents of a session. Each sub-agent is a
// child Codex one level deeper than its parent.
type AgentControl struct {
	parent *Session
	deps   Deps

	mu      sync.Mutex
	agents  map[string]*agentHandle
	changed chan struct{} // closed and replaced on every status change
}

type agentHandle struct {
	codex  *Codex
	status tools.AgentStatus

	// taskErr is the last error reported by the current task.
	taskErr string
}

func newAgentControl(parent *Session, deps Deps) *AgentControl {
	// Children share the collaborators but never the rollout or history.
	deps.Recorder = nil
	deps.History = nil
	deps.ID = ""
	return &AgentControl{
		parent:  parent,
		deps:    deps,
		agents:  make(map[string]*agentHandle),
		changed: make(chan struct{}),
	}
}

var _ tools.AgentControl = (*AgentControl)(nil)

// Spawn starts a sub-agent on req.Items and returns its id.
func (c *AgentControl) Spawn(ctx context.Context, req tools.SpawnRequest) (string, error) {
	c.parent.mu.Lock()
	cfg := c.parent.cfg
	c.parent.mu.Unlock()

	if cfg.depth+1 > cfg.MaxSubagentDepth {
		return "", tools.ErrDepthExceeded
	}
	cfg.depth++
	if req.Model != "" {
		cfg.Model = req.Model
	}

	deps := c.deps
	deps.Executor = c.parent.executor
	deps.Catalog = c.parent.catalog
	base := c.deps.Logger
	if base == nil {
		base = slog.Default()
	}
	deps.Logger = base.With("parent_conversation_id", c.parent.id, "agent_label", req.Label, "agent_type", req.AgentType)

	child, err := Spawn(c.parent.ctx, cfg, deps)
	if err != nil {
		return "", fmt.Errorf("spawn sub-agent: %w", err)
	}
	id := child.ConversationID()
	h := &agentHandle{codex: child, status: tools.AgentStatus{State: tools.AgentPendingInit}}

	if _, err := child.Submit(ctx, protocol.UserInputOp(req.Items...)); err != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if serr := c.shutdownChild(sctx, h); serr != nil {
			c.parent.logger.Warn("failed to close unstarted sub-agent", "agent_id", id, "error", serr)
		}
		return "", fmt.Errorf("submit to sub-agent %s: %w", id, err)
	}

	// The child's events are buffered, so watching after the submit misses none.
	c.mu.Lock()
	c.agents[id] = h
	c.mu.Unlock()
	go c.watch(id, h)
	c.parent.logger.Debug("sub-agent spawned", "agent_id", id, "depth", cfg.depth, "label", req.Label)
	return id, nil
}

// watch follows the child's events until its stream ends.
func (c *AgentControl) watch(id string, h *agentHandle) {
	for {
		ev, err := h.codex.NextEvent(context.Background())
		if err != nil {
			c.update(h, func() {
				if !h.status.Final() {
					h.status = tools.AgentStatus{State: tools.AgentShutdown}
				}
			})
			c.parent.logger.Debug("sub-agent stream closed", "agent_id", id)
			return
		}

		msg := ev.Msg
		switch msg.Type {
		case protocol.EventTaskStarted:
			c.update(h, func() {
				h.taskErr = ""
				h.status = tools.AgentStatus{State: tools.AgentRunning}
			})
		case protocol.EventError:
			c.update(h, func() { h.taskErr = msg.Error.Message })
		case protocol.EventTaskComplete:
			c.update(h, func() {
				if h.taskErr != "" {
					h.status = tools.AgentStatus{State: tools.AgentErrored, Message: h.taskErr}
					return
				}
				status := tools.AgentStatus{State: tools.AgentCompleted}
				if last := msg.TaskComplete.LastAgentMessage; last != nil {
					status.Message = *last
				}
				h.status = status
			})
		case protocol.EventTurnAborted:
			c.update(h, func() {
				h.status = tools.AgentStatus{State: tools.AgentErrored, Message: string(msg.TurnAborted.Reason)}
			})
		case protocol.EventShutdownComplete:
			c.update(h, func() { h.status = tools.AgentStatus{State: tools.AgentShutdown} })
		}
	}
}

func (c *AgentControl) update(h *agentHandle, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := h.status
	fn()
	if h.status != before {
		close(c.changed)
		c.changed = make(chan struct{})
	}
}

func (c *AgentControl) handle(id string) (*agentHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.agents[id]
	return h, ok
}

// SendInput submits items to the sub-agent id, interrupting its current
// task first when interrupt is set.
func (c *AgentControl) SendInput(ctx context.Context, id string, items []protocol.InputItem, interrupt bool) (string, error) {
	h, ok := c.handle(id)
	if !ok {
		return "", tools.ErrAgentNotFound
	}
	if interrupt {
		if _, err := h.codex.Submit(ctx, protocol.InterruptOp()); err != nil {
			return "", err
		}
	}
	return h.codex.Submit(ctx, protocol.UserInputOp(items...))
}

// Status returns the current status of id.
func (c *AgentControl) Status(id string) tools.AgentStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.agents[id]; ok {
		return h.status
	}
	return tools.AgentStatus{State: tools.AgentNotFound}
}

// Wait blocks until one of ids reaches a final status, the timeout
// elapses, or ctx ends.
func (c *AgentControl) Wait(ctx context.Context, ids []string, timeout time.Duration) (map[string]tools.AgentStatus, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.mu.Lock()
		statuses := make(map[string]tools.AgentStatus, len(ids))
		final := false
		for _, id := range ids {
			status := tools.AgentStatus{State: tools.AgentNotFound}
			if h, ok := c.agents[id]; ok {
				status = h.status
			}
			statuses[id] = status
			final = final || status.Final()
		}
		changed := c.changed
		c.mu.Unlock()

		if final {
			return statuses, false, nil
		}
		if timeout <= 0 {
			return statuses, true, nil
		}
		select {
		case <-changed:
		case <-timer.C:
			return statuses, true, nil
		case <-ctx.Done():
			return statuses, false, ctx.Err()
		}
	}
}

// Close shuts the sub-agent id down and returns its status from before
// the shutdown.
func (c *AgentControl) Close(ctx context.Context, id string) (tools.AgentStatus, error) {
	h, ok := c.handle(id)
	if !ok {
		return tools.AgentStatus{}, tools.ErrAgentNotFound
	}
	status := c.Status(id)
	if err := c.shutdownChild(ctx, h); err != nil {
		return status, err
	}
	return status, nil
}

func (c *AgentControl) shutdownChild(ctx context.Context, h *agentHandle) error {
	if _, err := h.codex.Submit(ctx, protocol.ShutdownOp()); err != nil && !errors.Is(err, ErrSessionClosed) {
		return err
	}
	select {
	case <-h.codex.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseAll shuts every sub-agent down.
func (c *AgentControl) CloseAll(ctx context.Context) {
	c.mu.Lock()
	handles := make([]*agentHandle, 0, len(c.agents))
	for _, h := range c.agents {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.shutdownChild(ctx, h); err != nil {
				c.parent.logger.Warn("failed to close sub-agent", "agent_id", h.codex.ConversationID(), "error", err)
			}
		}()
	}
	wg.Wait()
}
