package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/martinemde/agentcore/protocol"
)

// Codex is the client handle of a running session. Operations go in
// through Submit and events come out through NextEvent.
type Codex struct {
	session *Session
	subs    chan protocol.Submission
	done    chan struct{}
}

// Spawn starts a session with cfg and returns its handle. The session runs
// until a Shutdown operation is processed or ctx is cancelled.
func Spawn(ctx context.Context, cfg Config, deps Deps) (*Codex, error) {
	ctx, cancel := context.WithCancel(ctx)
	sess, err := newSession(ctx, cfg, deps)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("spawn session: %w", err)
	}
	c := &Codex{
		session: sess,
		subs:    make(chan protocol.Submission),
		done:    make(chan struct{}),
	}
	go c.submissionLoop(ctx, cancel)
	sess.logger.Debug("session started", "cwd", cfg.Cwd, "model", cfg.Model, "depth", cfg.depth)
	return c, nil
}

// Submit queues op and returns the id its events will carry.
func (c *Codex) Submit(ctx context.Context, op protocol.Op) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sub := protocol.Submission{ID: uuid.NewString(), Op: op}
	select {
	case c.subs <- sub:
		return sub.ID, nil
	case <-c.done:
		return "", ErrSessionClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// NextEvent blocks until the next event is available. It returns
// ErrSessionClosed once the stream has ended.
func (c *Codex) NextEvent(ctx context.Context) (protocol.Event, error) {
	return c.session.events.Next(ctx)
}

// ConversationID returns the session identifier.
func (c *Codex) ConversationID() string { return c.session.ConversationID() }

// Session exposes the underlying session.
func (c *Codex) Session() *Session { return c.session }

// Done is closed when the submission loop has exited.
func (c *Codex) Done() <-chan struct{} { return c.done }

func (c *Codex) submissionLoop(ctx context.Context, cancel context.CancelFunc) {
	defer close(c.done)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			c.session.shutdown("")
			return
		case sub := <-c.subs:
			if c.session.handle(sub) {
				return
			}
		}
	}
}
