// Package rollout persists session activity as an append-only JSONL file.
//
// The first line of every rollout is the SessionMeta record. Writes are
// queued to a single writer goroutine, so Record never blocks on disk and
// lines keep the order in which they were recorded.
package rollout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/agentcore/protocol"
)

// ErrClosed is returned by Record and Flush after Shutdown.
var ErrClosed = errors.New("rollout: recorder closed")

const queueSize = 256

// command is one request to the writer goroutine.
type command struct {
	lines    []protocol.RolloutLine
	ack      chan error
	shutdown bool
}

// Recorder appends rollout lines to one file.
type Recorder struct {
	path   string
	file   *os.File
	logger *slog.Logger
	now    func() time.Time

	cmds chan command
	done chan struct{}

	// sendMu orders sends against Shutdown so no line is queued after the
	// shutdown command.
	sendMu sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error // first write error, sticky
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the recorder's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// PathFor returns the default location of a new rollout under home:
// home/sessions/YYYY/MM/DD/rollout-<timestamp>-<id>.jsonl.
func PathFor(home string, id string, at time.Time) string {
	at = at.UTC()
	name := fmt.Sprintf("rollout-%s-%s.jsonl", at.Format("2006-01-02T15-04-05"), id)
	return filepath.Join(home, "sessions", at.Format("2006"), at.Format("01"), at.Format("02"), name)
}

// Create starts a new rollout at path and writes meta as its first line.
// An empty meta.ID is filled with a random id.
func Create(path string, meta protocol.SessionMeta, opts ...Option) (*Recorder, error) {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create rollout dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create rollout: %w", err)
	}
	r := start(path, f, opts)
	if meta.Timestamp.IsZero() {
		meta.Timestamp = r.now()
	}
	if err := r.Record(context.Background(), protocol.SessionMetaItem(meta)); err != nil {
		_ = r.Shutdown(context.Background())
		return nil, err
	}
	return r, nil
}

// Open appends to an existing rollout, as when resuming a session.
func Open(path string, opts ...Option) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open rollout: %w", err)
	}
	return start(path, f, opts), nil
}

func start(path string, f *os.File, opts []Option) *Recorder {
	r := &Recorder{
		path:   path,
		file:   f,
		logger: slog.Default(),
		now:    time.Now,
		cmds:   make(chan command, queueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.writeLoop()
	return r
}

// Path returns the rollout file path.
func (r *Recorder) Path() string { return r.path }

// Record queues the persistable items among items. Items that
// ShouldPersist rejects are dropped silently.
func (r *Recorder) Record(ctx context.Context, items ...protocol.RolloutItem) error {
	now := r.now()
	lines := make([]protocol.RolloutLine, 0, len(items))
	for _, item := range items {
		if ShouldPersist(item) {
			lines = append(lines, protocol.RolloutLine{Timestamp: now, Item: item})
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return r.send(ctx, command{lines: lines})
}

// Flush waits until every previously recorded line is written and synced.
func (r *Recorder) Flush(ctx context.Context) error {
	ack := make(chan error, 1)
	if err := r.send(ctx, command{ack: ack}); err != nil {
		return err
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown flushes pending lines and closes the file. It is safe to call
// more than once.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.sendMu.Lock()
	if r.closed {
		r.sendMu.Unlock()
		<-r.done
		return r.stickyErr()
	}
	r.closed = true
	r.sendMu.Unlock()

	r.cmds <- command{shutdown: true}
	select {
	case <-r.done:
		return r.stickyErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) send(ctx context.Context, cmd command) error {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) stickyErr() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Recorder) setErr(err error) {
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.errMu.Unlock()
}

func (r *Recorder) writeLoop() {
	defer close(r.done)
	for cmd := range r.cmds {
		for _, line := range cmd.lines {
			if err := r.writeLine(line); err != nil {
				r.logger.Error("rollout write failed", "path", r.path, "error", err)
				r.setErr(err)
			}
		}
		if cmd.ack != nil {
			if err := r.file.Sync(); err != nil {
				r.setErr(err)
			}
			cmd.ack <- r.stickyErr()
		}
		if cmd.shutdown {
			if err := r.file.Sync(); err != nil {
				r.setErr(err)
			}
			if err := r.file.Close(); err != nil {
				r.setErr(err)
			}
			return
		}
	}
}

func (r *Recorder) writeLine(line protocol.RolloutLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal rollout line: %w", err)
	}
	data = append(data, '\n')
	_, err = r.file.Write(data)
	return err
}

// ShouldPersist reports whether item belongs in a rollout. Streaming and
// begin-style events are left out; everything needed to rebuild history
// is kept.
func ShouldPersist(item protocol.RolloutItem) bool {
	switch item.Type {
	case protocol.RolloutSessionMeta, protocol.RolloutResponseItem,
		protocol.RolloutTurnContext, protocol.RolloutCompacted:
		return true
	case protocol.RolloutEventMsg:
		if item.EventMsg == nil {
			return false
		}
		switch item.EventMsg.Type {
		case protocol.EventTaskStarted, protocol.EventTaskComplete, protocol.EventTurnAborted,
			protocol.EventTokenCount, protocol.EventError, protocol.EventWarning,
			protocol.EventContextCompacted, protocol.EventExecCommandEnd, protocol.EventAgentMessage,
			protocol.EventEnteredReviewMode, protocol.EventExitedReviewMode:
			return true
		}
	}
	return false
}
