package agent

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/sandbox"
	"github.com/martinemde/agentcore/truncate"
)

const gitFailureOutputBytes = 2048

const (
	SddBranchPrefix = "sdd/"
	SddBaseBranch   = "develop-main"

	sddGitTimeout = 5 * time.Minute
)

// GitWorkflowTask performs one step of the SDD branch lifecycle. Every
// mutating git command is reported as an exec command with source sdd_git.
type GitWorkflowTask struct {
	Action protocol.GitAction
}

func (GitWorkflowTask) Kind() TaskKind { return TaskSddGit }

func (t GitWorkflowTask) Run(ctx context.Context, sess *Session, tc *TurnContext, _ []protocol.InputItem) *string {
	g := gitRunner{sess: sess, tc: tc}
	if err := g.run(ctx, t.Action); err != nil {
		sess.logger.Warn("sdd git action failed", "sub_id", tc.SubID, "action", t.Action.Type, "branch", t.Action.Name, "error", err)
		sess.Emit(ctx, tc.SubID, protocol.Error(err.Error()))
	}
	return nil
}

// gitError is a failure already phrased for the user.
type gitError struct{ msg string }

func (e *gitError) Error() string { return e.msg }

type gitRunner struct {
	sess *Session
	tc   *TurnContext
}

func (g gitRunner) fail(key string, kv ...string) error {
	return &gitError{msg: g.tc.T(key, kv...)}
}

func (g gitRunner) run(ctx context.Context, action protocol.GitAction) error {
	if err := g.ensureRepository(ctx); err != nil {
		return err
	}

	name, base := action.Name, action.Base
	switch action.Type {
	case protocol.GitCreateBranch:
		if err := g.ensureBase(base); err != nil {
			return err
		}
		if err := g.ensureSddBranch(name); err != nil {
			return err
		}
		if err := g.ensureClean(ctx); err != nil {
			return err
		}
		if err := g.checkoutUnlessOn(ctx, base); err != nil {
			return err
		}
		return g.logged(ctx, "checkout", "-b", name)

	case protocol.GitSwitchBranch:
		if err := g.ensureSddBranch(name); err != nil {
			return err
		}
		return g.checkoutUnlessOn(ctx, name)

	case protocol.GitFinalizeMerge:
		if err := g.ensureBase(base); err != nil {
			return err
		}
		if err := g.ensureSddBranch(name); err != nil {
			return err
		}
		current, err := g.currentBranch(ctx)
		if err != nil {
			return err
		}
		dirty, err := g.dirty(ctx)
		if err != nil {
			return err
		}
		if dirty && current != name {
			return g.fail("sdd_git.error.dirty_not_on_branch", "name", name)
		}
		if err := g.checkoutUnlessOn(ctx, name); err != nil {
			return err
		}

		if dirty, err = g.dirty(ctx); err != nil {
			return err
		}
		if dirty {
			if err := g.logged(ctx, "add", "-A"); err != nil {
				return err
			}
			if err := g.logged(ctx, "commit", "-m", action.CommitMessage); err != nil {
				return err
			}
		} else {
			g.sess.Emit(ctx, g.tc.SubID, protocol.Warning(g.tc.T("sdd_git.warning.no_changes", "name", name)))
		}

		if err := g.checkoutUnlessOn(ctx, base); err != nil {
			return err
		}
		return g.logged(ctx, "merge", "--no-ff", name)

	case protocol.GitAbandonBranch:
		if err := g.ensureBase(base); err != nil {
			return err
		}
		if err := g.ensureSddBranch(name); err != nil {
			return err
		}
		if err := g.ensureClean(ctx); err != nil {
			return err
		}
		if err := g.checkoutUnlessOn(ctx, base); err != nil {
			return err
		}
		return g.logged(ctx, "branch", "-D", name)
	}
	return &gitError{msg: "unknown sdd git action " + strconv.Quote(string(action.Type))}
}

func (g gitRunner) ensureBase(base string) error {
	if base != SddBaseBranch {
		return g.fail("sdd_git.error.invalid_base", "base", SddBaseBranch, "given", base)
	}
	return nil
}

// ValidSddBranch reports whether name may be managed by the SDD workflow.
func ValidSddBranch(name string) bool {
	if !strings.HasPrefix(name, SddBranchPrefix) || len(name) <= len(SddBranchPrefix) {
		return false
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return false
	}
	return !strings.Contains(name, "..")
}

func (g gitRunner) ensureSddBranch(name string) error {
	if !ValidSddBranch(name) {
		return g.fail("sdd_git.error.invalid_branch", "prefix", SddBranchPrefix, "name", name)
	}
	return nil
}

func (g gitRunner) ensureRepository(ctx context.Context) error {
	out, err := g.silent(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil && ctx.Err() != nil {
		return err
	}
	if err != nil || out != "true" {
		return g.fail("sdd_git.error.not_git_repo")
	}
	return nil
}

func (g gitRunner) currentBranch(ctx context.Context) (string, error) {
	name, err := g.silent(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", g.fail("sdd_git.error.no_current_branch")
	}
	return name, nil
}

func (g gitRunner) dirty(ctx context.Context) (bool, error) {
	status, err := g.silent(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return status != "", nil
}

func (g gitRunner) ensureClean(ctx context.Context) error {
	dirty, err := g.dirty(ctx)
	if err != nil {
		return err
	}
	if dirty {
		return g.fail("sdd_git.error.dirty_repo")
	}
	return nil
}

func (g gitRunner) checkoutUnlessOn(ctx context.Context, branch string) error {
	current, err := g.currentBranch(ctx)
	if err != nil {
		return err
	}
	if current == branch {
		return nil
	}
	return g.logged(ctx, "checkout", branch)
}

func (g gitRunner) request(args []string) sandbox.ExecRequest {
	return sandbox.ExecRequest{
		Params: sandbox.ExecParams{
			Command: append([]string{"git"}, args...),
			Cwd:     g.tc.Cwd,
			Timeout: sddGitTimeout,
		},
		Policy:     protocol.NewFullAccessPolicy(),
		Truncation: g.tc.Truncation,
		CallID:     uuid.NewString(),
		TurnID:     g.tc.SubID,
		Source:     protocol.ExecSourceSddGit,
	}
}

// silent runs a read-only git command without emitting events and returns its
// trimmed stdout.
func (g gitRunner) silent(ctx context.Context, args ...string) (string, error) {
	out, err := g.tc.Executor.Run(ctx, g.request(args), discardSink{})
	if err := g.execError(err); err != nil {
		return "", err
	}
	if out.ExitCode != 0 {
		if stderr := failureText(out.Stderr); stderr != "" {
			return "", &gitError{msg: stderr}
		}
		return "", g.fail("sdd_git.error.command_failed_no_output", "args", strings.Join(args, " "), "code", strconv.Itoa(out.ExitCode))
	}
	return strings.TrimSpace(out.Stdout), nil
}

// failureText trims a failed command's output to its last
// gitFailureOutputBytes, where git prints the fatal line.
func failureText(s string) string {
	return truncate.Tail(strings.TrimSpace(s), truncate.Bytes(gitFailureOutputBytes))
}

// logged runs a mutating command with begin and end events on the
// session's stream.
func (g gitRunner) logged(ctx context.Context, args ...string) error {
	out, err := g.tc.Executor.Run(ctx, g.request(args), g.sess.sink(g.tc.SubID))
	if err := g.execError(err); err != nil {
		return err
	}
	if out.ExitCode != 0 {
		joined := strings.Join(args, " ")
		if output := failureText(out.AggregatedOutput); output != "" {
			return g.fail("sdd_git.error.command_failed", "args", joined, "output", output)
		}
		return g.fail("sdd_git.error.command_failed_no_output", "args", joined, "code", strconv.Itoa(out.ExitCode))
	}
	return nil
}

func (g gitRunner) execError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sandbox.ErrCancelled) {
		return g.fail("sdd_git.error.cancelled")
	}
	var spawn *sandbox.SpawnError
	if errors.As(err, &spawn) {
		return g.fail("sdd_git.error.git_unavailable", "error", spawn.Err.Error())
	}
	return g.fail("sdd_git.error.git_unavailable", "error", err.Error())
}

type discardSink struct{}

func (discardSink) Send(context.Context, protocol.EventMsg) {}
