package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/martinemde/agentcore/agent"
	"github.com/martinemde/agentcore/config"
	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/rollout"
	"github.com/martinemde/agentcore/unifiedllm"
)

func buildExecCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exec [prompt]",
		Short: "Run one turn with the given prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			return runSession(cmd, flags, "", protocol.UserInputOp(protocol.TextInput(prompt)))
		},
	}
}

func buildGitCmd(flags *globalFlags) *cobra.Command {
	gitCmd := &cobra.Command{
		Use:   "git",
		Short: "Manage SDD workflow branches",
	}
	actions := []struct {
		use   string
		short string
		typ   protocol.GitActionType
	}{
		{"create", "Create an SDD branch from the base branch", protocol.GitCreateBranch},
		{"switch", "Switch to an SDD branch", protocol.GitSwitchBranch},
		{"finalize", "Commit an SDD branch and merge it into the base branch", protocol.GitFinalizeMerge},
		{"abandon", "Delete an SDD branch", protocol.GitAbandonBranch},
	}
	for _, a := range actions {
		var base, message string
		sub := &cobra.Command{
			Use:   a.use + " <branch>",
			Short: a.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				action := protocol.GitAction{Type: a.typ, Name: args[0], Base: base, CommitMessage: message}
				return runSession(cmd, flags, "", protocol.SddGitActionOp(action))
			},
		}
		sub.Flags().StringVar(&base, "base", agent.SddBaseBranch, "Base branch")
		if a.typ == protocol.GitFinalizeMerge {
			sub.Flags().StringVarP(&message, "message", "m", "", "Commit message for pending changes")
		}
		gitCmd.AddCommand(sub)
	}
	return gitCmd
}

func buildCompactCmd(flags *globalFlags) *cobra.Command {
	var resume string
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Summarize a recorded conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, flags, resume, protocol.CompactOp())
		},
	}
	cmd.Flags().StringVar(&resume, "resume", "", "Rollout file to resume from")
	_ = cmd.MarkFlagRequired("resume")
	return cmd
}

func buildReviewCmd(flags *globalFlags) *cobra.Command {
	var base, commit, title string
	cmd := &cobra.Command{
		Use:   "review [instructions]",
		Short: "Review uncommitted changes, a branch, a commit, or custom instructions",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := protocol.UncommittedReview()
			switch {
			case len(args) > 0:
				target = protocol.CustomReview(strings.Join(args, " "))
			case base != "":
				target = protocol.BaseBranchReview(base)
			case commit != "":
				target = protocol.CommitReview(commit, title)
			}
			return runSession(cmd, flags, "", protocol.ReviewOp(protocol.ReviewRequest{Target: target}))
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "Review changes against this branch")
	cmd.Flags().StringVar(&commit, "commit", "", "Review the changes of this commit")
	cmd.Flags().StringVar(&title, "title", "", "Commit title shown with --commit")
	cmd.MarkFlagsMutuallyExclusive("base", "commit")
	return cmd
}

func buildConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration file format",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.JSONSchema()
			if err != nil {
				return fmt.Errorf("generate config schema: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	})
	return configCmd
}

// runSession spawns a session, submits op, and prints events until the task
// ends. A non-empty resume path continues that rollout.
func runSession(cmd *cobra.Command, flags *globalFlags, resume string, op protocol.Op) error {
	rt, err := setup(flags)
	if err != nil {
		return err
	}
	defer rt.stop()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	cfg, err := agent.ConfigFrom(rt.cfg)
	if err != nil {
		return err
	}
	client, err := newModelClient(rt)
	if err != nil {
		return err
	}
	defer client.Close()

	deps := agent.Deps{Client: client, Logger: rt.logger, Metrics: rt.metrics}
	if resume != "" {
		err = resumeRollout(rt, resume, &deps)
	} else {
		err = createRollout(rt, cfg.Cwd, &deps)
	}
	if err != nil {
		return err
	}

	codex, err := agent.Spawn(ctx, cfg, deps)
	if err != nil {
		if deps.Recorder != nil {
			_ = deps.Recorder.Shutdown(context.Background())
		}
		return err
	}
	rt.logger.Info("session started", "conversation_id", codex.ConversationID())

	failed, err := drive(ctx, codex, op, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if failed {
		return errors.New("task reported an error")
	}
	return nil
}

func newModelClient(rt *app) (*unifiedllm.Client, error) {
	adapter, err := unifiedllm.NewGollmAdapter(rt.cfg.Provider, rt.cfg.APIKey, unifiedllm.WithModel(rt.cfg.Model))
	if err != nil {
		return nil, fmt.Errorf("create %s adapter: %w", rt.cfg.Provider, err)
	}
	return unifiedllm.NewClient(
		unifiedllm.WithProvider(rt.cfg.Provider, adapter),
		unifiedllm.WithDefaultProvider(rt.cfg.Provider),
		unifiedllm.WithMiddleware(
			unifiedllm.LoggingMiddleware(rt.logger),
			unifiedllm.MetricsMiddleware(rt.metrics),
		),
	), nil
}

func createRollout(rt *app, cwd string, deps *agent.Deps) error {
	home, err := rt.cfg.ResolvedHome()
	if err != nil {
		return err
	}
	id := uuid.NewString()
	path := rollout.PathFor(home, id, time.Now())
	rec, err := rollout.Create(path, protocol.SessionMeta{
		ID:         id,
		Cwd:        cwd,
		Originator: originator,
		CLIVersion: version,
	}, rollout.WithLogger(rt.logger))
	if err != nil {
		return err
	}
	rt.logger.Debug("recording rollout", "path", path)
	deps.ID = id
	deps.Recorder = rec
	return nil
}

func resumeRollout(rt *app, path string, deps *agent.Deps) error {
	lines, err := rollout.Read(path)
	if err != nil {
		return err
	}
	meta, ok := rollout.Meta(lines)
	if !ok {
		return fmt.Errorf("rollout %s has no session meta", path)
	}
	rec, err := rollout.Open(path, rollout.WithLogger(rt.logger))
	if err != nil {
		return err
	}
	deps.ID = meta.ID
	deps.History = rollout.History(lines)
	deps.Recorder = rec
	return nil
}

// drive submits op, writes every event to out as JSON, and shuts the session
// down once the task ends. It reports whether the task emitted an error.
func drive(ctx context.Context, codex *agent.Codex, op protocol.Op, out io.Writer) (bool, error) {
	enc := json.NewEncoder(out)
	subID, err := codex.Submit(ctx, op)
	if err != nil {
		return false, err
	}

	failed := false
	for {
		ev, err := codex.NextEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return failed, shutdown(codex, enc)
			}
			return failed, err
		}
		if err := enc.Encode(ev); err != nil {
			return failed, err
		}
		if ev.ID != subID {
			continue
		}
		switch ev.Msg.Type {
		case protocol.EventError:
			failed = true
		case protocol.EventTaskComplete, protocol.EventTurnAborted:
			return failed, shutdown(codex, enc)
		}
	}
}

// shutdown submits Shutdown and prints the remaining events until the stream
// closes.
func shutdown(codex *agent.Codex, enc *json.Encoder) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := codex.Submit(ctx, protocol.ShutdownOp()); err != nil && !errors.Is(err, agent.ErrSessionClosed) {
		return err
	}
	for {
		ev, err := codex.NextEvent(ctx)
		if errors.Is(err, agent.ErrSessionClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
}
