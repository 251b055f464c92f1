package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/martinemde/agentcore/protocol"
)

// ReviewTask reviews code changes. The prompt is resolved from the target,
// asking git for the merge base when reviewing against a branch, and the
// review then runs through the regular model loop. Queued user input is not
// taken: new input ends the review and starts a regular task.
type ReviewTask struct {
	Request protocol.ReviewRequest
}

func (ReviewTask) Kind() TaskKind { return TaskReview }

func (t ReviewTask) Run(ctx context.Context, sess *Session, tc *TurnContext, _ []protocol.InputItem) *string {
	req, prompt, err := resolveReview(ctx, gitRunner{sess: sess, tc: tc}, t.Request)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		sess.logger.Warn("review request rejected", "sub_id", tc.SubID, "target", t.Request.Target.Type, "error", err)
		sess.Emit(ctx, tc.SubID, protocol.ErrorWithCode(err.Error(), protocol.ErrorBadRequest))
		return nil
	}

	sess.logger.Debug("review started", "sub_id", tc.SubID, "target", req.Target.Type, "hint", req.UserFacingHint)
	sess.Emit(ctx, tc.SubID, protocol.EnteredReviewMode(req))
	last := RegularTask{}.Run(ctx, sess, tc, []protocol.InputItem{protocol.TextInput(prompt)})
	sess.Emit(ctx, tc.SubID, protocol.ExitedReviewMode(last))
	return last
}

// resolveReview returns req with its hint filled in and the prompt sent to
// the model.
func resolveReview(ctx context.Context, g gitRunner, req protocol.ReviewRequest) (protocol.ReviewRequest, string, error) {
	target := req.Target
	var prompt, hint string
	switch target.Type {
	case protocol.ReviewUncommitted:
		prompt = g.tc.T("review.prompt.uncommitted")
		hint = g.tc.T("review.hint.uncommitted")

	case protocol.ReviewBaseBranch:
		branch := strings.TrimSpace(target.Branch)
		if branch == "" {
			return req, "", errors.New(g.tc.T("review.error.empty_branch"))
		}
		sha, err := g.mergeBase(ctx, branch)
		switch {
		case ctx.Err() != nil:
			return req, "", ctx.Err()
		case err != nil || sha == "":
			g.sess.logger.Debug("merge base unavailable", "sub_id", g.tc.SubID, "branch", branch, "error", err)
			prompt = g.tc.T("review.prompt.base_branch_backup", "branch", branch)
		default:
			prompt = g.tc.T("review.prompt.base_branch", "base_branch", branch, "merge_base_sha", sha)
		}
		hint = g.tc.T("review.hint.base_branch", "branch", branch)

	case protocol.ReviewCommit:
		sha := strings.TrimSpace(target.SHA)
		if sha == "" {
			return req, "", errors.New(g.tc.T("review.error.empty_sha"))
		}
		short := sha
		if len(short) > 7 {
			short = short[:7]
		}
		if target.Title != "" {
			prompt = g.tc.T("review.prompt.commit_with_title", "sha", sha, "title", target.Title)
			hint = g.tc.T("review.hint.commit_with_title", "sha", short, "title", target.Title)
		} else {
			prompt = g.tc.T("review.prompt.commit", "sha", sha)
			hint = g.tc.T("review.hint.commit", "sha", short)
		}

	case protocol.ReviewCustom:
		prompt = strings.TrimSpace(target.Instructions)
		if prompt == "" {
			return req, "", errors.New(g.tc.T("review.error.empty_prompt"))
		}
		hint = prompt

	default:
		return req, "", errors.New(g.tc.T("review.error.unknown_target", "target", string(target.Type)))
	}

	if req.UserFacingHint == "" {
		req.UserFacingHint = hint
	}
	return req, prompt, nil
}

// mergeBase returns the merge base of HEAD and branch.
func (g gitRunner) mergeBase(ctx context.Context, branch string) (string, error) {
	return g.silent(ctx, "merge-base", "HEAD", branch)
}
