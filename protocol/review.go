package protocol

// ReviewTargetType names what a review looks at.
type ReviewTargetType string

const (
	ReviewUncommitted ReviewTargetType = "uncommitted_changes"
	ReviewBaseBranch  ReviewTargetType = "base_branch"
	ReviewCommit      ReviewTargetType = "commit"
	ReviewCustom      ReviewTargetType = "custom"
)

// ReviewTarget selects the changes to review. Branch is set for base_branch,
// SHA and an optional Title for commit, and Instructions for custom.
type ReviewTarget struct {
	Type         ReviewTargetType `json:"type"`
	Branch       string           `json:"branch,omitempty"`
	SHA          string           `json:"sha,omitempty"`
	Title        string           `json:"title,omitempty"`
	Instructions string           `json:"instructions,omitempty"`
}

// ReviewRequest asks the agent to review code. An empty UserFacingHint is
// derived from the target.
type ReviewRequest struct {
	Target         ReviewTarget `json:"target"`
	UserFacingHint string       `json:"user_facing_hint,omitempty"`
}

// UncommittedReview reviews the working tree against HEAD.
func UncommittedReview() ReviewTarget { return ReviewTarget{Type: ReviewUncommitted} }

// BaseBranchReview reviews the current branch against its merge base with
// branch.
func BaseBranchReview(branch string) ReviewTarget {
	return ReviewTarget{Type: ReviewBaseBranch, Branch: branch}
}

// CommitReview reviews one commit.
func CommitReview(sha, title string) ReviewTarget {
	return ReviewTarget{Type: ReviewCommit, SHA: sha, Title: title}
}

// CustomReview reviews whatever instructions describe.
func CustomReview(instructions string) ReviewTarget {
	return ReviewTarget{Type: ReviewCustom, Instructions: instructions}
}

type EnteredReviewModeEvent struct {
	Target         ReviewTarget `json:"target"`
	UserFacingHint string       `json:"user_facing_hint"`
}

type ExitedReviewModeEvent struct {
	Review *string `json:"review,omitempty"`
}

func EnteredReviewMode(req ReviewRequest) EventMsg {
	return EventMsg{Type: EventEnteredReviewMode, EnteredReviewMode: &EnteredReviewModeEvent{Target: req.Target, UserFacingHint: req.UserFacingHint}}
}

func ExitedReviewMode(review *string) EventMsg {
	return EventMsg{Type: EventExitedReviewMode, ExitedReviewMode: &ExitedReviewModeEvent{Review: review}}
}
