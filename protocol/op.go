package protocol

// OpType discriminates client operations.
type OpType string

const (
	OpUserInput           OpType = "user_input"
	OpCompact             OpType = "compact"
	OpSddGitAction        OpType = "sdd_git_action"
	OpReview              OpType = "review"
	OpOverrideTurnContext OpType = "override_turn_context"
	OpInterrupt           OpType = "interrupt"
	OpShutdown            OpType = "shutdown"
)

// Submission is one operation queued to a session. Its ID is echoed on
// every event the operation produces.
type Submission struct {
	ID string `json:"id"`
	Op Op     `json:"op"`
}

// Op is the closed set of operations a client may submit.
type Op struct {
	Type OpType `json:"type"`

	Items    []InputItem          `json:"items,omitempty"`
	Action   *GitAction           `json:"action,omitempty"`
	Override *TurnContextOverride `json:"override,omitempty"`
	Review   *ReviewRequest       `json:"review_request,omitempty"`
}

// UserInputOp submits user input.
func UserInputOp(items ...InputItem) Op { return Op{Type: OpUserInput, Items: items} }

// CompactOp requests history compaction.
func CompactOp() Op { return Op{Type: OpCompact} }

// SddGitActionOp requests a git branch lifecycle action.
func SddGitActionOp(action GitAction) Op { return Op{Type: OpSddGitAction, Action: &action} }

// ReviewOp requests a code review.
func ReviewOp(req ReviewRequest) Op { return Op{Type: OpReview, Review: &req} }

// OverrideTurnContextOp changes defaults for subsequent turns.
func OverrideTurnContextOp(o TurnContextOverride) Op {
	return Op{Type: OpOverrideTurnContext, Override: &o}
}

// InterruptOp aborts the running task.
func InterruptOp() Op { return Op{Type: OpInterrupt} }

// ShutdownOp stops the session.
func ShutdownOp() Op { return Op{Type: OpShutdown} }

// TurnContextOverride holds optional replacements applied to every turn
// created after it is submitted. Nil fields keep their current value.
type TurnContextOverride struct {
	Cwd            *string         `json:"cwd,omitempty"`
	ApprovalPolicy *AskForApproval `json:"approval_policy,omitempty"`
	SandboxPolicy  *SandboxPolicy  `json:"sandbox_policy,omitempty"`
	Model          *string         `json:"model,omitempty"`
}

// GitActionType names a branch lifecycle action.
type GitActionType string

const (
	GitCreateBranch  GitActionType = "create_branch"
	GitSwitchBranch  GitActionType = "switch_branch"
	GitFinalizeMerge GitActionType = "finalize_merge"
	GitAbandonBranch GitActionType = "abandon_branch"
)

// GitAction describes one branch lifecycle step. Base is required for
// every action except switch; CommitMessage only for finalize.
type GitAction struct {
	Type          GitActionType `json:"type"`
	Name          string        `json:"name"`
	Base          string        `json:"base,omitempty"`
	CommitMessage string        `json:"commit_message,omitempty"`
}
