package agent

import (
	"log/slog"

	"github.com/martinemde/agentcore/config"
	"github.com/martinemde/agentcore/i18n"
	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/rollout"
	"github.com/martinemde/agentcore/telemetry"
	"github.com/martinemde/agentcore/tools"
	"github.com/martinemde/agentcore/truncate"
	"github.com/martinemde/agentcore/unifiedllm"
)

// Config holds the session defaults every TurnContext starts from.
type Config struct {
	Model    string
	Provider string

	// ModelContextWindow overrides the catalog size of the model's context
	// window. Nil uses the catalog.
	ModelContextWindow *int64

	Cwd            string
	ApprovalPolicy protocol.AskForApproval
	SandboxPolicy  protocol.SandboxPolicy
	Truncation     truncate.Policy

	// Instructions is the system prompt sent with every model call.
	Instructions string

	// CompactPrompt replaces SummarizationPrompt when set.
	CompactPrompt string

	Language i18n.Language
	Retry    unifiedllm.RetryPolicy

	EnableLoopDetection bool
	LoopDetectionWindow int

	MaxSubagentDepth int
	depth            int // internal: current nesting depth
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig(cwd string) Config {
	return Config{
		Model:               config.DefaultModel,
		Provider:            config.DefaultProvider,
		Cwd:                 cwd,
		ApprovalPolicy:      protocol.ApprovalOnRequest,
		SandboxPolicy:       protocol.NewWorkspaceWritePolicy(nil, false),
		Truncation:          truncate.DefaultPolicy,
		Language:            i18n.En,
		Retry:               unifiedllm.DefaultRetryPolicy(),
		EnableLoopDetection: true,
		LoopDetectionWindow: 10,
		MaxSubagentDepth:    config.DefaultMaxSubagentDepth,
	}
}

// ConfigFrom converts a loaded configuration file into session defaults.
func ConfigFrom(c *config.Config) (Config, error) {
	cwd, err := c.ResolvedCwd()
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig(cwd)
	cfg.Model = c.Model
	cfg.Provider = c.Provider
	if c.ModelContextWindow > 0 {
		window := c.ModelContextWindow
		cfg.ModelContextWindow = &window
	}
	cfg.ApprovalPolicy = c.Approval()
	cfg.SandboxPolicy = c.SandboxPolicy()
	cfg.Truncation = c.TruncationPolicy()
	cfg.CompactPrompt = c.CompactPrompt
	cfg.Language = c.Lang()
	cfg.MaxSubagentDepth = c.MaxSubagentDepth
	cfg.Instructions = ProjectDocs(cwd)
	return cfg, nil
}

// contextWindow resolves the context window of the configured model.
func (c Config) contextWindow(model string) *int64 {
	if c.ModelContextWindow != nil {
		w := *c.ModelContextWindow
		return &w
	}
	return unifiedllm.ContextWindow(model)
}

// Deps are the collaborators of a session. Only Client is required.
type Deps struct {
	Client ModelClient

	// ID fixes the conversation id, as when it must match a rollout. A
	// random id is used when empty.
	ID string

	// Executor defaults to a sandbox.Executor.
	Executor tools.CommandRunner

	// Catalog defaults to the embedded message catalogs.
	Catalog i18n.Catalog

	// Recorder, when set, receives the rollout. The session shuts it down
	// on exit.
	Recorder *rollout.Recorder

	// History seeds the conversation, as when resuming a rollout.
	History []protocol.ResponseItem

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}
