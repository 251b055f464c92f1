package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/martinemde/agentcore/i18n"
	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/tools"
	"github.com/martinemde/agentcore/truncate"
	"github.com/martinemde/agentcore/unifiedllm"
)

// ModelClient completes one model request. *unifiedllm.Client implements
// it.
type ModelClient interface {
	Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)
}

// TurnContext is the settings of one turn. It is built when the turn starts
// and never changed afterwards; overrides only affect later turns.
type TurnContext struct {
	SubID string

	Cwd            string
	ApprovalPolicy protocol.AskForApproval
	SandboxPolicy  protocol.SandboxPolicy
	Truncation     truncate.Policy

	Client             ModelClient
	Model              string
	Provider           string
	ModelContextWindow *int64
	Instructions       string
	CompactPrompt      string
	Retry              unifiedllm.RetryPolicy

	Language i18n.Language
	Catalog  i18n.Catalog
	Executor tools.CommandRunner
	Tools    *tools.Router
}

// TurnInfo is the view of the turn handed to tool handlers.
func (tc *TurnContext) TurnInfo() tools.TurnInfo {
	return tools.TurnInfo{
		SubID:         tc.SubID,
		Cwd:           tc.Cwd,
		SandboxPolicy: tc.SandboxPolicy,
		Truncation:    tc.Truncation,
		Catalog:       tc.Catalog,
		Language:      tc.Language,
		Runner:        tc.Executor,
	}
}

// T looks key up in the turn's catalog.
func (tc *TurnContext) T(key string, kv ...string) string {
	return tc.TurnInfo().T(key, kv...)
}

// Record is the rollout snapshot of the turn.
func (tc *TurnContext) Record() protocol.TurnContextRecord {
	return protocol.TurnContextRecord{
		Cwd:            tc.Cwd,
		ApprovalPolicy: tc.ApprovalPolicy,
		SandboxPolicy:  tc.SandboxPolicy,
		Model:          tc.Model,
	}
}

// request builds the model request for input.
func (tc *TurnContext) request(input []protocol.ResponseItem) unifiedllm.Request {
	req := unifiedllm.Request{
		Model:        tc.Model,
		Provider:     tc.Provider,
		Instructions: tc.Instructions,
		Input:        input,
	}
	if tc.Tools != nil {
		req.Tools = tc.Tools.Definitions()
		req.ParallelToolCalls = true
	}
	return req
}

// EnvironmentContext generates the environment context message injected
// at the start of a conversation.
func (tc *TurnContext) EnvironmentContext() protocol.ResponseItem {
	network := "restricted"
	if tc.SandboxPolicy.HasFullNetworkAccess() {
		network = "enabled"
	}

	var sb strings.Builder
	sb.WriteString(protocol.EnvironmentContextOpenTag + "\n")
	fmt.Fprintf(&sb, "  <cwd>%s</cwd>\n", tc.Cwd)
	fmt.Fprintf(&sb, "  <approval_policy>%s</approval_policy>\n", tc.ApprovalPolicy)
	fmt.Fprintf(&sb, "  <sandbox_mode>%s</sandbox_mode>\n", tc.SandboxPolicy.Mode)
	fmt.Fprintf(&sb, "  <network_access>%s</network_access>\n", network)
	if shell := userShell(); shell != "" {
		fmt.Fprintf(&sb, "  <shell>%s</shell>\n", shell)
	}
	sb.WriteString(protocol.EnvironmentContextCloseTag)
	return protocol.UserMessage(sb.String())
}

func userShell() string {
	shell := os.Getenv("SHELL")
	if shell == "" {
		return ""
	}
	return filepath.Base(shell)
}

// applyOverride returns cfg with the non-nil fields of o applied.
func applyOverride(cfg Config, o protocol.TurnContextOverride) Config {
	if o.Cwd != nil {
		cfg.Cwd = *o.Cwd
	}
	if o.ApprovalPolicy != nil {
		cfg.ApprovalPolicy = *o.ApprovalPolicy
	}
	if o.SandboxPolicy != nil {
		cfg.SandboxPolicy = *o.SandboxPolicy
	}
	if o.Model != nil {
		cfg.Model = *o.Model
	}
	return cfg
}
