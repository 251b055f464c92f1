package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SandboxMode names the access-control mode applied to spawned commands.
type SandboxMode string

const (
	SandboxDangerFullAccess SandboxMode = "danger-full-access"
	SandboxReadOnly         SandboxMode = "read-only"
	SandboxWorkspaceWrite   SandboxMode = "workspace-write"
	SandboxExternal         SandboxMode = "external-sandbox"
)

// SandboxPolicy is the full sandbox configuration for a turn.
type SandboxPolicy struct {
	Mode SandboxMode `json:"mode"`

	// WritableRoots lists extra directories writable under workspace-write.
	// The turn's working directory is always writable in that mode.
	WritableRoots []string `json:"writable_roots,omitempty"`
	NetworkAccess bool     `json:"network_access,omitempty"`
}

// NewReadOnlyPolicy returns the most restrictive policy.
func NewReadOnlyPolicy() SandboxPolicy {
	return SandboxPolicy{Mode: SandboxReadOnly}
}

// NewWorkspaceWritePolicy returns a workspace-write policy.
func NewWorkspaceWritePolicy(roots []string, network bool) SandboxPolicy {
	return SandboxPolicy{Mode: SandboxWorkspaceWrite, WritableRoots: roots, NetworkAccess: network}
}

// NewFullAccessPolicy returns a policy with no restrictions.
func NewFullAccessPolicy() SandboxPolicy {
	return SandboxPolicy{Mode: SandboxDangerFullAccess, NetworkAccess: true}
}

// HasFullDiskWriteAccess reports whether commands may write anywhere.
func (p SandboxPolicy) HasFullDiskWriteAccess() bool {
	return p.Mode == SandboxDangerFullAccess || p.Mode == SandboxExternal
}

// HasFullNetworkAccess reports whether commands may reach the network.
func (p SandboxPolicy) HasFullNetworkAccess() bool {
	switch p.Mode {
	case SandboxDangerFullAccess:
		return true
	case SandboxWorkspaceWrite, SandboxExternal:
		return p.NetworkAccess
	default:
		return false
	}
}

func (p SandboxPolicy) String() string {
	return string(p.Mode)
}

// ParseSandboxMode accepts the config spellings of a sandbox mode.
func ParseSandboxMode(s string) (SandboxMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read-only", "read_only", "readonly":
		return SandboxReadOnly, nil
	case "workspace-write", "workspace_write":
		return SandboxWorkspaceWrite, nil
	case "danger-full-access", "danger_full_access", "full-access":
		return SandboxDangerFullAccess, nil
	case "external-sandbox", "external_sandbox", "external":
		return SandboxExternal, nil
	}
	return "", fmt.Errorf("unknown sandbox mode %q", s)
}

// AskForApproval determines when the user is consulted before a command
// runs.
type AskForApproval string

const (
	ApprovalUntrusted AskForApproval = "untrusted"
	ApprovalOnFailure AskForApproval = "on-failure"
	ApprovalOnRequest AskForApproval = "on-request"
	ApprovalNever     AskForApproval = "never"
)

// ParseApprovalPolicy accepts the config spellings of an approval policy.
func ParseApprovalPolicy(s string) (AskForApproval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "untrusted", "unless-trusted":
		return ApprovalUntrusted, nil
	case "on-failure", "on_failure":
		return ApprovalOnFailure, nil
	case "on-request", "on_request":
		return ApprovalOnRequest, nil
	case "never":
		return ApprovalNever, nil
	}
	return "", fmt.Errorf("unknown approval policy %q", s)
}

// UnmarshalJSON accepts any spelling ParseApprovalPolicy does. The empty
// string decodes to the zero value, as an unset policy marshals to it.
func (a *AskForApproval) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = ""
		return nil
	}
	parsed, err := ParseApprovalPolicy(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
