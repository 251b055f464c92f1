// Package config loads the agent configuration from a YAML file and
// AGENTCORE_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/agentcore/i18n"
	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/truncate"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AGENTCORE_"

const (
	DefaultModel                = "gpt-4o-mini"
	DefaultProvider             = "openai"
	DefaultToolOutputTokenLimit = 10_000
	DefaultMaxSubagentDepth     = 1
)

// Config is the agent configuration.
type Config struct {
	Model              string `yaml:"model" env:"MODEL" validate:"required"`
	Provider           string `yaml:"provider" env:"PROVIDER" validate:"required"`
	ModelContextWindow int64  `yaml:"model_context_window,omitempty" env:"MODEL_CONTEXT_WINDOW" validate:"gte=0"`

	// APIKey is only read from the environment.
	APIKey string `yaml:"-" env:"API_KEY"`

	Cwd                   string         `yaml:"cwd,omitempty" env:"CWD"`
	ApprovalPolicy        string         `yaml:"approval_policy" env:"APPROVAL_POLICY" validate:"required"`
	SandboxMode           string         `yaml:"sandbox_mode" env:"SANDBOX_MODE" validate:"required"`
	SandboxWorkspaceWrite WorkspaceWrite `yaml:"sandbox_workspace_write,omitempty" envPrefix:"SANDBOX_WORKSPACE_WRITE_"`

	CompactPrompt string `yaml:"compact_prompt,omitempty" env:"COMPACT_PROMPT"`
	Language      string `yaml:"language,omitempty" env:"LANGUAGE"`

	// Home holds the rollout tree; it defaults to ~/.agentcore.
	Home string `yaml:"home,omitempty" env:"HOME"`

	ToolOutputTokenLimit int `yaml:"tool_output_token_limit,omitempty" env:"TOOL_OUTPUT_TOKEN_LIMIT" validate:"gte=0"`
	MaxSubagentDepth     int `yaml:"max_subagent_depth,omitempty" env:"MAX_SUBAGENT_DEPTH" validate:"gte=0,lte=8"`

	LogLevel    string `yaml:"log_level,omitempty" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	LogFormat   string `yaml:"log_format,omitempty" env:"LOG_FORMAT" validate:"omitempty,oneof=text json"`
	MetricsAddr string `yaml:"metrics_addr,omitempty" env:"METRICS_ADDR" validate:"omitempty,hostname_port"`
}

// WorkspaceWrite configures the workspace-write sandbox mode.
type WorkspaceWrite struct {
	WritableRoots []string `yaml:"writable_roots,omitempty" env:"WRITABLE_ROOTS"`
	NetworkAccess bool     `yaml:"network_access,omitempty" env:"NETWORK_ACCESS"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Model:                DefaultModel,
		Provider:             DefaultProvider,
		ApprovalPolicy:       string(protocol.ApprovalOnRequest),
		SandboxMode:          string(protocol.SandboxWorkspaceWrite),
		Language:             string(i18n.En),
		ToolOutputTokenLimit: DefaultToolOutputTokenLimit,
		MaxSubagentDepth:     DefaultMaxSubagentDepth,
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// Load reads path over the defaults, applies AGENTCORE_* overrides from the
// process environment and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv is Load with an explicit environment. A nil environ uses the
// process environment.
func LoadWithEnv(path string, environ map[string]string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("expected a single document")
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct constraints and that the policy strings parse.
func (c *Config) Validate() error {
	var problems []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
		}
	}
	if _, err := protocol.ParseApprovalPolicy(c.ApprovalPolicy); c.ApprovalPolicy != "" && err != nil {
		problems = append(problems, "approval_policy: "+err.Error())
	}
	if _, err := protocol.ParseSandboxMode(c.SandboxMode); c.SandboxMode != "" && err != nil {
		problems = append(problems, "sandbox_mode: "+err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Approval returns the parsed approval policy.
func (c *Config) Approval() protocol.AskForApproval {
	a, err := protocol.ParseApprovalPolicy(c.ApprovalPolicy)
	if err != nil {
		return protocol.ApprovalOnRequest
	}
	return a
}

// SandboxPolicy returns the parsed sandbox policy.
func (c *Config) SandboxPolicy() protocol.SandboxPolicy {
	mode, err := protocol.ParseSandboxMode(c.SandboxMode)
	if err != nil {
		return protocol.NewReadOnlyPolicy()
	}
	switch mode {
	case protocol.SandboxWorkspaceWrite:
		return protocol.NewWorkspaceWritePolicy(c.SandboxWorkspaceWrite.WritableRoots, c.SandboxWorkspaceWrite.NetworkAccess)
	case protocol.SandboxDangerFullAccess:
		return protocol.NewFullAccessPolicy()
	case protocol.SandboxExternal:
		return protocol.SandboxPolicy{Mode: protocol.SandboxExternal, NetworkAccess: c.SandboxWorkspaceWrite.NetworkAccess}
	default:
		return protocol.NewReadOnlyPolicy()
	}
}

// TruncationPolicy returns the tool output truncation policy.
func (c *Config) TruncationPolicy() truncate.Policy {
	if c.ToolOutputTokenLimit <= 0 {
		return truncate.DefaultPolicy
	}
	return truncate.Tokens(c.ToolOutputTokenLimit)
}

// ResolvedCwd returns the absolute working directory, defaulting to the
// process working directory.
func (c *Config) ResolvedCwd() (string, error) {
	if c.Cwd == "" {
		return os.Getwd()
	}
	return filepath.Abs(c.Cwd)
}

// ResolvedHome returns the agent home directory.
func (c *Config) ResolvedHome() (string, error) {
	if c.Home != "" {
		return filepath.Abs(c.Home)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".agentcore"), nil
}

// Lang returns the catalog language.
func (c *Config) Lang() i18n.Language {
	return i18n.ParseLanguage(c.Language)
}
