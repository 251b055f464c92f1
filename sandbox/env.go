package sandbox

import (
	"os"
	"sort"
	"strings"

	"github.com/martinemde/agentcore/protocol"
)

// Environment markers exported to every sandboxed child.
const (
	EnvSandboxMode            = "AGENTCORE_SANDBOX"
	EnvSandboxNetworkDisabled = "AGENTCORE_SANDBOX_NETWORK_DISABLED"
)

// sensitiveSuffixes are case-insensitive name suffixes of variables that
// never reach a child process unless explicitly passed in ExecParams.Env.
var sensitiveSuffixes = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
	"_CREDENTIALS",
}

// safeVars are inherited regardless of their names.
var safeVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "LC_ALL": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"NVM_DIR": true, "RUSTUP_HOME": true, "PYENV_ROOT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
	"SSH_AUTH_SOCK": true,
}

func isSensitive(name string) bool {
	if safeVars[name] {
		return false
	}
	upper := strings.ToUpper(name)
	for _, suffix := range sensitiveSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

// BuildEnv computes the child environment: the inherited environment minus
// sensitive variables, then the explicit overrides, then the sandbox
// markers for policy. The result is sorted for reproducibility.
func BuildEnv(inherited []string, overrides map[string]string, policy protocol.SandboxPolicy) []string {
	env := make(map[string]string, len(inherited)+len(overrides)+2)
	for _, kv := range inherited {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" || isSensitive(name) {
			continue
		}
		env[name] = value
	}
	for k, v := range overrides {
		env[k] = v
	}
	if policy.Mode != protocol.SandboxDangerFullAccess {
		env[EnvSandboxMode] = string(policy.Mode)
	}
	if !policy.HasFullNetworkAccess() {
		env[EnvSandboxNetworkDisabled] = "1"
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func inheritedEnv() []string {
	return os.Environ()
}
