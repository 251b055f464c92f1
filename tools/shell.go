package tools

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/sandbox"
)

// ShellArgs are the arguments of the shell tool.
type ShellArgs struct {
	Command       []string `json:"command" jsonschema_description:"The command to execute as an argument vector, e.g. [\"bash\", \"-lc\", \"ls -la\"]"`
	Workdir       string   `json:"workdir,omitempty" jsonschema_description:"Working directory, relative to the turn's cwd"`
	TimeoutMs     int64    `json:"timeout_ms,omitempty" jsonschema_description:"Timeout in milliseconds"`
	Justification string   `json:"justification,omitempty" jsonschema_description:"Why the command needs to run"`
}

// ShellSpec describes the shell tool.
func ShellSpec() ToolSpec {
	return ToolSpec{
		Name:        "shell",
		Description: "Runs a command in the sandbox and returns its output and exit code.",
		Parameters:  SchemaFor[ShellArgs](),
	}
}

// ShellHandler runs commands through the turn's executor.
type ShellHandler struct{}

func (ShellHandler) Kind() ToolKind { return KindFunction }

func (ShellHandler) MatchesKind(p ToolPayload) bool {
	return p.Type == PayloadFunction
}

func (ShellHandler) Handle(ctx context.Context, inv ToolInvocation) (ToolOutput, error) {
	args, err := parseArguments[ShellArgs](inv)
	if err != nil {
		return ToolOutput{}, err
	}
	if len(args.Command) == 0 {
		return ToolOutput{}, RespondToModel(inv.Turn.T("tools.error.empty_command"))
	}
	if inv.Turn.Runner == nil {
		return ToolOutput{}, Fatal("no command runner configured for this turn")
	}

	cwd := inv.Turn.Cwd
	if args.Workdir != "" {
		if filepath.IsAbs(args.Workdir) {
			cwd = args.Workdir
		} else {
			cwd = filepath.Join(inv.Turn.Cwd, args.Workdir)
		}
	}

	out, err := inv.Turn.Runner.Run(ctx, sandbox.ExecRequest{
		Params: sandbox.ExecParams{
			Command:       args.Command,
			Cwd:           cwd,
			Timeout:       time.Duration(args.TimeoutMs) * time.Millisecond,
			Justification: args.Justification,
		},
		Policy:     inv.Turn.SandboxPolicy,
		Truncation: inv.Turn.Truncation,
		CallID:     inv.CallID,
		TurnID:     inv.Turn.SubID,
		Source:     protocol.ExecSourceAgent,
	}, inv.sink())

	var spawnErr *sandbox.SpawnError
	switch {
	case errors.Is(err, sandbox.ErrCancelled):
		return Failed(sandbox.AbortedMessage), nil
	case errors.As(err, &spawnErr):
		return ToolOutput{}, RespondToModel(spawnErr.Error())
	case err != nil:
		return ToolOutput{}, Fatal(err.Error())
	}

	content := sandbox.FormatForModel(out, inv.Turn.Truncation)
	if out.ExitCode == 0 {
		return Succeeded(content), nil
	}
	return Failed(content), nil
}
