package agent

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/martinemde/agentcore/protocol"
)

func TestValidSddBranch(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"sdd/feature", true},
		{"sdd/a/b", true},
		{"sdd/", false},
		{"feature/x", false},
		{"sdd/has space", false},
		{"sdd/tab\tname", false},
		{"sdd/a..b", false},
		{"SDD/upper", false},
	}
	for _, tt := range tests {
		if got := ValidSddBranch(tt.name); got != tt.want {
			t.Errorf("ValidSddBranch(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// gitRepo creates a repository on develop-main with one commit.
func gitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	runGit(t, dir, "init", "--initial-branch="+SddBaseBranch)
	runGit(t, dir, "config", "user.email", "dev@example.com")
	runGit(t, dir, "config", "user.name", "Dev")
	runGit(t, dir, "config", "commit.gpgsign", "false")
	writeRepoFile(t, dir, "README.md", "hello\n")
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-m", "initial")
	return dir
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func writeRepoFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func runGitAction(t *testing.T, dir string, action protocol.GitAction) []protocol.Event {
	t.Helper()
	codex := spawn(t, DefaultConfig(dir), Deps{Client: newMockClient()})
	id := submit(t, codex, protocol.SddGitActionOp(action))
	return eventsUntil(t, codex, id, terminal)
}

func errorMessages(events []protocol.Event) []string {
	var out []string
	for _, msg := range find(events, protocol.EventError) {
		out = append(out, msg.Error.Message)
	}
	return out
}

func TestGitCreateBranch(t *testing.T) {
	dir := gitRepo(t)
	events := runGitAction(t, dir, protocol.GitAction{Type: protocol.GitCreateBranch, Name: "sdd/feature", Base: SddBaseBranch})

	if errs := errorMessages(events); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if got := runGit(t, dir, "rev-parse", "--abbrev-ref", "HEAD"); got != "sdd/feature" {
		t.Errorf("current branch = %q", got)
	}

	begins := find(events, protocol.EventExecCommandBegin)
	ends := find(events, protocol.EventExecCommandEnd)
	if len(begins) != 1 || len(ends) != 1 {
		t.Fatalf("expected one logged command, got %d begins and %d ends", len(begins), len(ends))
	}
	if begins[0].ExecCommandBegin.Source != protocol.ExecSourceSddGit {
		t.Errorf("source = %q", begins[0].ExecCommandBegin.Source)
	}
	if strings.Join(begins[0].ExecCommandBegin.Command, " ") != "git checkout -b sdd/feature" {
		t.Errorf("command = %v", begins[0].ExecCommandBegin.Command)
	}
	if begins[0].ExecCommandBegin.CallID != ends[0].ExecCommandEnd.CallID {
		t.Error("begin and end must share a call id")
	}
}

func TestGitValidationErrors(t *testing.T) {
	dir := gitRepo(t)
	tests := []struct {
		name   string
		action protocol.GitAction
		want   string
	}{
		{
			name:   "invalid branch",
			action: protocol.GitAction{Type: protocol.GitCreateBranch, Name: "feature/x", Base: SddBaseBranch},
			want:   "branch name must start with sdd/",
		},
		{
			name:   "invalid base",
			action: protocol.GitAction{Type: protocol.GitCreateBranch, Name: "sdd/x", Base: "main"},
			want:   "base branch must be develop-main, got main",
		},
		{
			name:   "switch with dotted name",
			action: protocol.GitAction{Type: protocol.GitSwitchBranch, Name: "sdd/a..b"},
			want:   "branch name must start with sdd/",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := runGitAction(t, dir, tt.action)
			errs := errorMessages(events)
			if len(errs) != 1 || !strings.Contains(errs[0], tt.want) {
				t.Fatalf("errors = %v, want one containing %q", errs, tt.want)
			}
			if len(find(events, protocol.EventExecCommandBegin)) != 0 {
				t.Error("validation failures must not run commands")
			}
		})
	}
}

func TestGitNotARepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	events := runGitAction(t, t.TempDir(), protocol.GitAction{Type: protocol.GitSwitchBranch, Name: "sdd/x"})
	errs := errorMessages(events)
	if len(errs) != 1 || !strings.Contains(errs[0], "not inside a git repository") {
		t.Fatalf("errors = %v", errs)
	}
}

func TestGitFinalizeDirtyOffBranch(t *testing.T) {
	dir := gitRepo(t)
	runGit(t, dir, "branch", "sdd/feature")
	writeRepoFile(t, dir, "README.md", "changed\n")

	events := runGitAction(t, dir, protocol.GitAction{Type: protocol.GitFinalizeMerge, Name: "sdd/feature", Base: SddBaseBranch, CommitMessage: "done"})
	errs := errorMessages(events)
	if len(errs) != 1 || !strings.Contains(errs[0], "not on SDD branch sdd/feature") {
		t.Fatalf("errors = %v", errs)
	}
}

func TestGitFinalizeMerge(t *testing.T) {
	dir := gitRepo(t)
	runGit(t, dir, "checkout", "-b", "sdd/feature")
	writeRepoFile(t, dir, "feature.txt", "new\n")

	events := runGitAction(t, dir, protocol.GitAction{Type: protocol.GitFinalizeMerge, Name: "sdd/feature", Base: SddBaseBranch, CommitMessage: "add feature"})
	if errs := errorMessages(events); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	var commands []string
	for _, msg := range find(events, protocol.EventExecCommandBegin) {
		commands = append(commands, strings.Join(msg.ExecCommandBegin.Command, " "))
	}
	want := []string{"git add -A", "git commit -m add feature", "git checkout develop-main", "git merge --no-ff sdd/feature"}
	if strings.Join(commands, "|") != strings.Join(want, "|") {
		t.Errorf("commands = %q, want %q", commands, want)
	}
	if got := runGit(t, dir, "rev-parse", "--abbrev-ref", "HEAD"); got != SddBaseBranch {
		t.Errorf("current branch = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "feature.txt")); err != nil {
		t.Errorf("merged file missing: %v", err)
	}
}

func TestGitFinalizeCleanWarns(t *testing.T) {
	dir := gitRepo(t)
	runGit(t, dir, "checkout", "-b", "sdd/feature")

	events := runGitAction(t, dir, protocol.GitAction{Type: protocol.GitFinalizeMerge, Name: "sdd/feature", Base: SddBaseBranch, CommitMessage: "noop"})
	if errs := errorMessages(events); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	warnings := find(events, protocol.EventWarning)
	if len(warnings) != 1 || !strings.Contains(warnings[0].Warning.Message, "no changes to commit") {
		t.Fatalf("warnings = %+v", warnings)
	}
}

func TestGitAbandonBranch(t *testing.T) {
	dir := gitRepo(t)
	runGit(t, dir, "checkout", "-b", "sdd/throwaway")

	events := runGitAction(t, dir, protocol.GitAction{Type: protocol.GitAbandonBranch, Name: "sdd/throwaway", Base: SddBaseBranch})
	if errs := errorMessages(events); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if out := runGit(t, dir, "branch", "--list", "sdd/throwaway"); out != "" {
		t.Errorf("branch still exists: %q", out)
	}
}

func TestGitAbandonDirtyRefused(t *testing.T) {
	dir := gitRepo(t)
	runGit(t, dir, "branch", "sdd/x")
	writeRepoFile(t, dir, "README.md", "dirty\n")

	events := runGitAction(t, dir, protocol.GitAction{Type: protocol.GitAbandonBranch, Name: "sdd/x", Base: SddBaseBranch})
	errs := errorMessages(events)
	if len(errs) != 1 || !strings.Contains(errs[0], "uncommitted changes") {
		t.Fatalf("errors = %v", errs)
	}
}

func TestFailureTextKeepsFatalLine(t *testing.T) {
	noise := strings.Repeat("remote: counting objects\n", 200)
	got := failureText(noise + "fatal: refusing to merge unrelated histories\n")
	if !strings.HasSuffix(got, "fatal: refusing to merge unrelated histories") {
		t.Errorf("fatal line lost: %q", got[len(got)-80:])
	}
	if !strings.HasPrefix(got, "[") || len(got) > gitFailureOutputBytes+40 {
		t.Errorf("output not trimmed to the tail, len %d", len(got))
	}
	if got := failureText("  short  \n"); got != "short" {
		t.Errorf("failureText(short) = %q", got)
	}
}
