package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProjectDocFile is the instruction file loaded from every directory between
// the repository root and the working directory.
const ProjectDocFile = "AGENTS.md"

const (
	maxProjectDocBytes  = 32 * 1024
	projectDocTruncated = "[Project instructions truncated at 32KB]"
)

// ProjectDocs concatenates the AGENTS.md files from the repository root down
// to cwd, outermost first. Without a repository only cwd is searched. It
// returns "" when no file is found.
func ProjectDocs(cwd string) string {
	root := repoRoot(cwd)
	if root == "" {
		root = cwd
	}

	var docs []string
	total := 0
	for _, dir := range pathHierarchy(root, cwd) {
		content, err := os.ReadFile(filepath.Join(dir, ProjectDocFile))
		if err != nil {
			continue
		}
		remaining := maxProjectDocBytes - total
		if remaining <= 0 {
			docs = append(docs, projectDocTruncated)
			break
		}
		text := string(content)
		if len(text) > remaining {
			text = text[:remaining] + "\n" + projectDocTruncated
		}
		docs = append(docs, fmt.Sprintf("# %s (from %s)\n\n%s", ProjectDocFile, dir, text))
		total += len(text)
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// repoRoot walks up from dir to the nearest directory holding .git.
func repoRoot(dir string) string {
	dir = filepath.Clean(dir)
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// pathHierarchy returns the directories from root to target, inclusive.
func pathHierarchy(root, target string) []string {
	root, target = filepath.Clean(root), filepath.Clean(target)
	dirs := []string{root}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." {
		return dirs
	}
	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}
