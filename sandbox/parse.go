package sandbox

import (
	"path/filepath"
	"strings"

	"github.com/martinemde/agentcore/protocol"
)

var shells = map[string]bool{"bash": true, "sh": true, "zsh": true}

// ParseCommand classifies argv for display. Shell invocations of the form
// `bash -lc "…"` are looked into and each `&&`, `||`, `;` or `|` segment is
// classified separately. Anything not recognised is reported as unknown.
func ParseCommand(argv []string) []protocol.ParsedCommand {
	if len(argv) == 0 {
		return nil
	}
	if len(argv) == 3 && shells[filepath.Base(argv[0])] && (argv[1] == "-c" || argv[1] == "-lc") {
		var out []protocol.ParsedCommand
		for _, segment := range splitSegments(argv[2]) {
			words := splitWords(segment)
			if len(words) == 0 {
				continue
			}
			out = append(out, classify(words, segment))
		}
		if len(out) > 0 {
			return out
		}
	}
	return []protocol.ParsedCommand{classify(argv, strings.Join(argv, " "))}
}

// valueFlags lists, per program, the flags that consume the next word.
var valueFlags = map[string]map[string]bool{
	"head": {"-n": true, "-c": true},
	"tail": {"-n": true, "-c": true},
	"sed":  {"-e": true, "-f": true},
	"rg":   {"-m": true, "-A": true, "-B": true, "-C": true, "-g": true, "-t": true, "--glob": true, "--type": true},
	"grep": {"-m": true, "-A": true, "-B": true, "-C": true, "-e": true, "--include": true},
	"git":  {"-C": true, "-c": true},
}

func classify(words []string, cmd string) protocol.ParsedCommand {
	prog := filepath.Base(words[0])
	args := positional(words[1:], valueFlags[prog])
	switch prog {
	case "cat", "head", "tail", "less", "more", "nl", "bat":
		if len(args) > 0 {
			path := args[len(args)-1]
			return protocol.ParsedCommand{Type: protocol.ParsedRead, Cmd: cmd, Name: filepath.Base(path), Path: path}
		}
	case "sed":
		if len(args) >= 1 {
			path := args[len(args)-1]
			return protocol.ParsedCommand{Type: protocol.ParsedRead, Cmd: cmd, Name: filepath.Base(path), Path: path}
		}
	case "ls", "tree", "find", "fd":
		pc := protocol.ParsedCommand{Type: protocol.ParsedListFiles, Cmd: cmd}
		if len(args) > 0 {
			pc.Path = args[0]
		}
		return pc
	case "rg", "grep", "ag", "ack":
		pc := protocol.ParsedCommand{Type: protocol.ParsedSearch, Cmd: cmd}
		if len(args) > 0 {
			pc.Query = args[0]
		}
		if len(args) > 1 {
			pc.Path = args[1]
		}
		return pc
	case "git":
		if len(args) > 0 && args[0] == "grep" {
			pc := protocol.ParsedCommand{Type: protocol.ParsedSearch, Cmd: cmd}
			if len(args) > 1 {
				pc.Query = args[1]
			}
			return pc
		}
		if len(args) > 0 && args[0] == "ls-files" {
			return protocol.ParsedCommand{Type: protocol.ParsedListFiles, Cmd: cmd}
		}
	}
	return protocol.ParsedCommand{Type: protocol.ParsedUnknown, Cmd: cmd}
}

// positional drops flags, and the value following any flag in takesValue.
func positional(args []string, takesValue map[string]bool) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "-") && a != "-" {
			if takesValue[a] && i+1 < len(args) {
				i++
			}
			continue
		}
		out = append(out, a)
	}
	return out
}

// splitSegments splits a script on unquoted control operators and trims
// the whitespace around each segment.
func splitSegments(script string) []string {
	var segments []string
	var cur strings.Builder
	var quote rune
	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == ';' || r == '|' || r == '&' || r == '\n':
			segments = append(segments, strings.TrimSpace(cur.String()))
			cur.Reset()
			if i+1 < len(runes) && (runes[i+1] == '|' || runes[i+1] == '&') {
				i++
			}
		default:
			cur.WriteRune(r)
		}
	}
	segments = append(segments, strings.TrimSpace(cur.String()))
	return segments
}

// splitWords performs POSIX-style word splitting with single quotes,
// double quotes and backslash escapes. It does no expansion.
func splitWords(s string) []string {
	var words []string
	var cur strings.Builder
	inWord := false
	var quote rune
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case quote == '"':
			switch {
			case r == '"':
				quote = 0
			case r == '\\' && i+1 < len(runes) && strings.ContainsRune(`"\$`+"`", runes[i+1]):
				i++
				cur.WriteRune(runes[i])
			default:
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == '\\' && i+1 < len(runes):
			i++
			cur.WriteRune(runes[i])
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words
}
