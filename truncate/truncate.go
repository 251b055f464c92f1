// Package truncate shortens tool and command output before it is shown to
// the model. The full output always remains available in the event stream.
package truncate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// BytesPerToken is the heuristic used wherever a token count is needed
// without a tokenizer.
const BytesPerToken = 4

// Mode selects the unit of a truncation budget.
type Mode string

const (
	ModeBytes  Mode = "bytes"
	ModeTokens Mode = "tokens"
)

// Policy is the per-turn truncation budget.
type Policy struct {
	Mode  Mode `json:"mode"`
	Limit int  `json:"limit"`
}

// Bytes returns a byte-based policy.
func Bytes(n int) Policy { return Policy{Mode: ModeBytes, Limit: n} }

// Tokens returns a token-based policy.
func Tokens(n int) Policy { return Policy{Mode: ModeTokens, Limit: n} }

// DefaultPolicy is used when a turn does not configure one.
var DefaultPolicy = Tokens(10_000)

// ByteBudget converts the policy into a byte count. Zero or negative
// limits mean unlimited and return -1.
func (p Policy) ByteBudget() int {
	if p.Limit <= 0 {
		return -1
	}
	if p.Mode == ModeTokens {
		return p.Limit * BytesPerToken
	}
	return p.Limit
}

// ApproxTokens estimates the number of tokens in s, rounding up.
func ApproxTokens(s string) int {
	return (len(s) + BytesPerToken - 1) / BytesPerToken
}

// Text applies the policy with a head/tail split, keeping the beginning
// and end of the output and replacing the middle with a marker.
func Text(s string, p Policy) string {
	budget := p.ByteBudget()
	if budget < 0 || len(s) <= budget {
		return s
	}
	head := prefixWithin(s, budget/2)
	tail := suffixWithin(s, budget-len(head))
	removed := len(s) - len(head) - len(tail)
	marker := fmt.Sprintf("…%d chars truncated…", removed)
	if p.Mode == ModeTokens {
		marker = fmt.Sprintf("…%d tokens truncated…", ApproxTokens(s[len(head):len(s)-len(tail)]))
	}
	return head + marker + tail
}

// Tail keeps only the last budget bytes of s and prefixes a marker.
func Tail(s string, p Policy) string {
	budget := p.ByteBudget()
	if budget < 0 || len(s) <= budget {
		return s
	}
	tail := suffixWithin(s, budget)
	return fmt.Sprintf("[%d chars truncated]\n", len(s)-len(tail)) + tail
}

// Lines keeps the first and last lines of s when it has more than maxLines
// lines.
func Lines(s string, maxLines int) string {
	if maxLines <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount
	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// prefixWithin returns the longest prefix of s of at most n bytes that
// ends on a rune boundary.
func prefixWithin(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// suffixWithin returns the longest suffix of s of at most n bytes that
// starts on a rune boundary.
func suffixWithin(s string, n int) string {
	if n >= len(s) {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
