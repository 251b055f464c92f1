package truncate

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTextWithinBudgetUnchanged(t *testing.T) {
	s := "short output"
	if got := Text(s, Bytes(100)); got != s {
		t.Errorf("Text = %q, want unchanged", got)
	}
	if got := Text(s, Bytes(0)); got != s {
		t.Errorf("zero limit should be unlimited, got %q", got)
	}
}

func TestTextHeadTail(t *testing.T) {
	s := strings.Repeat("a", 50) + strings.Repeat("b", 100) + strings.Repeat("c", 50)
	got := Text(s, Bytes(100))
	if !strings.HasPrefix(got, strings.Repeat("a", 50)) {
		t.Errorf("head not preserved: %q", got[:60])
	}
	if !strings.HasSuffix(got, strings.Repeat("c", 50)) {
		t.Errorf("tail not preserved")
	}
	if !strings.Contains(got, "…100 chars truncated…") {
		t.Errorf("missing marker in %q", got)
	}
}

func TestTextTokensMarker(t *testing.T) {
	s := strings.Repeat("x", 400)
	got := Text(s, Tokens(10))
	if !strings.Contains(got, "tokens truncated") {
		t.Errorf("expected token marker, got %q", got)
	}
}

func TestTextKeepsRuneBoundaries(t *testing.T) {
	s := strings.Repeat("日本語", 50)
	got := Text(s, Bytes(31))
	if !utf8.ValidString(got) {
		t.Errorf("truncated output is not valid UTF-8: %q", got)
	}
}

func TestLines(t *testing.T) {
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, string(rune('a'+i)))
	}
	got := Lines(strings.Join(lines, "\n"), 4)
	if !strings.HasPrefix(got, "a\nb\n") || !strings.HasSuffix(got, "i\nj") {
		t.Errorf("Lines = %q", got)
	}
	if !strings.Contains(got, "[... 6 lines omitted ...]") {
		t.Errorf("missing omitted marker: %q", got)
	}
}

func TestApproxTokens(t *testing.T) {
	tests := map[string]int{"": 0, "a": 1, "abcd": 1, "abcde": 2}
	for in, want := range tests {
		if got := ApproxTokens(in); got != want {
			t.Errorf("ApproxTokens(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestTail(t *testing.T) {
	got := Tail("0123456789", Bytes(4))
	if !strings.HasSuffix(got, "6789") || !strings.HasPrefix(got, "[6 chars truncated]") {
		t.Errorf("Tail = %q", got)
	}
}
