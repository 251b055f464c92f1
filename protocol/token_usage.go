package protocol

import "fmt"

// TokenUsage counts tokens for one or more model calls. All fields are
// expected to be non-negative; Normalized enforces that.
type TokenUsage struct {
	InputTokens           int64 `json:"input_tokens"`
	CachedInputTokens     int64 `json:"cached_input_tokens"`
	OutputTokens          int64 `json:"output_tokens"`
	ReasoningOutputTokens int64 `json:"reasoning_output_tokens"`
	TotalTokens           int64 `json:"total_tokens"`
}

// IsZero reports whether no tokens were counted.
func (u TokenUsage) IsZero() bool {
	return u.TotalTokens == 0
}

// Normalized returns a copy with negative fields clamped to zero.
func (u TokenUsage) Normalized() TokenUsage {
	return TokenUsage{
		InputTokens:           clampNonNegative(u.InputTokens),
		CachedInputTokens:     clampNonNegative(u.CachedInputTokens),
		OutputTokens:          clampNonNegative(u.OutputTokens),
		ReasoningOutputTokens: clampNonNegative(u.ReasoningOutputTokens),
		TotalTokens:           clampNonNegative(u.TotalTokens),
	}
}

// Add returns the field-wise sum of u and other.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:           u.InputTokens + other.InputTokens,
		CachedInputTokens:     u.CachedInputTokens + other.CachedInputTokens,
		OutputTokens:          u.OutputTokens + other.OutputTokens,
		ReasoningOutputTokens: u.ReasoningOutputTokens + other.ReasoningOutputTokens,
		TotalTokens:           u.TotalTokens + other.TotalTokens,
	}
}

// NonCachedInput returns input tokens that were not served from cache.
func (u TokenUsage) NonCachedInput() int64 {
	return saturatingSub(u.InputTokens, u.CachedInputTokens)
}

// BlendedTotal is the billable view of the usage: non-cached input plus
// output.
func (u TokenUsage) BlendedTotal() int64 {
	return clampNonNegative(u.NonCachedInput() + clampNonNegative(u.OutputTokens))
}

// SplitTotalAndLast separates an accumulated total into the usage that
// preceded the last call and the last call itself. Both inputs are
// normalized first and every field of prior saturates at zero, so a last
// value larger than the total never produces a negative count.
func SplitTotalAndLast(total, last TokenUsage) (prior, lastNormalized TokenUsage) {
	t := total.Normalized()
	l := last.Normalized()
	prior = TokenUsage{
		InputTokens:           saturatingSub(t.InputTokens, l.InputTokens),
		CachedInputTokens:     saturatingSub(t.CachedInputTokens, l.CachedInputTokens),
		OutputTokens:          saturatingSub(t.OutputTokens, l.OutputTokens),
		ReasoningOutputTokens: saturatingSub(t.ReasoningOutputTokens, l.ReasoningOutputTokens),
		TotalTokens:           saturatingSub(t.TotalTokens, l.TotalTokens),
	}
	return prior, l
}

// TokenUsageInfo is the payload of a token count event.
type TokenUsageInfo struct {
	TotalTokenUsage    TokenUsage `json:"total_token_usage"`
	LastTokenUsage     TokenUsage `json:"last_token_usage"`
	ModelContextWindow *int64     `json:"model_context_window,omitempty"`
}

// Append accumulates last into the running total and records it as the
// most recent call. A nil receiver starts a fresh accumulator.
func (i *TokenUsageInfo) Append(last TokenUsage, contextWindow *int64) *TokenUsageInfo {
	next := TokenUsageInfo{ModelContextWindow: contextWindow}
	if i != nil {
		next.TotalTokenUsage = i.TotalTokenUsage
		if contextWindow == nil {
			next.ModelContextWindow = i.ModelContextWindow
		}
	}
	last = last.Normalized()
	next.TotalTokenUsage = next.TotalTokenUsage.Add(last)
	next.LastTokenUsage = last
	return &next
}

// FormatTokenCountCompact renders a token count for status lines:
// 999, 1k, 1.1k, 3.2m. Values that round up to the next unit are promoted,
// so 999_950 renders as "1m". Negative values render as "0".
func FormatTokenCountCompact(n int64) string {
	if n <= 0 {
		return "0"
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	units := []string{"k", "m", "b"}
	unit := int64(1000)
	for i, suffix := range units {
		tenths := (n*10 + unit/2) / unit
		if tenths < 10_000 || i == len(units)-1 {
			if tenths%10 == 0 {
				return fmt.Sprintf("%d%s", tenths/10, suffix)
			}
			return fmt.Sprintf("%d.%d%s", tenths/10, tenths%10, suffix)
		}
		unit *= 1000
	}
	return ""
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func saturatingSub(a, b int64) int64 {
	if b >= a {
		return 0
	}
	return a - b
}
