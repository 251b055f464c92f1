package protocol

import "testing"

func TestSplitTotalAndLast(t *testing.T) {
	tests := []struct {
		name      string
		total     TokenUsage
		last      TokenUsage
		wantPrior TokenUsage
	}{
		{
			name:      "regular subtraction",
			total:     TokenUsage{100, 20, 40, 5, 165},
			last:      TokenUsage{10, 2, 4, 1, 17},
			wantPrior: TokenUsage{90, 18, 36, 4, 148},
		},
		{
			name:      "last exceeds total",
			total:     TokenUsage{5, 0, 5, 0, 10},
			last:      TokenUsage{10, 3, 7, 2, 20},
			wantPrior: TokenUsage{},
		},
		{
			name:      "negative inputs are clamped",
			total:     TokenUsage{-5, 10, 10, -1, 20},
			last:      TokenUsage{1, -4, 2, 0, -3},
			wantPrior: TokenUsage{0, 10, 8, 0, 20},
		},
		{
			name:      "zero last leaves total",
			total:     TokenUsage{3, 1, 2, 0, 5},
			wantPrior: TokenUsage{3, 1, 2, 0, 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prior, last := SplitTotalAndLast(tt.total, tt.last)
			if prior != tt.wantPrior {
				t.Errorf("prior = %+v, want %+v", prior, tt.wantPrior)
			}
			if last != tt.last.Normalized() {
				t.Errorf("last = %+v, want %+v", last, tt.last.Normalized())
			}
			for _, v := range []int64{prior.InputTokens, prior.CachedInputTokens, prior.OutputTokens, prior.ReasoningOutputTokens, prior.TotalTokens} {
				if v < 0 {
					t.Fatalf("prior has negative field: %+v", prior)
				}
			}
		})
	}
}

func TestFormatTokenCountCompact(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{-10, "0"},
		{0, "0"},
		{999, "999"},
		{1000, "1k"},
		{1100, "1.1k"},
		{12_345, "12.3k"},
		{1_000_000, "1m"},
		{3_200_000, "3.2m"},
		{999_949, "999.9k"},
		{999_950, "1m"},
		{999_950_000, "1b"},
		{2_500_000_000, "2.5b"},
	}
	for _, tt := range tests {
		if got := FormatTokenCountCompact(tt.in); got != tt.want {
			t.Errorf("FormatTokenCountCompact(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenUsageInfoAppend(t *testing.T) {
	window := int64(1000)
	var info *TokenUsageInfo
	info = info.Append(TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, &window)
	info = info.Append(TokenUsage{InputTokens: 20, OutputTokens: -1, TotalTokens: 20}, nil)

	if info.TotalTokenUsage.TotalTokens != 35 {
		t.Errorf("total = %d, want 35", info.TotalTokenUsage.TotalTokens)
	}
	if info.LastTokenUsage.OutputTokens != 0 {
		t.Errorf("last output = %d, want 0 after normalization", info.LastTokenUsage.OutputTokens)
	}
	if info.ModelContextWindow == nil || *info.ModelContextWindow != 1000 {
		t.Errorf("context window not carried forward: %v", info.ModelContextWindow)
	}
}

func TestBlendedTotal(t *testing.T) {
	u := TokenUsage{InputTokens: 100, CachedInputTokens: 40, OutputTokens: 10, TotalTokens: 110}
	if got := u.BlendedTotal(); got != 70 {
		t.Errorf("BlendedTotal = %d, want 70", got)
	}
}
