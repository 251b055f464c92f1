package unifiedllm

import "strings"

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int64    `json:"context_window"`
	MaxOutput     *int     `json:"max_output,omitempty"`
	SupportsTools bool     `json:"supports_tools"`
	Aliases       []string `json:"aliases,omitempty"`
}

func intPtr(v int) *int { return &v }

// Models is the built-in model catalog.
var Models = []ModelInfo{
	// Anthropic
	{
		ID: "claude-opus-4-1", Provider: "anthropic", DisplayName: "Claude Opus 4.1",
		ContextWindow: 200000, MaxOutput: intPtr(32000), SupportsTools: true,
		Aliases: []string{"opus", "claude-opus"},
	},
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: intPtr(64000), SupportsTools: true,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},

	// OpenAI
	{
		ID: "gpt-5", Provider: "openai", DisplayName: "GPT-5",
		ContextWindow: 272000, MaxOutput: intPtr(128000), SupportsTools: true,
	},
	{
		ID: "gpt-5-codex", Provider: "openai", DisplayName: "GPT-5 Codex",
		ContextWindow: 272000, MaxOutput: intPtr(128000), SupportsTools: true,
		Aliases: []string{"codex"},
	},
	{
		ID: "gpt-4.1", Provider: "openai", DisplayName: "GPT-4.1",
		ContextWindow: 1047576, MaxOutput: intPtr(32768), SupportsTools: true,
	},
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, MaxOutput: intPtr(16384), SupportsTools: true,
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o mini",
		ContextWindow: 128000, MaxOutput: intPtr(16384), SupportsTools: true,
	},

	// Local
	{
		ID: "llama3.1", Provider: "ollama", DisplayName: "Llama 3.1",
		ContextWindow: 128000, SupportsTools: true,
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
// Dated snapshots such as "gpt-4o-2024-08-06" resolve to their family.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	var best *ModelInfo
	for i := range Models {
		if strings.HasPrefix(modelID, Models[i].ID+"-") && (best == nil || len(Models[i].ID) > len(best.ID)) {
			best = &Models[i]
		}
	}
	return best
}

// ContextWindow returns the context window of model, or nil when the model
// is unknown.
func ContextWindow(model string) *int64 {
	info := GetModelInfo(model)
	if info == nil || info.ContextWindow <= 0 {
		return nil
	}
	w := info.ContextWindow
	return &w
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// GetLatestModel returns the first catalog model for a provider.
func GetLatestModel(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider {
			return &Models[i]
		}
	}
	return nil
}
