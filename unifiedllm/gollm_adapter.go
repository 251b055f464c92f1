package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"

	"github.com/martinemde/agentcore/protocol"
)

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter.
// It renders the conversation history into a single gollm prompt and reads
// tool calls back out of the generated text.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string

	// mu serializes option changes with the Generate call that uses them.
	mu sync.Mutex
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If apiKey is empty, gollm will attempt to read it from environment variables.
func NewGollmAdapter(provider string, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		apiKey:      apiKey,
		maxTokens:   4096,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		if info := GetLatestModel(provider); info != nil {
			model = info.ID
		} else {
			model = "gpt-4o-mini"
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // Retry handles retries.
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
	}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider, model string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt, err := a.translateRequest(req)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.applyRequestOptions(req)
	text, err := a.llm.Generate(ctx, prompt)
	a.mu.Unlock()
	if err != nil {
		return nil, a.translateError(err)
	}

	return a.buildResponse(req, text), nil
}

// renderItem renders one history item as a line of the flattened prompt.
func renderItem(item protocol.ResponseItem) string {
	switch item.Type {
	case protocol.ItemMessage:
		text := item.Text()
		if text == "" {
			return ""
		}
		if item.Role == protocol.RoleAssistant {
			return "[Assistant]: " + text
		}
		return text
	case protocol.ItemFunctionCall:
		return fmt.Sprintf("[Tool Call %s]: %s(%s)", item.CallID, item.Name, item.Arguments)
	case protocol.ItemFunctionCallOutput:
		if item.Output == nil {
			return ""
		}
		prefix := "[Tool Result " + item.CallID + "]"
		if item.Output.Success != nil && !*item.Output.Success {
			prefix = "[Tool Error " + item.CallID + "]"
		}
		return prefix + ": " + item.Output.Content
	case protocol.ItemReasoning:
		return ""
	}
	return ""
}

// translateRequest converts a Request into a gollm Prompt.
func (a *GollmAdapter) translateRequest(req Request) (*gollm.Prompt, error) {
	var systemPrompt strings.Builder
	systemPrompt.WriteString(req.Instructions)

	var parts []string
	for _, item := range req.Input {
		if item.IsMessageFrom(protocol.RoleDeveloper) {
			systemPrompt.WriteString("\n" + item.Text())
			continue
		}
		if line := renderItem(item); line != "" {
			parts = append(parts, line)
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if s := strings.TrimSpace(systemPrompt.String()); s != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(s, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			var params map[string]interface{}
			if len(t.Parameters) > 0 {
				if err := json.Unmarshal(t.Parameters, &params); err != nil {
					return nil, &ConfigurationError{SDKError: SDKError{
						Message: fmt.Sprintf("tool %s has an invalid parameter schema", t.Name),
						Cause:   err,
					}}
				}
			}
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  params,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools), gollm.WithToolChoice("auto"))
	}

	return gollm.NewPrompt(promptText, promptOpts...), nil
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// buildResponse constructs a Response from the generated text.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	calls, rest := parseToolCalls(text)
	var output []protocol.ResponseItem
	if rest != "" || len(calls) == 0 {
		output = append(output, protocol.AssistantMessage(rest))
	}
	output = append(output, calls...)

	finishReason := FinishReason{Reason: "stop", Raw: "stop"}
	if len(calls) > 0 {
		finishReason = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	// gollm does not expose provider usage; estimate from text length.
	input := estimateTokens(req)
	out := (len(text) + 3) / 4
	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     a.provider,
		Output:       output,
		FinishReason: finishReason,
		Usage: Usage{
			InputTokens:  input,
			OutputTokens: out,
			TotalTokens:  input + out,
		},
	}
}

// parseToolCalls extracts a trailing JSON array of {"name", "arguments"}
// objects from text and returns the calls and the text before them.
func parseToolCalls(text string) ([]protocol.ResponseItem, string) {
	start := strings.Index(text, `[{"name"`)
	if start == -1 {
		return nil, text
	}

	var rawCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text[start:])), &rawCalls); err != nil {
		return nil, text
	}

	calls := make([]protocol.ResponseItem, 0, len(rawCalls))
	for _, rc := range rawCalls {
		args := string(rc.Arguments)
		// Some models return the arguments as an encoded JSON string.
		var encoded string
		if err := json.Unmarshal(rc.Arguments, &encoded); err == nil {
			args = encoded
		}
		if args == "" {
			args = "{}"
		}
		calls = append(calls, protocol.FunctionCall("call_"+uuid.New().String()[:8], rc.Name, args))
	}
	return calls, strings.TrimSpace(text[:start])
}

// translateError converts a gollm error into the unified error hierarchy.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	msgLower := strings.ToLower(msg)
	base := func(status int, retryable bool) ProviderError {
		return ProviderError{
			SDKError:   SDKError{Message: msg, Cause: err},
			Provider:   a.provider,
			StatusCode: status,
			Retryable:  retryable,
		}
	}

	switch {
	case LooksLikeContextOverflow(msgLower):
		pe := base(400, false)
		pe.ErrorCode = ErrorCodeContextLengthExceeded
		return &ContextLengthError{ProviderError: pe}
	case strings.Contains(msgLower, "401") || strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid key") || strings.Contains(msgLower, "invalid api key"):
		return &AuthenticationError{ProviderError: base(401, false)}
	case strings.Contains(msgLower, "403") || strings.Contains(msgLower, "forbidden"):
		return &AccessDeniedError{ProviderError: base(403, false)}
	case strings.Contains(msgLower, "404") || strings.Contains(msgLower, "not found"):
		return &NotFoundError{ProviderError: base(404, false)}
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit"):
		return &RateLimitError{ProviderError: base(429, true)}
	case strings.Contains(msgLower, "quota"):
		return &QuotaExceededError{ProviderError: base(429, false)}
	case strings.Contains(msgLower, "500") || strings.Contains(msgLower, "internal server") || strings.Contains(msgLower, "overloaded"):
		return &ServerError{ProviderError: base(500, true)}
	case strings.Contains(msgLower, "timeout"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	case strings.Contains(msgLower, "content filter") || strings.Contains(msgLower, "safety"):
		return &ContentFilterError{ProviderError: base(400, false)}
	default:
		pe := base(0, true)
		return &pe
	}
}

// estimateTokens approximates the prompt size at four bytes per token.
func estimateTokens(req Request) int {
	total := len(req.Instructions)
	for _, item := range req.Input {
		total += len(renderItem(item))
	}
	if total == 0 {
		return 1
	}
	return (total + 3) / 4
}
