// Package unifiedllm is the model client used by agent turns. It presents a
// provider-agnostic Complete call over conversation history expressed as
// protocol.ResponseItem values, and wraps the gollm library
// (github.com/teilomillet/gollm) for real providers.
//
// # Layers
//
//   - ProviderAdapter: one backend, such as GollmAdapter
//   - Client: routes a Request to an adapter by provider name and applies
//     middleware
//   - Retry: exponential backoff over retryable errors
//
// # Errors
//
// Provider failures are returned as typed errors built on ProviderError.
// Callers match them with errors.As:
//
//	var overflow *unifiedllm.ContextLengthError
//	if errors.As(err, &overflow) {
//	    // drop history and retry
//	}
//
// IsRetryable reports whether Retry should try again. Context overflow,
// authentication and invalid-request errors are never retried.
//
// # Usage
//
//	adapter, _ := unifiedllm.NewGollmAdapter("openai", os.Getenv("OPENAI_API_KEY"))
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("openai", adapter),
//	    unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logger)),
//	)
//	resp, err := client.Complete(ctx, unifiedllm.Request{
//	    Model: "gpt-4o-mini",
//	    Input: []protocol.ResponseItem{protocol.UserMessage("hello")},
//	})
package unifiedllm
