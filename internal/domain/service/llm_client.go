package service

import "context"

// CompletionRequest is one prompt sent to the LLM layer.
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int     // 0 = provider default
	Temperature float64 // 0 = provider default
	Backend     string  // non-empty pins a named backend
}

// LLMClient is the capability the pipeline uses to reach the upstream model.
// Implemented by the resilient multi-backend router; handlers never talk to a
// provider directly.
type LLMClient interface {
	// Complete returns the generated text for one prompt.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// CompleteStream emits token deltas on tokenCh as they arrive and
	// returns the accumulated text. The channel is closed by the callee
	// before returning.
	CompleteStream(ctx context.Context, req CompletionRequest, tokenCh chan<- string) (string, error)

	// CompleteN generates n independent completions for the same prompt.
	CompleteN(ctx context.Context, req CompletionRequest, n int) ([]string, error)
}
