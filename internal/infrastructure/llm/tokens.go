package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts prompt tokens for budget decisions. Encodings are
// loaded lazily per model and cached; unknown models use the cl100k_base
// encoding, and the chars/4 heuristic applies only when no encoding loads.
type TokenCounter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewTokenCounter creates an empty counter.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{encodings: make(map[string]*tiktoken.Tiktoken)}
}

// Count returns the token count of text for the given model.
func (t *TokenCounter) Count(text, model string) int {
	if text == "" {
		return 0
	}
	if enc := t.encodingFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	// Heuristic fallback: ~4 chars per token for English-ish text.
	return (len(text) + 3) / 4
}

func (t *TokenCounter) encodingFor(model string) *tiktoken.Tiktoken {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := model
	if key == "" {
		key = "cl100k_base"
	}
	if enc, ok := t.encodings[key]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Local models (llama, qwen, ...) are unknown to tiktoken; the
		// cl100k base encoding is close enough for budgeting.
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			t.encodings[key] = nil
			return nil
		}
	}
	t.encodings[key] = enc
	return enc
}

// ResponseBudget is the output-token budget for a backend: a quarter of the
// context window minus the prompt's own tokens. Non-positive means the
// request does not fit without chunking.
func (t *TokenCounter) ResponseBudget(prompt, model string, contextWindow int) int {
	if contextWindow <= 0 {
		contextWindow = 8192
	}
	budget := contextWindow/4 - t.Count(prompt, model)
	return budget
}

// EstimateItemTokens guesses the per-item cost of a collection shape by
// counting the shape itself; generation roughly mirrors shape size.
func (t *TokenCounter) EstimateItemTokens(shape, model string) int {
	n := t.Count(strings.TrimSpace(shape), model)
	if n < 16 {
		n = 16
	}
	return n
}
