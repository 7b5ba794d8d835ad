// Package openai is the OpenAI-compatible chat-completion adapter.
// Compatible with: OpenAI, vLLM, Ollama's /v1 endpoint, LM Studio, MiniMax,
// DeepSeek, and other servers speaking the same wire protocol.
package openai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/domain/entity"
	llm "github.com/mockforge/mockforge/internal/infrastructure/llm"
	"github.com/mockforge/mockforge/pkg/jsontree"
)

func init() {
	llm.RegisterFactory("openai", func(cfg entity.BackendConfig, logger *zap.Logger) (llm.Provider, error) {
		return New(cfg, logger), nil
	})
}

// Provider is a Go-native OpenAI-compatible HTTP client.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

// New creates an OpenAI-compatible provider.
func New(cfg entity.BackendConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Provider{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.ModelName,
		client:  newHTTPClient(),
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("type", "openai")),
	}
}

// newHTTPClient builds the shared transport. Response header timeout is long:
// big generations can take minutes before the first byte.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Transport: transport}
}

// Compile-time interface check
var _ llm.Provider = (*Provider)(nil)

// Name returns the backend identifier.
func (p *Provider) Name() string { return p.name }

// chatRequest is the outbound body. Marshalling the request is fine — only
// the response envelope must avoid struct decoding.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	N           int           `json:"n,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Complete implements llm.Provider (non-streaming).
func (p *Provider) Complete(ctx context.Context, prompt string, opts llm.CallOptions) (string, error) {
	raw, err := p.post(ctx, p.buildRequest(prompt, opts, false, 0))
	if err != nil {
		return "", err
	}
	content, err := jsontree.ExtractChatContent(raw)
	if err != nil {
		return "", llm.NewParseError(p.name, err)
	}
	return content, nil
}

// CompleteN implements llm.Provider using the protocol's native n parameter;
// servers that ignore n fall back to one choice and the missing responses
// are generated sequentially.
func (p *Provider) CompleteN(ctx context.Context, prompt string, n int, opts llm.CallOptions) ([]string, error) {
	if n <= 1 {
		resp, err := p.Complete(ctx, prompt, opts)
		if err != nil {
			return nil, err
		}
		return []string{resp}, nil
	}

	raw, err := p.post(ctx, p.buildRequest(prompt, opts, false, n))
	if err != nil {
		return nil, err
	}
	root, err := jsontree.Parse(raw)
	if err != nil {
		return nil, llm.NewParseError(p.name, err)
	}

	var out []string
	choices := root.Get("choices")
	if choices != nil {
		for _, choice := range choices.Items {
			if content, ok := choice.Lookup("message", "content").Text(); ok {
				out = append(out, content)
			}
		}
	}
	if len(out) == 0 {
		return nil, llm.NewParseError(p.name, fmt.Errorf("no choices in batched response"))
	}

	// Top up if the server returned fewer than requested.
	for len(out) < n {
		resp, err := p.Complete(ctx, prompt, opts)
		if err != nil {
			return out, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// CompleteStream implements llm.Provider over text/event-stream.
func (p *Provider) CompleteStream(ctx context.Context, prompt string, opts llm.CallOptions, tokenCh chan<- string) (string, error) {
	body, err := json.Marshal(p.buildRequest(prompt, opts, true, 0))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", llm.ClassifyTransportError(p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", llm.NewHTTPError(p.name, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(data))))
	}

	return ParseSSEStream(ctx, resp.Body, p.name, tokenCh, p.logger)
}

func (p *Provider) buildRequest(prompt string, opts llm.CallOptions, stream bool, n int) chatRequest {
	return chatRequest{
		Model:       p.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
		N:           n,
	}
}

func (p *Provider) post(ctx context.Context, req chatRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransportError(p.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.ClassifyTransportError(p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, llm.NewHTTPError(p.name, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(raw))))
	}
	return raw, nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}
