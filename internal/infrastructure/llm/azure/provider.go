// Package azure adapts Azure OpenAI deployments. The body is the standard
// chat-completion payload; the differences are the deployment-scoped URL,
// the api-version query parameter, and the api-key header.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/domain/entity"
	llm "github.com/mockforge/mockforge/internal/infrastructure/llm"
	"github.com/mockforge/mockforge/internal/infrastructure/llm/openai"
	"github.com/mockforge/mockforge/pkg/jsontree"
)

const defaultAPIVersion = "2024-02-15-preview"

func init() {
	llm.RegisterFactory("azure", func(cfg entity.BackendConfig, logger *zap.Logger) (llm.Provider, error) {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("azure backend %q requires base_url (https://<resource>.openai.azure.com)", cfg.Name)
		}
		return New(cfg, logger), nil
	})
}

// Provider talks to one Azure OpenAI deployment. ModelName doubles as the
// deployment name.
type Provider struct {
	name       string
	endpoint   string
	apiKey     string
	deployment string
	client     *http.Client
	logger     *zap.Logger
}

// New creates an Azure OpenAI provider.
func New(cfg entity.BackendConfig, logger *zap.Logger) *Provider {
	return &Provider{
		name:       cfg.Name,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		deployment: cfg.ModelName,
		client:     &http.Client{},
		logger:     logger.With(zap.String("provider", cfg.Name), zap.String("type", "azure")),
	}
}

// Compile-time interface check
var _ llm.Provider = (*Provider)(nil)

// Name returns the backend identifier.
func (p *Provider) Name() string { return p.name }

func (p *Provider) url() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		p.endpoint, p.deployment, defaultAPIVersion)
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Complete implements llm.Provider (non-streaming).
func (p *Provider) Complete(ctx context.Context, prompt string, opts llm.CallOptions) (string, error) {
	resp, err := p.post(ctx, prompt, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", llm.ClassifyTransportError(p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", llm.NewHTTPError(p.name, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(raw))))
	}
	content, err := jsontree.ExtractChatContent(raw)
	if err != nil {
		return "", llm.NewParseError(p.name, err)
	}
	return content, nil
}

// CompleteStream implements llm.Provider; Azure streams the same SSE frames
// as the OpenAI protocol.
func (p *Provider) CompleteStream(ctx context.Context, prompt string, opts llm.CallOptions, tokenCh chan<- string) (string, error) {
	resp, err := p.post(ctx, prompt, opts, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", llm.NewHTTPError(p.name, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(data))))
	}
	return openai.ParseSSEStream(ctx, resp.Body, p.name, tokenCh, p.logger)
}

// CompleteN implements llm.Provider.
func (p *Provider) CompleteN(ctx context.Context, prompt string, n int, opts llm.CallOptions) ([]string, error) {
	return llm.CompleteNSequential(ctx, p, prompt, n, opts)
}

func (p *Provider) post(ctx context.Context, prompt string, opts llm.CallOptions, stream bool) (*http.Response, error) {
	body, err := json.Marshal(chatRequest{
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransportError(p.name, err)
	}
	return resp, nil
}
