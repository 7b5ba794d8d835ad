// Package ollama is the Ollama-native chat adapter (/api/chat). Unlike the
// OpenAI-compatible path, streaming is newline-delimited JSON, not SSE.
package ollama

import (
	"bufio"
	"bytes"
	"context"
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
	llm.RegisterFactory("ollama", func(cfg entity.BackendConfig, logger *zap.Logger) (llm.Provider, error) {
		return New(cfg, logger), nil
	})
}

// Provider talks to a local or remote Ollama server.
type Provider struct {
	name    string
	baseURL string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

// New creates an Ollama-native provider.
func New(cfg entity.BackendConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Provider{
		name:    cfg.Name,
		baseURL: baseURL,
		model:   cfg.ModelName,
		client:  &http.Client{Transport: transport},
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("type", "ollama")),
	}
}

// Compile-time interface check
var _ llm.Provider = (*Provider)(nil)

// Name returns the backend identifier.
func (p *Provider) Name() string { return p.name }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// Complete implements llm.Provider (non-streaming).
func (p *Provider) Complete(ctx context.Context, prompt string, opts llm.CallOptions) (string, error) {
	resp, err := p.post(ctx, p.buildRequest(prompt, opts, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", llm.ClassifyTransportError(p.name, err)
	}
	content, err := jsontree.ExtractChatContent(raw)
	if err != nil {
		return "", llm.NewParseError(p.name, err)
	}
	return content, nil
}

// CompleteStream implements llm.Provider over NDJSON lines, each carrying a
// message.content delta and a done flag.
func (p *Provider) CompleteStream(ctx context.Context, prompt string, opts llm.CallOptions, tokenCh chan<- string) (string, error) {
	resp, err := p.post(ctx, p.buildRequest(prompt, opts, true))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return contentBuilder.String(), ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		chunk, err := jsontree.Parse(line)
		if err != nil {
			p.logger.Debug("Skip unparseable stream line", zap.Error(err))
			continue
		}
		if delta, ok := chunk.Lookup("message", "content").Text(); ok && delta != "" {
			contentBuilder.WriteString(delta)
			select {
			case tokenCh <- delta:
			case <-ctx.Done():
				return contentBuilder.String(), ctx.Err()
			}
		}
		if done := chunk.Get("done"); done != nil && done.Kind == jsontree.Bool && done.BoolVal {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return contentBuilder.String(), ctx.Err()
		}
		return contentBuilder.String(), llm.ClassifyTransportError(p.name, err)
	}
	if contentBuilder.Len() == 0 {
		return "", llm.NewParseError(p.name, fmt.Errorf("stream ended with no content"))
	}
	return contentBuilder.String(), nil
}

// CompleteN implements llm.Provider; Ollama has no batched n, so responses
// are generated sequentially.
func (p *Provider) CompleteN(ctx context.Context, prompt string, n int, opts llm.CallOptions) ([]string, error) {
	return llm.CompleteNSequential(ctx, p, prompt, n, opts)
}

func (p *Provider) buildRequest(prompt string, opts llm.CallOptions, stream bool) chatRequest {
	req := chatRequest{
		Model:    p.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   stream,
	}
	if opts.Temperature != 0 || opts.MaxTokens != 0 {
		req.Options = &chatOptions{Temperature: opts.Temperature, NumPredict: opts.MaxTokens}
	}
	return req
}

func (p *Provider) post(ctx context.Context, req chatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransportError(p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, llm.NewHTTPError(p.name, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(data))))
	}
	return resp, nil
}
