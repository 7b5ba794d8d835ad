// Package tools performs optional side-effect calls before response
// synthesis: the caller names an HTTP endpoint (or another mock path) and
// the captured result is injected into the prompt to ground the response.
package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// Header is the request knob naming tool calls: "GET https://host/x"
	// (multiple calls separated by "|").
	Header = "X-Mock-Tool"

	maxResultBytes = 16 * 1024
	callTimeout    = 10 * time.Second
)

// Call is one parsed tool invocation.
type Call struct {
	Method string
	URL    string
}

// ParseHeader splits the header value into calls. Malformed entries are
// dropped.
func ParseHeader(value string) []Call {
	var out []Call
	for _, part := range strings.Split(value, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		method, url, ok := strings.Cut(part, " ")
		if !ok {
			method, url = http.MethodGet, part
		}
		url = strings.TrimSpace(url)
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			continue
		}
		out = append(out, Call{Method: strings.ToUpper(strings.TrimSpace(method)), URL: url})
	}
	return out
}

// Invoker executes tool calls with bounded capture.
type Invoker struct {
	client *http.Client
	logger *zap.Logger
}

// NewInvoker creates a tool invoker.
func NewInvoker(logger *zap.Logger) *Invoker {
	return &Invoker{
		client: &http.Client{Timeout: callTimeout},
		logger: logger.With(zap.String("component", "tool-invoker")),
	}
}

// Invoke runs every call sequentially and formats the captured results as a
// text block for the prompt. Failures are recorded in the block rather than
// failing the request — a broken tool should not break synthesis.
func (i *Invoker) Invoke(ctx context.Context, calls []Call) string {
	if len(calls) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, call := range calls {
		result, err := i.invokeOne(ctx, call)
		if err != nil {
			i.logger.Warn("Tool call failed",
				zap.String("method", call.Method),
				zap.String("url", call.URL),
				zap.Error(err),
			)
			fmt.Fprintf(&sb, "%s %s -> error: %v\n", call.Method, call.URL, err)
			continue
		}
		fmt.Fprintf(&sb, "%s %s -> %s\n", call.Method, call.URL, result)
	}
	return sb.String()
}

func (i *Invoker) invokeOne(ctx context.Context, call Call) (string, error) {
	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))), nil
}
