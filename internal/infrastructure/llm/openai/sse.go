package openai

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	llm "github.com/mockforge/mockforge/internal/infrastructure/llm"
	"github.com/mockforge/mockforge/pkg/jsontree"
)

// ParseSSEStream reads a text/event-stream completion, emitting content
// deltas on tokenCh and accumulating the final text.
//
// Termination protection:
//
//	L1: Break on finish_reason (don't wait for [DONE] — some servers never send it)
//	L2: 60s read idle timeout (detect stale connections)
//	L3: Per-call context deadline set by the router
func ParseSSEStream(ctx context.Context, reader io.Reader, backend string, tokenCh chan<- string, logger *zap.Logger) (string, error) {
	tReader := &timedReader{r: reader, timeout: 60 * time.Second}

	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max line

	var contentBuilder strings.Builder
	var finishReason string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return contentBuilder.String(), ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		chunk, err := jsontree.ParseString(data)
		if err != nil {
			logger.Debug("Skip unparseable SSE chunk", zap.Error(err))
			continue
		}

		choice := chunk.Get("choices").Index(0)
		if choice == nil {
			continue
		}
		if reason, ok := choice.Get("finish_reason").Text(); ok {
			finishReason = reason
		}
		if delta, ok := choice.Lookup("delta", "content").Text(); ok && delta != "" {
			contentBuilder.WriteString(delta)
			select {
			case tokenCh <- delta:
			case <-ctx.Done():
				return contentBuilder.String(), ctx.Err()
			}
		}

		// L1: finish_reason received — stop immediately.
		if finishReason != "" {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return contentBuilder.String(), ctx.Err()
		}
		return contentBuilder.String(), llm.ClassifyTransportError(backend, err)
	}
	if contentBuilder.Len() == 0 {
		return "", llm.NewParseError(backend, fmt.Errorf("stream ended with no content"))
	}
	return contentBuilder.String(), nil
}

// timedReader enforces an idle timeout between reads so a dead upstream
// cannot hold the stream open forever.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, fmt.Errorf("stream idle for %s", t.timeout)
	}
}
