package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/domain/service"
	llminfra "github.com/mockforge/mockforge/internal/infrastructure/llm"
	"github.com/mockforge/mockforge/internal/infrastructure/prompt"
	"github.com/mockforge/mockforge/pkg/jsontree"
)

// maxChunks bounds runaway splits: beyond this the request is served in one
// call and the model truncates on its own.
const maxChunks = 8

// shouldChunk reports whether the requested output exceeds the active token
// budget: a quarter of the context window minus the prompt's own tokens.
func (p *Pipeline) shouldChunk(req service.SynthesisRequest, input prompt.Input) bool {
	if !p.opts.EnableAutoChunk || !req.AutoChunk || !req.Shape.HasShape() {
		return false
	}
	root, err := jsontree.ParseString(req.Shape.Shape)
	if err != nil {
		return false
	}
	_, collection := root.FirstArray()
	if collection == nil {
		return false
	}

	count := req.CountHint
	if count <= 0 {
		count = p.opts.DefaultItemCount
	}
	estimated := p.counter.EstimateItemTokens(req.Shape.Shape, "") * count
	budget := p.counter.ResponseBudget(p.builder.Build(input), "", p.opts.MaxContextWindow)
	if budget <= 0 {
		// The prompt alone eats the window; chunking is the only way out.
		return true
	}
	return estimated > budget
}

// produceChunked splits the collection across K sequential continuation
// calls and merges the resulting arrays into one document. Cross-chunk
// consistency rides on the API-context shared keys plus a short summary of
// the prior chunk injected into each continuation prompt.
func (p *Pipeline) produceChunked(ctx context.Context, req service.SynthesisRequest, input prompt.Input, key string) (string, error) {
	root, err := jsontree.ParseString(req.Shape.Shape)
	if err != nil {
		return "", err
	}
	arrayKey, _ := root.FirstArray()

	count := req.CountHint
	if count <= 0 {
		count = p.opts.DefaultItemCount
	}
	itemTokens := p.counter.EstimateItemTokens(req.Shape.Shape, "")
	budget := p.counter.ResponseBudget(p.builder.Build(input), "", p.opts.MaxContextWindow)
	itemsPerChunk := budget / itemTokens
	if itemsPerChunk < 1 {
		itemsPerChunk = 1
	}
	chunks := (count + itemsPerChunk - 1) / itemsPerChunk
	if chunks > maxChunks {
		chunks = maxChunks
		itemsPerChunk = (count + chunks - 1) / chunks
	}

	p.logger.Debug("Chunking oversized generation",
		zap.String("key", key),
		zap.Int("items", count),
		zap.Int("chunks", chunks),
	)

	var docs []*jsontree.Node
	remaining := count
	var priorSummary string

	for i := 1; i <= chunks && remaining > 0; i++ {
		items := itemsPerChunk
		if items > remaining {
			items = remaining
		}

		chunkInput := input
		chunkInput.ChunkIndex = i
		chunkInput.ChunkTotal = chunks
		chunkInput.ChunkItems = items
		if priorSummary != "" {
			chunkInput.ToolResults = joinBlocks(input.ToolResults, "Items already generated (do not repeat): "+priorSummary)
		}

		built := p.builder.Build(chunkInput)
		llmStart := time.Now()
		p.monitor.IncLLMCall()
		raw, err := p.llm.Complete(ctx, service.CompletionRequest{
			Prompt:      built,
			Temperature: p.opts.Temperature,
			Backend:     req.Backend,
		})
		if err != nil {
			return "", err
		}
		p.stats.Record(key, time.Since(llmStart))

		doc, err := jsontree.ParseString(jsontree.StripCodeFence(raw))
		if err != nil {
			return "", llminfra.NewParseError("pipeline", fmt.Errorf("chunk %d: %w", i, err))
		}
		docs = append(docs, doc)

		remaining -= items
		priorSummary = summarizeChunk(doc, arrayKey)
	}

	merged, err := jsontree.MergeCollections(docs, arrayKey)
	if err != nil {
		return "", llminfra.NewParseError("pipeline", err)
	}
	return merged.Render(), nil
}

// summarizeChunk captures the tail of a chunk's collection so the next
// continuation can avoid repeating it.
func summarizeChunk(doc *jsontree.Node, arrayKey string) string {
	arr := doc
	if arrayKey != "" {
		arr = doc.Get(arrayKey)
	}
	if arr == nil || arr.Kind != jsontree.Arr || len(arr.Items) == 0 {
		return ""
	}
	tail := arr.Items[len(arr.Items)-1].Render()
	if len(tail) > 300 {
		tail = tail[:300]
	}
	return fmt.Sprintf("%d items so far, last item: %s", len(arr.Items), tail)
}

func joinBlocks(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n" + b
}
