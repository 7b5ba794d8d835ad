package usecase

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mockforge/mockforge/internal/domain/service"
)

// Strategy names an N-fanout execution plan.
type Strategy string

const (
	StrategyAuto       Strategy = "Auto"
	StrategySequential Strategy = "Sequential"
	StrategyParallel   Strategy = "Parallel"
	StrategyStreaming  Strategy = "Streaming"
)

// ResolveStrategy parses the request knob and applies the Auto rule:
// n==1 → Sequential, n≤5 → Parallel, n>5 → Streaming.
func ResolveStrategy(raw string, n int) Strategy {
	switch {
	case strings.EqualFold(raw, string(StrategySequential)):
		return StrategySequential
	case strings.EqualFold(raw, string(StrategyParallel)):
		return StrategyParallel
	case strings.EqualFold(raw, string(StrategyStreaming)):
		return StrategyStreaming
	}
	// Auto (or anything unrecognized).
	switch {
	case n <= 1:
		return StrategySequential
	case n <= 5:
		return StrategyParallel
	default:
		return StrategyStreaming
	}
}

// FanResult is one completed generation inside a fan-out.
type FanResult struct {
	Index int
	Body  string
	Err   error
}

// FanOut runs n independent synthesis calls under the strategy and emits
// results on the returned channel at their prescribed times:
//
//	Sequential: await each call, sleep the delay, then the next.
//	Parallel:   issue all concurrently, stagger emissions by 0, d, 2d, ...
//	Streaming:  emit in completion order with the delay between emissions.
//
// The channel closes when every emission has been made or ctx is cancelled.
func (p *Pipeline) FanOut(ctx context.Context, req service.SynthesisRequest, n int, strategy Strategy, delay time.Duration) <-chan FanResult {
	out := make(chan FanResult, n)

	switch strategy {
	case StrategyParallel:
		go p.fanParallel(ctx, req, n, delay, out)
	case StrategyStreaming:
		go p.fanStreaming(ctx, req, n, delay, out)
	default:
		go p.fanSequential(ctx, req, n, delay, out)
	}
	return out
}

func (p *Pipeline) fanSequential(ctx context.Context, req service.SynthesisRequest, n int, delay time.Duration, out chan<- FanResult) {
	defer close(out)
	for i := 0; i < n; i++ {
		result, err := p.Synthesize(ctx, req)
		if !emit(ctx, out, FanResult{Index: i, Body: result.Body, Err: err}) {
			return
		}
		if i < n-1 && !sleep(ctx, delay) {
			return
		}
	}
}

func (p *Pipeline) fanParallel(ctx context.Context, req service.SynthesisRequest, n int, delay time.Duration, out chan<- FanResult) {
	defer close(out)

	results := make([]FanResult, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			result, err := p.Synthesize(gctx, req)
			results[i] = FanResult{Index: i, Body: result.Body, Err: err}
			return nil
		})
	}
	g.Wait()

	// Stagger the responses: 0, d, 2d, ...
	for i, r := range results {
		if i > 0 && !sleep(ctx, delay) {
			return
		}
		if !emit(ctx, out, r) {
			return
		}
	}
}

func (p *Pipeline) fanStreaming(ctx context.Context, req service.SynthesisRequest, n int, delay time.Duration, out chan<- FanResult) {
	defer close(out)

	done := make(chan FanResult, n)
	for i := 0; i < n; i++ {
		go func() {
			result, err := p.Synthesize(ctx, req)
			done <- FanResult{Index: i, Body: result.Body, Err: err}
		}()
	}

	for received := 0; received < n; received++ {
		select {
		case <-ctx.Done():
			return
		case r := <-done:
			if received > 0 && !sleep(ctx, delay) {
				return
			}
			if !emit(ctx, out, r) {
				return
			}
		}
	}
}

func emit(ctx context.Context, out chan<- FanResult, r FanResult) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
