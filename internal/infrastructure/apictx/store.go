// Package apictx owns the named API contexts: per-context transcripts of
// recent request/response pairs plus shared key-value state injected into
// subsequent prompts for cross-request consistency.
package apictx

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/domain/entity"
	"github.com/mockforge/mockforge/internal/domain/service"
)

const sweepInterval = time.Minute

// promptBlockMaxChars bounds the serialized context block embedded in prompts.
const promptBlockMaxChars = 3000

// Options tune the store.
type Options struct {
	MaxRecentCalls int           // ring bound per context
	Expiration     time.Duration // sliding expiry
}

// Store is the process-wide context store.
type Store struct {
	mu        sync.RWMutex
	contexts  map[string]*entity.APIContext
	opts      Options
	extractor *SharedKeyExtractor
	logger    *zap.Logger
}

// Compile-time interface check
var _ service.ContextStore = (*Store)(nil)

// NewStore creates a context store. extractor may not be nil.
func NewStore(opts Options, extractor *SharedKeyExtractor, logger *zap.Logger) *Store {
	if opts.MaxRecentCalls <= 0 {
		opts.MaxRecentCalls = 10
	}
	if opts.Expiration <= 0 {
		opts.Expiration = 15 * time.Minute
	}
	return &Store{
		contexts:  make(map[string]*entity.APIContext),
		opts:      opts,
		extractor: extractor,
		logger:    logger.With(zap.String("component", "context-store")),
	}
}

// Get returns a snapshot of the named context.
func (s *Store) Get(name string) (*entity.APIContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[name]
	if !ok {
		return nil, false
	}
	return snapshot(c), true
}

// GetOrCreate returns a snapshot, creating the context when absent.
func (s *Store) GetOrCreate(name string) *entity.APIContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.getOrCreateLocked(name))
}

func (s *Store) getOrCreateLocked(name string) *entity.APIContext {
	if c, ok := s.contexts[name]; ok {
		return c
	}
	now := time.Now()
	c := &entity.APIContext{
		Name:       name,
		SharedData: make(map[string]string),
		CreatedAt:  now,
		LastUsedAt: now,
	}
	s.contexts[name] = c
	s.logger.Debug("Context created", zap.String("context", name))
	return c
}

// Record appends one call to the context's ring, refreshes the sliding
// expiry, and merges shared keys extracted from the response. Appends are
// serialized per store; later values overwrite earlier ones.
func (s *Store) Record(name, method, path, requestBody, responseBody string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.getOrCreateLocked(name)
	c.RecentCalls = append(c.RecentCalls, entity.ContextCall{
		Method:       method,
		Path:         path,
		RequestBody:  requestBody,
		ResponseBody: responseBody,
		Timestamp:    time.Now(),
	})
	if overflow := len(c.RecentCalls) - s.opts.MaxRecentCalls; overflow > 0 {
		c.RecentCalls = append([]entity.ContextCall(nil), c.RecentCalls[overflow:]...)
	}
	c.TotalCalls++
	c.LastUsedAt = time.Now()

	for path, value := range s.extractor.Extract(responseBody) {
		c.SharedData[path] = value
	}
}

// MergeSharedData merges explicit key/value pairs into a context (management
// PATCH surface).
func (s *Store) MergeSharedData(name string, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[name]
	if !ok {
		return entity.ErrContextNotFound
	}
	for k, v := range data {
		c.SharedData[k] = v
	}
	c.LastUsedAt = time.Now()
	return nil
}

// FormatForPrompt serializes recent calls and shared data into a bounded
// text block for prompt inclusion. Empty when the context is unknown.
func (s *Store) FormatForPrompt(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contexts[name]
	if !ok {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "API context %q (%d calls total):\n", c.Name, c.TotalCalls)

	if len(c.SharedData) > 0 {
		sb.WriteString("Known identifiers from earlier responses (reuse these values exactly):\n")
		keys := make([]string, 0, len(c.SharedData))
		for k := range c.SharedData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s = %s\n", k, c.SharedData[k])
		}
	}

	if len(c.RecentCalls) > 0 {
		sb.WriteString("Recent calls (oldest first):\n")
		for _, call := range c.RecentCalls {
			fmt.Fprintf(&sb, "  %s %s -> %s\n", call.Method, call.Path, truncate(call.ResponseBody, 200))
		}
	}

	if c.ContextSummary != "" {
		fmt.Fprintf(&sb, "Summary: %s\n", c.ContextSummary)
	}

	out := sb.String()
	if len(out) > promptBlockMaxChars {
		out = out[:promptBlockMaxChars]
	}
	return out
}

// Clear removes one context. Reports whether it existed.
func (s *Store) Clear(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contexts[name]; !ok {
		return false
	}
	delete(s.contexts, name)
	return true
}

// ClearAll removes every context.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = make(map[string]*entity.APIContext)
}

// ListAll returns snapshots of every live context, name-sorted.
func (s *Store) ListAll() []*entity.APIContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.APIContext, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, snapshot(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run sweeps expired contexts every minute until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep removes contexts idle past the sliding expiration.
func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, c := range s.contexts {
		if now.Sub(c.LastUsedAt) > s.opts.Expiration {
			delete(s.contexts, name)
			s.logger.Debug("Context expired", zap.String("context", name))
		}
	}
}

func snapshot(c *entity.APIContext) *entity.APIContext {
	cp := *c
	cp.RecentCalls = append([]entity.ContextCall(nil), c.RecentCalls...)
	cp.SharedData = make(map[string]string, len(c.SharedData))
	for k, v := range c.SharedData {
		cp.SharedData[k] = v
	}
	return &cp
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
