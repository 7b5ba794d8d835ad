package apictx

import (
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newStore(t *testing.T, opts Options) *Store {
	t.Helper()
	ex, err := NewSharedKeyExtractor(nil)
	if err != nil {
		t.Fatalf("extractor: %v", err)
	}
	return NewStore(opts, ex, zap.NewNop())
}

func TestRecord_AppendsAndBounds(t *testing.T) {
	s := newStore(t, Options{MaxRecentCalls: 3})

	for i := 0; i < 5; i++ {
		s.Record("shop", "GET", "/api/mock/items", "", `{"id":"i1"}`)
	}

	c, ok := s.Get("shop")
	if !ok {
		t.Fatal("context missing")
	}
	if len(c.RecentCalls) != 3 {
		t.Fatalf("ring length = %d, want 3", len(c.RecentCalls))
	}
	if c.TotalCalls != 5 {
		t.Fatalf("total calls = %d, want 5", c.TotalCalls)
	}
}

func TestRecord_ExtractsSharedKeys(t *testing.T) {
	s := newStore(t, Options{})
	s.Record("shop", "POST", "/api/mock/users",
		`{"name":"alice"}`,
		`{"id":"u-123","profile":{"email":"a@b.c"},"items":[{"sku":"S9"}],"ignored":true}`)

	c, _ := s.Get("shop")
	want := map[string]string{
		"id":            "u-123",
		"profile.email": "a@b.c",
		"items[0].sku":  "S9",
	}
	for k, v := range want {
		if c.SharedData[k] != v {
			t.Fatalf("shared[%q] = %q, want %q (all: %v)", k, c.SharedData[k], v, c.SharedData)
		}
	}
	if _, ok := c.SharedData["ignored"]; ok {
		t.Fatal("non-identifier key extracted")
	}
}

func TestRecord_LaterValuesOverwrite(t *testing.T) {
	s := newStore(t, Options{})
	s.Record("c", "GET", "/x", "", `{"id":"first"}`)
	s.Record("c", "GET", "/x", "", `{"id":"second"}`)
	c, _ := s.Get("c")
	if c.SharedData["id"] != "second" {
		t.Fatalf("id = %q, want second", c.SharedData["id"])
	}
}

func TestFormatForPrompt(t *testing.T) {
	s := newStore(t, Options{})
	if got := s.FormatForPrompt("nope"); got != "" {
		t.Fatalf("unknown context should format empty, got %q", got)
	}

	s.Record("shop", "GET", "/api/mock/users", "", `{"id":"u1"}`)
	out := s.FormatForPrompt("shop")
	if !strings.Contains(out, "GET /api/mock/users") {
		t.Fatalf("recent call missing from %q", out)
	}
	if !strings.Contains(out, "id = u1") {
		t.Fatalf("shared data missing from %q", out)
	}
	if len(out) > promptBlockMaxChars {
		t.Fatalf("prompt block too large: %d", len(out))
	}
}

func TestSweep_RemovesExpired(t *testing.T) {
	s := newStore(t, Options{Expiration: time.Minute})
	s.Record("old", "GET", "/a", "", "{}")
	s.Record("fresh", "GET", "/b", "", "{}")

	s.mu.Lock()
	s.contexts["old"].LastUsedAt = time.Now().Add(-2 * time.Minute)
	s.mu.Unlock()

	s.sweep(time.Now())

	if _, ok := s.Get("old"); ok {
		t.Fatal("expired context still observable")
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Fatal("fresh context swept")
	}
}

func TestMergeSharedData(t *testing.T) {
	s := newStore(t, Options{})
	if err := s.MergeSharedData("missing", map[string]string{"a": "b"}); err == nil {
		t.Fatal("expected error for unknown context")
	}
	s.GetOrCreate("c")
	if err := s.MergeSharedData("c", map[string]string{"order.id": "o-9"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	c, _ := s.Get("c")
	if c.SharedData["order.id"] != "o-9" {
		t.Fatalf("merge lost: %v", c.SharedData)
	}
}

func TestStore_ConcurrentRecord(t *testing.T) {
	s := newStore(t, Options{MaxRecentCalls: 5})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Record("c", "GET", "/x", "", `{"id":"v"}`)
		}()
	}
	wg.Wait()
	c, _ := s.Get("c")
	if c.TotalCalls != 20 {
		t.Fatalf("total calls = %d, want 20", c.TotalCalls)
	}
	if len(c.RecentCalls) != 5 {
		t.Fatalf("ring = %d, want 5", len(c.RecentCalls))
	}
}

func TestSnapshot_Isolated(t *testing.T) {
	s := newStore(t, Options{})
	s.Record("c", "GET", "/x", "", `{"id":"v"}`)
	snap, _ := s.Get("c")
	snap.SharedData["id"] = "mutated"
	again, _ := s.Get("c")
	if again.SharedData["id"] != "v" {
		t.Fatal("snapshot mutation leaked into store")
	}
}
