package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/domain/entity"
	"github.com/mockforge/mockforge/internal/domain/service"
	"github.com/mockforge/mockforge/internal/infrastructure/eventbus"
)

// fakeSynth returns numbered payloads.
type fakeSynth struct {
	calls atomic.Int64
	fail  atomic.Bool
}

func (f *fakeSynth) Synthesize(ctx context.Context, req service.SynthesisRequest) (service.SynthesisResult, error) {
	if f.fail.Load() {
		return service.SynthesisResult{}, errors.New("upstream down")
	}
	n := f.calls.Add(1)
	return service.SynthesisResult{Body: fmt.Sprintf(`{"tick":%d}`, n)}, nil
}

// memSub collects payloads; can be told to fail.
type memSub struct {
	id   string
	mu   sync.Mutex
	got  [][]byte
	dead bool
}

func (m *memSub) ID() string { return m.id }

func (m *memSub) Send(payload []byte, batch int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead {
		return errors.New("gone")
	}
	m.got = append(m.got, payload)
	return nil
}

func (m *memSub) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.got)
}

func newEngine(t *testing.T, synth service.Synthesizer, interval time.Duration) (*Engine, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 64)
	t.Cleanup(bus.Close)
	return NewEngine(ctx, synth, bus, Options{Interval: interval}, zap.NewNop()), cancel
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRegister_IdempotentOnlyWhenEqual(t *testing.T) {
	e, cancel := newEngine(t, &fakeSynth{}, time.Hour)
	defer cancel()

	spec := entity.PushChannelSpec{Name: "feed", Method: "GET", Path: "/feed"}
	if err := e.Register(spec); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := e.Register(spec); err != nil {
		t.Fatalf("same spec must be idempotent: %v", err)
	}
	other := spec
	other.Shape = `{"x":1}`
	if err := e.Register(other); !errors.Is(err, entity.ErrChannelExists) {
		t.Fatalf("conflicting spec should fail, got %v", err)
	}
}

func TestGenerator_PublishesToSubscribers(t *testing.T) {
	synth := &fakeSynth{}
	e, cancel := newEngine(t, synth, 10*time.Millisecond)
	defer cancel()

	e.Register(entity.PushChannelSpec{Name: "feed", Method: "GET", Path: "/feed"})
	sub := &memSub{id: "c1"}
	if err := e.Subscribe("feed", sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	waitFor(t, func() bool { return sub.count() >= 2 }, "subscriber never received payloads")

	info, _ := e.Get("feed")
	if info.State != "running" || info.Subscribers != 1 {
		t.Fatalf("info = %+v", info)
	}
}

func TestGenerator_SkipsWithoutSubscribers(t *testing.T) {
	synth := &fakeSynth{}
	e, cancel := newEngine(t, synth, 10*time.Millisecond)
	defer cancel()

	e.Register(entity.PushChannelSpec{Name: "idle", Method: "GET", Path: "/idle"})
	e.Start("idle")
	time.Sleep(80 * time.Millisecond)

	if got := synth.calls.Load(); got != 0 {
		t.Fatalf("generator ran %d times without subscribers", got)
	}
}

func TestGenerator_RunIdleKeepsProducing(t *testing.T) {
	synth := &fakeSynth{}
	e, cancel := newEngine(t, synth, 10*time.Millisecond)
	defer cancel()

	e.Register(entity.PushChannelSpec{Name: "always", Method: "GET", Path: "/a", RunIdle: true})
	e.Start("always")

	waitFor(t, func() bool { return synth.calls.Load() >= 2 }, "idle generator never produced")
}

func TestGenerator_SurvivesFailures(t *testing.T) {
	synth := &fakeSynth{}
	e, cancel := newEngine(t, synth, 10*time.Millisecond)
	defer cancel()

	e.Register(entity.PushChannelSpec{Name: "feed", Method: "GET", Path: "/feed"})
	sub := &memSub{id: "c1"}
	e.Subscribe("feed", sub)

	synth.fail.Store(true)
	time.Sleep(50 * time.Millisecond)
	synth.fail.Store(false)

	before := sub.count()
	waitFor(t, func() bool { return sub.count() > before }, "channel did not recover after failures")
}

func TestPublish_RemovesDeadSubscriber(t *testing.T) {
	synth := &fakeSynth{}
	e, cancel := newEngine(t, synth, 10*time.Millisecond)
	defer cancel()

	e.Register(entity.PushChannelSpec{Name: "feed", Method: "GET", Path: "/feed"})
	dead := &memSub{id: "dead", dead: true}
	live := &memSub{id: "live"}
	e.Subscribe("feed", dead)
	e.Subscribe("feed", live)

	waitFor(t, func() bool {
		info, _ := e.Get("feed")
		return info.Subscribers == 1 && live.count() >= 1
	}, "dead subscriber not removed")
}

func TestErrorConfig_PublishesErrorPayload(t *testing.T) {
	synth := &fakeSynth{}
	e, cancel := newEngine(t, synth, 10*time.Millisecond)
	defer cancel()

	e.Register(entity.PushChannelSpec{
		Name: "broken", Method: "GET", Path: "/b",
		ErrorConfig: &entity.ErrorConfig{Status: 503, Message: "maintenance"},
	})
	sub := &memSub{id: "c1"}
	e.Subscribe("broken", sub)

	waitFor(t, func() bool { return sub.count() >= 1 }, "error payload never published")
	if synth.calls.Load() != 0 {
		t.Fatal("error channel must not invoke the synthesizer")
	}
}

func TestStop_HaltsWithinOneInterval(t *testing.T) {
	synth := &fakeSynth{}
	e, cancel := newEngine(t, synth, 10*time.Millisecond)
	defer cancel()

	e.Register(entity.PushChannelSpec{Name: "feed", Method: "GET", Path: "/feed", RunIdle: true})
	e.Start("feed")
	waitFor(t, func() bool { return synth.calls.Load() >= 1 }, "never started")

	e.Stop("feed")
	time.Sleep(30 * time.Millisecond)
	after := synth.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if synth.calls.Load() > after+1 {
		t.Fatal("generator kept producing after stop")
	}

	info, _ := e.Get("feed")
	if info.State != "stopped" {
		t.Fatalf("state = %s", info.State)
	}
}

func TestSubscribe_AutoCreatesChannel(t *testing.T) {
	e, cancel := newEngine(t, &fakeSynth{}, time.Hour)
	defer cancel()

	sub := &memSub{id: "c1"}
	if err := e.Subscribe("fresh", sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	info, err := e.Get("fresh")
	if err != nil {
		t.Fatalf("channel not created: %v", err)
	}
	if info.State != "running" {
		t.Fatalf("state = %s, want running after first subscription", info.State)
	}
}

func TestUnregister_Destroys(t *testing.T) {
	e, cancel := newEngine(t, &fakeSynth{}, time.Hour)
	defer cancel()

	e.Register(entity.PushChannelSpec{Name: "gone", Method: "GET", Path: "/g"})
	if err := e.Unregister("gone"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, err := e.Get("gone"); !errors.Is(err, entity.ErrChannelNotFound) {
		t.Fatalf("want not-found, got %v", err)
	}
	if err := e.Unregister("gone"); !errors.Is(err, entity.ErrChannelNotFound) {
		t.Fatal("double unregister should report not found")
	}
}
