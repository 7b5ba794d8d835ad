// Package push runs the long-lived named channels that periodically
// generate payloads and fan them out to subscribed real-time clients.
package push

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/domain/entity"
	"github.com/mockforge/mockforge/internal/domain/service"
	"github.com/mockforge/mockforge/internal/infrastructure/eventbus"
	"github.com/mockforge/mockforge/pkg/safego"
)

// TopicPrefix namespaces channel events on the bus.
const TopicPrefix = "push."

// Subscriber is one connected real-time client handle.
type Subscriber interface {
	// ID uniquely identifies the client within a channel.
	ID() string
	// Send delivers one generated payload. An error marks the subscriber
	// dead; the engine removes it.
	Send(payload []byte, batch int64) error
}

// Options tune the engine.
type Options struct {
	Interval time.Duration // default generation interval
}

// channelRuntime is one registered channel plus its generator state.
type channelRuntime struct {
	mu          sync.Mutex
	spec        entity.PushChannelSpec
	state       entity.ChannelState
	subscribers map[string]Subscriber
	cancel      context.CancelFunc
	batch       int64
	publishes   int64
	createdAt   time.Time
	lastPublish time.Time
}

// Engine is the process-wide push-channel registry.
type Engine struct {
	mu       sync.RWMutex
	channels map[string]*channelRuntime

	synth  service.Synthesizer
	bus    eventbus.Bus
	opts   Options
	logger *zap.Logger

	// rootCtx parents every generator so shutdown stops them all.
	rootCtx context.Context
}

// NewEngine creates the push engine. Generators are parented to rootCtx.
func NewEngine(rootCtx context.Context, synth service.Synthesizer, bus eventbus.Bus, opts Options, logger *zap.Logger) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	return &Engine{
		channels: make(map[string]*channelRuntime),
		synth:    synth,
		bus:      bus,
		opts:     opts,
		logger:   logger.With(zap.String("component", "push-engine")),
		rootCtx:  rootCtx,
	}
}

// Register creates a channel. Registration is idempotent only when the spec
// matches the existing one; otherwise it reports a conflict.
func (e *Engine) Register(spec entity.PushChannelSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.channels[spec.Name]; ok {
		existing.mu.Lock()
		same := existing.spec.Equal(spec)
		existing.mu.Unlock()
		if same {
			return nil
		}
		return entity.ErrChannelExists
	}

	e.channels[spec.Name] = &channelRuntime{
		spec:        spec,
		state:       entity.ChannelCreated,
		subscribers: make(map[string]Subscriber),
		createdAt:   time.Now(),
	}
	e.logger.Info("Push channel registered", zap.String("channel", spec.Name))
	return nil
}

// Unregister destroys a channel, stopping its generator first.
func (e *Engine) Unregister(name string) error {
	e.mu.Lock()
	ch, ok := e.channels[name]
	if ok {
		delete(e.channels, name)
	}
	e.mu.Unlock()
	if !ok {
		return entity.ErrChannelNotFound
	}

	ch.mu.Lock()
	if ch.cancel != nil {
		ch.cancel()
	}
	ch.subscribers = make(map[string]Subscriber)
	ch.mu.Unlock()
	e.logger.Info("Push channel destroyed", zap.String("channel", name))
	return nil
}

// Start launches the channel's generator. Starting a running channel is a
// no-op.
func (e *Engine) Start(name string) error {
	ch, ok := e.get(name)
	if !ok {
		return entity.ErrChannelNotFound
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.state == entity.ChannelRunning {
		return nil
	}

	genCtx, cancel := context.WithCancel(e.rootCtx)
	ch.cancel = cancel
	ch.state = entity.ChannelRunning

	safego.Go(e.logger, "push-channel-"+name, func() {
		e.generate(genCtx, name, ch)
	})
	return nil
}

// Stop halts the generator; the channel and its subscribers survive.
// Generators are cooperative and stop within one interval.
func (e *Engine) Stop(name string) error {
	ch, ok := e.get(name)
	if !ok {
		return entity.ErrChannelNotFound
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	ch.state = entity.ChannelStopped
	return nil
}

// Subscribe attaches a client, creating and starting the channel when it is
// the first subscription to an unknown name.
func (e *Engine) Subscribe(name string, sub Subscriber) error {
	e.mu.RLock()
	_, known := e.channels[name]
	e.mu.RUnlock()
	if !known {
		if err := e.Register(entity.PushChannelSpec{Name: name, Method: "GET", Path: "/" + name}); err != nil {
			return err
		}
	}

	ch, ok := e.get(name)
	if !ok {
		return entity.ErrChannelNotFound
	}
	ch.mu.Lock()
	ch.subscribers[sub.ID()] = sub
	running := ch.state == entity.ChannelRunning
	ch.mu.Unlock()

	if !running {
		return e.Start(name)
	}
	return nil
}

// Unsubscribe detaches a client. Membership is thread-safe.
func (e *Engine) Unsubscribe(name, subscriberID string) {
	if ch, ok := e.get(name); ok {
		ch.mu.Lock()
		delete(ch.subscribers, subscriberID)
		ch.mu.Unlock()
	}
}

// Get returns one channel's snapshot.
func (e *Engine) Get(name string) (entity.ChannelInfo, error) {
	ch, ok := e.get(name)
	if !ok {
		return entity.ChannelInfo{}, entity.ErrChannelNotFound
	}
	return ch.info(), nil
}

// List returns every channel's snapshot.
func (e *Engine) List() []entity.ChannelInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]entity.ChannelInfo, 0, len(e.channels))
	for _, ch := range e.channels {
		out = append(out, ch.info())
	}
	return out
}

// Shutdown stops every generator.
func (e *Engine) Shutdown() {
	e.mu.RLock()
	names := make([]string, 0, len(e.channels))
	for name := range e.channels {
		names = append(names, name)
	}
	e.mu.RUnlock()
	for _, name := range names {
		e.Stop(name)
	}
}

func (e *Engine) get(name string) (*channelRuntime, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ch, ok := e.channels[name]
	return ch, ok
}

// generate is the per-channel loop: one tick, one payload, one fan-out.
// Generation failures are logged and swallowed; the channel keeps running.
func (e *Engine) generate(ctx context.Context, name string, ch *channelRuntime) {
	ch.mu.Lock()
	interval := e.opts.Interval
	if ch.spec.IntervalMs > 0 {
		interval = time.Duration(ch.spec.IntervalMs) * time.Millisecond
	}
	ch.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ch.mu.Lock()
		state := ch.state
		subscriberCount := len(ch.subscribers)
		spec := ch.spec
		ch.mu.Unlock()

		if state != entity.ChannelRunning {
			return
		}
		if subscriberCount == 0 && !spec.RunIdle {
			continue
		}

		payload, err := e.buildPayload(ctx, spec)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn("Push generation failed",
				zap.String("channel", name),
				zap.Error(err),
			)
			continue
		}

		e.publish(ctx, name, ch, payload)
	}
}

// buildPayload runs the synthesis pipeline for the channel's synthetic
// request, bypassing the variant cache for freshness. A configured error
// payload short-circuits the LLM entirely.
func (e *Engine) buildPayload(ctx context.Context, spec entity.PushChannelSpec) ([]byte, error) {
	if spec.ErrorConfig != nil {
		return json.Marshal(spec.ErrorConfig)
	}

	result, err := e.synth.Synthesize(ctx, service.SynthesisRequest{
		Method: spec.Method,
		Path:   spec.Path,
		Body:   spec.Body,
		Shape: entity.ShapeInfo{
			Shape:        spec.Shape,
			IsJSONSchema: spec.IsJSONSchema,
		},
		BypassCache: true,
	})
	if err != nil {
		return nil, err
	}
	return []byte(result.Body), nil
}

// publish fans one payload out to every subscriber, in no fixed order
// (subscribers are held in a map), and mirrors it onto the event bus. A failing subscriber is removed.
func (e *Engine) publish(ctx context.Context, name string, ch *channelRuntime, payload []byte) {
	ch.mu.Lock()
	ch.batch++
	batch := ch.batch
	ch.publishes++
	ch.lastPublish = time.Now()
	subs := make([]Subscriber, 0, len(ch.subscribers))
	for _, sub := range ch.subscribers {
		subs = append(subs, sub)
	}
	ch.mu.Unlock()

	e.bus.Publish(ctx, eventbus.Event{
		Topic:   TopicPrefix + name,
		Payload: payload,
		Batch:   batch,
	})

	for _, sub := range subs {
		if err := sub.Send(payload, batch); err != nil {
			e.logger.Debug("Subscriber dropped",
				zap.String("channel", name),
				zap.String("subscriber", sub.ID()),
				zap.Error(err),
			)
			ch.mu.Lock()
			delete(ch.subscribers, sub.ID())
			ch.mu.Unlock()
		}
	}
}

func (ch *channelRuntime) info() entity.ChannelInfo {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return entity.ChannelInfo{
		Spec:        ch.spec,
		State:       ch.state.String(),
		Subscribers: len(ch.subscribers),
		Publishes:   ch.publishes,
		CreatedAt:   ch.createdAt,
		LastPublish: ch.lastPublish,
	}
}
