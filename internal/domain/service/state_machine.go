package service

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RequestState represents the discrete states of one synthesis request.
type RequestState string

const (
	StateIdle        RequestState = "idle"         // Request accepted, nothing started
	StateDelaying    RequestState = "delaying"     // Pre-response random delay
	StateCacheLookup RequestState = "cache_lookup" // Consulting the variant cache
	StateHit         RequestState = "hit"          // Served from the pool
	StateProducing   RequestState = "producing"    // Waiting on the LLM
	StateErroring    RequestState = "erroring"     // Synthesis failed
	StateDelivering  RequestState = "delivering"   // Writing the response
	StateDone        RequestState = "done"         // Finished
)

// validTransitions defines the allowed state transitions.
// Key = from state, Value = set of allowed target states.
var validTransitions = map[RequestState]map[RequestState]bool{
	StateIdle: {
		StateDelaying:    true,
		StateCacheLookup: true,
		StateErroring:    true,
		StateDelivering:  true, // simulated errors skip straight to delivery
	},
	StateDelaying: {
		StateCacheLookup: true,
		StateDelivering:  true,
		StateErroring:    true,
	},
	StateCacheLookup: {
		StateHit:       true,
		StateProducing: true,
		StateErroring:  true,
	},
	StateHit: {
		StateDelivering: true,
	},
	StateProducing: {
		StateDelivering: true,
		StateErroring:   true,
	},
	StateErroring: {
		StateDelivering: true,
	},
	StateDelivering: {
		StateDone: true,
	},
	// Terminal state — no transitions out
	StateDone: {},
}

// RequestSnapshot captures a request's runtime state at a point in time.
type RequestSnapshot struct {
	State    RequestState  `json:"state"`
	CacheHit bool          `json:"cache_hit"`
	LLMCalls int           `json:"llm_calls"`
	Elapsed  time.Duration `json:"elapsed"`
}

// RequestStateMachine tracks one request through the handler pipeline.
// Thread-safe — the streaming path reads state from another goroutine.
type RequestStateMachine struct {
	mu        sync.RWMutex
	state     RequestState
	cacheHit  bool
	llmCalls  int
	startTime time.Time
	logger    *zap.Logger
}

// NewRequestStateMachine creates a machine starting in Idle.
func NewRequestStateMachine(logger *zap.Logger) *RequestStateMachine {
	return &RequestStateMachine{
		state:     StateIdle,
		startTime: time.Now(),
		logger:    logger,
	}
}

// State returns the current state.
func (sm *RequestStateMachine) State() RequestState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Snapshot returns a copy of the current runtime state.
func (sm *RequestStateMachine) Snapshot() RequestSnapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return RequestSnapshot{
		State:    sm.state,
		CacheHit: sm.cacheHit,
		LLMCalls: sm.llmCalls,
		Elapsed:  time.Since(sm.startTime),
	}
}

// Transition attempts to move to a new state, failing on paths the request
// lifecycle does not allow.
func (sm *RequestStateMachine) Transition(to RequestState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	from := sm.state
	allowed, ok := validTransitions[from]
	if !ok || !allowed[to] {
		return fmt.Errorf("invalid request state transition %s -> %s", from, to)
	}
	sm.state = to

	if sm.logger != nil {
		sm.logger.Debug("Request state transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
	return nil
}

// MarkCacheHit records that the pool served this request.
func (sm *RequestStateMachine) MarkCacheHit() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cacheHit = true
}

// MarkLLMCall counts one upstream call.
func (sm *RequestStateMachine) MarkLLMCall() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.llmCalls++
}

// IsTerminal reports whether the request has finished.
func (sm *RequestStateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(validTransitions[sm.state]) == 0
}
