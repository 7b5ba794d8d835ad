package entity

import "time"

// ChannelState tracks a push channel through its lifecycle.
type ChannelState int

const (
	ChannelCreated ChannelState = iota
	ChannelRunning
	ChannelStopped
)

// String returns a human-readable label for the channel state.
func (s ChannelState) String() string {
	switch s {
	case ChannelCreated:
		return "created"
	case ChannelRunning:
		return "running"
	case ChannelStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PushChannelSpec is the payload a push channel generates from: a synthetic
// request re-run on every tick.
type PushChannelSpec struct {
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Method       string       `json:"method"`
	Path         string       `json:"path"`
	Body         string       `json:"body,omitempty"`
	Shape        string       `json:"shape,omitempty"`
	IsJSONSchema bool         `json:"is_json_schema,omitempty"`
	ErrorConfig  *ErrorConfig `json:"error_config,omitempty"`

	// IntervalMs overrides the configured push interval when > 0.
	IntervalMs int `json:"interval_ms,omitempty"`

	// RunIdle keeps the generator producing even with zero subscribers.
	RunIdle bool `json:"run_idle,omitempty"`
}

// Equal reports whether two specs describe the same generated payload.
// Registration is idempotent only for equal specs.
func (s PushChannelSpec) Equal(other PushChannelSpec) bool {
	sameErr := (s.ErrorConfig == nil) == (other.ErrorConfig == nil)
	if sameErr && s.ErrorConfig != nil {
		sameErr = *s.ErrorConfig == *other.ErrorConfig
	}
	return sameErr &&
		s.Name == other.Name &&
		s.Method == other.Method &&
		s.Path == other.Path &&
		s.Body == other.Body &&
		s.Shape == other.Shape &&
		s.IsJSONSchema == other.IsJSONSchema
}

// ChannelInfo is the externally visible snapshot of a push channel.
type ChannelInfo struct {
	Spec        PushChannelSpec `json:"spec"`
	State       string          `json:"state"`
	Subscribers int             `json:"subscribers"`
	Publishes   int64           `json:"publishes"`
	CreatedAt   time.Time       `json:"created_at"`
	LastPublish time.Time       `json:"last_publish,omitempty"`
}
