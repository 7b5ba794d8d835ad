// Package journey manages multi-step simulation templates and their running
// sessions. A session's current step biases the synthesis prompt.
package journey

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mockforge/mockforge/internal/domain/entity"
)

// Store holds journey templates and live sessions. Instances have value
// semantics: Advance stores and returns a new instance, never mutating the
// caller's copy.
type Store struct {
	mu        sync.RWMutex
	templates map[string]entity.JourneyTemplate
	sessions  map[string]entity.JourneyInstance
}

// NewStore creates an empty journey store.
func NewStore() *Store {
	return &Store{
		templates: make(map[string]entity.JourneyTemplate),
		sessions:  make(map[string]entity.JourneyInstance),
	}
}

// AddTemplate registers or replaces a template.
func (s *Store) AddTemplate(tmpl entity.JourneyTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tmpl.Name] = tmpl
}

// Template returns one template.
func (s *Store) Template(name string) (entity.JourneyTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tmpl, ok := s.templates[name]
	if !ok {
		return entity.JourneyTemplate{}, entity.ErrTemplateNotFound
	}
	return tmpl, nil
}

// Templates lists every registered template.
func (s *Store) Templates() []entity.JourneyTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.JourneyTemplate, 0, len(s.templates))
	for _, tmpl := range s.templates {
		out = append(out, tmpl)
	}
	return out
}

// RemoveTemplate drops a template; running sessions are unaffected (their
// steps were resolved at start).
func (s *Store) RemoveTemplate(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[name]; !ok {
		return entity.ErrTemplateNotFound
	}
	delete(s.templates, name)
	return nil
}

// StartSession creates a session from a template with variables substituted
// into the resolved steps.
func (s *Store) StartSession(templateName string, vars map[string]string) (entity.JourneyInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmpl, ok := s.templates[templateName]
	if !ok {
		return entity.JourneyInstance{}, entity.ErrTemplateNotFound
	}

	inst := entity.JourneyInstance{
		SessionID:     uuid.NewString(),
		Template:      templateName,
		Variables:     vars,
		ResolvedSteps: entity.ResolveSteps(tmpl, vars),
		StartedAt:     time.Now(),
	}
	s.sessions[inst.SessionID] = inst
	return inst, nil
}

// Session returns one running session.
func (s *Store) Session(id string) (entity.JourneyInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.sessions[id]
	if !ok {
		return entity.JourneyInstance{}, entity.ErrSessionNotFound
	}
	return inst, nil
}

// Advance moves a session to its next step and returns the new instance.
func (s *Store) Advance(id string) (entity.JourneyInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.sessions[id]
	if !ok {
		return entity.JourneyInstance{}, entity.ErrSessionNotFound
	}
	if inst.Completed() {
		return inst, entity.ErrJourneyComplete
	}
	next := inst.AdvanceStep()
	s.sessions[id] = next
	return next, nil
}

// End removes a session.
func (s *Store) End(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return entity.ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// StepHint returns the session's current step description for prompt
// biasing, empty when the session is unknown or completed.
func (s *Store) StepHint(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.sessions[id]
	if !ok {
		return ""
	}
	step, ok := inst.CurrentStep()
	if !ok {
		return ""
	}
	if step.Name != "" && step.Description != "" {
		return step.Name + ": " + step.Description
	}
	if step.Description != "" {
		return step.Description
	}
	return step.Name
}
