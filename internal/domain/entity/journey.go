package entity

import (
	"strings"
	"time"
)

// JourneyStep is one step of a multi-step simulation template.
type JourneyStep struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Method      string `json:"method,omitempty"`
	Path        string `json:"path,omitempty"`
	Shape       string `json:"shape,omitempty"`
}

// JourneyTemplate is a reusable multi-step scenario. Step descriptions may
// reference template variables as {var}.
type JourneyTemplate struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Steps       []JourneyStep `json:"steps"`
}

// JourneyInstance is one running session of a template. Value semantics:
// AdvanceStep returns a new instance, it never mutates the receiver.
type JourneyInstance struct {
	SessionID        string            `json:"session_id"`
	Template         string            `json:"template"`
	Variables        map[string]string `json:"variables,omitempty"`
	ResolvedSteps    []JourneyStep     `json:"resolved_steps"`
	CurrentStepIndex int               `json:"current_step_index"`
	StartedAt        time.Time         `json:"started_at"`
}

// CurrentStep returns the active step, or (zero, false) when the journey has
// run past its last step.
func (j JourneyInstance) CurrentStep() (JourneyStep, bool) {
	if j.CurrentStepIndex < 0 || j.CurrentStepIndex >= len(j.ResolvedSteps) {
		return JourneyStep{}, false
	}
	return j.ResolvedSteps[j.CurrentStepIndex], true
}

// AdvanceStep returns a copy of the instance pointing at the next step.
func (j JourneyInstance) AdvanceStep() JourneyInstance {
	next := j
	next.ResolvedSteps = append([]JourneyStep(nil), j.ResolvedSteps...)
	if next.CurrentStepIndex < len(next.ResolvedSteps) {
		next.CurrentStepIndex++
	}
	return next
}

// Completed reports whether every step has been advanced past.
func (j JourneyInstance) Completed() bool {
	return j.CurrentStepIndex >= len(j.ResolvedSteps)
}

// ResolveSteps substitutes {var} references in a template's steps.
func ResolveSteps(tmpl JourneyTemplate, vars map[string]string) []JourneyStep {
	steps := make([]JourneyStep, len(tmpl.Steps))
	for i, step := range tmpl.Steps {
		steps[i] = JourneyStep{
			Name:        substituteVars(step.Name, vars),
			Description: substituteVars(step.Description, vars),
			Method:      step.Method,
			Path:        substituteVars(step.Path, vars),
			Shape:       step.Shape,
		}
	}
	return steps
}

func substituteVars(s string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(s, "{") {
		return s
	}
	out := s
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}
