package journey

import (
	"errors"
	"testing"

	"github.com/mockforge/mockforge/internal/domain/entity"
)

func checkoutTemplate() entity.JourneyTemplate {
	return entity.JourneyTemplate{
		Name: "checkout",
		Steps: []entity.JourneyStep{
			{Name: "browse", Description: "{user} is browsing the catalog"},
			{Name: "cart", Description: "{user} added items to the cart"},
			{Name: "pay", Description: "{user} is paying"},
		},
	}
}

func TestStartSession_ResolvesVariables(t *testing.T) {
	s := NewStore()
	s.AddTemplate(checkoutTemplate())

	inst, err := s.StartSession("checkout", map[string]string{"user": "alice"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if inst.SessionID == "" {
		t.Fatal("missing session id")
	}
	if inst.ResolvedSteps[0].Description != "alice is browsing the catalog" {
		t.Fatalf("resolution failed: %q", inst.ResolvedSteps[0].Description)
	}
	if _, err := s.StartSession("missing", nil); !errors.Is(err, entity.ErrTemplateNotFound) {
		t.Fatalf("want template-not-found, got %v", err)
	}
}

func TestAdvance_ValueSemantics(t *testing.T) {
	s := NewStore()
	s.AddTemplate(checkoutTemplate())
	inst, _ := s.StartSession("checkout", nil)

	next, err := s.Advance(inst.SessionID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if next.CurrentStepIndex != 1 {
		t.Fatalf("index = %d", next.CurrentStepIndex)
	}
	// The caller's original instance is untouched.
	if inst.CurrentStepIndex != 0 {
		t.Fatal("advance mutated the caller's copy")
	}

	stored, _ := s.Session(inst.SessionID)
	if stored.CurrentStepIndex != 1 {
		t.Fatal("store did not keep the advanced instance")
	}
}

func TestAdvance_PastEnd(t *testing.T) {
	s := NewStore()
	s.AddTemplate(checkoutTemplate())
	inst, _ := s.StartSession("checkout", nil)

	for i := 0; i < 3; i++ {
		if _, err := s.Advance(inst.SessionID); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}
	if _, err := s.Advance(inst.SessionID); !errors.Is(err, entity.ErrJourneyComplete) {
		t.Fatalf("want journey-complete, got %v", err)
	}
}

func TestStepHint(t *testing.T) {
	s := NewStore()
	s.AddTemplate(checkoutTemplate())
	inst, _ := s.StartSession("checkout", map[string]string{"user": "bob"})

	if hint := s.StepHint(inst.SessionID); hint != "browse: bob is browsing the catalog" {
		t.Fatalf("hint = %q", hint)
	}
	if hint := s.StepHint("unknown"); hint != "" {
		t.Fatalf("unknown session hint = %q", hint)
	}
}

func TestEnd(t *testing.T) {
	s := NewStore()
	s.AddTemplate(checkoutTemplate())
	inst, _ := s.StartSession("checkout", nil)

	if err := s.End(inst.SessionID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := s.Session(inst.SessionID); !errors.Is(err, entity.ErrSessionNotFound) {
		t.Fatal("session survived end")
	}
}
