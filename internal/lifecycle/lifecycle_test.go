package lifecycle

import (
	"errors"
	"testing"

	"gatherline/internal/domain"
)

func TestTransitionTable(t *testing.T) {
	stages := []string{domain.StatusDraft, domain.StatusConfirming, domain.StatusFrozen, domain.StatusComplete}
	legal := map[[2]string]bool{
		{domain.StatusDraft, domain.StatusConfirming}:      true,
		{domain.StatusConfirming, domain.StatusFrozen}:     true,
		{domain.StatusFrozen, domain.StatusConfirming}:     true,
		{domain.StatusFrozen, domain.StatusComplete}:       true,
		{domain.StatusDraft, domain.StatusDraft}:           true,
		{domain.StatusConfirming, domain.StatusConfirming}: true,
		{domain.StatusFrozen, domain.StatusFrozen}:         true,
	}
	for _, from := range stages {
		for _, to := range stages {
			want := legal[[2]string{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCompleteIsTerminal(t *testing.T) {
	for _, to := range []string{domain.StatusDraft, domain.StatusConfirming, domain.StatusFrozen, domain.StatusComplete} {
		if CanTransition(domain.StatusComplete, to) {
			t.Errorf("COMPLETE -> %s must not be legal", to)
		}
	}
}

func TestCheckTransitionError(t *testing.T) {
	err := CheckTransition(domain.StatusConfirming, domain.StatusDraft)
	var te TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if te.From != domain.StatusConfirming || te.To != domain.StatusDraft {
		t.Fatalf("unexpected error fields: %+v", te)
	}
	if err := CheckTransition(domain.StatusDraft, domain.StatusConfirming); err != nil {
		t.Fatalf("expected legal transition: %v", err)
	}
}

func TestMutationGate(t *testing.T) {
	actions := []Action{ActionCreateItem, ActionEditItem, ActionDeleteItem, ActionAssignItem, ActionAddPerson, ActionRemovePerson}
	for _, a := range actions {
		for _, critical := range []bool{false, true} {
			if CanMutate(domain.StatusComplete, a, critical) {
				t.Errorf("CanMutate(COMPLETE, %s, %v) must be false", a, critical)
			}
			if CanMutate(domain.StatusFrozen, a, critical) {
				t.Errorf("CanMutate(FROZEN, %s, %v) must be false", a, critical)
			}
			if !CanMutate(domain.StatusDraft, a, critical) {
				t.Errorf("CanMutate(DRAFT, %s, %v) must be true", a, critical)
			}
		}
	}
	if CanMutate(domain.StatusConfirming, ActionDeleteItem, true) {
		t.Error("deleting a critical item while CONFIRMING must be denied")
	}
	if !CanMutate(domain.StatusConfirming, ActionDeleteItem, false) {
		t.Error("deleting a non-critical item while CONFIRMING must be allowed")
	}
	for _, a := range actions {
		if a == ActionDeleteItem {
			continue
		}
		if !CanMutate(domain.StatusConfirming, a, true) {
			t.Errorf("CanMutate(CONFIRMING, %s) must be true", a)
		}
	}
}

func TestCheckMutationError(t *testing.T) {
	err := CheckMutation(domain.StatusFrozen, ActionCreateItem, false)
	var me MutationError
	if !errors.As(err, &me) {
		t.Fatalf("expected MutationError, got %v", err)
	}
	if me.Stage != domain.StatusFrozen || me.Action != ActionCreateItem {
		t.Fatalf("unexpected error fields: %+v", me)
	}
}
