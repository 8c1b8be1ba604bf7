package fiche

import (
	"errors"
	"testing"
	"time"

	"ficherp/api/internal/roles"
)

func TestCanCommentOwnerOrStaff(t *testing.T) {
	if !CanComment(roles.LevelUser, true) {
		t.Fatalf("owner should always be able to comment")
	}
	if CanComment(roles.LevelUser, false) {
		t.Fatalf("non-owner plain user must not comment")
	}
	if !CanComment(roles.LevelContributor, false) {
		t.Fatalf("contributor should comment on any sheet")
	}
}

func TestCanDecideFloors(t *testing.T) {
	for _, target := range []State{StateRequestModification, StateStaffValidated, StateRefused} {
		if CanDecide(roles.LevelUser, target) {
			t.Fatalf("plain user must not decide %s", target)
		}
		if !CanDecide(roles.LevelContributor, target) {
			t.Fatalf("contributor should decide %s", target)
		}
	}

	if CanDecide(roles.LevelContributor, StateAccepted) {
		t.Fatalf("contributor must not accept")
	}
	for _, level := range []roles.Level{roles.LevelAdmin, roles.LevelLeadReviewer, roles.LevelPlatformAdmin} {
		if !CanDecide(level, StateAccepted) {
			t.Fatalf("%s should accept", level)
		}
	}

	if CanDecide(roles.LevelPlatformAdmin, StateComment) {
		t.Fatalf("Comment is not a decision target")
	}
	if CanDecide(roles.LevelPlatformAdmin, StateWaiting) {
		t.Fatalf("Waiting is not a decision target")
	}
}

func TestCanStaffSubmit(t *testing.T) {
	if !CanStaffSubmit(roles.LevelContributor, false, false) {
		t.Fatalf("reviewing staff should staff-submit for anyone")
	}
	if CanStaffSubmit(roles.LevelUser, false, true) {
		t.Fatalf("plain user must not staff-submit for someone else")
	}
	if !CanStaffSubmit(roles.LevelUser, true, true) {
		t.Fatalf("owner with a prior accepted sheet should staff-submit for itself")
	}
	if CanStaffSubmit(roles.LevelUser, true, false) {
		t.Fatalf("owner without a prior accepted sheet must not staff-submit")
	}
}

func TestApplyMessageCommentKeepsState(t *testing.T) {
	f := FicheRP{ID: "f1", State: StateWaiting}
	msg := ReviewMessage{Author: "1", Content: "note", Date: time.Now(), IsComment: true, SetState: StateComment}

	state, err := ApplyMessage(f, msg, roles.LevelContributor, false)
	if err != nil {
		t.Fatalf("comment should apply: %v", err)
	}
	if state != StateWaiting {
		t.Fatalf("comment must keep the state, got %s", state)
	}
}

func TestApplyMessageDecisionMovesState(t *testing.T) {
	f := FicheRP{ID: "f1", State: StateWaiting}
	msg := ReviewMessage{Author: "1", Content: "needs work", SetState: StateRequestModification}

	state, err := ApplyMessage(f, msg, roles.LevelContributor, false)
	if err != nil {
		t.Fatalf("decision should apply: %v", err)
	}
	if state != StateRequestModification {
		t.Fatalf("expected RequestModification, got %s", state)
	}
}

func TestApplyMessageGuardsReturnErrNotAllowed(t *testing.T) {
	f := FicheRP{ID: "f1", State: StateWaiting}

	msg := ReviewMessage{Author: "1", Content: "note", IsComment: true, SetState: StateComment}
	if _, err := ApplyMessage(f, msg, roles.LevelUser, false); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("stranger comment should be ErrNotAllowed, got %v", err)
	}

	decision := ReviewMessage{Author: "1", Content: "accept", SetState: StateAccepted}
	if _, err := ApplyMessage(f, decision, roles.LevelContributor, false); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("contributor accept should be ErrNotAllowed, got %v", err)
	}
}

func TestApplyMessageValidationErrorIsNotErrNotAllowed(t *testing.T) {
	f := FicheRP{ID: "f1", State: StateWaiting}
	msg := ReviewMessage{Author: "1", Content: "bad", SetState: StateComment}

	_, err := ApplyMessage(f, msg, roles.LevelPlatformAdmin, false)
	if err == nil {
		t.Fatalf("decision targeting Comment should be rejected")
	}
	if errors.Is(err, ErrNotAllowed) {
		t.Fatalf("validation failure should not read as a permission failure")
	}
}

func TestCanSubmitModification(t *testing.T) {
	if !CanSubmitModification(FicheRP{State: StateRequestModification}) {
		t.Fatalf("RequestModification sheets accept modifications")
	}
	for _, s := range []State{StateWaiting, StateStaffValidated, StateAccepted, StateRefused} {
		if CanSubmitModification(FicheRP{State: s}) {
			t.Fatalf("sheets in %s must not accept modifications", s)
		}
	}
}
