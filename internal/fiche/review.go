package fiche

import (
	"fmt"

	"ficherp/api/internal/roles"
)

// decisionFloor is the minimum level required to move a sheet to each
// decision state. Accepted is a final decision and needs admin or above.
var decisionFloor = map[State]roles.Level{
	StateRequestModification: roles.LevelContributor,
	StateStaffValidated:      roles.LevelContributor,
	StateRefused:             roles.LevelContributor,
	StateAccepted:            roles.LevelAdmin,
}

// CanComment reports whether a caller may append a plain comment to a sheet.
// Owners always may; everyone else needs reviewing-staff level.
func CanComment(level roles.Level, isOwner bool) bool {
	return isOwner || roles.Can(level, roles.ActionComment)
}

// CanDecide reports whether a caller level may apply a decision targeting
// the given state.
func CanDecide(level roles.Level, target State) bool {
	floor, ok := decisionFloor[target]
	if !ok {
		return false
	}
	return level.AtLeast(floor)
}

// CanStaffSubmit reports whether a caller may create a sheet directly in the
// Accepted state on behalf of a target account. Reviewing staff always may;
// the target account itself may when re-submitting a previously accepted
// sheet of its own.
func CanStaffSubmit(level roles.Level, isTarget, hadAcceptedSheet bool) bool {
	if roles.Can(level, roles.ActionReview) {
		return true
	}
	return isTarget && hadAcceptedSheet
}

// ApplyMessage validates a review message against the caller's level and the
// sheet's current state and returns the sheet state after the message, which
// is unchanged for comments. Guard failures come back as ErrNotAllowed.
func ApplyMessage(f FicheRP, msg ReviewMessage, level roles.Level, isOwner bool) (State, error) {
	if err := msg.Validate(); err != nil {
		return f.State, err
	}
	if msg.IsComment {
		if !CanComment(level, isOwner) {
			return f.State, ErrNotAllowed
		}
		return f.State, nil
	}
	if !CanDecide(level, msg.SetState) {
		return f.State, ErrNotAllowed
	}
	return msg.SetState, nil
}

// CanSubmitModification reports whether the sheet accepts an owner-submitted
// modification; only sheets sent back for modification do.
func CanSubmitModification(f FicheRP) bool {
	return f.State == StateRequestModification
}

var ErrNotAllowed = fmt.Errorf("caller is not allowed to perform this review action")
