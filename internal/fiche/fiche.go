// Package fiche holds the FicheRP domain model and the review state machine.
package fiche

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

type State string

const (
	StateWaiting             State = "Waiting"
	StateRequestModification State = "RequestModification"
	StateStaffValidated      State = "StaffValidated"
	StateAccepted            State = "Accepted"
	StateRefused             State = "Refused"
	StateComment             State = "Comment"
)

// DecisionStates are the states a decision message may move a sheet to.
// Comment is a message tag only and is never stored as a sheet state.
var DecisionStates = []State{
	StateRequestModification,
	StateStaffValidated,
	StateAccepted,
	StateRefused,
}

func (s State) Valid() bool {
	switch s {
	case StateWaiting, StateRequestModification, StateStaffValidated,
		StateAccepted, StateRefused, StateComment:
		return true
	default:
		return false
	}
}

func (s State) IsDecision() bool {
	switch s {
	case StateRequestModification, StateStaffValidated, StateAccepted, StateRefused:
		return true
	default:
		return false
	}
}

type JobKind string

const (
	JobSecurity     JobKind = "security"
	JobScience      JobKind = "science"
	JobClassD       JobKind = "class_d"
	JobDoctor       JobKind = "doctor"
	JobSiteDirector JobKind = "site_director"
	JobChaos        JobKind = "chaos"
)

type SecurityRole string

const (
	SecurityOfficer SecurityRole = "security_officer"
	TacticalAgent   SecurityRole = "tactical_agent"
)

type ScienceRank string

const (
	ScienceAssistant  ScienceRank = "assistant"
	ScienceResearcher ScienceRank = "researcher"
	ScienceSupervisor ScienceRank = "supervisor"
)

type ScienceLevel string

const (
	ScienceBeginner  ScienceLevel = "beginner"
	ScienceConfirmed ScienceLevel = "confirmed"
	ScienceSenior    ScienceLevel = "senior"
)

// Job is a closed variant type. Kind selects the variant; the sub-rank
// fields are only meaningful for the kinds that carry them.
type Job struct {
	Kind         JobKind      `bson:"kind" json:"kind"`
	Security     SecurityRole `bson:"security,omitempty" json:"security,omitempty"`
	ScienceRank  ScienceRank  `bson:"science_rank,omitempty" json:"scienceRank,omitempty"`
	ScienceLevel ScienceLevel `bson:"science_level,omitempty" json:"scienceLevel,omitempty"`
}

func (j Job) Validate() error {
	switch j.Kind {
	case JobSecurity:
		switch j.Security {
		case SecurityOfficer, TacticalAgent:
			return nil
		}
		return fmt.Errorf("invalid security role %q", j.Security)
	case JobScience:
		switch j.ScienceRank {
		case ScienceAssistant, ScienceResearcher, ScienceSupervisor:
		default:
			return fmt.Errorf("invalid science rank %q", j.ScienceRank)
		}
		switch j.ScienceLevel {
		case ScienceBeginner, ScienceConfirmed, ScienceSenior:
			return nil
		}
		return fmt.Errorf("invalid science level %q", j.ScienceLevel)
	case JobClassD, JobDoctor, JobSiteDirector, JobChaos:
		return nil
	default:
		return fmt.Errorf("invalid job kind %q", j.Kind)
	}
}

// String renders the job the way the community displays it.
func (j Job) String() string {
	switch j.Kind {
	case JobSecurity:
		switch j.Security {
		case TacticalAgent:
			return "Sécurité (Agent Tactique)"
		default:
			return "Sécurité (Officier de Sécurité)"
		}
	case JobScience:
		rank := "Assistant"
		switch j.ScienceRank {
		case ScienceResearcher:
			rank = "Chercheur"
		case ScienceSupervisor:
			rank = "Superviseur"
		}
		level := "Débutant"
		switch j.ScienceLevel {
		case ScienceConfirmed:
			level = "Confirmé"
		case ScienceSenior:
			level = "Sénior"
		}
		return fmt.Sprintf("Science (%s %s)", rank, level)
	case JobClassD:
		return "Classe-D"
	case JobDoctor:
		return "Médecin"
	case JobSiteDirector:
		return "Directeur du Site"
	case JobChaos:
		return "Chaos"
	default:
		return string(j.Kind)
	}
}

// ReviewMessage is one entry of a sheet's append-only message log.
// SetState carries the state a decision moves the sheet to, or StateComment
// when the message is a plain comment.
type ReviewMessage struct {
	Author    string    `bson:"author" json:"author"`
	Content   string    `bson:"content" json:"content"`
	Date      time.Time `bson:"date" json:"date"`
	IsPrivate bool      `bson:"is_private" json:"isPrivate"`
	IsComment bool      `bson:"is_comment" json:"isComment"`
	SetState  State     `bson:"set_state" json:"setState"`
}

// Validate enforces the comment/decision coupling: a comment must carry
// StateComment and a decision must carry one of the decision states.
func (m ReviewMessage) Validate() error {
	if m.Content == "" {
		return fmt.Errorf("message content is required")
	}
	if m.IsComment {
		if m.SetState != StateComment {
			return fmt.Errorf("comment message must set state %q, got %q", StateComment, m.SetState)
		}
		return nil
	}
	if !m.SetState.IsDecision() {
		return fmt.Errorf("decision message must target a decision state, got %q", m.SetState)
	}
	return nil
}

// Version is an immutable capture of a sheet's editable fields.
type Version struct {
	Name        string    `bson:"name" json:"name"`
	Job         Job       `bson:"job" json:"job"`
	Description string    `bson:"description" json:"description"`
	Lore        string    `bson:"lore" json:"lore"`
	Date        time.Time `bson:"date" json:"date"`
}

type FicheRP struct {
	ID          string          `bson:"id" json:"id"`
	Name        string          `bson:"name" json:"name"`
	Job         Job             `bson:"job" json:"job"`
	Description string          `bson:"description" json:"description"`
	Lore        string          `bson:"lore" json:"lore"`
	State       State           `bson:"state" json:"state"`
	Messages    []ReviewMessage `bson:"messages" json:"messages"`
	Versions    []Version       `bson:"versions" json:"versions"`
}

// Snapshot captures the sheet's current editable fields.
func (f FicheRP) Snapshot(now time.Time) Version {
	return Version{
		Name:        f.Name,
		Job:         f.Job,
		Description: f.Description,
		Lore:        f.Lore,
		Date:        now,
	}
}

// NewID returns a time-ordered sheet identifier.
func NewID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}
