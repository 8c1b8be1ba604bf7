// Package roles resolves Discord guild role IDs to the site permission level.
package roles

type Level int

const (
	LevelUser Level = iota
	LevelContributor
	LevelAdmin
	LevelLeadReviewer
	LevelPlatformAdmin
)

func (l Level) String() string {
	switch l {
	case LevelContributor:
		return "contributor"
	case LevelAdmin:
		return "admin"
	case LevelLeadReviewer:
		return "lead_reviewer"
	case LevelPlatformAdmin:
		return "platform_admin"
	default:
		return "user"
	}
}

func (l Level) AtLeast(min Level) bool {
	return l >= min
}

// roleTable maps guild role IDs to levels. Unknown IDs are ignored.
var roleTable = map[string]Level{
	"1143632282926727328": LevelLeadReviewer, // responsable scénariste
	"1031296249254658138": LevelAdmin,        // administrateur
	"1259573584767090699": LevelAdmin,        // modérateur GM
	"1143509784591605841": LevelContributor,  // scénariste
}

// precedence is the fixed order elevated levels are checked in; the first
// held level wins regardless of how many others the caller also holds.
var precedence = []Level{LevelLeadReviewer, LevelAdmin, LevelContributor}

// Resolve computes the caller's effective level from its guild role IDs and
// whitelist membership. Whitelisted accounts are platform admins no matter
// what roles they hold; everyone else falls back to LevelUser.
func Resolve(roleIDs []string, whitelisted bool) Level {
	if whitelisted {
		return LevelPlatformAdmin
	}
	held := make(map[Level]bool, len(roleIDs))
	for _, id := range roleIDs {
		if level, ok := roleTable[id]; ok {
			held[level] = true
		}
	}
	for _, level := range precedence {
		if held[level] {
			return level
		}
	}
	return LevelUser
}

type Action string

const (
	ActionRead     Action = "read"
	ActionComment  Action = "comment"
	ActionReview   Action = "review"
	ActionFinalize Action = "finalize"
	ActionAdmin    Action = "admin"
)

func Can(level Level, action Action) bool {
	switch action {
	case ActionRead:
		return true
	case ActionComment, ActionReview:
		return level.AtLeast(LevelContributor)
	case ActionFinalize:
		return level.AtLeast(LevelAdmin)
	case ActionAdmin:
		return level.AtLeast(LevelAdmin)
	default:
		return false
	}
}
