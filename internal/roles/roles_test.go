package roles

import "testing"

func TestResolveWhitelistWinsOverRoles(t *testing.T) {
	level := Resolve([]string{"1143509784591605841"}, true)
	if level != LevelPlatformAdmin {
		t.Fatalf("expected platform_admin, got %s", level)
	}
}

func TestResolveWhitelistWithoutAnyRole(t *testing.T) {
	if level := Resolve(nil, true); level != LevelPlatformAdmin {
		t.Fatalf("expected platform_admin, got %s", level)
	}
}

func TestResolvePrecedenceFirstHeldWins(t *testing.T) {
	// Holding both lead reviewer and contributor resolves to lead reviewer
	// regardless of the order the IDs come in.
	ids := []string{"1143509784591605841", "1143632282926727328"}
	if level := Resolve(ids, false); level != LevelLeadReviewer {
		t.Fatalf("expected lead_reviewer, got %s", level)
	}
}

func TestResolveModeratorMapsToAdmin(t *testing.T) {
	if level := Resolve([]string{"1259573584767090699"}, false); level != LevelAdmin {
		t.Fatalf("expected admin, got %s", level)
	}
}

func TestResolveUnknownRolesFallBackToUser(t *testing.T) {
	if level := Resolve([]string{"12345", "67890"}, false); level != LevelUser {
		t.Fatalf("expected user, got %s", level)
	}
	if level := Resolve(nil, false); level != LevelUser {
		t.Fatalf("expected user for empty roles, got %s", level)
	}
}

func TestCanActionFloors(t *testing.T) {
	cases := []struct {
		level  Level
		action Action
		want   bool
	}{
		{LevelUser, ActionRead, true},
		{LevelUser, ActionComment, false},
		{LevelContributor, ActionComment, true},
		{LevelContributor, ActionReview, true},
		{LevelContributor, ActionFinalize, false},
		{LevelAdmin, ActionFinalize, true},
		{LevelLeadReviewer, ActionFinalize, true},
		{LevelUser, ActionAdmin, false},
		{LevelAdmin, ActionAdmin, true},
		{LevelLeadReviewer, ActionAdmin, true},
		{LevelPlatformAdmin, ActionAdmin, true},
	}
	for _, tc := range cases {
		if got := Can(tc.level, tc.action); got != tc.want {
			t.Fatalf("Can(%s, %s) = %v, want %v", tc.level, tc.action, got, tc.want)
		}
	}
}
