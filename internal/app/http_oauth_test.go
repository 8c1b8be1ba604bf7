package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"ficherp/api/internal/discord"
)

func beginOAuth(t *testing.T, server *HTTPServer) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/oauth2/auth", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d body=%s", rr.Code, rr.Body.String())
	}
	location, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect location: %v", err)
	}
	state := location.Query().Get("state")
	if state == "" {
		t.Fatalf("expected state in redirect location %q", location)
	}
	return state
}

func TestOAuthFlowCreatesAccount(t *testing.T) {
	fs := newFakeStore()
	identity := &fakeIdentity{
		user:    discord.User{ID: "42", Username: "visualis", Avatar: "abc"},
		roleIDs: []string{roleContributor},
	}
	server := NewHTTPServer(newTestService(fs, identity), "*")

	state := beginOAuth(t, server)

	req := httptest.NewRequest(http.MethodGet, "/api/oauth2/callback?code=the-code&state="+state, nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload struct {
		AuthID  string `json:"authId"`
		Account struct {
			DiscordID string `json:"discordId"`
		} `json:"account"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload.AuthID == "" {
		t.Fatalf("expected an auth credential")
	}
	if payload.Account.DiscordID != "42" {
		t.Fatalf("expected account 42, got %q", payload.Account.DiscordID)
	}

	stored, ok := fs.accounts["42"]
	if !ok {
		t.Fatalf("expected account document to be created")
	}
	if stored.AuthID != payload.AuthID {
		t.Fatalf("stored auth credential does not match the issued one")
	}
	if stored.Token.AccessToken != "access-the-code" {
		t.Fatalf("expected exchanged token to be stored, got %q", stored.Token.AccessToken)
	}
	if len(stored.DiscordRoles) != 1 || stored.DiscordRoles[0] != roleContributor {
		t.Fatalf("expected guild roles to be stored, got %v", stored.DiscordRoles)
	}
}

func TestOAuthCallbackRotatesAuthOnReLogin(t *testing.T) {
	fs := newFakeStore()
	identity := &fakeIdentity{user: discord.User{ID: "42", Username: "visualis"}}
	server := NewHTTPServer(newTestService(fs, identity), "*")
	seedAccount(fs, "42", "visualis", "old-auth")

	state := beginOAuth(t, server)
	req := httptest.NewRequest(http.MethodGet, "/api/oauth2/callback?code=the-code&state="+state, nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	stored := fs.accounts["42"]
	if stored.AuthID == "old-auth" || stored.AuthID == "" {
		t.Fatalf("expected auth credential to rotate, got %q", stored.AuthID)
	}
}

func TestOAuthCallbackStateIsOneShot(t *testing.T) {
	fs := newFakeStore()
	identity := &fakeIdentity{user: discord.User{ID: "42", Username: "visualis"}}
	server := NewHTTPServer(newTestService(fs, identity), "*")

	state := beginOAuth(t, server)
	first := httptest.NewRecorder()
	server.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/oauth2/callback?code=c&state="+state, nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first redemption should succeed, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	server.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/oauth2/callback?code=c&state="+state, nil))
	if second.Code != http.StatusUnauthorized {
		t.Fatalf("replayed state should be rejected, got %d", second.Code)
	}
}

func TestOAuthCallbackUnknownState(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore(), &fakeIdentity{}), "*")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/oauth2/callback?code=c&state=forged", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("forged state should be rejected, got %d", rr.Code)
	}
}

func TestOAuthCallbackMissingParams(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore(), &fakeIdentity{}), "*")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/oauth2/callback", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing code/state should be 400, got %d", rr.Code)
	}
}

func TestOAuthRolesLookupFailureStillLogsIn(t *testing.T) {
	fs := newFakeStore()
	identity := &fakeIdentity{
		user:     discord.User{ID: "42", Username: "visualis"},
		rolesErr: errNotMember,
	}
	server := NewHTTPServer(newTestService(fs, identity), "*")

	state := beginOAuth(t, server)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/oauth2/callback?code=c&state="+state, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("login should survive a guild lookup failure, got %d body=%s", rr.Code, rr.Body.String())
	}
	if roles := fs.accounts["42"].DiscordRoles; len(roles) != 0 {
		t.Fatalf("expected no roles, got %v", roles)
	}
}
