// Package discord wraps the Discord OAuth2 flow and the two profile
// endpoints the site needs.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultAuthURL  = "https://discord.com/api/oauth2/authorize"
	defaultTokenURL = "https://discord.com/api/oauth2/token"
	defaultAPIBase  = "https://discord.com/api/v10"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	GuildID      string

	// Overridable for tests.
	AuthURL  string
	TokenURL string
	APIBase  string
}

type Client struct {
	oauth   oauth2.Config
	apiBase string
	guildID string
	http    *http.Client
}

// User is the profile snapshot returned by /users/@me.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

func New(cfg Config) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	return &Client{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"identify", "guilds.members.read"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		apiBase: cfg.APIBase,
		guildID: cfg.GuildID,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthCodeURL builds the authorize redirect for the given CSRF state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token pair.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := c.oauth.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return token, nil
}

// Refresh obtains a fresh token pair from a refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := c.oauth.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return token, nil
}

// FetchUser loads the caller's profile with the given access token.
func (c *Client) FetchUser(ctx context.Context, accessToken string) (User, error) {
	var user User
	if err := c.get(ctx, accessToken, "/users/@me", &user); err != nil {
		return User{}, err
	}
	if user.ID == "" {
		return User{}, fmt.Errorf("empty user id in profile response")
	}
	return user, nil
}

// FetchGuildRoles loads the caller's role IDs in the configured guild.
// Callers treat an error here as "no memberships".
func (c *Client) FetchGuildRoles(ctx context.Context, accessToken string) ([]string, error) {
	var member struct {
		Roles []string `json:"roles"`
	}
	path := "/users/@me/guilds/" + c.guildID + "/member"
	if err := c.get(ctx, accessToken, path, &member); err != nil {
		return nil, err
	}
	return member.Roles, nil
}

func (c *Client) get(ctx context.Context, accessToken, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("discord request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read discord response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discord %s returned %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("parse discord response: %w", err)
	}
	return nil
}

// withHTTPClient makes the oauth2 library use our bounded-timeout client.
func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}
