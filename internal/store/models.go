package store

import (
	"time"

	"ficherp/api/internal/fiche"
)

// DiscordUser is the profile snapshot kept on an account, refreshed on
// renewal and by the hourly sweep.
type DiscordUser struct {
	ID       string `bson:"id" json:"id"`
	Username string `bson:"username" json:"username"`
	Avatar   string `bson:"avatar" json:"avatar"`
}

// TokenPair is the OAuth2 access/refresh pair held for an account.
type TokenPair struct {
	AccessToken  string    `bson:"access_token" json:"-"`
	RefreshToken string    `bson:"refresh_token" json:"-"`
	Expiry       time.Time `bson:"expiry" json:"-"`
}

// Account is the single denormalized document per user: the profile, the
// rotating auth credential, the token pair and every owned sheet with its
// embedded message and version logs. No join is ever performed.
type Account struct {
	DiscordID    string          `bson:"_id" json:"discordId"`
	DiscordUser  DiscordUser     `bson:"discord_user" json:"discordUser"`
	DiscordRoles []string        `bson:"discord_roles" json:"discordRoles"`
	AuthID       string          `bson:"auth_id" json:"-"`
	Token        TokenPair       `bson:"token" json:"-"`
	LastRenewal  time.Time       `bson:"last_renewal" json:"-"`
	Fiches       []fiche.FicheRP `bson:"fiches" json:"fiches"`
	CreationDate time.Time       `bson:"creation_date" json:"creationDate"`
	Banned       bool            `bson:"banned" json:"banned"`
}

// WebsiteMeta is the singleton settings document. Whitelisted Discord IDs
// get platform-admin trust regardless of guild roles.
type WebsiteMeta struct {
	Whitelist []string `bson:"whitelist" json:"whitelist"`
}

func (m WebsiteMeta) IsWhitelisted(discordID string) bool {
	for _, id := range m.Whitelist {
		if id == discordID {
			return true
		}
	}
	return false
}
