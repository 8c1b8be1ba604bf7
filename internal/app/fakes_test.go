package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"ficherp/api/internal/config"
	"ficherp/api/internal/discord"
	"ficherp/api/internal/fiche"
	"ficherp/api/internal/session"
	"ficherp/api/internal/store"
)

// fakeStore is an in-memory dataStore mirroring the document-update
// semantics of the Mongo implementation.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]store.Account
	meta     store.WebsiteMeta
	pingErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: make(map[string]store.Account)}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) GetAccountByAuthID(_ context.Context, authID string) (store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, account := range f.accounts {
		if account.AuthID == authID {
			return account, nil
		}
	}
	return store.Account{}, store.ErrNotFound
}

func (f *fakeStore) GetAccountByDiscordID(_ context.Context, discordID string) (store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[discordID]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return account, nil
}

func (f *fakeStore) GetAccountByFicheID(_ context.Context, ficheID string) (store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, account := range f.accounts {
		for _, fr := range account.Fiches {
			if fr.ID == ficheID {
				return account, nil
			}
		}
	}
	return store.Account{}, store.ErrNotFound
}

func (f *fakeStore) ListAccounts(context.Context) ([]store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	accounts := make([]store.Account, 0, len(f.accounts))
	for _, account := range f.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].DiscordID < accounts[j].DiscordID })
	return accounts, nil
}

func (f *fakeStore) InsertAccount(_ context.Context, account store.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.accounts[account.DiscordID]; exists {
		return fmt.Errorf("duplicate account %s", account.DiscordID)
	}
	f.accounts[account.DiscordID] = account
	return nil
}

func (f *fakeStore) RenewAccountAuth(_ context.Context, discordID, authID string, token store.TokenPair, renewedAt time.Time) error {
	return f.update(discordID, func(account *store.Account) {
		account.AuthID = authID
		account.Token = token
		account.LastRenewal = renewedAt
	})
}

func (f *fakeStore) UpdateAccountToken(_ context.Context, discordID string, token store.TokenPair, renewedAt time.Time) error {
	return f.update(discordID, func(account *store.Account) {
		account.Token = token
		account.LastRenewal = renewedAt
	})
}

func (f *fakeStore) UpdateAccountProfile(_ context.Context, discordID string, user store.DiscordUser, roleIDs []string) error {
	return f.update(discordID, func(account *store.Account) {
		account.DiscordUser = user
		account.DiscordRoles = roleIDs
	})
}

func (f *fakeStore) SetBanned(_ context.Context, discordID string, banned bool) error {
	return f.update(discordID, func(account *store.Account) {
		account.Banned = banned
	})
}

func (f *fakeStore) InsertFiche(_ context.Context, ownerID string, fr fiche.FicheRP) error {
	return f.update(ownerID, func(account *store.Account) {
		account.Fiches = append(account.Fiches, fr)
	})
}

func (f *fakeStore) ReplaceFicheFields(_ context.Context, ownerID, ficheID string, fr fiche.FicheRP, version fiche.Version) error {
	found := false
	err := f.update(ownerID, func(account *store.Account) {
		for i := range account.Fiches {
			if account.Fiches[i].ID == ficheID {
				fr.Messages = account.Fiches[i].Messages
				fr.Versions = append(account.Fiches[i].Versions, version)
				account.Fiches[i] = fr
				found = true
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	return nil
}

func (f *fakeStore) AppendFicheMessage(_ context.Context, ownerID, ficheID string, msg fiche.ReviewMessage, newState *fiche.State) error {
	found := false
	err := f.update(ownerID, func(account *store.Account) {
		for i := range account.Fiches {
			if account.Fiches[i].ID == ficheID {
				account.Fiches[i].Messages = append(account.Fiches[i].Messages, msg)
				if newState != nil {
					account.Fiches[i].State = *newState
				}
				found = true
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	return nil
}

func (f *fakeStore) GetMeta(context.Context) (store.WebsiteMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meta, nil
}

func (f *fakeStore) AddWhitelist(_ context.Context, discordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.meta.IsWhitelisted(discordID) {
		f.meta.Whitelist = append(f.meta.Whitelist, discordID)
	}
	return nil
}

func (f *fakeStore) RemoveWhitelist(_ context.Context, discordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	filtered := f.meta.Whitelist[:0]
	for _, id := range f.meta.Whitelist {
		if id != discordID {
			filtered = append(filtered, id)
		}
	}
	f.meta.Whitelist = filtered
	return nil
}

func (f *fakeStore) update(discordID string, apply func(*store.Account)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[discordID]
	if !ok {
		return store.ErrNotFound
	}
	apply(&account)
	f.accounts[discordID] = account
	return nil
}

var errNotMember = fmt.Errorf("discord /users/@me/guilds returned 404")

type fakeIdentity struct {
	user        discord.User
	roleIDs     []string
	rolesErr    error
	exchangeErr error
	refreshErr  error

	refreshed []string
}

func (f *fakeIdentity) AuthCodeURL(state string) string {
	return "https://discord.test/oauth2/authorize?state=" + state
}

func (f *fakeIdentity) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth2.Token{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		Expiry:       time.Now().Add(7 * 24 * time.Hour),
	}, nil
}

func (f *fakeIdentity) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	f.refreshed = append(f.refreshed, refreshToken)
	return &oauth2.Token{
		AccessToken:  "refreshed-access",
		RefreshToken: "refreshed-refresh",
		Expiry:       time.Now().Add(7 * 24 * time.Hour),
	}, nil
}

func (f *fakeIdentity) FetchUser(context.Context, string) (discord.User, error) {
	return f.user, nil
}

func (f *fakeIdentity) FetchGuildRoles(context.Context, string) ([]string, error) {
	if f.rolesErr != nil {
		return nil, f.rolesErr
	}
	return f.roleIDs, nil
}

func testConfig() config.Config {
	return config.Config{
		Addr:            ":0",
		CORSOrigin:      "*",
		RateLimitMax:    10,
		RateLimitWindow: time.Minute,
		OAuthStateTTL:   15 * time.Minute,
		SweepInterval:   time.Hour,
	}
}

func newTestService(fs *fakeStore, identity *fakeIdentity) *Service {
	return New(testConfig(), fs, identity, session.NewMemoryStore(15*time.Minute), nil, nil)
}

// Guild role IDs wired in the role table, named for readability.
const (
	roleContributor  = "1143509784591605841"
	roleAdmin        = "1031296249254658138"
	roleLeadReviewer = "1143632282926727328"
)

func seedAccount(fs *fakeStore, discordID, username, authID string, roleIDs ...string) store.Account {
	account := store.Account{
		DiscordID:    discordID,
		DiscordUser:  store.DiscordUser{ID: discordID, Username: username},
		DiscordRoles: roleIDs,
		AuthID:       authID,
		Token: store.TokenPair{
			AccessToken:  "access-" + discordID,
			RefreshToken: "refresh-" + discordID,
			Expiry:       time.Now().Add(7 * 24 * time.Hour),
		},
		Fiches:       []fiche.FicheRP{},
		CreationDate: time.Now(),
	}
	fs.accounts[discordID] = account
	return account
}

func seedFiche(fs *fakeStore, ownerID, ficheID string, state fiche.State) fiche.FicheRP {
	f := fiche.FicheRP{
		ID:          ficheID,
		Name:        "Adrien Castel",
		Job:         fiche.Job{Kind: fiche.JobDoctor},
		Description: "field medic",
		Lore:        "backstory",
		State:       state,
		Messages:    []fiche.ReviewMessage{},
		Versions:    []fiche.Version{{Name: "Adrien Castel", Date: time.Now()}},
	}
	account := fs.accounts[ownerID]
	account.Fiches = append(account.Fiches, f)
	fs.accounts[ownerID] = account
	return f
}
