package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"ficherp/api/internal/config"
	"ficherp/api/internal/discord"
	"ficherp/api/internal/fiche"
	"ficherp/api/internal/ratelimit"
	"ficherp/api/internal/roles"
	"ficherp/api/internal/search"
	"ficherp/api/internal/session"
	"ficherp/api/internal/store"
	"ficherp/api/internal/util"
	"ficherp/api/internal/webhook"
)

// dataStore is the persistence surface the service needs. MongoStore is the
// production implementation; tests plug in an in-memory fake.
type dataStore interface {
	Ping(ctx context.Context) error
	GetAccountByAuthID(ctx context.Context, authID string) (store.Account, error)
	GetAccountByDiscordID(ctx context.Context, discordID string) (store.Account, error)
	GetAccountByFicheID(ctx context.Context, ficheID string) (store.Account, error)
	ListAccounts(ctx context.Context) ([]store.Account, error)
	InsertAccount(ctx context.Context, account store.Account) error
	RenewAccountAuth(ctx context.Context, discordID, authID string, token store.TokenPair, renewedAt time.Time) error
	UpdateAccountToken(ctx context.Context, discordID string, token store.TokenPair, renewedAt time.Time) error
	UpdateAccountProfile(ctx context.Context, discordID string, user store.DiscordUser, roleIDs []string) error
	SetBanned(ctx context.Context, discordID string, banned bool) error
	InsertFiche(ctx context.Context, ownerID string, f fiche.FicheRP) error
	ReplaceFicheFields(ctx context.Context, ownerID, ficheID string, f fiche.FicheRP, version fiche.Version) error
	AppendFicheMessage(ctx context.Context, ownerID, ficheID string, msg fiche.ReviewMessage, newState *fiche.State) error
	GetMeta(ctx context.Context) (store.WebsiteMeta, error)
	AddWhitelist(ctx context.Context, discordID string) error
	RemoveWhitelist(ctx context.Context, discordID string) error
}

// identityProvider is the Discord surface the service needs; tests plug in
// a fake instead of the real OAuth2 client.
type identityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	FetchUser(ctx context.Context, accessToken string) (discord.User, error)
	FetchGuildRoles(ctx context.Context, accessToken string) ([]string, error)
}

// Caller is a resolved session: the account plus the permission level
// computed from its guild roles and the whitelist.
type Caller struct {
	Account store.Account
	Level   roles.Level
}

type Service struct {
	cfg      config.Config
	store    dataStore
	identity identityProvider
	states   session.StateStore
	limiter  *ratelimit.Limiter
	search   *search.Service
	notify   *webhook.Notifier

	now func() time.Time
}

func New(cfg config.Config, st dataStore, identity identityProvider, states session.StateStore, meiliClient *search.Meili, notify *webhook.Notifier) *Service {
	s := &Service{
		cfg:      cfg,
		store:    st,
		identity: identity,
		states:   states,
		limiter:  ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow),
		notify:   notify,
		now:      time.Now,
	}
	s.search = search.NewService(meiliClient, s)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingStates(ctx context.Context) error {
	return s.states.Ping(ctx)
}

// BeginOAuth mints a one-time state, stores it for the callback and returns
// the Discord authorization URL to redirect the browser to.
func (s *Service) BeginOAuth(ctx context.Context, returnTo string) (string, error) {
	state := util.NewToken()
	record := session.StateRecord{ReturnTo: returnTo, CreatedAt: s.now()}
	if err := s.states.Save(ctx, state, record); err != nil {
		return "", fmt.Errorf("save oauth state: %w", err)
	}
	return s.identity.AuthCodeURL(state), nil
}

// AuthResult is what a completed OAuth2 exchange hands back to the client:
// the rotated credential it authenticates follow-up calls with, the account
// document and the optional post-login redirect target.
type AuthResult struct {
	AuthID   string        `json:"authId"`
	Account  store.Account `json:"account"`
	ReturnTo string        `json:"returnTo,omitempty"`
}

// CompleteOAuth redeems the callback state, exchanges the code, pulls the
// Discord profile and guild roles, and creates or renews the account with a
// freshly rotated auth credential.
func (s *Service) CompleteOAuth(ctx context.Context, code, state string) (AuthResult, error) {
	record, ok, err := s.states.Take(ctx, state)
	if err != nil {
		return AuthResult{}, fmt.Errorf("redeem oauth state: %w", err)
	}
	if !ok {
		return AuthResult{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unknown or expired OAuth state", nil)
	}

	token, err := s.identity.Exchange(ctx, code)
	if err != nil {
		log.Printf(`{"event":"oauth_exchange_failed","error":%q}`, err.Error())
		return AuthResult{}, domainError(http.StatusBadGateway, "UPSTREAM_FAILURE", "Discord token exchange failed", nil)
	}
	user, err := s.identity.FetchUser(ctx, token.AccessToken)
	if err != nil {
		log.Printf(`{"event":"oauth_fetch_user_failed","error":%q}`, err.Error())
		return AuthResult{}, domainError(http.StatusBadGateway, "UPSTREAM_FAILURE", "Discord profile fetch failed", nil)
	}

	// Membership lookup failures read as "no elevated roles", not as a
	// login failure.
	roleIDs, err := s.identity.FetchGuildRoles(ctx, token.AccessToken)
	if err != nil {
		log.Printf(`{"event":"guild_roles_unavailable","discord_id":%q,"error":%q}`, user.ID, err.Error())
		roleIDs = nil
	}

	now := s.now()
	authID := util.NewToken()
	pair := store.TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}

	account, err := s.store.GetAccountByDiscordID(ctx, user.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		account = store.Account{
			DiscordID:    user.ID,
			DiscordUser:  store.DiscordUser{ID: user.ID, Username: user.Username, Avatar: user.Avatar},
			DiscordRoles: roleIDs,
			AuthID:       authID,
			Token:        pair,
			LastRenewal:  now,
			Fiches:       []fiche.FicheRP{},
			CreationDate: now,
		}
		if err := s.store.InsertAccount(ctx, account); err != nil {
			return AuthResult{}, fmt.Errorf("create account: %w", err)
		}
	case err != nil:
		return AuthResult{}, fmt.Errorf("load account: %w", err)
	default:
		if err := s.store.RenewAccountAuth(ctx, user.ID, authID, pair, now); err != nil {
			return AuthResult{}, fmt.Errorf("renew account auth: %w", err)
		}
		if err := s.store.UpdateAccountProfile(ctx, user.ID, store.DiscordUser{ID: user.ID, Username: user.Username, Avatar: user.Avatar}, roleIDs); err != nil {
			return AuthResult{}, fmt.Errorf("refresh account profile: %w", err)
		}
		account.DiscordUser = store.DiscordUser{ID: user.ID, Username: user.Username, Avatar: user.Avatar}
		account.DiscordRoles = roleIDs
		account.AuthID = authID
		account.Token = pair
		account.LastRenewal = now
	}

	return AuthResult{AuthID: authID, Account: account, ReturnTo: record.ReturnTo}, nil
}

// CallerFromAuthID resolves a session credential to the account and its
// effective permission level.
func (s *Service) CallerFromAuthID(ctx context.Context, authID string) (Caller, error) {
	account, err := s.store.GetAccountByAuthID(ctx, authID)
	if errors.Is(err, store.ErrNotFound) {
		return Caller{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	if err != nil {
		return Caller{}, fmt.Errorf("load session account: %w", err)
	}
	meta, err := s.store.GetMeta(ctx)
	if err != nil {
		return Caller{}, fmt.Errorf("load website meta: %w", err)
	}
	level := roles.Resolve(account.DiscordRoles, meta.IsWhitelisted(account.DiscordID))
	return Caller{Account: account, Level: level}, nil
}

// AccountView is the caller-facing shape of an account; Level is computed,
// never stored.
type AccountView struct {
	store.Account
	Level string `json:"level"`
}

func (s *Service) OwnAccount(caller Caller) AccountView {
	return AccountView{Account: caller.Account, Level: caller.Level.String()}
}

// ListAccounts returns every account with review messages filtered to what
// the caller may see: reviewing staff see everything, everyone else sees
// public messages plus the private ones on their own sheets.
func (s *Service) ListAccounts(ctx context.Context, caller Caller) ([]store.Account, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	if roles.Can(caller.Level, roles.ActionReview) {
		return accounts, nil
	}
	for i := range accounts {
		if accounts[i].DiscordID == caller.Account.DiscordID {
			continue
		}
		for j := range accounts[i].Fiches {
			accounts[i].Fiches[j].Messages = publicMessages(accounts[i].Fiches[j].Messages)
		}
	}
	return accounts, nil
}

func publicMessages(messages []fiche.ReviewMessage) []fiche.ReviewMessage {
	filtered := make([]fiche.ReviewMessage, 0, len(messages))
	for _, msg := range messages {
		if !msg.IsPrivate {
			filtered = append(filtered, msg)
		}
	}
	return filtered
}

// FicheInput carries the editable fields of a sheet submission.
type FicheInput struct {
	Name        string    `json:"name"`
	Job         fiche.Job `json:"job"`
	Description string    `json:"description"`
	Lore        string    `json:"lore"`
}

func (in FicheInput) validate() error {
	problems := map[string]string{}
	if strings.TrimSpace(in.Name) == "" {
		problems["name"] = "required"
	}
	if strings.TrimSpace(in.Description) == "" {
		problems["description"] = "required"
	}
	if strings.TrimSpace(in.Lore) == "" {
		problems["lore"] = "required"
	}
	if err := in.Job.Validate(); err != nil {
		problems["job"] = err.Error()
	}
	if len(problems) > 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid sheet fields", problems)
	}
	return nil
}

// SubmitFiche creates a new sheet in the Waiting state with its first
// version snapshot.
func (s *Service) SubmitFiche(ctx context.Context, caller Caller, in FicheInput) (fiche.FicheRP, error) {
	if err := s.requireNotBanned(caller); err != nil {
		return fiche.FicheRP{}, err
	}
	if err := in.validate(); err != nil {
		return fiche.FicheRP{}, err
	}

	now := s.now()
	f := fiche.FicheRP{
		ID:          fiche.NewID(now),
		Name:        in.Name,
		Job:         in.Job,
		Description: in.Description,
		Lore:        in.Lore,
		State:       fiche.StateWaiting,
		Messages:    []fiche.ReviewMessage{},
	}
	f.Versions = []fiche.Version{f.Snapshot(now)}

	if err := s.store.InsertFiche(ctx, caller.Account.DiscordID, f); err != nil {
		return fiche.FicheRP{}, fmt.Errorf("insert fiche: %w", err)
	}
	s.indexFiche(caller.Account, f)
	s.notify.FicheSubmitted(caller.Account.DiscordUser.Username, f)
	return f, nil
}

// SubmitModification replaces an owned sheet's editable fields, snapshots
// the new version and sends the sheet back to Waiting. Only sheets in
// RequestModification accept one.
func (s *Service) SubmitModification(ctx context.Context, caller Caller, ficheID string, in FicheInput) (fiche.FicheRP, error) {
	if err := s.requireNotBanned(caller); err != nil {
		return fiche.FicheRP{}, err
	}
	if err := in.validate(); err != nil {
		return fiche.FicheRP{}, err
	}

	owner, err := s.store.GetAccountByFicheID(ctx, ficheID)
	if errors.Is(err, store.ErrNotFound) {
		return fiche.FicheRP{}, domainError(http.StatusNotFound, "NOT_FOUND", "Sheet not found", nil)
	}
	if err != nil {
		return fiche.FicheRP{}, fmt.Errorf("load sheet owner: %w", err)
	}
	if owner.DiscordID != caller.Account.DiscordID {
		return fiche.FicheRP{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the sheet owner may submit a modification", nil)
	}
	current, ok := findFiche(owner, ficheID)
	if !ok {
		return fiche.FicheRP{}, domainError(http.StatusNotFound, "NOT_FOUND", "Sheet not found", nil)
	}
	if !fiche.CanSubmitModification(current) {
		return fiche.FicheRP{}, domainError(http.StatusConflict, "INVALID_STATE",
			fmt.Sprintf("Sheet in state %q does not accept modifications", current.State), nil)
	}

	now := s.now()
	updated := current
	updated.Name = in.Name
	updated.Job = in.Job
	updated.Description = in.Description
	updated.Lore = in.Lore
	updated.State = fiche.StateWaiting
	version := updated.Snapshot(now)
	updated.Versions = append(updated.Versions, version)

	if err := s.store.ReplaceFicheFields(ctx, owner.DiscordID, ficheID, updated, version); err != nil {
		return fiche.FicheRP{}, fmt.Errorf("replace fiche fields: %w", err)
	}
	s.indexFiche(owner, updated)
	s.notify.FicheSubmitted(caller.Account.DiscordUser.Username, updated)
	return updated, nil
}

// MessageInput carries a review message: a plain comment or a decision
// targeting one of the decision states.
type MessageInput struct {
	Content   string      `json:"content"`
	IsPrivate bool        `json:"isPrivate"`
	IsComment bool        `json:"isComment"`
	SetState  fiche.State `json:"setState"`
}

// MessageResult echoes the appended message and the sheet state after it.
type MessageResult struct {
	Message fiche.ReviewMessage `json:"message"`
	State   fiche.State         `json:"state"`
}

// PostMessage appends a review message to any account's sheet. Comments
// leave the state untouched; decisions move it.
func (s *Service) PostMessage(ctx context.Context, caller Caller, ficheID string, in MessageInput) (MessageResult, error) {
	if err := s.requireNotBanned(caller); err != nil {
		return MessageResult{}, err
	}

	owner, err := s.store.GetAccountByFicheID(ctx, ficheID)
	if errors.Is(err, store.ErrNotFound) {
		return MessageResult{}, domainError(http.StatusNotFound, "NOT_FOUND", "Sheet not found", nil)
	}
	if err != nil {
		return MessageResult{}, fmt.Errorf("load sheet owner: %w", err)
	}
	current, ok := findFiche(owner, ficheID)
	if !ok {
		return MessageResult{}, domainError(http.StatusNotFound, "NOT_FOUND", "Sheet not found", nil)
	}

	msg := fiche.ReviewMessage{
		Author:    caller.Account.DiscordID,
		Content:   in.Content,
		Date:      s.now(),
		IsPrivate: in.IsPrivate,
		IsComment: in.IsComment,
		SetState:  in.SetState,
	}
	if msg.IsComment {
		msg.SetState = fiche.StateComment
	}

	isOwner := owner.DiscordID == caller.Account.DiscordID
	newState, err := fiche.ApplyMessage(current, msg, caller.Level, isOwner)
	if errors.Is(err, fiche.ErrNotAllowed) {
		return MessageResult{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err != nil {
		return MessageResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	var statePtr *fiche.State
	if !msg.IsComment {
		statePtr = &newState
	}
	if err := s.store.AppendFicheMessage(ctx, owner.DiscordID, ficheID, msg, statePtr); err != nil {
		return MessageResult{}, fmt.Errorf("append fiche message: %w", err)
	}

	updated := current
	updated.State = newState
	updated.Messages = append(updated.Messages, msg)
	if !msg.IsComment {
		s.indexFiche(owner, updated)
	}
	s.notify.ReviewPosted(caller.Account.DiscordUser.Username, updated, msg)
	return MessageResult{Message: msg, State: newState}, nil
}

// StaffSubmit creates a sheet directly in the Accepted state on a target
// account: the path reviewing staff use to register established characters,
// also open to an owner re-registering a previously accepted sheet.
func (s *Service) StaffSubmit(ctx context.Context, caller Caller, targetID string, in FicheInput) (fiche.FicheRP, error) {
	if err := s.requireNotBanned(caller); err != nil {
		return fiche.FicheRP{}, err
	}
	if err := in.validate(); err != nil {
		return fiche.FicheRP{}, err
	}

	target, err := s.store.GetAccountByDiscordID(ctx, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return fiche.FicheRP{}, domainError(http.StatusNotFound, "NOT_FOUND", "Target account not found", nil)
	}
	if err != nil {
		return fiche.FicheRP{}, fmt.Errorf("load target account: %w", err)
	}

	isTarget := target.DiscordID == caller.Account.DiscordID
	hadAccepted := false
	for _, f := range target.Fiches {
		if f.State == fiche.StateAccepted {
			hadAccepted = true
			break
		}
	}
	if !fiche.CanStaffSubmit(caller.Level, isTarget, hadAccepted) {
		return fiche.FicheRP{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	now := s.now()
	f := fiche.FicheRP{
		ID:          fiche.NewID(now),
		Name:        in.Name,
		Job:         in.Job,
		Description: in.Description,
		Lore:        in.Lore,
		State:       fiche.StateAccepted,
		Messages:    []fiche.ReviewMessage{},
	}
	f.Versions = []fiche.Version{f.Snapshot(now)}

	if err := s.store.InsertFiche(ctx, target.DiscordID, f); err != nil {
		return fiche.FicheRP{}, fmt.Errorf("insert fiche: %w", err)
	}
	s.indexFiche(target, f)
	s.notify.FicheSubmitted(target.DiscordUser.Username, f)
	return f, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) ([]search.Record, error) {
	return s.search.Search(ctx, q)
}

// ScanFiches flattens every account's sheets into search records. It backs
// the store-scan fallback when Meilisearch is down or not configured.
func (s *Service) ScanFiches(ctx context.Context) ([]search.Record, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan fiches: %w", err)
	}
	var records []search.Record
	for _, account := range accounts {
		for _, f := range account.Fiches {
			records = append(records, ficheRecord(account, f))
		}
	}
	return records, nil
}

// SetBan flips the banned flag on a target account. Admin level required.
func (s *Service) SetBan(ctx context.Context, caller Caller, targetID string, banned bool) error {
	if !roles.Can(caller.Level, roles.ActionAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	err := s.store.SetBanned(ctx, targetID, banned)
	if errors.Is(err, store.ErrNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Account not found", nil)
	}
	if err != nil {
		return fmt.Errorf("set banned: %w", err)
	}
	return nil
}

// AddWhitelist grants platform-admin trust to a Discord ID. Platform admins
// only; the whitelist is how platform admins are made in the first place.
func (s *Service) AddWhitelist(ctx context.Context, caller Caller, discordID string) error {
	if !caller.Level.AtLeast(roles.LevelPlatformAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if strings.TrimSpace(discordID) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "discordId is required", nil)
	}
	if err := s.store.AddWhitelist(ctx, discordID); err != nil {
		return fmt.Errorf("add whitelist: %w", err)
	}
	return nil
}

func (s *Service) RemoveWhitelist(ctx context.Context, caller Caller, discordID string) error {
	if !caller.Level.AtLeast(roles.LevelPlatformAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err := s.store.RemoveWhitelist(ctx, discordID); err != nil {
		return fmt.Errorf("remove whitelist: %w", err)
	}
	return nil
}

func (s *Service) Whitelist(ctx context.Context, caller Caller) ([]string, error) {
	if !caller.Level.AtLeast(roles.LevelPlatformAdmin) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	meta, err := s.store.GetMeta(ctx)
	if err != nil {
		return nil, fmt.Errorf("load website meta: %w", err)
	}
	if meta.Whitelist == nil {
		return []string{}, nil
	}
	return meta.Whitelist, nil
}

// AllowMutation applies the per-subject fixed-window rate limit to a
// mutating call.
func (s *Service) AllowMutation(subject string) bool {
	return s.limiter.Allow(subject)
}

func (s *Service) RetryAfter() time.Duration {
	return s.limiter.RetryAfter()
}

func (s *Service) requireNotBanned(caller Caller) error {
	if caller.Account.Banned {
		return domainError(http.StatusForbidden, "BANNED", "Account is banned", nil)
	}
	return nil
}

func (s *Service) indexFiche(owner store.Account, f fiche.FicheRP) {
	s.search.IndexFiche(ficheRecord(owner, f))
}

func ficheRecord(owner store.Account, f fiche.FicheRP) search.Record {
	return search.Record{
		ID:          f.ID,
		OwnerID:     owner.DiscordID,
		OwnerName:   owner.DiscordUser.Username,
		Name:        f.Name,
		Job:         f.Job.String(),
		State:       string(f.State),
		Description: f.Description,
	}
}

func findFiche(account store.Account, ficheID string) (fiche.FicheRP, bool) {
	for _, f := range account.Fiches {
		if f.ID == ficheID {
			return f, true
		}
	}
	return fiche.FicheRP{}, false
}
