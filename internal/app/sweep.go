package app

import (
	"context"
	"log"
	"time"

	"ficherp/api/internal/store"
)

// Sweep walks every account once: tokens close to expiry are refreshed and
// the profile snapshot and guild role set are re-pulled from Discord.
// Failures are logged per account and never stop the walk.
func (s *Service) Sweep(ctx context.Context) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		log.Printf(`{"event":"sweep_list_failed","error":%q}`, err.Error())
		return
	}

	refreshed, failed := 0, 0
	for _, account := range accounts {
		if err := s.sweepAccount(ctx, account); err != nil {
			failed++
			log.Printf(`{"event":"sweep_account_failed","discord_id":%q,"error":%q}`, account.DiscordID, err.Error())
			continue
		}
		refreshed++
	}
	log.Printf(`{"event":"sweep_done","accounts":%d,"refreshed":%d,"failed":%d}`, len(accounts), refreshed, failed)
}

func (s *Service) sweepAccount(ctx context.Context, account store.Account) error {
	now := s.now()
	token := account.Token

	// Refresh when the access token expires before the next sweep runs.
	if account.Token.RefreshToken != "" && now.After(account.Token.Expiry.Add(-s.cfg.SweepInterval)) {
		fresh, err := s.identity.Refresh(ctx, account.Token.RefreshToken)
		if err != nil {
			return err
		}
		token = store.TokenPair{
			AccessToken:  fresh.AccessToken,
			RefreshToken: fresh.RefreshToken,
			Expiry:       fresh.Expiry,
		}
		if token.RefreshToken == "" {
			token.RefreshToken = account.Token.RefreshToken
		}
		if err := s.store.UpdateAccountToken(ctx, account.DiscordID, token, now); err != nil {
			return err
		}
	}

	user, err := s.identity.FetchUser(ctx, token.AccessToken)
	if err != nil {
		return err
	}
	roleIDs, err := s.identity.FetchGuildRoles(ctx, token.AccessToken)
	if err != nil {
		roleIDs = account.DiscordRoles
	}
	return s.store.UpdateAccountProfile(ctx, account.DiscordID,
		store.DiscordUser{ID: user.ID, Username: user.Username, Avatar: user.Avatar}, roleIDs)
}

// RunSweeper blocks running Sweep on the configured interval until the
// context is cancelled.
func (s *Service) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
