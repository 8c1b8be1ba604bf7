package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ficherp/api/internal/app"
	"ficherp/api/internal/config"
	"ficherp/api/internal/discord"
	"ficherp/api/internal/search"
	"ficherp/api/internal/session"
	"ficherp/api/internal/store"
	"ficherp/api/internal/webhook"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.Fatalf("mongodb connection failed: %v", err)
	}
	defer db.Close(context.Background())

	identity := discord.New(discord.Config{
		ClientID:     cfg.DiscordClientID,
		ClientSecret: cfg.DiscordClientSecret,
		RedirectURL:  cfg.DiscordRedirectURL,
		GuildID:      cfg.DiscordGuildID,
	})

	var states session.StateStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for OAuth exchange-state storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL, cfg.OAuthStateTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		states = redisStore
	} else {
		log.Printf("Using in-memory OAuth exchange-state storage")
		states = session.NewMemoryStore(cfg.OAuthStateTTL)
	}
	defer states.Close()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}

	notify := webhook.New(cfg.ScenaWebhookURL)

	service := app.New(cfg, db, identity, states, meiliClient, notify)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go service.RunSweeper(sweepCtx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("FicheRP API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
