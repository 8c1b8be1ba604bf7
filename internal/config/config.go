package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr       string
	CORSOrigin string

	MongoURI      string
	MongoDatabase string

	// Redis - optional; in-memory exchange-state store is used when empty
	RedisURL string

	DiscordClientID     string
	DiscordClientSecret string
	DiscordRedirectURL  string
	DiscordGuildID      string

	ScenaWebhookURL string

	MeiliURL       string
	MeiliMasterKey string

	RateLimitMax    int
	RateLimitWindow time.Duration
	OAuthStateTTL   time.Duration
	SweepInterval   time.Duration
}

func Load() Config {
	return Config{
		Addr:       getenv("API_ADDR", ":8080"),
		CORSOrigin: getenv("FICHERP_CORS_ORIGIN", "*"),

		MongoURI:      getenv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: getenv("MONGODB_DATABASE", "visualis-website"),

		RedisURL: getenv("REDIS_URL", ""),

		DiscordClientID:     getenv("DISCORD_CLIENT_ID", ""),
		DiscordClientSecret: getenv("DISCORD_CLIENT_SECRET", ""),
		DiscordRedirectURL:  getenv("DISCORD_REDIRECT_URL", "http://localhost:8080/api/oauth2/callback"),
		DiscordGuildID:      getenv("DISCORD_GUILD_ID", ""),

		ScenaWebhookURL: getenv("SCENA_WEBHOOK_URL", ""),

		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),

		RateLimitMax:    getenvInt("FICHERP_RATE_LIMIT_MAX", 10),
		RateLimitWindow: time.Duration(getenvInt("FICHERP_RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		OAuthStateTTL:   time.Duration(getenvInt("FICHERP_OAUTH_STATE_TTL_SECONDS", 900)) * time.Second,
		SweepInterval:   time.Duration(getenvInt("FICHERP_SWEEP_INTERVAL_SECONDS", 3600)) * time.Second,
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
