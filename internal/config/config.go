package config

import "os"

const (
	defaultBaseURL    = "http://localhost:5000"
	defaultSqlitePath = "cryptochat.db"
	defaultUserKey    = "local"
)

type Config struct {
	BaseURL     string
	DatabaseURL string
	SqlitePath  string
	UserKey     string
}

// NewConfig builds a Config from the environment. DatabaseURL is optional;
// when empty the local sqlite fallback store is used instead of Postgres.
func NewConfig() *Config {
	return &Config{
		BaseURL:     envOr("API_URL", defaultBaseURL),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SqlitePath:  envOr("SQLITE_PATH", defaultSqlitePath),
		UserKey:     envOr("USER_KEY", defaultUserKey),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
