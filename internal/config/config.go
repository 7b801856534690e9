// Package config loads application configuration from environment
// variables.  A .env file, if any, is applied by the caller before Load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env  string // APP_ENV: dev, test, prod
	Port string // APP_PORT

	DBUser string // DB_USER
	DBPass string // DB_PASS (empty allowed)
	DBHost string // DB_HOST
	DBPort string // DB_PORT
	DBName string // DB_NAME

	JWTSecret        string        // JWT_SECRET
	JWTIssuer        string        // JWT_ISSUER
	JWTAudience      string        // JWT_AUDIENCE
	AccessTTL        time.Duration // ACCESS_TOKEN_TTL_MIN, in minutes
	RefreshTTL       time.Duration // REFRESH_TOKEN_TTL_DAYS, in days
	MaxRefreshTokens int           // MAX_REFRESH_TOKENS per account
	BcryptCost       int           // BCRYPT_COST

	LogLevel  string // LOG_LEVEL
	LogFormat string // LOG_FORMAT: text or json

	RabbitURL          string   // RABBITMQ_URL; events are disabled when empty
	NotificationLog    string   // NOTIFICATION_LOG
	TokenSweepSchedule string   // TOKEN_SWEEP_SCHEDULE, cron syntax
	CORSOrigins        []string // CORS_ORIGINS, comma separated

	AdminName     string // ADMIN_NAME
	AdminEmail    string // ADMIN_EMAIL
	AdminPassword string // ADMIN_PASSWORD
}

// IsDev reports whether error details may be shown to clients.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development":
		return true
	}
	return false
}

// Load reads the configuration.  Every missing required variable and every
// malformed number is reported in the returned error.
func Load() (Config, error) {
	var l loader
	cfg := Config{
		Env:    l.must("APP_ENV"),
		Port:   l.must("APP_PORT"),
		DBUser: l.must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: l.must("DB_HOST"),
		DBPort: l.must("DB_PORT"),
		DBName: l.must("DB_NAME"),

		JWTSecret:        l.must("JWT_SECRET"),
		JWTIssuer:        getenv("JWT_ISSUER", "servicedesk-api"),
		JWTAudience:      getenv("JWT_AUDIENCE", "servicedesk-clients"),
		AccessTTL:        time.Duration(l.optInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		RefreshTTL:       time.Duration(l.optInt("REFRESH_TOKEN_TTL_DAYS", 7)) * 24 * time.Hour,
		MaxRefreshTokens: l.optInt("MAX_REFRESH_TOKENS", 5),
		BcryptCost:       l.optInt("BCRYPT_COST", 12),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "text"),

		RabbitURL:          os.Getenv("RABBITMQ_URL"),
		NotificationLog:    getenv("NOTIFICATION_LOG", "logs/notifications.log"),
		TokenSweepSchedule: getenv("TOKEN_SWEEP_SCHEDULE", "@hourly"),
		CORSOrigins:        splitList(getenv("CORS_ORIGINS", "*")),

		AdminName:     os.Getenv("ADMIN_NAME"),
		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}
	if cfg.MaxRefreshTokens < 1 {
		l.problems = append(l.problems, "MAX_REFRESH_TOKENS must be at least 1")
	}
	if len(l.problems) > 0 {
		return Config{}, fmt.Errorf("config: %s", strings.Join(l.problems, "; "))
	}
	return cfg, nil
}

// loader collects problems instead of failing on the first one.
type loader struct {
	problems []string
}

// must retrieves the value of a required environment variable.
func (l *loader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		l.problems = append(l.problems, "missing required env var: "+key)
	}
	return v
}

// optInt parses an optional integer variable.
func (l *loader) optInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		l.problems = append(l.problems, fmt.Sprintf("invalid int for %s: %q", key, s))
		return def
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
