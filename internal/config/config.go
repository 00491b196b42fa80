package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string
	LogMode  string // dev|prod
	SiteID   string // stamped on event log rows

	DBDriver string
	DBDSN    string

	// HMAC secret shared with the identity provider that issues bearer tokens.
	AuthHMACSecret string
	AuthIssuer     string

	// Optional; when empty the recompute lock and event fan-out stay in-process.
	RedisAddr    string
	RedisChannel string

	CORSOrigins          []string
	CORSAllowCredentials bool

	SubmitDedupWindow    time.Duration
	RecomputeParallelism int
	RequestTimeout       time.Duration
}

// FromEnv reads configuration from the environment. A .env file in the
// working directory is loaded first when present; real env vars win.
func FromEnv() Config {
	_ = godotenv.Load()

	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	defOrigins := "http://localhost:3000"
	if mode == ModeOnline {
		defOrigins = ""
	}
	return Config{
		Mode:                 mode,
		HTTPAddr:             envOr("HTTP_ADDR", ":8080"),
		LogMode:              envOr("LOG_MODE", logModeFor(mode)),
		SiteID:               envOr("SITE_ID", "local"),
		DBDriver:             envOr("DB_DRIVER", "sqlite"),
		DBDSN:                envOr("DB_DSN", ""),
		AuthHMACSecret:       envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		AuthIssuer:           envOr("AUTH_ISSUER", ""),
		RedisAddr:            strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisChannel:         envOr("REDIS_CHANNEL", "learncore.events"),
		CORSOrigins:          csvOr("CORS_ORIGINS", defOrigins),
		CORSAllowCredentials: envBool("CORS_ALLOW_CREDENTIALS", true),
		SubmitDedupWindow:    envDuration("SUBMIT_DEDUP_WINDOW", 10*time.Second),
		RecomputeParallelism: envInt("RECOMPUTE_PARALLELISM", 8),
		RequestTimeout:       envDuration("REQUEST_TIMEOUT", 30*time.Second),
	}
}

func logModeFor(m Mode) string {
	if m == ModeOnline {
		return "prod"
	}
	return "dev"
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envInt(k string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k))); err == nil && v > 0 {
		return v
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(k))); err == nil && d > 0 {
		return d
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
