// Package config loads rustfin's flat runtime configuration from the
// environment, then layers in settings-table overrides coerced with
// spf13/cast — the same two-stage shape the teacher used for Postgres,
// adapted to the SQLite catalog store. The overlay covers hw_accel_type,
// max_transcodes and scan_cron.
package config

import (
	"database/sql"
	"log"
	"os"
	"strconv"

	"github.com/spf13/cast"

	"github.com/rustfin/rustfin/internal/auth"
)

type Config struct {
	Port          int
	DatabasePath  string
	JWTSecret     string
	DataDir       string
	FFmpegPath    string
	FFprobePath   string
	HWAccelType   string
	MaxTranscodes int
	// ScanCron is a cron expression (robfig/cron/v3 syntax) for the
	// scheduled full-library rescan, e.g. "0 */6 * * *".
	ScanCron string
	// TMDBAPIKey configures the bundled metadata provider. Empty disables
	// provider-backed refreshes; scans still populate the catalog.
	TMDBAPIKey string
	// AdminUsername/AdminPasswordHash gate the single local account this
	// deployment serves — there is no multi-user account system in scope.
	AdminUsername     string
	AdminPasswordHash string
}

func Load() *Config {
	cfg := &Config{
		Port:              envInt("PORT", 8080),
		DatabasePath:      env("DATABASE_PATH", "/data/rustfin.db"),
		JWTSecret:         env("JWT_SECRET", "change-me-in-production"),
		DataDir:           env("DATA_DIR", "/data"),
		FFmpegPath:        env("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:       env("FFPROBE_PATH", "ffprobe"),
		HWAccelType:       env("HW_ACCEL_TYPE", "cpu"),
		MaxTranscodes:     envInt("MAX_TRANSCODES", 4),
		ScanCron:          env("SCAN_CRON", "0 */6 * * *"),
		TMDBAPIKey:        env("TMDB_API_KEY", ""),
		AdminUsername:     env("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: env("ADMIN_PASSWORD_HASH", ""),
	}
	bootstrapAdminPassword(cfg)
	return cfg
}

// bootstrapAdminPassword lets a first run supply ADMIN_PASSWORD as plaintext
// instead of a pre-computed bcrypt hash: it's validated against the same
// complexity rule the teacher enforced at signup, then hashed once and held
// only as AdminPasswordHash for the rest of the process lifetime. Ignored
// once ADMIN_PASSWORD_HASH is already set.
func bootstrapAdminPassword(cfg *Config) {
	if cfg.AdminPasswordHash != "" {
		return
	}
	plain := os.Getenv("ADMIN_PASSWORD")
	if plain == "" {
		return
	}
	if err := auth.ValidatePassword(plain, 8, true); err != nil {
		log.Printf("config: ADMIN_PASSWORD rejected: %v", err)
		return
	}
	hash, err := auth.HashPassword(plain)
	if err != nil {
		log.Printf("config: failed to hash ADMIN_PASSWORD: %v", err)
		return
	}
	cfg.AdminPasswordHash = hash
}

// MergeFromDB overlays settings-table rows onto the env-loaded defaults.
// Values are stored as loosely-typed strings (the teacher's settings KV
// idiom); cast handles the coercion instead of hand-rolled parsing so a
// bad value degrades to the existing default rather than panicking.
func (c *Config) MergeFromDB(db *sql.DB) {
	rows, err := db.Query("SELECT key, value FROM settings")
	if err != nil {
		log.Printf("config: skipping settings merge: %v", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		switch key {
		case "hw_accel_type":
			c.HWAccelType = value
		case "max_transcodes":
			if v := cast.ToInt(value); v > 0 {
				c.MaxTranscodes = v
			}
		case "scan_cron":
			if value != "" {
				c.ScanCron = value
			}
		}
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
