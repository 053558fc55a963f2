// Package config loads the environment configuration surface.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full environment configuration.
type Config struct {
	Port    int    `env:"PORT" envDefault:"3000"`
	WebUser string `env:"WEB_USER" envDefault:"admin"`
	WebPass string `env:"WEB_PASS" envDefault:"password123"`

	AuthDir     string `env:"AUTH_DIR" envDefault:"./auth_info"`
	StorageFile string `env:"STORAGE_FILE" envDefault:"chats.json"`
	PublicDir   string `env:"PUBLIC_DIR" envDefault:"./public"`

	OwnerPhone string `env:"OWNER_PHONE"`

	WelcomeMessage string `env:"WELCOME_MESSAGE" envDefault:"Selamat datang @{user}"`
	OutMessage     string `env:"OUT_MESSAGE" envDefault:"Selamat tinggal @{user}"`
	MenuMessage    string `env:"MENU_MESSAGE" envDefault:"Menu belum diset."`
	GuildID        string `env:"ID_GUILD"`

	ScheduleGroupJID string `env:"SCHEDULE_GROUP_JID"`
	ScheduleMessage  string `env:"SCHEDULE_MSG" envDefault:"Halo semua, ini pengumuman otomatis setiap Sabtu 16.00."`
	ScheduleTZ       string `env:"SCHEDULE_TZ" envDefault:"Asia/Jakarta"`
	CronExpr         string `env:"CRON_EXPR" envDefault:"0 16 * * 6"`

	// AllowedGroupJIDs is the whitelist of conversations eligible for gated
	// commands. Defaults to the schedule group when unset.
	AllowedGroupJIDs []string `env:"ALLOWED_GROUP_JIDS"`

	Debug bool `env:"DEBUG"`
}

// Load reads an optional .env file and parses the environment.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if len(cfg.AllowedGroupJIDs) == 0 && cfg.ScheduleGroupJID != "" {
		cfg.AllowedGroupJIDs = []string{cfg.ScheduleGroupJID}
	}
	return cfg, nil
}

// Unescape turns literal "\n" sequences in an environment value into real
// newlines. Message templates are stored single-line in the environment.
func Unescape(text string) string {
	return strings.ReplaceAll(text, `\n`, "\n")
}

// ApplyUserTemplate substitutes the @{user} token with a mention of the
// given bare number.
func ApplyUserTemplate(template, number string) string {
	return strings.ReplaceAll(template, "@{user}", "@"+number)
}
