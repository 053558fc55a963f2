package config_test

import (
	"testing"

	"github.com/omochice/chat-bridge/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.MenuMessage != "Menu belum diset." {
		t.Errorf("MenuMessage = %q", cfg.MenuMessage)
	}
	if cfg.CronExpr != "0 16 * * 6" {
		t.Errorf("CronExpr = %q", cfg.CronExpr)
	}
}

func TestLoad_WhitelistDefaultsToScheduleGroup(t *testing.T) {
	t.Setenv("SCHEDULE_GROUP_JID", "g1@g.us")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.AllowedGroupJIDs) != 1 || cfg.AllowedGroupJIDs[0] != "g1@g.us" {
		t.Errorf("AllowedGroupJIDs = %v, want [g1@g.us]", cfg.AllowedGroupJIDs)
	}
}

func TestLoad_ExplicitWhitelist(t *testing.T) {
	t.Setenv("SCHEDULE_GROUP_JID", "g1@g.us")
	t.Setenv("ALLOWED_GROUP_JIDS", "g2@g.us,g3@g.us")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"g2@g.us", "g3@g.us"}
	if len(cfg.AllowedGroupJIDs) != 2 || cfg.AllowedGroupJIDs[0] != want[0] || cfg.AllowedGroupJIDs[1] != want[1] {
		t.Errorf("AllowedGroupJIDs = %v, want %v", cfg.AllowedGroupJIDs, want)
	}
}

func TestUnescape(t *testing.T) {
	if got := config.Unescape(`line1\nline2`); got != "line1\nline2" {
		t.Errorf("Unescape() = %q", got)
	}
}

func TestApplyUserTemplate(t *testing.T) {
	got := config.ApplyUserTemplate("Selamat datang @{user}", "628123")
	if got != "Selamat datang @628123" {
		t.Errorf("ApplyUserTemplate() = %q", got)
	}
}
