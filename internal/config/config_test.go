package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("REDIS_URL", "")
	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.RedisURL != "" {
		t.Fatalf("redis should be disabled by default, got %q", cfg.RedisURL)
	}
	if cfg.LockTTL != 30*time.Second {
		t.Fatalf("lock ttl = %s", cfg.LockTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QANUN_LOCK_TTL_SECONDS", "5")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("QANUN_TOKEN_TTL_SECONDS", "not-a-number")
	cfg := Load()
	if cfg.LockTTL != 5*time.Second || !cfg.S3UseSSL {
		t.Fatalf("overrides ignored: %+v", cfg)
	}
	if cfg.TokenTTL != 12*time.Hour {
		t.Fatalf("bad integer should fall back, got %s", cfg.TokenTTL)
	}
}

func TestLoadAdminUsers(t *testing.T) {
	t.Setenv("QANUN_ADMIN_USERS", " Avery, سمية ,,")
	cfg := Load()
	if len(cfg.AdminUsers) != 2 || cfg.AdminUsers[0] != "Avery" || cfg.AdminUsers[1] != "سمية" {
		t.Fatalf("admin users = %q", cfg.AdminUsers)
	}
}
