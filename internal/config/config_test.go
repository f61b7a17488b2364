package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idleforge.toml")
	raw := `
addr = ":9090"

[log]
level = "DEBUG"
format = "text"

[store]
kind = "sqlite"
sqlite_path = "/tmp/forge.db"

[economy]
tick_every = "500ms"
save_debounce = "2s"
click_reward = "2.5"
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("IDLEFORGE_SAVE_DEBOUNCE", "7s")
	t.Setenv("PORT", "7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7000" {
		t.Fatalf("PORT must win over the file, got %q", cfg.Addr)
	}
	if cfg.Log.Level != slog.LevelDebug || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Store.Kind != "sqlite" || cfg.Store.SQLitePath != "/tmp/forge.db" {
		t.Fatalf("unexpected store config %+v", cfg.Store)
	}
	if cfg.Economy.TickEvery.Duration != 500*time.Millisecond {
		t.Fatalf("unexpected tick %s", cfg.Economy.TickEvery)
	}
	if cfg.Economy.SaveDebounce.Duration != 7*time.Second {
		t.Fatalf("env must override file, got %s", cfg.Economy.SaveDebounce)
	}
	if cfg.Economy.SaveMaxWait.Duration != 30*time.Second {
		t.Fatalf("unset keys keep defaults, got %s", cfg.Economy.SaveMaxWait)
	}
	reward, err := cfg.Economy.Reward()
	if err != nil || reward.String() != "2.5" {
		t.Fatalf("unexpected click reward %q (%v)", cfg.Economy.ClickReward, err)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("IDLEFORGE_STORE", "postgres")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error got %v", err)
	}
	t.Setenv("IDLEFORGE_STORE", "redis")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected unknown store error")
	}

	t.Setenv("IDLEFORGE_STORE", "memory")
	for _, bad := range []string{"0", "-1", "lots"} {
		t.Setenv("IDLEFORGE_CLICK_REWARD", bad)
		if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "click reward") {
			t.Fatalf("click reward %q: expected error got %v", bad, err)
		}
	}
	t.Setenv("IDLEFORGE_CLICK_REWARD", "0.25")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reward, _ := cfg.Economy.Reward(); !reward.Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("unexpected reward %s", reward)
	}

	path := filepath.Join(t.TempDir(), "bad.toml")
	_ = os.WriteFile(path, []byte("unknown_key = 1\n"), 0o600)
	t.Setenv("IDLEFORGE_STORE", "")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("IDLEFORGE_TICK_EVERY", "soon")
	t.Setenv("IDLEFORGE_CACHE_SIZE", "many")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Economy.TickEvery.Duration != time.Second || cfg.Store.CacheSize != 256 {
		t.Fatalf("invalid env values must keep defaults: %+v", cfg)
	}
}

func TestLogConfigLogger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Level: slog.LevelWarn, Format: "json"}.Logger(&buf).Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level")
	}
	LogConfig{Format: "text"}.Logger(&buf).Info("shown", "k", "v")
	if !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("expected text output got %q", buf.String())
	}
}

func TestLoadCLIFromEnv(t *testing.T) {
	t.Setenv("IDLEFORGE_API_BASE_URL", "http://forge.local/")
	t.Setenv("IDLEFORGE_PLAYER", "alice")
	cfg := LoadCLIFromEnv()
	if cfg.APIBaseURL != "http://forge.local" || cfg.PlayerID != "alice" {
		t.Fatalf("unexpected cli config %+v", cfg)
	}
}
