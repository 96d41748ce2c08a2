package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \"9000\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9000" {
		t.Fatalf("port = %q, want 9000", cfg.Server.Port)
	}
	if cfg.Postgres.LockMode != "advisory" {
		t.Fatalf("lock mode = %q, want advisory", cfg.Postgres.LockMode)
	}
	if cfg.Quiz.TimeLimitSecs != 100 || cfg.Quiz.DefaultCount != 10 || cfg.Quiz.MaxCount != 50 {
		t.Fatalf("unexpected quiz defaults %+v", cfg.Quiz)
	}
	if cfg.Quiz.EntryFeeMicro != 1_000_000 {
		t.Fatalf("entry fee = %d, want 1000000", cfg.Quiz.EntryFeeMicro)
	}
	if cfg.Tournament.MaxDailyPlays != 2 {
		t.Fatalf("max daily plays = %d, want 2", cfg.Tournament.MaxDailyPlays)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
postgres:
  url: postgres://localhost/quiz
  lock_mode: rowlock
quiz:
  time_limit_secs: 30
  entry_fee_micro: 250000
tournament:
  max_daily_plays: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Postgres.LockMode != "rowlock" {
		t.Fatalf("lock mode = %q, want rowlock", cfg.Postgres.LockMode)
	}
	if cfg.Quiz.TimeLimitSecs != 30 || cfg.Quiz.EntryFeeMicro != 250_000 {
		t.Fatalf("unexpected quiz config %+v", cfg.Quiz)
	}
	if cfg.Tournament.MaxDailyPlays != 5 {
		t.Fatalf("max daily plays = %d, want 5", cfg.Tournament.MaxDailyPlays)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTTLDuration(t *testing.T) {
	if d := TTLDuration("45s", time.Minute); d != 45*time.Second {
		t.Fatalf("d = %v, want 45s", d)
	}
	if d := TTLDuration("", time.Minute); d != time.Minute {
		t.Fatalf("d = %v, want fallback", d)
	}
	if d := TTLDuration("bogus", time.Minute); d != time.Minute {
		t.Fatalf("d = %v, want fallback on parse error", d)
	}
}
