package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("QUIZ_STORE", "sqlite")
	t.Setenv("DB_NAME", "quiz_test")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("QUIZ_TOKEN_TTL", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != StoreSQLite || cfg.DB.Database != "quiz_test" || cfg.DB.Port != 5432 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.TokenTTL != 2*time.Hour {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("QUIZ_STORE", "redis")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown store")
	}
}

func TestReadRules(t *testing.T) {
	rules, err := ReadRules(strings.NewReader("intermission: 5s\nadvance_percent: 50\n"))
	if err != nil {
		t.Fatalf("ReadRules: %v", err)
	}
	if rules.Intermission != 5*time.Second || rules.AdvancePercent != 50 {
		t.Fatalf("rules = %+v", rules)
	}
	if rules.SessionTTL != 10*time.Minute {
		t.Fatalf("unset fields should keep defaults, got %+v", rules)
	}

	for _, doc := range []string{
		"intermision: 5s\n",
		"advance_percent: 0\n",
		"session_ttl: -1m\n",
	} {
		if _, err := ReadRules(strings.NewReader(doc)); err == nil {
			t.Fatalf("ReadRules(%q) expected error", doc)
		}
	}
}

func TestLoadRulesMissingFileUsesDefaults(t *testing.T) {
	rules, err := LoadRules(t.TempDir() + "/absent.yaml")
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if rules != DefaultRules() {
		t.Fatalf("rules = %+v", rules)
	}
}
