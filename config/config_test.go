package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `{"server": {"jwt_secret": "s3cret"}}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Chat.MaxRound != 10 || cfg.Chat.HistoryRound != 4 {
		t.Fatalf("unexpected chat bounds: %+v", cfg.Chat)
	}
	if cfg.Chat.CacheTTL != 12*time.Hour {
		t.Fatalf("expected 12h cache ttl, got %s", cfg.Chat.CacheTTL)
	}
	if cfg.Retrieval.TopK != 3 || cfg.Retrieval.ScopedTopK != 10 || cfg.Retrieval.MinScore != 0.6 {
		t.Fatalf("unexpected retrieval defaults: %+v", cfg.Retrieval)
	}
	if cfg.Segmenter.Strategy != "sliding_window" || cfg.Segmenter.WindowSize != 400 || cfg.Segmenter.StepSize != 300 {
		t.Fatalf("unexpected segmenter defaults: %+v", cfg.Segmenter)
	}
	if cfg.Reindex.RatePerSecond != 10 || cfg.Reindex.ConsumerName == "" {
		t.Fatalf("unexpected reindex defaults: %+v", cfg.Reindex)
	}
	if cfg.Server.JWTSecret != "s3cret" {
		t.Fatalf("expected jwt secret from file, got %q", cfg.Server.JWTSecret)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("RAGCHAT_CHAT_MAX_ROUND", "20")
	t.Setenv("RAGCHAT_LLM_API_KEY", "sk-test")
	t.Setenv("RAGCHAT_STORAGE_POSTGRES_URL", "postgres://u:p@db:5432/rag?sslmode=disable")
	path := writeConfig(t, `{"chat": {"max_round": 5}}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Chat.MaxRound != 20 {
		t.Fatalf("expected env to win, got %d", cfg.Chat.MaxRound)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("expected api key from env, got %q", cfg.LLM.APIKey)
	}
	if got := cfg.Storage.Postgres.DSN(); got != "postgres://u:p@db:5432/rag?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", got)
	}
}

func TestLoadConfigRejectsBadSegmenter(t *testing.T) {
	path := writeConfig(t, `{"segmenter": {"window_size": 100, "step_size": 200}}`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected step larger than window to be rejected")
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "rag", Password: "pw", DBName: "ragchat"}
	want := "postgres://rag:pw@db:5432/ragchat?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}
}

func TestChatNormalize(t *testing.T) {
	c := ChatConfig{MaxRound: 3}.Normalize()
	if c.MaxRound != 3 || c.CacheTTL != 12*time.Hour || c.SystemPrompt == "" || c.OpeningRemark == "" {
		t.Fatalf("unexpected normalized chat config: %+v", c)
	}
	if c.HistoryRound != 0 {
		t.Fatalf("normalize must not invent round bounds, got %d", c.HistoryRound)
	}
}

func TestLoadConfigRejectsZeroRoundBounds(t *testing.T) {
	for _, body := range []string{
		`{"chat": {"max_round": 0}}`,
		`{"chat": {"history_round": 0}}`,
	} {
		if _, err := LoadConfig(writeConfig(t, body)); err == nil {
			t.Fatalf("expected %s to be rejected", body)
		}
	}
}

func TestLoadConfigKeepsZeroMinScore(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{"retrieval": {"min_score": 0}}`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Retrieval.MinScore != 0 {
		t.Fatalf("explicit zero min_score must survive, got %v", cfg.Retrieval.MinScore)
	}
}

func TestLoadConfigRejectsSharedConsumerGroup(t *testing.T) {
	body := `{"reindex": {"index_group": "ragchat", "summary_group": "ragchat"}}`
	if _, err := LoadConfig(writeConfig(t, body)); err == nil {
		t.Fatalf("expected equal index and summary groups to be rejected")
	}
}
