package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for ragchat.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Segmenter SegmenterConfig `mapstructure:"segmenter"`
	History   HistoryConfig   `mapstructure:"history"`
	Reindex   ReindexConfig   `mapstructure:"reindex"`
	Summary   SummaryConfig   `mapstructure:"summary"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	MigrationsDir string `mapstructure:"migrations_dir"`
	AutoMigrate   bool   `mapstructure:"auto_migrate"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret is required")
	}
	return nil
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// LLMConfig describes the OpenAI-compatible endpoint used for chat and embeddings.
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	ChatModel      string        `mapstructure:"chat_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Temperature    float32       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if strings.TrimSpace(l.ChatModel) == "" {
		return fmt.Errorf("llm.chat_model is required")
	}
	if strings.TrimSpace(l.EmbeddingModel) == "" {
		return fmt.Errorf("llm.embedding_model is required")
	}
	return nil
}

// ChatConfig bounds a conversation and shapes the prompt.
type ChatConfig struct {
	MaxRound      int64         `mapstructure:"max_round"`
	HistoryRound  int           `mapstructure:"history_round"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	SystemPrompt  string        `mapstructure:"system_prompt"`
	OpeningRemark string        `mapstructure:"opening_remark"`
}

// Normalize fills in empty prompts and a missing cache TTL. Round bounds are
// left alone so Validate can reject an explicit zero.
func (c ChatConfig) Normalize() ChatConfig {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 12 * time.Hour
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if strings.TrimSpace(c.OpeningRemark) == "" {
		c.OpeningRemark = DefaultOpeningRemark
	}
	return c
}

func (c ChatConfig) Validate() error {
	if c.MaxRound <= 0 {
		return fmt.Errorf("chat.max_round must be > 0, got %d", c.MaxRound)
	}
	if c.HistoryRound <= 0 {
		return fmt.Errorf("chat.history_round must be > 0, got %d", c.HistoryRound)
	}
	return nil
}

// RetrievalConfig controls how segments are looked up.
type RetrievalConfig struct {
	Backend        string  `mapstructure:"backend"` // postgres | memory
	TopK           int     `mapstructure:"top_k"`
	ScopedTopK     int     `mapstructure:"scoped_top_k"`
	MinScore       float64 `mapstructure:"min_score"`
	EmbedBatchSize int     `mapstructure:"embed_batch_size"`
}

func (r RetrievalConfig) Validate() error {
	switch r.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("retrieval.backend must be postgres or memory, got %q", r.Backend)
	}
	if r.TopK <= 0 || r.ScopedTopK < r.TopK {
		return fmt.Errorf("retrieval.scoped_top_k (%d) must be >= retrieval.top_k (%d) > 0", r.ScopedTopK, r.TopK)
	}
	if r.MinScore < 0 || r.MinScore > 1 {
		return fmt.Errorf("retrieval.min_score must be within [0,1]")
	}
	return nil
}

// SegmenterConfig selects the segmentation strategy by name.
type SegmenterConfig struct {
	Strategy   string `mapstructure:"strategy"`
	WindowSize int    `mapstructure:"window_size"`
	StepSize   int    `mapstructure:"step_size"`
	LineMode   string `mapstructure:"line_mode"`
}

func (s SegmenterConfig) Validate() error {
	if s.StepSize <= 0 || s.StepSize > s.WindowSize {
		return fmt.Errorf("segmenter.step_size must be within (0, window_size]")
	}
	return nil
}

// HistoryConfig sizes the background cache refresh pool.
type HistoryConfig struct {
	RefreshWorkers int64         `mapstructure:"refresh_workers"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
}

// ReindexConfig describes the article event streams consumed by the worker.
type ReindexConfig struct {
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	UpdatedStream string        `mapstructure:"updated_stream"`
	DeletedStream string        `mapstructure:"deleted_stream"`
	IndexGroup    string        `mapstructure:"index_group"`
	SummaryGroup  string        `mapstructure:"summary_group"`
	ConsumerName  string        `mapstructure:"consumer_name"`
	Block         time.Duration `mapstructure:"block"`
	Batch         int64         `mapstructure:"batch"`
	ReclaimIdle   time.Duration `mapstructure:"reclaim_idle"`
}

func (r ReindexConfig) Validate() error {
	if r.RatePerSecond <= 0 {
		return fmt.Errorf("reindex.rate_per_second must be > 0")
	}
	if r.UpdatedStream == "" || r.DeletedStream == "" {
		return fmt.Errorf("reindex.updated_stream and reindex.deleted_stream are required")
	}
	if r.IndexGroup == "" || r.SummaryGroup == "" {
		return fmt.Errorf("reindex.index_group and reindex.summary_group are required")
	}
	if r.IndexGroup == r.SummaryGroup {
		return fmt.Errorf("reindex.index_group and reindex.summary_group must differ, both are %q", r.IndexGroup)
	}
	return nil
}

// SummaryConfig configures article summary generation and write-back.
type SummaryConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	SystemPrompt      string        `mapstructure:"system_prompt"`
	ArticleServiceURL string        `mapstructure:"article_service_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

func (s SummaryConfig) Validate() error {
	if s.Enabled && strings.TrimSpace(s.ArticleServiceURL) == "" {
		return fmt.Errorf("summary.article_service_url is required when summary.enabled")
	}
	return nil
}

// StorageConfig contains storage configurations
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a lib/pq connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

const (
	DefaultSystemPrompt = "You are a helpful assistant for an article community. Answer the user's question using " +
		"the knowledge segments below when they are relevant, and say so when they are not. Relevant knowledge segments: "
	DefaultOpeningRemark = "Hi! I can answer questions about the articles on this site. What would you like to know?"
	DefaultSummaryPrompt = "Summarize the following article in at most three sentences. Reply with the summary only."
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.debug", false)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.auto_migrate", false)
	v.SetDefault("server.migrations_dir", "file://migrations")
	// keys without a real default are still registered so AutomaticEnv binds them on Unmarshal
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("llm.chat_model", "gpt-4o-mini")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("chat.max_round", 10)
	v.SetDefault("chat.history_round", 4)
	v.SetDefault("chat.cache_ttl", 12*time.Hour)
	v.SetDefault("chat.system_prompt", DefaultSystemPrompt)
	v.SetDefault("chat.opening_remark", DefaultOpeningRemark)
	v.SetDefault("retrieval.backend", "postgres")
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("retrieval.scoped_top_k", 10)
	v.SetDefault("retrieval.min_score", 0.6)
	v.SetDefault("retrieval.embed_batch_size", 32)
	v.SetDefault("segmenter.strategy", "sliding_window")
	v.SetDefault("segmenter.window_size", 400)
	v.SetDefault("segmenter.step_size", 300)
	v.SetDefault("segmenter.line_mode", "remove_blank")
	v.SetDefault("history.refresh_workers", 16)
	v.SetDefault("history.refresh_timeout", 5*time.Second)
	v.SetDefault("reindex.rate_per_second", 10)
	v.SetDefault("reindex.burst", 10)
	v.SetDefault("reindex.updated_stream", "article.updated")
	v.SetDefault("reindex.deleted_stream", "article.deleted")
	v.SetDefault("reindex.index_group", "ragchat-index")
	v.SetDefault("reindex.summary_group", "ragchat-summary")
	v.SetDefault("reindex.consumer_name", "")
	v.SetDefault("reindex.block", 5*time.Second)
	v.SetDefault("reindex.batch", 16)
	v.SetDefault("reindex.reclaim_idle", time.Minute)
	v.SetDefault("summary.enabled", false)
	v.SetDefault("summary.article_service_url", "")
	v.SetDefault("summary.system_prompt", DefaultSummaryPrompt)
	v.SetDefault("summary.timeout", 10*time.Second)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "ragchat")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", 3*time.Second)
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "postgres")
	v.SetDefault("storage.postgres.dbname", "ragchat")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.timeout", 5*time.Second)
}

// LoadConfig reads the config file (when present) and RAGCHAT_* environment
// variables. An explicit path must exist; without one a missing file is
// tolerated and defaults plus environment apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("RAGCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Chat = cfg.Chat.Normalize()
	if cfg.Reindex.ConsumerName == "" {
		host, _ := os.Hostname()
		cfg.Reindex.ConsumerName = "ragchat-" + host
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the sections every command relies on.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.Chat.Validate,
		c.Retrieval.Validate,
		c.Segmenter.Validate,
		c.Reindex.Validate,
		c.Summary.Validate,
		c.Storage.Redis.Validate,
		c.Storage.Postgres.Validate,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}
