// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev  bool
	Role string // all | api | worker
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	PublicURL      string        `yaml:"public_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// chat submissions per minute per user (or remote address); 0 disables
	RateLimit int `yaml:"rate_limit"`
}

type AdminConfig struct {
	APIKey    string        `yaml:"api_key"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Backend         string        `yaml:"backend"` // postgres | memory
	Name            string        `yaml:"name"`
	ChatAttempts    int           `yaml:"chat_attempts"`
	ChatBackoff     time.Duration `yaml:"chat_backoff"`
	BatchAttempts   int           `yaml:"batch_attempts"`
	BatchBackoff    time.Duration `yaml:"batch_backoff"`
	LockDuration    time.Duration `yaml:"lock_duration"`
	StalledInterval time.Duration `yaml:"stalled_interval"`
	MaxStalledCount int           `yaml:"max_stalled_count"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	// fail the attempt on upstream completion errors so queue backoff retries it;
	// unset means true
	RetryUpstream *bool `yaml:"retry_upstream"`
}

func (w WorkerConfig) ShouldRetryUpstream() bool {
	return w.RetryUpstream == nil || *w.RetryUpstream
}

type GatewayConfig struct {
	MaxWait      time.Duration `yaml:"max_wait"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type CompletionConfig struct {
	Provider        string        `yaml:"provider"` // proxy | openai | gemini | noop
	Endpoint        string        `yaml:"endpoint"`
	Cookie          string        `yaml:"cookie"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	Temperature     float64       `yaml:"temperature"`
	TopP            float64       `yaml:"top_p"`
	MaxTokens       int           `yaml:"max_tokens"`
	HistoryLimit    int           `yaml:"history_limit"`
	HistoryMode     string        `yaml:"history_mode"` // structured | transcript
	Timeout         time.Duration `yaml:"timeout"`
	ConcurrentLimit int           `yaml:"concurrent_limit"` // max concurrent completion calls
}

type RetrievalConfig struct {
	Mode           string        `yaml:"mode"` // service | qdrant
	URL            string        `yaml:"url"`
	QdrantURL      string        `yaml:"qdrant_url"`
	QdrantAPIKey   string        `yaml:"qdrant_api_key"`
	Collection     string        `yaml:"collection"`
	OllamaURL      string        `yaml:"ollama_url"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Limit          int           `yaml:"limit"`
	Timeout        time.Duration `yaml:"timeout"`
}

type SearchConfig struct {
	URL        string        `yaml:"url"`
	MaxResults int           `yaml:"max_results"`
	Timeout    time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// AES key (16, 24 or 32 bytes) for transcripts stored in Redis; empty stores plaintext
	EncryptionKey string `yaml:"encryption_key"`
}

type BotConfig struct {
	Token     string `yaml:"token"`
	Workers   int    `yaml:"workers"`    // polling workers
	RateLimit int    `yaml:"rate_limit"` // messages per chat per minute
	Language  string `yaml:"language"`   // en | fa
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	Admin      AdminConfig      `yaml:"admin"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Worker     WorkerConfig     `yaml:"worker"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Completion CompletionConfig `yaml:"completion"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Search     SearchConfig     `yaml:"search"`
	Session    SessionConfig    `yaml:"session"`
	Bot        BotConfig        `yaml:"bot"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, expanding ${VAR} references from the
// environment, then applies defaults and validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes raw YAML into a validated Config.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 3000
	}
	if cfg.HTTP.PublicURL == "" {
		cfg.HTTP.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port)
	}
	cfg.HTTP.PublicURL = strings.TrimRight(cfg.HTTP.PublicURL, "/")
	cfg.HTTP.RequestTimeout = orDuration(cfg.HTTP.RequestTimeout, 90*time.Second)
	cfg.Admin.TokenTTL = orDuration(cfg.Admin.TokenTTL, 30*time.Minute)

	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}

	q := &cfg.Queue
	if q.Backend == "" {
		q.Backend = "postgres"
	}
	if q.Name == "" {
		q.Name = "agent-queue"
	}
	if q.ChatAttempts <= 0 {
		q.ChatAttempts = 3
	}
	q.ChatBackoff = orDuration(q.ChatBackoff, 2*time.Second)
	if q.BatchAttempts <= 0 {
		q.BatchAttempts = 2
	}
	q.BatchBackoff = orDuration(q.BatchBackoff, 3*time.Second)
	q.LockDuration = orDuration(q.LockDuration, 30*time.Second)
	q.StalledInterval = orDuration(q.StalledInterval, 30*time.Second)
	if q.MaxStalledCount <= 0 {
		q.MaxStalledCount = 1
	}
	q.JobTimeout = orDuration(q.JobTimeout, 60*time.Second)
	q.PollInterval = orDuration(q.PollInterval, 500*time.Millisecond)
	q.Retention = orDuration(q.Retention, 24*time.Hour)
	q.CleanupInterval = orDuration(q.CleanupInterval, time.Hour)

	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 4
	}

	cfg.Gateway.MaxWait = orDuration(cfg.Gateway.MaxWait, 60*time.Second)
	cfg.Gateway.PollInterval = orDuration(cfg.Gateway.PollInterval, 500*time.Millisecond)

	c := &cfg.Completion
	if c.Provider == "" {
		if c.Endpoint == "" {
			c.Provider = "noop"
		} else {
			c.Provider = "proxy"
		}
	}
	if c.Model == "" {
		switch c.Provider {
		case "openai":
			c.Model = "gpt-4o-mini"
		case "gemini":
			c.Model = "gemini-2.0-flash"
		default:
			c.Model = "mistral-large-latest"
		}
	}
	if c.Temperature == 0 {
		c.Temperature = 0.5
	}
	if c.TopP == 0 {
		c.TopP = 1.0
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 8096
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 8
	}
	if c.HistoryMode == "" {
		c.HistoryMode = "structured"
	}
	c.Timeout = orDuration(c.Timeout, 30*time.Second)
	if c.ConcurrentLimit <= 0 {
		c.ConcurrentLimit = 16
	}

	r := &cfg.Retrieval
	if r.Mode == "" {
		r.Mode = "service"
	}
	if r.URL == "" {
		r.URL = cfg.HTTP.PublicURL
	}
	if r.Collection == "" {
		r.Collection = "shark_tank_pitches"
	}
	if r.OllamaURL == "" {
		r.OllamaURL = "http://localhost:11434"
	}
	if r.EmbeddingModel == "" {
		r.EmbeddingModel = "mxbai-embed-large"
	}
	if r.Limit <= 0 {
		r.Limit = 5
	}
	r.Timeout = orDuration(r.Timeout, 15*time.Second)

	if cfg.Search.URL == "" {
		cfg.Search.URL = "https://api.duckduckgo.com/"
	}
	if cfg.Search.MaxResults <= 0 {
		cfg.Search.MaxResults = 5
	}
	cfg.Search.Timeout = orDuration(cfg.Search.Timeout, 10*time.Second)

	cfg.Session.TTL = orDuration(cfg.Session.TTL, 30*time.Minute)
	cfg.Session.SweepInterval = orDuration(cfg.Session.SweepInterval, 5*time.Minute)

	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 4
	}
	if cfg.Bot.Language == "" {
		cfg.Bot.Language = "en"
	}
}

func (cfg *Config) validate() error {
	switch cfg.Queue.Backend {
	case "postgres":
		if cfg.Database.URL == "" {
			return errors.New("database.url is required for the postgres queue backend")
		}
	case "memory":
	default:
		return fmt.Errorf("queue.backend %q is not supported", cfg.Queue.Backend)
	}

	switch cfg.Completion.Provider {
	case "proxy":
		// an empty endpoint is allowed; calls then fail with a safe apology
	case "openai", "gemini":
		if cfg.Completion.APIKey == "" {
			return fmt.Errorf("completion.api_key is required for provider %q", cfg.Completion.Provider)
		}
	case "noop":
	default:
		return fmt.Errorf("completion.provider %q is not supported", cfg.Completion.Provider)
	}
	if m := cfg.Completion.HistoryMode; m != "structured" && m != "transcript" {
		return fmt.Errorf("completion.history_mode %q is not supported", m)
	}

	switch cfg.Retrieval.Mode {
	case "service":
	case "qdrant":
		if cfg.Retrieval.QdrantURL == "" {
			return errors.New("retrieval.qdrant_url is required for qdrant mode")
		}
	default:
		return fmt.Errorf("retrieval.mode %q is not supported", cfg.Retrieval.Mode)
	}

	if k := len(cfg.Session.EncryptionKey); k != 0 && k != 16 && k != 24 && k != 32 {
		return fmt.Errorf("session.encryption_key must be 16, 24 or 32 bytes; got %d", k)
	}
	if cfg.Admin.APIKey != "" && cfg.Admin.JWTSecret == "" {
		return errors.New("admin.jwt_secret is required when admin.api_key is set")
	}
	return nil
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
