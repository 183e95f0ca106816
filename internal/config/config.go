// Package config provides configuration loading and structs for the LumiMind server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/lumimind/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug        bool               `yaml:"debug"`
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	LLM          LLMConfig          `yaml:"llm"`
	Resilience   ResilienceConfig   `yaml:"resilience"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge"`
	Crisis       CrisisConfig       `yaml:"crisis"`
	Conversation ConversationConfig `yaml:"conversation"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`

	// Secrets are read from the environment (and .env), never from the YAML file.
	Secrets Secrets `yaml:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds on-disk locations.
type StorageConfig struct {
	// DataDir holds one subdirectory per collection.
	DataDir     string `yaml:"data_dir"`
	StatsDBPath string `yaml:"stats_db_path"`
}

// EmbeddingConfig selects the embedding capability. Model and Dimensions become the
// collection's fixed embedding configuration on first creation.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // hash, onnx, openai, gemini, ollama
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	Metric     string `yaml:"metric"` // cosine or inner_product
	ModelPath  string `yaml:"model_path"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
	BaseURL    string `yaml:"base_url"`
}

// LLMConfig selects the default generation provider.
type LLMConfig struct {
	Provider    string                    `yaml:"provider"`
	Model       string                    `yaml:"model"`
	Temperature float64                   `yaml:"temperature"`
	MaxTokens   int                       `yaml:"max_tokens"`
	Timeout     time.Duration             `yaml:"timeout"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig overrides endpoint and default model for one provider.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// ResilienceConfig bounds retries, rate and circuit breaking for every capability call.
type ResilienceConfig struct {
	MaxRetries        uint          `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	BreakerFailures   uint32        `yaml:"breaker_failures"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"`
}

// CollectionConfig names one domain collection and its corpus directory.
type CollectionConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// KnowledgeConfig holds corpus, chunking and retrieval settings.
type KnowledgeConfig struct {
	Collections     map[models.Domain]CollectionConfig `yaml:"collections"`
	ChunkSize       int                                `yaml:"chunk_size"`
	ChunkOverlap    int                                `yaml:"chunk_overlap"`
	TopK            int                                `yaml:"top_k"`
	SimilarityFloor float64                            `yaml:"similarity_floor"`
	LexicalFallback *bool                              `yaml:"lexical_fallback"`
	Watch           bool                               `yaml:"watch"`
	Extensions      []string                           `yaml:"extensions"`
}

// LexicalFallbackOrDefault returns whether lexical fallback is on; defaults to true when unset.
func (k *KnowledgeConfig) LexicalFallbackOrDefault() bool {
	if k.LexicalFallback != nil {
		return *k.LexicalFallback
	}
	return true
}

// SignalWeights weights the crisis signals in the aggregate score.
type SignalWeights struct {
	Keyword       float64 `yaml:"keyword"`
	Sentiment     float64 `yaml:"sentiment"`
	ModelJudgment float64 `yaml:"model_judgment"`
}

// CrisisConfig holds crisis-detection settings.
type CrisisConfig struct {
	KeywordsPath     string              `yaml:"keywords_path"`
	WatchKeywords    bool                `yaml:"watch_keywords"`
	Threshold        float64             `yaml:"threshold"`
	Weights          SignalWeights       `yaml:"weights"`
	KeywordBase      float64             `yaml:"keyword_base"`
	KeywordStep      float64             `yaml:"keyword_step"`
	KeywordCap       float64             `yaml:"keyword_cap"`
	// CorroborationFloor scales the minimum score of a keyword hit that the model judgment
	// confirms: score >= floor * judgment confidence.
	CorroborationFloor float64 `yaml:"corroboration_floor"`
	JudgeMinWords    int                 `yaml:"judge_min_words"`
	SignalTimeout    time.Duration       `yaml:"signal_timeout"`
	SentimentEnabled *bool               `yaml:"sentiment_enabled"`
	JudgeEnabled     *bool               `yaml:"judge_enabled"`
	Intervention     models.Intervention `yaml:"intervention"`
}

// SentimentEnabledOrDefault returns whether the sentiment signal is on; defaults to true.
func (c *CrisisConfig) SentimentEnabledOrDefault() bool {
	if c.SentimentEnabled != nil {
		return *c.SentimentEnabled
	}
	return true
}

// JudgeEnabledOrDefault returns whether the model-judgment signal is on; defaults to true.
func (c *CrisisConfig) JudgeEnabledOrDefault() bool {
	if c.JudgeEnabled != nil {
		return *c.JudgeEnabled
	}
	return true
}

// ConversationConfig holds session and history settings.
type ConversationConfig struct {
	WindowSize   int           `yaml:"window_size"`
	SessionStore string        `yaml:"session_store"` // memory or redis
	SessionTTL   time.Duration `yaml:"session_ttl"`
	RedisURL     string        `yaml:"redis_url"`
	Apology      string        `yaml:"apology"`
}

// TelemetryConfig holds OpenTelemetry settings. Tracing is off when OTLPEndpoint is empty.
type TelemetryConfig struct {
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// Secrets are API keys keyed by provider name.
type Secrets struct {
	APIKeys map[string]string
}

// APIKey returns the key for provider, or "".
func (s Secrets) APIKey(provider string) string {
	if s.APIKeys == nil {
		return ""
	}
	return s.APIKeys[provider]
}

// envKeys maps provider names to the environment variables holding their API keys.
var envKeys = map[string][]string{
	"openai":      {"OPENAI_API_KEY"},
	"deepseek":    {"DEEPSEEK_API_KEY"},
	"siliconflow": {"SILICONFLOW_API_KEY"},
	"gemini":      {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// Load reads and parses the config file at path, loads secrets from the environment (and a
// .env file next to the config, if present), expands paths, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	LoadEnv(filepath.Join(configDir, ".env"))
	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Storage.StatsDBPath = expandPath(cfg.Storage.StatsDBPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Crisis.KeywordsPath = expandPath(cfg.Crisis.KeywordsPath, configDir)
	for domain, c := range cfg.Knowledge.Collections {
		if c.Path != "" {
			c.Path = expandPath(c.Path, configDir)
			cfg.Knowledge.Collections[domain] = c
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnv loads KEY=VALUE pairs from envPath into the process environment. A missing file is
// not an error; variables already set are not overridden.
func LoadEnv(envPath string) {
	if _, err := os.Stat(envPath); err == nil {
		_ = godotenv.Load(envPath)
		return
	}
	_ = godotenv.Load()
}

// ApplyEnv copies secrets and endpoint overrides from the environment into cfg.
func ApplyEnv(cfg *Config) {
	if cfg.Secrets.APIKeys == nil {
		cfg.Secrets.APIKeys = make(map[string]string)
	}
	for provider, names := range envKeys {
		for _, name := range names {
			if v := os.Getenv(name); v != "" {
				cfg.Secrets.APIKeys[provider] = v
				break
			}
		}
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = make(map[string]ProviderConfig)
		}
		p := cfg.LLM.Providers["ollama"]
		p.BaseURL = v
		cfg.LLM.Providers["ollama"] = p
		if cfg.Embedding.Provider == "ollama" && cfg.Embedding.BaseURL == "" {
			cfg.Embedding.BaseURL = v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Conversation.RedisURL = v
	}
}

// Save writes the config to path. Secrets are never written.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
