package config

import (
	"time"

	"github.com/hyperjump/lumimind/internal/models"
)

// Default collection names, one per domain.
const (
	DefaultMentalHealthCollection  = "mental_health_kb"
	DefaultCommunicationCollection = "communication_kb"
)

var defaultProviders = map[string]ProviderConfig{
	"openai":      {Model: "gpt-4-turbo"},
	"gemini":      {Model: "gemini-pro"},
	"deepseek":    {BaseURL: "https://api.deepseek.com/v1", Model: "deepseek-chat"},
	"siliconflow": {BaseURL: "https://api.siliconflow.cn/v1", Model: "sf-chat"},
	"ollama":      {BaseURL: "http://localhost:11434", Model: "llama3"},
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 90 * time.Second
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/usr/local/var/lumimind/data"
	}
	if cfg.Storage.StatsDBPath == "" {
		cfg.Storage.StatsDBPath = "/usr/local/var/lumimind/data/stats.db"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "all-MiniLM-L6-v2"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.Metric == "" {
		cfg.Embedding.Metric = string(models.MetricCosine)
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/lumimind/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = make(map[string]ProviderConfig)
	}
	for name, def := range defaultProviders {
		p := cfg.LLM.Providers[name]
		if p.BaseURL == "" {
			p.BaseURL = def.BaseURL
		}
		if p.Model == "" {
			p.Model = def.Model
		}
		cfg.LLM.Providers[name] = p
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = cfg.LLM.Providers[cfg.LLM.Provider].Model
	}

	if cfg.Resilience.MaxRetries == 0 {
		cfg.Resilience.MaxRetries = 3
	}
	if cfg.Resilience.InitialBackoff == 0 {
		cfg.Resilience.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Resilience.MaxBackoff == 0 {
		cfg.Resilience.MaxBackoff = 5 * time.Second
	}
	if cfg.Resilience.RequestsPerSecond == 0 {
		cfg.Resilience.RequestsPerSecond = 5
	}
	if cfg.Resilience.Burst == 0 {
		cfg.Resilience.Burst = 10
	}
	if cfg.Resilience.BreakerFailures == 0 {
		cfg.Resilience.BreakerFailures = 5
	}
	if cfg.Resilience.BreakerTimeout == 0 {
		cfg.Resilience.BreakerTimeout = 30 * time.Second
	}

	if cfg.Knowledge.Collections == nil {
		cfg.Knowledge.Collections = make(map[models.Domain]CollectionConfig)
	}
	for domain, name := range map[models.Domain]string{
		models.DomainMentalHealth:  DefaultMentalHealthCollection,
		models.DomainCommunication: DefaultCommunicationCollection,
	} {
		c := cfg.Knowledge.Collections[domain]
		if c.Name == "" {
			c.Name = name
		}
		cfg.Knowledge.Collections[domain] = c
	}
	if cfg.Knowledge.ChunkSize == 0 {
		cfg.Knowledge.ChunkSize = 1000
	}
	if cfg.Knowledge.ChunkOverlap == 0 {
		cfg.Knowledge.ChunkOverlap = 200
	}
	if cfg.Knowledge.TopK == 0 {
		cfg.Knowledge.TopK = 4
	}
	if cfg.Knowledge.SimilarityFloor == 0 {
		cfg.Knowledge.SimilarityFloor = 0.25
	}
	if cfg.Knowledge.Extensions == nil {
		cfg.Knowledge.Extensions = []string{".txt", ".md", ".markdown", ".pdf", ".docx", ".xlsx"}
	}

	if cfg.Crisis.Threshold == 0 {
		cfg.Crisis.Threshold = 0.7
	}
	if cfg.Crisis.Weights == (SignalWeights{}) {
		cfg.Crisis.Weights = SignalWeights{Keyword: 0.5, Sentiment: 0.3, ModelJudgment: 0.2}
	}
	if cfg.Crisis.KeywordBase == 0 {
		cfg.Crisis.KeywordBase = 0.3
	}
	if cfg.Crisis.KeywordStep == 0 {
		cfg.Crisis.KeywordStep = 0.1
	}
	if cfg.Crisis.KeywordCap == 0 {
		cfg.Crisis.KeywordCap = 0.7
	}
	if cfg.Crisis.CorroborationFloor == 0 {
		cfg.Crisis.CorroborationFloor = 0.8
	}
	if cfg.Crisis.JudgeMinWords == 0 {
		cfg.Crisis.JudgeMinWords = 10
	}
	if cfg.Crisis.SignalTimeout == 0 {
		cfg.Crisis.SignalTimeout = 5 * time.Second
	}
	if len(cfg.Crisis.Intervention.Resources) == 0 {
		cfg.Crisis.Intervention = DefaultIntervention()
	}

	if cfg.Conversation.WindowSize == 0 {
		cfg.Conversation.WindowSize = 10
	}
	if cfg.Conversation.SessionStore == "" {
		cfg.Conversation.SessionStore = "memory"
	}
	if cfg.Conversation.SessionTTL == 0 {
		cfg.Conversation.SessionTTL = 24 * time.Hour
	}
	if cfg.Conversation.Apology == "" {
		cfg.Conversation.Apology = "I'm sorry, something went wrong while preparing a reply. Please try again in a moment."
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "lumimind"
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 0.1
	}
}

// DefaultIntervention returns the built-in crisis payload.
func DefaultIntervention() models.Intervention {
	return models.Intervention{
		Locale: "zh-CN",
		Title:  "You don't have to go through this alone",
		Message: "It sounds like you may be going through something very painful. " +
			"Please reach out right now to one of the services below, or to someone you trust nearby.",
		Disclaimer: "This assistant cannot provide crisis intervention or emergency help. " +
			"If you are in immediate danger, call emergency services.",
		Resources: []models.Resource{
			{Name: "全国心理援助热线", Contact: "400-161-9995", Description: "24-hour national psychological assistance hotline"},
			{Name: "北京心理危机研究与干预中心", Contact: "010-82951332", Description: "Beijing crisis intervention hotline"},
			{Name: "上海心理援助热线", Contact: "021-63798990", Description: "Shanghai psychological assistance hotline"},
			{Name: "急救", Contact: "120", Description: "Emergency medical services"},
			{Name: "International", Contact: "https://findahelpline.com", Description: "Find a crisis line in your country"},
		},
		Prominent: true,
	}
}
