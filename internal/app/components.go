// Package app wires the configured components into a running assistant.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hyperjump/lumimind/internal/assistant"
	"github.com/hyperjump/lumimind/internal/chains"
	"github.com/hyperjump/lumimind/internal/config"
	"github.com/hyperjump/lumimind/internal/corpus"
	"github.com/hyperjump/lumimind/internal/crisis"
	"github.com/hyperjump/lumimind/internal/embedding"
	"github.com/hyperjump/lumimind/internal/escalation"
	"github.com/hyperjump/lumimind/internal/kb"
	"github.com/hyperjump/lumimind/internal/llm"
	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/internal/resilience"
	"github.com/hyperjump/lumimind/internal/retrieval"
	"github.com/hyperjump/lumimind/internal/session"
	"github.com/hyperjump/lumimind/internal/storage"
	"github.com/hyperjump/lumimind/internal/telemetry"
)

// Components holds every long-lived piece of the assistant.
type Components struct {
	Config    *config.Config
	Logger    *zap.Logger
	Embedder  embedding.Embedder
	Knowledge *kb.Manager
	Loader    *corpus.Loader
	Retriever *retrieval.Retriever
	LLM       *llm.Registry
	Detector  *crisis.Detector
	Gate      *escalation.Gate
	Modes     *chains.Registry
	Sessions  session.Store
	Assistant *assistant.Service
	Reporter  telemetry.Reporter
	Stats     *storage.StatsStore

	shutdownTracer func(context.Context) error
}

// remoteEmbedders call a network service and are wrapped with a resilience guard.
var remoteEmbedders = map[string]bool{"openai": true, "siliconflow": true, "gemini": true, "ollama": true}

// Initialize builds the components from cfg. Collections that fail their integrity check are
// logged and left broken; everything else keeps working.
func Initialize(ctx context.Context, cfg *config.Config, logger *zap.Logger, version string) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Components{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close()
		}
	}()

	shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, err
	}
	c.shutdownTracer = shutdown

	if cfg.Storage.StatsDBPath != "" {
		if c.Stats, err = storage.NewStatsStore(cfg.Storage.StatsDBPath); err != nil {
			return nil, fmt.Errorf("failed to open stats store: %w", err)
		}
	}
	var ropts []telemetry.OTelOption
	if c.Stats != nil {
		ropts = append(ropts, telemetry.WithStats(c.Stats))
	}
	if c.Reporter, err = telemetry.NewOTelReporter(logger, ropts...); err != nil {
		return nil, fmt.Errorf("failed to create telemetry reporter: %w", err)
	}

	if c.Embedder, err = embedding.New(ctx, cfg.Embedding, cfg.Secrets); err != nil {
		if cfg.Embedding.Provider != "onnx" {
			return nil, err
		}
		logger.Warn("onnx embedder unavailable, falling back to hash embeddings", zap.Error(err))
		c.Embedder = embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	}
	if remoteEmbedders[cfg.Embedding.Provider] {
		guard := resilience.NewGuard("embedding:"+cfg.Embedding.Provider, cfg.Resilience, resilience.WithLogger(logger))
		c.Embedder = embedding.NewGuarded(c.Embedder, guard)
	}

	metric := models.SimilarityMetric(cfg.Embedding.Metric)
	c.Knowledge = kb.NewManager(cfg.Storage.DataDir, c.Embedder, kb.WithLogger(logger), kb.WithMetric(metric))
	names := CollectionNames(cfg)
	for domain, name := range names {
		if _, err := c.Knowledge.CreateOrLoad(ctx, name, embedding.CollectionConfig(c.Embedder, metric)); err != nil {
			if !errors.Is(err, models.ErrIndexCorrupt) && !errors.Is(err, models.ErrEmbeddingMismatch) {
				return nil, fmt.Errorf("failed to open collection %s: %w", name, err)
			}
			logger.Error("collection unavailable until reset",
				zap.String("domain", string(domain)), zap.String("collection", name), zap.Error(err))
		}
	}
	c.Loader = corpus.NewLoader(names,
		corpus.WithLogger(logger),
		corpus.WithDefaultChunkSize(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap),
		corpus.WithExtensions(cfg.Knowledge.Extensions))
	c.Retriever = retrieval.New(c.Knowledge, names,
		retrieval.WithLogger(logger),
		retrieval.WithReporter(c.Reporter),
		retrieval.WithTopK(cfg.Knowledge.TopK),
		retrieval.WithFloor(cfg.Knowledge.SimilarityFloor),
		retrieval.WithLexicalFallback(cfg.Knowledge.LexicalFallbackOrDefault()))

	c.LLM = llm.NewRegistry(cfg, llm.WithLogger(logger))

	dopts := []crisis.Option{crisis.WithLogger(logger), crisis.WithReporter(c.Reporter)}
	gen, err := c.LLM.Default(ctx)
	switch {
	case err != nil:
		logger.Warn("default generation provider unavailable, crisis detection uses keywords only", zap.Error(err))
	default:
		if cfg.Crisis.SentimentEnabledOrDefault() {
			dopts = append(dopts, crisis.WithSentiment(crisis.NewLLMSentiment(gen)))
		}
		if cfg.Crisis.JudgeEnabledOrDefault() {
			dopts = append(dopts, crisis.WithClassifier(crisis.NewLLMClassifier(gen)))
		}
	}
	if c.Detector, err = crisis.NewDetector(cfg.Crisis, dopts...); err != nil {
		return nil, fmt.Errorf("failed to create crisis detector: %w", err)
	}
	c.Gate = escalation.NewGate(c.Detector, cfg.Crisis.Intervention,
		escalation.WithReporter(c.Reporter), escalation.WithLogger(logger))

	c.Modes = chains.NewDefaultRegistry(c.LLM, c.Retriever,
		chains.WithLogger(logger), chains.WithGeneration(cfg.LLM.Temperature, cfg.LLM.MaxTokens))

	if c.Sessions, err = session.New(ctx, cfg.Conversation); err != nil {
		return nil, err
	}
	c.Assistant = assistant.New(c.Sessions, c.Gate, c.Modes,
		assistant.WithLogger(logger),
		assistant.WithReporter(c.Reporter),
		assistant.WithWindowSize(cfg.Conversation.WindowSize),
		assistant.WithApology(cfg.Conversation.Apology))

	ok = true
	return c, nil
}

// CollectionNames maps each domain to its configured collection.
func CollectionNames(cfg *config.Config) map[models.Domain]string {
	out := make(map[models.Domain]string, len(cfg.Knowledge.Collections))
	for d, cc := range cfg.Knowledge.Collections {
		out[d] = cc.Name
	}
	return out
}

// DomainOf returns the domain whose collection is named name.
func (c *Components) DomainOf(name string) (models.Domain, bool) {
	for d, cc := range c.Config.Knowledge.Collections {
		if cc.Name == name {
			return d, true
		}
	}
	return "", false
}

// IngestResult reports a directory ingest: files that failed to load and the index outcome.
type IngestResult struct {
	Failures []corpus.FileFailure `json:"failures,omitempty"`
	kb.IngestReport
}

// IngestDir loads dir (the domain's configured corpus path when empty) into the domain's
// collection.
func (c *Components) IngestDir(ctx context.Context, domain models.Domain, dir string) (IngestResult, error) {
	cc, ok := c.Config.Knowledge.Collections[domain]
	if !ok {
		return IngestResult{}, &models.ValidationError{Field: "domain", Reason: fmt.Sprintf("unknown domain %q", domain)}
	}
	if dir == "" {
		dir = cc.Path
	}
	if dir == "" {
		return IngestResult{}, &models.ValidationError{Field: "path", Reason: "no corpus directory configured for " + string(domain)}
	}
	loaded, err := c.Loader.LoadDir(ctx, dir, domain)
	if err != nil {
		return IngestResult{}, err
	}
	for _, f := range loaded.Failures {
		c.Logger.Warn("corpus file skipped", zap.String("path", f.Path), zap.String("reason", f.Reason))
	}
	report, err := c.Knowledge.Ingest(ctx, cc.Name, loaded.Documents)
	return IngestResult{Failures: loaded.Failures, IngestReport: report}, err
}

// IngestFile re-ingests one changed corpus file.
func (c *Components) IngestFile(ctx context.Context, domain models.Domain, path string) {
	doc, err := c.Loader.LoadFile(ctx, path, domain)
	if err != nil {
		c.Logger.Warn("watch: load file failed", zap.String("path", path), zap.Error(err))
		return
	}
	name := c.Config.Knowledge.Collections[domain].Name
	if _, err := c.Knowledge.Ingest(ctx, name, []corpus.LoadedDocument{doc}); err != nil {
		c.Logger.Warn("watch: ingest failed", zap.String("path", path), zap.Error(err))
	}
}

// RemoveFile drops the document loaded from a deleted corpus file.
func (c *Components) RemoveFile(ctx context.Context, domain models.Domain, path string) {
	if _, err := os.Stat(path); err == nil {
		// Replaced in place; the write event re-ingests it.
		return
	}
	name := c.Config.Knowledge.Collections[domain].Name
	if _, err := c.Knowledge.RemoveDocument(ctx, name, path); err != nil {
		c.Logger.Warn("watch: remove failed", zap.String("path", path), zap.Error(err))
	}
}

// ReloadKeywords reloads the crisis lexicon from the configured path, logging failures.
func (c *Components) ReloadKeywords() {
	if _, err := c.Detector.ReloadKeywords(""); err != nil {
		c.Logger.Warn("crisis keywords reload failed, keeping current lexicon", zap.Error(err))
	}
}

// Close releases every component.
func (c *Components) Close() error {
	var errs []error
	if c.Sessions != nil {
		errs = append(errs, c.Sessions.Close())
	}
	if c.Knowledge != nil {
		errs = append(errs, c.Knowledge.Close())
	}
	if c.Embedder != nil {
		errs = append(errs, c.Embedder.Close())
	}
	if c.Stats != nil {
		errs = append(errs, c.Stats.Close())
	}
	if c.shutdownTracer != nil {
		errs = append(errs, c.shutdownTracer(context.Background()))
	}
	return errors.Join(errs...)
}
