package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontolink/pkg/config"
	"github.com/ekaya-inc/ontolink/pkg/discovery"
	"github.com/ekaya-inc/ontolink/pkg/evaluator"
	"github.com/ekaya-inc/ontolink/pkg/graph"
	"github.com/ekaya-inc/ontolink/pkg/kv"
	"github.com/ekaya-inc/ontolink/pkg/llm"
	"github.com/ekaya-inc/ontolink/pkg/logging"
	"github.com/ekaya-inc/ontolink/pkg/store"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("data_graph", logging.SanitizeConnectionString(cfg.DataGraph.URI)),
		zap.String("candidate_graph", logging.SanitizeConnectionString(cfg.CandidateGraph.URI)),
		zap.String("redis", cfg.Redis.Addr()),
		zap.String("evaluator_provider", cfg.Evaluator.Provider),
		zap.String("evaluator_model", cfg.Evaluator.Model))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataGraph, err := newGraph(&cfg.DataGraph, logger)
	if err != nil {
		logger.Fatal("data graph unavailable", zap.String("error", logging.SanitizeError(err)))
	}
	candidateGraph, err := newGraph(&cfg.CandidateGraph, logger)
	if err != nil {
		logger.Fatal("candidate graph unavailable", zap.String("error", logging.SanitizeError(err)))
	}
	kvStore, err := newKV(&cfg.Redis, logger)
	if err != nil {
		logger.Fatal("kv store unavailable", zap.String("error", logging.SanitizeError(err)))
	}

	gen, err := llm.NewFromConfig(&cfg.Evaluator, logger)
	if err != nil {
		logger.Fatal("evaluator backend unavailable", zap.Error(err))
	}

	candidates := store.NewCandidateStore(kvStore, candidateGraph, dataGraph, cfg, logger)
	orchestrator := discovery.New(dataGraph, candidates, evaluator.NewLLM(gen, &cfg.Evaluator, logger), cfg, logger)

	if err := orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("discovery failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newGraph connects to the configured Neo4j instance, or falls back to the
// in-process store when no URI is configured (local experimentation).
func newGraph(cfg *config.GraphConfig, logger *zap.Logger) (graph.Store, error) {
	if cfg.URI == "" {
		logger.Warn("graph uri not configured, using in-memory store")
		return graph.NewMemory(), nil
	}
	return graph.NewNeo4j(cfg, logger)
}

func newKV(cfg *config.RedisConfig, logger *zap.Logger) (kv.Store, error) {
	if cfg.Host == "" {
		logger.Warn("redis host not configured, using in-memory store")
		return kv.NewMemory(), nil
	}
	return kv.NewRedis(cfg)
}
