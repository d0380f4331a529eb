// Package service coordinates the catalog, registry, playback engine,
// broadcaster and history store behind the orchestrator's operations.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/xiaot623/gogo/scenarios/internal/adapter/pipeline"
	"github.com/xiaot623/gogo/scenarios/internal/catalog"
	"github.com/xiaot623/gogo/scenarios/internal/config"
	"github.com/xiaot623/gogo/scenarios/internal/logging"
	"github.com/xiaot623/gogo/scenarios/internal/metrics"
	"github.com/xiaot623/gogo/scenarios/internal/playback"
	"github.com/xiaot623/gogo/scenarios/internal/registry"
	"github.com/xiaot623/gogo/scenarios/internal/repository"
	"github.com/xiaot623/gogo/scenarios/internal/stream"
)

type Service struct {
	catalog     *catalog.Catalog
	registry    *registry.Registry
	broadcaster *stream.Broadcaster
	engine      *playback.Engine
	store       repository.Store
	pipeline    pipeline.Pipeline
	metrics     *metrics.Metrics
	config      *config.Config
	logger      *slog.Logger

	runs sync.WaitGroup
}

func New(cat *catalog.Catalog, reg *registry.Registry, bc *stream.Broadcaster, engine *playback.Engine, store repository.Store, p pipeline.Pipeline, m *metrics.Metrics, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		catalog:     cat,
		registry:    reg,
		broadcaster: bc,
		engine:      engine,
		store:       store,
		pipeline:    p,
		metrics:     m,
		config:      cfg,
		logger:      logging.OrDiscard(logger),
	}
}

// Wait blocks until every started run has finished or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
