package service

import (
	"context"
	"sort"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
)

// ListScenarios returns the catalog listing.
func (s *Service) ListScenarios(ctx context.Context) []domain.ScenarioSummary {
	return s.catalog.List()
}

// GetScenario returns one scenario definition.
func (s *Service) GetScenario(ctx context.Context, name string) (*domain.Scenario, error) {
	return s.catalog.Get(name)
}

// HealthReport describes the orchestrator and its collaborators.
type HealthReport struct {
	Status   string `json:"status"`
	Pipeline string `json:"pipeline"`
	Database string `json:"database"`
	Runs     int    `json:"runs"`
}

// Health checks the pipeline and the history store. Collaborator failures
// degrade the report but never fail the call.
func (s *Service) Health(ctx context.Context) HealthReport {
	report := HealthReport{Status: "healthy", Pipeline: "ok", Database: "ok", Runs: s.registry.Len()}
	if s.pipeline != nil {
		if err := s.pipeline.Health(ctx); err != nil {
			report.Status = "degraded"
			report.Pipeline = err.Error()
		}
	}
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			report.Status = "degraded"
			report.Database = err.Error()
		}
	}
	return report
}

func sortNewestFirst(out []domain.RunSummary) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RunID > out[j].RunID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
}
