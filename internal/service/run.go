package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
	"github.com/xiaot623/gogo/scenarios/internal/registry"
	"github.com/xiaot623/gogo/scenarios/internal/stream"
)

// StartRun accepts a run of the named scenario and starts playback
// asynchronously.
func (s *Service) StartRun(ctx context.Context, req domain.StartRunRequest) (*domain.StartRunResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.Validationf("name is required")
	}
	sc, err := s.catalog.Get(name)
	if err != nil {
		return nil, err
	}

	run := s.registry.Create(sc.Name)
	// the topic exists before playback begins so early observers see every record
	s.broadcaster.Open(run.RunID)

	handle, err := s.registry.Acquire(run.RunID)
	if err != nil {
		return nil, err
	}

	if s.store != nil {
		if err := s.store.SaveRun(ctx, run); err != nil {
			s.logger.Error("failed to persist new run", "run_id", run.RunID, "error", err)
		}
	}
	s.metrics.RunStarted(sc.Name)

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.engine.Run(context.Background(), handle, sc)
	}()

	s.logger.Info("run accepted", "run_id", run.RunID, "scenario", sc.Name)
	return &domain.StartRunResponse{
		RunID:    run.RunID,
		Status:   run.Status,
		Scenario: sc.Name,
	}, nil
}

// GetRun returns a snapshot of the run.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return s.registry.Get(runID)
}

// ListRuns returns summaries of every run held in the registry, oldest first.
func (s *Service) ListRuns(ctx context.Context) []domain.RunSummary {
	runs := s.registry.List()
	out := make([]domain.RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Summary())
	}
	return out
}

// RateRun stores a human rating on a completed run.
func (s *Service) RateRun(ctx context.Context, runID string, req domain.RateRunRequest) (*domain.RateRunResponse, error) {
	rating, err := ParseRating(req.Rating)
	if err != nil {
		return nil, err
	}

	run, err := s.registry.Rate(runID, rating)
	if err != nil {
		return nil, err
	}

	if s.store != nil {
		err := s.store.UpdateRating(ctx, runID, rating)
		if errors.Is(err, domain.ErrNotFound) {
			err = s.store.SaveRun(ctx, run)
		}
		if err != nil {
			s.logger.Error("failed to persist rating", "run_id", runID, "error", err)
		}
	}

	return &domain.RateRunResponse{
		OK:          true,
		RunID:       runID,
		HumanRating: rating,
	}, nil
}

// ParseRating accepts only a JSON integer literal in the allowed range.
// Strings, fractions, booleans and null are validation failures.
func ParseRating(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, domain.Validationf("rating is required")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, domain.Validationf("rating must be an integer")
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, domain.Validationf("rating must be an integer")
	}
	n, err := num.Int64()
	if err != nil {
		return 0, domain.Validationf("rating must be an integer")
	}
	if n < registry.MinRating || n > registry.MaxRating {
		return 0, domain.Validationf("rating must be an integer between %d and %d", registry.MinRating, registry.MaxRating)
	}
	return int(n), nil
}

// Cleanup removes every terminal run from the registry and returns how many
// were removed.
func (s *Service) Cleanup(ctx context.Context) *domain.CleanupResponse {
	removed := s.registry.Cleanup()
	s.drop(removed)
	s.logger.Info("cleaned up runs", "count", len(removed))
	return &domain.CleanupResponse{Cleaned: len(removed)}
}

// drop closes the streams of removed runs. A subscriber still attached gets
// the finished record first; Finish is a no-op when the engine already sent it.
func (s *Service) drop(runs []*domain.Run) {
	for _, run := range runs {
		if err := s.broadcaster.Finish(run.RunID, run.FinishedRecord()); err != nil {
			s.logger.Debug("no stream to finish for removed run", "run_id", run.RunID, "error", err)
		}
		s.broadcaster.Drop(run.RunID)
	}
	s.metrics.Cleaned(len(runs))
}

// Export returns historical run summaries, newest first, optionally
// restricted to one scenario. Runs still in the registry report their live
// state.
func (s *Service) Export(ctx context.Context, scenario string) ([]domain.RunSummary, error) {
	scenario = strings.TrimSpace(scenario)

	live := make(map[string]domain.RunSummary)
	for _, r := range s.registry.List() {
		if scenario == "" || r.ScenarioName == scenario {
			live[r.RunID] = r.Summary()
		}
	}

	if s.store == nil {
		out := make([]domain.RunSummary, 0, len(live))
		for _, sum := range live {
			out = append(out, sum)
		}
		sortNewestFirst(out)
		return out, nil
	}

	stored, err := s.store.ListRunSummaries(ctx, scenario)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RunSummary, 0, len(stored))
	for _, sum := range stored {
		if l, ok := live[sum.RunID]; ok {
			sum = l
			delete(live, sum.RunID)
		}
		out = append(out, sum)
	}
	for _, sum := range live {
		out = append(out, sum)
	}
	sortNewestFirst(out)
	return out, nil
}

// SubscribeEvents attaches an observer to the run's event stream.
func (s *Service) SubscribeEvents(ctx context.Context, runID string) (*stream.Subscription[domain.StreamRecord], error) {
	if _, err := s.registry.Get(runID); err != nil {
		return nil, err
	}
	return s.broadcaster.SubscribeEvents(runID)
}

// SubscribeVideo attaches an observer to the run's video stream.
func (s *Service) SubscribeVideo(ctx context.Context, runID string) (*stream.Subscription[stream.Frame], error) {
	if _, err := s.registry.Get(runID); err != nil {
		return nil, err
	}
	return s.broadcaster.SubscribeFrames(runID)
}
