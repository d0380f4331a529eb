package service

import (
	"context"
	"time"
)

// RunRetentionSweeper removes terminal runs older than the configured
// retention. It returns immediately when retention is disabled.
func (s *Service) RunRetentionSweeper(ctx context.Context) {
	retention := s.config.RunRetention
	if retention <= 0 {
		return
	}
	interval := retention / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpiredRuns(time.Now())
		}
	}
}

func (s *Service) sweepExpiredRuns(now time.Time) int {
	removed := s.registry.CleanupFinishedBefore(now.Add(-s.config.RunRetention))
	if len(removed) == 0 {
		return 0
	}
	s.drop(removed)
	s.logger.Info("retention sweep removed runs", "count", len(removed), "retention", s.config.RunRetention)
	return len(removed)
}
