// Package repository persists run history.
package repository

import (
	"context"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
)

// Store defines the interface for run history persistence.
type Store interface {
	// SaveRun inserts the run or replaces its stored state.
	SaveRun(ctx context.Context, run *domain.Run) error
	// UpdateRating stores a human rating on a saved run.
	UpdateRating(ctx context.Context, runID string, rating int) error
	// ListRunSummaries returns saved runs, newest first, optionally
	// restricted to one scenario.
	ListRunSummaries(ctx context.Context, scenario string) ([]domain.RunSummary, error)
	// Ping checks the database connection.
	Ping(ctx context.Context) error
	// Close releases the database.
	Close() error
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
