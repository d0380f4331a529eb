// Package registry is the authoritative in-memory table of runs.
//
// Every lifecycle transition goes through the registry. The table itself is
// guarded by a read-write lock and every run record has its own mutex, so
// writes to one run never wait on writes to another. The playback engine
// mutates a run only through a Handle; at most one Handle per run exists at a
// time.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
)

// MinRating and MaxRating bound human ratings.
const (
	MinRating = 1
	MaxRating = 5
)

type record struct {
	mu     sync.Mutex
	run    *domain.Run
	handle bool
}

// Registry maps run ids to run state.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*record
	now  func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		runs: make(map[string]*record),
		now:  time.Now,
	}
}

// NewRunID returns a fresh, globally unique run id.
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// Create registers a queued run for the scenario and returns its snapshot.
func (r *Registry) Create(scenarioName string) *domain.Run {
	run := &domain.Run{
		RunID:        NewRunID(),
		ScenarioName: scenarioName,
		Status:       domain.RunStatusQueued,
		CreatedAt:    r.now(),
		Actions:      []domain.Action{},
	}

	r.mu.Lock()
	r.runs[run.RunID] = &record{run: run}
	r.mu.Unlock()

	return run.Clone()
}

func (r *Registry) lookup(runID string) (*record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.runs[runID]
	return rec, ok
}

// Get returns an immutable snapshot of the run.
func (r *Registry) Get(runID string) (*domain.Run, error) {
	rec, ok := r.lookup(runID)
	if !ok {
		return nil, domain.NotFoundf("run %q", runID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.run.Clone(), nil
}

// List returns snapshots of every run, oldest first.
func (r *Registry) List() []*domain.Run {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.runs))
	for _, rec := range r.runs {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]*domain.Run, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.run.Clone())
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of runs held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

// Rate stores a human rating on a completed run.
// A missing run, a run that is not completed, or a rating outside
// [MinRating, MaxRating] is a validation failure.
func (r *Registry) Rate(runID string, rating int) (*domain.Run, error) {
	if rating < MinRating || rating > MaxRating {
		return nil, domain.Validationf("rating must be an integer between %d and %d", MinRating, MaxRating)
	}
	rec, ok := r.lookup(runID)
	if !ok {
		return nil, domain.Validationf("run %q does not exist", runID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.run.Status != domain.RunStatusCompleted {
		return nil, domain.Validationf("run %q is %s, only completed runs can be rated", runID, rec.run.Status)
	}
	rec.run.HumanRating = &rating
	return rec.run.Clone(), nil
}

// Cleanup removes every terminal run and returns final snapshots of the
// removed runs, ordered by run id.
func (r *Registry) Cleanup() []*domain.Run {
	return r.removeTerminal(func(*domain.Run) bool { return true })
}

// CleanupFinishedBefore removes terminal runs that finished before cutoff.
func (r *Registry) CleanupFinishedBefore(cutoff time.Time) []*domain.Run {
	return r.removeTerminal(func(run *domain.Run) bool {
		return run.FinishedAt != nil && run.FinishedAt.Before(cutoff)
	})
}

func (r *Registry) removeTerminal(match func(*domain.Run) bool) []*domain.Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*domain.Run
	for id, rec := range r.runs {
		rec.mu.Lock()
		drop := rec.run.Status.IsTerminal() && match(rec.run)
		if drop {
			removed = append(removed, rec.run.Clone())
		}
		rec.mu.Unlock()
		if drop {
			delete(r.runs, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].RunID < removed[j].RunID })
	return removed
}

// Acquire returns the mutation handle for a run. Only one handle may be held
// per run; a second Acquire fails with ErrRunBusy until Release is called.
func (r *Registry) Acquire(runID string) (*Handle, error) {
	rec, ok := r.lookup(runID)
	if !ok {
		return nil, domain.NotFoundf("run %q", runID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.handle {
		return nil, domain.ErrRunBusy
	}
	if rec.run.Status.IsTerminal() {
		return nil, domain.ErrTerminal
	}
	rec.handle = true
	return &Handle{reg: r, rec: rec, runID: runID}, nil
}

// Handle is the single-writer view of one run.
type Handle struct {
	reg      *Registry
	rec      *record
	runID    string
	released bool
}

// RunID returns the id of the run the handle mutates.
func (h *Handle) RunID() string {
	return h.runID
}

// MarkRunning moves a queued run to running.
func (h *Handle) MarkRunning() (*domain.Run, error) {
	return h.transition(domain.RunStatusRunning, func(run *domain.Run) {
		now := h.reg.now()
		run.StartedAt = &now
	})
}

// AppendAction appends a produced action and returns its index.
func (h *Handle) AppendAction(a domain.Action) (int, error) {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if h.released {
		return 0, domain.ErrRunBusy
	}
	if h.rec.run.Status.IsTerminal() {
		return 0, domain.ErrTerminal
	}
	if h.rec.run.Status != domain.RunStatusRunning {
		return 0, domain.Validationf("run %q is %s, actions need a running run", h.runID, h.rec.run.Status)
	}
	if a.ProducedAt.IsZero() {
		a.ProducedAt = h.reg.now()
	}
	h.rec.run.Actions = append(h.rec.run.Actions, a)
	return len(h.rec.run.Actions) - 1, nil
}

// Actions returns a copy of the actions recorded so far.
func (h *Handle) Actions() []domain.Action {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	return h.rec.run.Clone().Actions
}

// Snapshot returns an immutable copy of the run.
func (h *Handle) Snapshot() *domain.Run {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	return h.rec.run.Clone()
}

// Complete stores the score and moves the run to completed.
func (h *Handle) Complete(score *domain.Score, verdict domain.Verdict) (*domain.Run, error) {
	return h.transition(domain.RunStatusCompleted, func(run *domain.Run) {
		now := h.reg.now()
		run.FinishedAt = &now
		if score != nil {
			run.Score = score.Clone()
		}
		run.Verdict = verdict
	})
}

// Fail records the error and moves the run to failed. The score stays nil.
func (h *Handle) Fail(runErr domain.RunError) (*domain.Run, error) {
	return h.transition(domain.RunStatusFailed, func(run *domain.Run) {
		now := h.reg.now()
		run.FinishedAt = &now
		e := runErr
		run.Error = &e
	})
}

func (h *Handle) transition(next domain.RunStatus, apply func(*domain.Run)) (*domain.Run, error) {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if h.released {
		return nil, domain.ErrRunBusy
	}
	cur := h.rec.run.Status
	if cur.IsTerminal() {
		return nil, domain.ErrTerminal
	}
	if !cur.CanTransition(next) {
		return nil, domain.Validationf("run %q cannot move from %s to %s", h.runID, cur, next)
	}
	h.rec.run.Status = next
	apply(h.rec.run)
	return h.rec.run.Clone(), nil
}

// Release gives up the handle. Writes through a released handle fail with
// ErrRunBusy. It is safe to call more than once.
func (h *Handle) Release() {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.rec.handle = false
}
