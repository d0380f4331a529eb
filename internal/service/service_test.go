package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/scenarios/internal/adapter/pipeline"
	"github.com/xiaot623/gogo/scenarios/internal/catalog"
	"github.com/xiaot623/gogo/scenarios/internal/config"
	"github.com/xiaot623/gogo/scenarios/internal/domain"
	"github.com/xiaot623/gogo/scenarios/internal/logging"
	"github.com/xiaot623/gogo/scenarios/internal/metrics"
	"github.com/xiaot623/gogo/scenarios/internal/playback"
	"github.com/xiaot623/gogo/scenarios/internal/policy"
	"github.com/xiaot623/gogo/scenarios/internal/registry"
	"github.com/xiaot623/gogo/scenarios/internal/scoring"
	"github.com/xiaot623/gogo/scenarios/internal/stream"
	"github.com/xiaot623/gogo/scenarios/tests/helpers"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.PlaybackSpeed = 50
	cfg.SettleSeconds = 0.2
	cfg.VideoFPS = 20
	cfg.RunTimeoutGrace = time.Second
	cfg.RunRetention = time.Minute

	cat, err := catalog.Builtin()
	require.NoError(t, err)
	verdicts, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)

	db := helpers.NewTestSQLiteStore(t)
	m := metrics.New()
	bc := stream.NewBroadcaster(stream.WithBuffer(cfg.SubscriberBuffer), stream.WithObserver(m))
	p := &pipeline.MockPipeline{}
	engine := playback.NewEngine(playback.Options{
		Speed:         cfg.PlaybackSpeed,
		Settle:        cfg.SettleSeconds,
		FPS:           cfg.VideoFPS,
		TimeoutFactor: cfg.RunTimeoutFactor,
		TimeoutGrace:  cfg.RunTimeoutGrace,
	}, p, bc, scoring.New(cfg.ScoringTolerance), verdicts, db, m, logging.Discard())

	svc := New(cat, registry.New(), bc, engine, db, p, m, cfg, logging.Discard())
	t.Cleanup(func() {
		waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Wait(waitCtx)
	})
	return svc
}

func waitTerminal(t *testing.T, svc *Service, runID string) *domain.Run {
	t.Helper()
	var run *domain.Run
	require.Eventually(t, func() bool {
		got, err := svc.GetRun(context.Background(), runID)
		if err != nil {
			return false
		}
		run = got
		return got.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return run
}

func start(t *testing.T, svc *Service, name string) string {
	t.Helper()
	resp, err := svc.StartRun(context.Background(), domain.StartRunRequest{Name: name})
	require.NoError(t, err)
	return resp.RunID
}

func TestStartRunValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.StartRun(ctx, domain.StartRunRequest{Name: "  "})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = svc.StartRun(ctx, domain.StartRunRequest{Name: "no_such_scenario"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	assert.Empty(t, svc.ListRuns(ctx))
}

func TestRunCompletesWithValidScore(t *testing.T) {
	svc := newTestService(t)
	resp, err := svc.StartRun(context.Background(), domain.StartRunRequest{Name: "package_delivery"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusQueued, resp.Status)
	assert.Equal(t, "package_delivery", resp.Scenario)

	run := waitTerminal(t, svc, resp.RunID)
	require.Equal(t, domain.RunStatusCompleted, run.Status)
	require.NotNil(t, run.Score)
	assert.Equal(t, 3, run.Score.TotalExpected)
	assert.Equal(t, 3, run.Score.Matched)
	assert.Len(t, run.Score.Details, run.Score.TotalExpected)
	assert.GreaterOrEqual(t, run.Score.TotalScore, 0.0)
	assert.LessOrEqual(t, run.Score.TotalScore, 1.0)
	assert.Len(t, run.Actions, 3)

	// the mock answers instantly, so latency is bounded by a few
	// milliseconds of scheduling scaled by the playback speed
	bound := (5 * time.Millisecond).Seconds() * svc.config.PlaybackSpeed
	for _, d := range run.Score.Details {
		require.True(t, d.Matched)
		require.NotNil(t, d.Latency)
		assert.LessOrEqual(t, *d.Latency, bound)
	}
	assert.LessOrEqual(t, run.Score.AvgResponseLatency, bound)
	assert.Equal(t, domain.VerdictPass, run.Verdict)
}

func TestConcurrentStartsAreIndependent(t *testing.T) {
	svc := newTestService(t)
	names := []string{"package_delivery", "vehicle_arrival", "pet_in_yard"}

	ids := make([]string, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			resp, err := svc.StartRun(context.Background(), domain.StartRunRequest{Name: name})
			if err != nil {
				t.Errorf("StartRun(%s): %v", name, err)
				return
			}
			ids[i] = resp.RunID
		}(i, name)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id])
		seen[id] = true

		run := waitTerminal(t, svc, id)
		assert.Equal(t, names[i], run.ScenarioName)
		if run.Status == domain.RunStatusCompleted {
			require.NotNil(t, run.Score)
			assert.LessOrEqual(t, run.Score.Matched, run.Score.TotalExpected)
			assert.Len(t, run.Score.Details, run.Score.TotalExpected)
		}
	}
}

func TestRateRun(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	runID := start(t, svc, "pet_in_yard")

	_, err := svc.RateRun(ctx, runID, domain.RateRunRequest{Rating: json.RawMessage(`3`)})
	if err == nil {
		// the run may already be done on a fast machine
		run, _ := svc.GetRun(ctx, runID)
		require.Equal(t, domain.RunStatusCompleted, run.Status)
	} else {
		assert.True(t, errors.Is(err, domain.ErrValidation), "rating a running run")
	}

	waitTerminal(t, svc, runID)
	resp, err := svc.RateRun(ctx, runID, domain.RateRunRequest{Rating: json.RawMessage(`3`)})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, 3, resp.HumanRating)

	run, err := svc.GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, run.HumanRating)
	assert.Equal(t, 3, *run.HumanRating)

	exported, err := svc.Export(ctx, "pet_in_yard")
	require.NoError(t, err)
	require.Len(t, exported, 1)
	require.NotNil(t, exported[0].HumanRating)
	assert.Equal(t, 3, *exported[0].HumanRating)

	for _, bad := range []string{`0`, `99`, `"three"`} {
		_, err := svc.RateRun(ctx, runID, domain.RateRunRequest{Rating: json.RawMessage(bad)})
		assert.True(t, errors.Is(err, domain.ErrValidation), "rating %s", bad)
	}
	_, err = svc.RateRun(ctx, "run_missing", domain.RateRunRequest{Rating: json.RawMessage(`3`)})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestParseRating(t *testing.T) {
	valid := map[string]int{`1`: 1, `3`: 3, ` 5 `: 5}
	for raw, want := range valid {
		got, err := ParseRating(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}

	invalid := []string{``, `null`, `0`, `6`, `99`, `-1`, `3.5`, `3.0`, `"3"`, `true`, `[3]`, `{"v":3}`, `abc`}
	for _, raw := range invalid {
		_, err := ParseRating(json.RawMessage(raw))
		assert.True(t, errors.Is(err, domain.ErrValidation), "rating %q should be rejected", raw)
	}
}

func TestCleanupKeepsHistory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	done := start(t, svc, "quiet_street")
	waitTerminal(t, svc, done)

	resp := svc.Cleanup(ctx)
	assert.Equal(t, 1, resp.Cleaned)

	_, err := svc.GetRun(ctx, done)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = svc.SubscribeEvents(ctx, done)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = svc.SubscribeVideo(ctx, done)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	exported, err := svc.Export(ctx, "")
	require.NoError(t, err)
	require.Len(t, exported, 1)
	assert.Equal(t, done, exported[0].RunID)
	assert.Equal(t, domain.RunStatusCompleted, exported[0].Status)
	assert.NotNil(t, exported[0].Score)

	assert.Equal(t, 0, svc.Cleanup(ctx).Cleaned)
}

func TestCleanupSparesActiveRuns(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	active := start(t, svc, "intruder_night")
	resp := svc.Cleanup(ctx)
	assert.Equal(t, 0, resp.Cleaned)

	_, err := svc.GetRun(ctx, active)
	assert.NoError(t, err)
	waitTerminal(t, svc, active)
}

func TestExportFilterAndLiveState(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a := start(t, svc, "package_delivery")
	b := start(t, svc, "vehicle_arrival")

	live, err := svc.Export(ctx, "")
	require.NoError(t, err)
	assert.Len(t, live, 2)

	waitTerminal(t, svc, a)
	waitTerminal(t, svc, b)

	filtered, err := svc.Export(ctx, "vehicle_arrival")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, b, filtered[0].RunID)
	assert.NotNil(t, filtered[0].Score)

	none, err := svc.Export(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSubscribeEventsSeesFinished(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	runID := start(t, svc, "vehicle_arrival")

	sub, err := svc.SubscribeEvents(ctx, runID)
	require.NoError(t, err)

	var records []domain.StreamRecord
	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = stream.DrainEvents(drainCtx, sub, func(rec domain.StreamRecord) error {
		records = append(records, rec)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, records)

	finished := 0
	for _, rec := range records {
		assert.Contains(t, []domain.RecordType{domain.RecordTypeAction, domain.RecordTypeFinished}, rec.Type)
		if rec.Type == domain.RecordTypeFinished {
			finished++
		}
	}
	assert.Equal(t, 1, finished)
	assert.Equal(t, domain.RecordTypeFinished, records[len(records)-1].Type)

	_, err = svc.SubscribeEvents(ctx, "run_missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

// A run can reach its terminal state in the registry before the engine
// publishes the finished record. Removing it in that window must still
// deliver the outcome to attached subscribers.
func TestCleanupFinishesOpenStreams(t *testing.T) {
	for _, tc := range []struct {
		name   string
		remove func(svc *Service) int
	}{
		{"cleanup", func(svc *Service) int { return svc.Cleanup(context.Background()).Cleaned }},
		{"retention", func(svc *Service) int { return svc.sweepExpiredRuns(time.Now().Add(2 * time.Minute)) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(t)
			ctx := context.Background()

			run := svc.registry.Create("package_delivery")
			svc.broadcaster.Open(run.RunID)
			h, err := svc.registry.Acquire(run.RunID)
			require.NoError(t, err)
			_, err = h.MarkRunning()
			require.NoError(t, err)

			sub, err := svc.SubscribeEvents(ctx, run.RunID)
			require.NoError(t, err)

			_, err = h.Complete(&domain.Score{Details: []domain.MatchDetail{}}, domain.VerdictPass)
			require.NoError(t, err)
			h.Release()

			assert.Equal(t, 1, tc.remove(svc))

			var records []domain.StreamRecord
			drainCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			err = stream.DrainEvents(drainCtx, sub, func(rec domain.StreamRecord) error {
				records = append(records, rec)
				return nil
			})
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, domain.RecordTypeFinished, records[0].Type)
			assert.Equal(t, domain.RunStatusCompleted, records[0].Status)
			assert.Equal(t, domain.VerdictPass, records[0].Verdict)
			assert.Equal(t, run.RunID, records[0].RunID)
		})
	}
}

func TestRetentionSweep(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	runID := start(t, svc, "quiet_street")
	waitTerminal(t, svc, runID)

	assert.Equal(t, 0, svc.sweepExpiredRuns(time.Now()))
	assert.Equal(t, 1, svc.sweepExpiredRuns(time.Now().Add(2*time.Minute)))

	_, err := svc.GetRun(ctx, runID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRetentionSweeperDisabled(t *testing.T) {
	svc := newTestService(t)
	svc.config.RunRetention = 0

	done := make(chan struct{})
	go func() {
		svc.RunRetentionSweeper(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper should return when retention is disabled")
	}
}

func TestHealth(t *testing.T) {
	svc := newTestService(t)
	report := svc.Health(context.Background())
	assert.Equal(t, "healthy", report.Status)
	assert.Equal(t, "ok", report.Pipeline)
	assert.Equal(t, "ok", report.Database)
}

func TestListScenarios(t *testing.T) {
	svc := newTestService(t)
	list := svc.ListScenarios(context.Background())
	require.NotEmpty(t, list)
	names := make([]string, 0, len(list))
	for _, s := range list {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "package_delivery")

	sc, err := svc.GetScenario(context.Background(), "quiet_street")
	require.NoError(t, err)
	assert.Empty(t, sc.ExpectedEvents)
}
