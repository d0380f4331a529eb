// Package playback drives scenario runs against the detection pipeline.
package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/xiaot623/gogo/scenarios/internal/adapter/pipeline"
	"github.com/xiaot623/gogo/scenarios/internal/domain"
	"github.com/xiaot623/gogo/scenarios/internal/logging"
	"github.com/xiaot623/gogo/scenarios/internal/metrics"
	"github.com/xiaot623/gogo/scenarios/internal/policy"
	"github.com/xiaot623/gogo/scenarios/internal/registry"
	"github.com/xiaot623/gogo/scenarios/internal/scoring"
	"github.com/xiaot623/gogo/scenarios/internal/stream"
)

// labelWindow is how long, in virtual seconds, an expected event stays in view.
const labelWindow = 1.5

// Verdicts evaluates the policy verdict of a scored run.
type Verdicts interface {
	Evaluate(ctx context.Context, scenario string, score *domain.Score) (policy.Decision, error)
}

// Recorder persists terminal runs.
type Recorder interface {
	SaveRun(ctx context.Context, run *domain.Run) error
}

// Options tunes playback timing.
type Options struct {
	Speed         float64
	Settle        float64
	FPS           int
	TimeoutFactor float64
	TimeoutGrace  time.Duration
}

// Engine executes runs. One Engine serves every run; each call to Run drives
// a single run on the calling goroutine.
type Engine struct {
	pipeline    pipeline.Pipeline
	broadcaster *stream.Broadcaster
	scorer      *scoring.Scorer
	verdicts    Verdicts
	recorder    Recorder
	renderer    *stream.Renderer
	metrics     *metrics.Metrics
	logger      *slog.Logger
	opts        Options
}

// NewEngine creates a playback engine. verdicts, recorder and m may be nil.
func NewEngine(opts Options, p pipeline.Pipeline, b *stream.Broadcaster, scorer *scoring.Scorer, verdicts Verdicts, recorder Recorder, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	if opts.FPS <= 0 {
		opts.FPS = 5
	}
	if opts.TimeoutFactor < 1 {
		opts.TimeoutFactor = 1
	}
	if scorer == nil {
		scorer = scoring.New(scoring.DefaultTolerance)
	}
	return &Engine{
		pipeline:    p,
		broadcaster: b,
		scorer:      scorer,
		verdicts:    verdicts,
		recorder:    recorder,
		renderer:    stream.NewRenderer(),
		metrics:     m,
		logger:      logging.OrDiscard(logger),
		opts:        opts,
	}
}

// Timeout returns the wall-clock bound on a run of sc.
func (e *Engine) Timeout(sc *domain.Scenario) time.Duration {
	virtual := sc.Duration + e.opts.Settle
	wall := time.Duration(virtual / e.opts.Speed * float64(time.Second))
	return time.Duration(float64(wall)*e.opts.TimeoutFactor) + e.opts.TimeoutGrace
}

// Run drives the run held by h to a terminal state and returns its final
// snapshot. The handle is released on return. Failures of any kind end in a
// failed run; Run never panics.
func (e *Engine) Run(ctx context.Context, h *registry.Handle, sc *domain.Scenario) (final *domain.Run) {
	defer h.Release()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("playback panicked", "run_id", h.RunID(), "panic", r)
			final = e.finish(h, sc, nil, &domain.RunError{
				Code:    domain.RunErrorInternal,
				Message: fmt.Sprintf("playback panicked: %v", r),
			})
		}
	}()

	score, runErr := e.play(ctx, h, sc)
	return e.finish(h, sc, score, runErr)
}

func (e *Engine) play(ctx context.Context, h *registry.Handle, sc *domain.Scenario) (*domain.Score, *domain.RunError) {
	runID := h.RunID()
	if _, err := h.MarkRunning(); err != nil {
		return nil, &domain.RunError{Code: domain.RunErrorInternal, Message: err.Error()}
	}

	timeout := e.Timeout(sc)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clk := newClock(e.opts.Speed)
	e.logger.Info("run started", "run_id", runID, "scenario", sc.Name, "timeout", timeout)

	videoCtx, stopVideo := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.publishVideo(videoCtx, runID, sc, clk)
	}()
	defer func() {
		stopVideo()
		wg.Wait()
	}()

	for i, ev := range sc.ExpectedEvents {
		// render ahead of the offset so the stimulus goes out on schedule
		frame, err := e.renderer.Render(sceneFor(sc, ev.Offset))
		if err != nil {
			return nil, e.classify(err, timeout)
		}
		if err := clk.SleepUntil(ctx, ev.Offset); err != nil {
			return nil, e.classify(err, timeout)
		}
		if err := e.submit(ctx, h, sc, i, ev, frame, clk); err != nil {
			return nil, e.classify(err, timeout)
		}
	}

	if err := clk.SleepUntil(ctx, sc.Duration+e.opts.Settle); err != nil {
		return nil, e.classify(err, timeout)
	}

	return e.scorer.Score(sc.ExpectedEvents, h.Actions()), nil
}

// submit sends one stimulus and records every detection as an action. An
// action is stamped at the event's offset plus the time the pipeline took to
// answer, so only the detector's latency is scored.
func (e *Engine) submit(ctx context.Context, h *registry.Handle, sc *domain.Scenario, index int, ev domain.ExpectedEvent, frame []byte, clk *clock) error {
	runID := h.RunID()
	stim := pipeline.Stimulus{
		RunID:    runID,
		Scenario: sc.Name,
		Index:    index,
		Type:     ev.Type,
		Offset:   ev.Offset,
		Payload:  ev.Payload,
		Frame:    frame,
	}
	start := time.Now()
	detections, err := e.pipeline.Detect(ctx, stim)
	took := time.Since(start)
	e.metrics.PipelineCall(outcome(err), took)
	if err != nil {
		return err
	}

	offset := roundMillis(ev.Offset + clk.span(took))
	for _, d := range detections {
		action := domain.Action{
			Type:       d.Type,
			Offset:     offset,
			Payload:    d.Payload,
			Confidence: d.Confidence,
			ProducedAt: time.Now(),
		}
		if _, err := h.AppendAction(action); err != nil {
			return err
		}
		if err := e.broadcaster.PublishEvent(runID, domain.StreamRecord{Type: domain.RecordTypeAction, Action: &action}); err != nil {
			e.logger.Warn("failed to publish action", "run_id", runID, "error", err)
		}
	}
	e.logger.Debug("stimulus answered", "run_id", runID, "index", index, "type", ev.Type, "detections", len(detections), "offset", offset)
	return nil
}

// publishVideo pushes frames at the configured rate until ctx ends.
func (e *Engine) publishVideo(ctx context.Context, runID string, sc *domain.Scenario, clk *clock) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("video publisher panicked", "run_id", runID, "panic", r)
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(e.opts.FPS))
	defer ticker.Stop()

	for {
		frame, err := e.renderer.Render(sceneFor(sc, clk.Offset()))
		if err != nil {
			e.logger.Warn("failed to render frame", "run_id", runID, "error", err)
		} else if err := e.broadcaster.PublishFrame(runID, frame); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// finish moves the run to its terminal state, announces it and persists it.
func (e *Engine) finish(h *registry.Handle, sc *domain.Scenario, score *domain.Score, runErr *domain.RunError) *domain.Run {
	runID := h.RunID()

	var run *domain.Run
	var err error
	if runErr == nil {
		run, err = h.Complete(score, e.verdict(runID, sc, score))
	} else {
		run, err = h.Fail(*runErr)
	}
	if err != nil {
		e.logger.Error("failed to record terminal state", "run_id", runID, "error", err)
		run = h.Snapshot()
	}

	if err := e.broadcaster.Finish(runID, run.FinishedRecord()); err != nil {
		e.logger.Warn("failed to publish finished record", "run_id", runID, "error", err)
	}
	e.metrics.RunFinished(run)

	if e.recorder != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.recorder.SaveRun(saveCtx, run); err != nil {
			e.logger.Error("failed to persist run", "run_id", runID, "error", err)
		}
	}

	if run.Error != nil {
		e.logger.Warn("run failed", "run_id", runID, "code", run.Error.Code, "message", run.Error.Message)
	} else if run.Score != nil {
		e.logger.Info("run completed", "run_id", runID, "score", run.Score.TotalScore, "matched", run.Score.Matched, "verdict", run.Verdict)
	}
	return run
}

func (e *Engine) verdict(runID string, sc *domain.Scenario, score *domain.Score) domain.Verdict {
	if e.verdicts == nil || sc == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := e.verdicts.Evaluate(ctx, sc.Name, score)
	if err != nil {
		e.logger.Warn("verdict evaluation failed", "run_id", runID, "error", err)
		return ""
	}
	return d.Verdict
}

// classify maps a playback error onto the run error recorded on the run.
func (e *Engine) classify(err error, timeout time.Duration) *domain.RunError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.RunError{Code: domain.RunErrorTimeout, Message: fmt.Sprintf("run exceeded %s", timeout)}
	case errors.Is(err, domain.ErrUnavailable):
		return &domain.RunError{Code: domain.RunErrorUnavailable, Message: err.Error()}
	case errors.Is(err, domain.ErrTerminal), errors.Is(err, domain.ErrValidation), errors.Is(err, context.Canceled):
		return &domain.RunError{Code: domain.RunErrorInternal, Message: err.Error()}
	default:
		return &domain.RunError{Code: domain.RunErrorPipeline, Message: err.Error()}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, domain.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// sceneFor describes what the camera shows at offset.
func sceneFor(sc *domain.Scenario, offset float64) stream.Scene {
	s := stream.Scene{
		Offset:   offset,
		Duration: sc.Duration,
		Night:    strings.Contains(sc.Name, "night"),
	}
	for _, ev := range sc.ExpectedEvents {
		if ev.Offset <= offset && offset-ev.Offset < labelWindow {
			s.Label = ev.Type
			s.Zone = zoneOf(ev)
		}
	}
	return s
}

func zoneOf(ev domain.ExpectedEvent) string {
	if len(ev.Payload) == 0 {
		return ""
	}
	var p struct {
		Zone string `json:"zone"`
	}
	_ = json.Unmarshal(ev.Payload, &p)
	return p.Zone
}
