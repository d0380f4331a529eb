package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"
)

// MockPipeline is a deterministic simulated detector. The same run id and
// stimulus index always yield the same detections.
type MockPipeline struct {
	// Latency is the base time taken to answer a stimulus.
	Latency time.Duration
	// Jitter is added on top of Latency, scaled by a per-stimulus factor in [0,1).
	Jitter time.Duration
	// MissRate is the probability that an expected object goes undetected.
	MissRate float64
	// FalsePositiveRate is the probability of an extra, unrelated detection.
	FalsePositiveRate float64

	mu    sync.Mutex
	calls int
}

// NewMockPipeline creates a simulated pipeline with realistic defaults.
func NewMockPipeline() *MockPipeline {
	return &MockPipeline{
		Latency:           40 * time.Millisecond,
		Jitter:            80 * time.Millisecond,
		MissRate:          0.05,
		FalsePositiveRate: 0.05,
	}
}

// Ensure MockPipeline implements Pipeline interface.
var _ Pipeline = (*MockPipeline)(nil)

var falsePositiveTypes = []string{"shadow_motion", "foliage_motion", "headlight_glare"}

// Detect simulates the pipeline answering one stimulus.
func (m *MockPipeline) Detect(ctx context.Context, s Stimulus) ([]Detection, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	rng := rand.New(rand.NewPCG(seed(s.RunID), uint64(s.Index)))

	delay := m.Latency
	if m.Jitter > 0 {
		delay += time.Duration(rng.Float64() * float64(m.Jitter))
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	detections := []Detection{}
	if rng.Float64() >= m.MissRate {
		detections = append(detections, Detection{
			Type:       s.Type,
			Confidence: 0.75 + rng.Float64()*0.24,
			Payload:    s.Payload,
		})
	}
	if rng.Float64() < m.FalsePositiveRate {
		kind := falsePositiveTypes[rng.IntN(len(falsePositiveTypes))]
		payload, _ := json.Marshal(map[string]string{"note": fmt.Sprintf("simulated %s", kind)})
		detections = append(detections, Detection{
			Type:       kind,
			Confidence: 0.3 + rng.Float64()*0.3,
			Payload:    payload,
		})
	}
	return detections, nil
}

// Health always succeeds.
func (m *MockPipeline) Health(ctx context.Context) error {
	return nil
}

// Calls returns how many stimuli the mock has answered.
func (m *MockPipeline) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func seed(runID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(runID))
	return h.Sum64()
}
