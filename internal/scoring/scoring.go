// Package scoring compares the actions produced during a run with the
// scenario's expected events.
package scoring

import (
	"math"
	"sort"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
)

const (
	// DefaultTolerance is the matching window in seconds of virtual time.
	DefaultTolerance = 2.0

	accuracyWeight = 0.7
	latencyWeight  = 0.3
)

// Scorer computes scores. The zero value uses DefaultTolerance.
type Scorer struct {
	Tolerance float64
}

// New returns a scorer with the given tolerance window.
func New(tolerance float64) *Scorer {
	return &Scorer{Tolerance: tolerance}
}

func (s *Scorer) tolerance() float64 {
	if s == nil || s.Tolerance <= 0 {
		return DefaultTolerance
	}
	return s.Tolerance
}

// Score matches actions to expected events with nearest-time greedy matching.
// Expected events are visited in increasing offset order; each claims the
// closest unclaimed action of the same type within the tolerance window.
// Ties go to the earlier action. details[i] always corresponds to expected[i].
func (s *Scorer) Score(expected []domain.ExpectedEvent, actions []domain.Action) *domain.Score {
	tol := s.tolerance()

	score := &domain.Score{
		TotalExpected: len(expected),
		Details:       make([]domain.MatchDetail, len(expected)),
	}
	for i, e := range expected {
		score.Details[i] = domain.MatchDetail{Expected: e}
	}

	claimed := make([]bool, len(actions))
	var latencySum float64

	for _, ei := range offsetOrder(expected) {
		e := expected[ei]
		best := -1
		bestDiff := math.Inf(1)
		for ai, a := range actions {
			if claimed[ai] || a.Type != e.Type {
				continue
			}
			diff := math.Abs(a.Offset - e.Offset)
			if diff > tol || math.IsNaN(diff) {
				continue
			}
			if diff < bestDiff {
				best, bestDiff = ai, diff
			}
		}
		if best < 0 {
			continue
		}
		claimed[best] = true
		idx, lat := best, bestDiff
		score.Details[ei].Matched = true
		score.Details[ei].ActionIndex = &idx
		score.Details[ei].Latency = &lat
		score.Matched++
		latencySum += bestDiff
	}

	if score.TotalExpected == 0 {
		score.DetectionAccuracy = 1.0
	} else {
		score.DetectionAccuracy = float64(score.Matched) / float64(score.TotalExpected)
	}
	if score.Matched > 0 {
		score.AvgResponseLatency = latencySum / float64(score.Matched)
	}
	score.TotalScore = blend(score.DetectionAccuracy, score.AvgResponseLatency, tol)
	return score
}

// blend is accuracy scaled by a latency credit. It equals the mean, over all
// expected events, of a per-match credit accuracyWeight+latencyWeight*(1-lat/tol),
// so adding a match or lowering any latency never lowers the result.
func blend(accuracy, avgLatency, tol float64) float64 {
	latencyCredit := 1 - avgLatency/tol
	total := accuracy * (accuracyWeight + latencyWeight*clamp01(latencyCredit))
	return clamp01(total)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// offsetOrder returns indexes of expected sorted by offset, stable on ties.
func offsetOrder(expected []domain.ExpectedEvent) []int {
	order := make([]int, len(expected))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return expected[order[i]].Offset < expected[order[j]].Offset
	})
	return order
}
