package scoring

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
)

func ev(typ string, offset float64) domain.ExpectedEvent {
	return domain.ExpectedEvent{Type: typ, Offset: offset}
}

func act(typ string, offset float64) domain.Action {
	return domain.Action{Type: typ, Offset: offset}
}

func assertInvariants(t *testing.T, s *domain.Score, expected int) {
	t.Helper()
	assert.LessOrEqual(t, s.Matched, s.TotalExpected)
	assert.Equal(t, expected, s.TotalExpected)
	assert.Len(t, s.Details, s.TotalExpected)
	assert.GreaterOrEqual(t, s.TotalScore, 0.0)
	assert.LessOrEqual(t, s.TotalScore, 1.0)
	assert.GreaterOrEqual(t, s.DetectionAccuracy, 0.0)
	assert.LessOrEqual(t, s.DetectionAccuracy, 1.0)
	assert.GreaterOrEqual(t, s.AvgResponseLatency, 0.0)
}

func TestScorePerfectRun(t *testing.T) {
	expected := []domain.ExpectedEvent{ev("person", 1), ev("package", 3)}
	actions := []domain.Action{act("person", 1), act("package", 3)}

	s := New(2).Score(expected, actions)
	assertInvariants(t, s, 2)
	assert.Equal(t, 2, s.Matched)
	assert.Equal(t, 1.0, s.DetectionAccuracy)
	assert.Equal(t, 0.0, s.AvgResponseLatency)
	assert.InDelta(t, 1.0, s.TotalScore, 1e-9)
	for _, d := range s.Details {
		assert.True(t, d.Matched)
		require.NotNil(t, d.Latency)
	}
}

func TestScoreNoActions(t *testing.T) {
	expected := []domain.ExpectedEvent{ev("person", 1), ev("package", 3)}

	s := New(2).Score(expected, nil)
	assertInvariants(t, s, 2)
	assert.Equal(t, 0, s.Matched)
	assert.Equal(t, 0.0, s.DetectionAccuracy)
	assert.Equal(t, 0.0, s.AvgResponseLatency)
	assert.Equal(t, 0.0, s.TotalScore)
	assert.False(t, s.Details[0].Matched)
	assert.Nil(t, s.Details[0].ActionIndex)
}

func TestScoreEmptyScript(t *testing.T) {
	s := New(2).Score(nil, []domain.Action{act("person", 1)})
	assertInvariants(t, s, 0)
	assert.Equal(t, 1.0, s.DetectionAccuracy)
	assert.InDelta(t, 1.0, s.TotalScore, 1e-9)
	assert.NotNil(t, s.Details)
}

func TestScoreToleranceWindow(t *testing.T) {
	expected := []domain.ExpectedEvent{ev("person", 5)}

	inside := New(1).Score(expected, []domain.Action{act("person", 5.9)})
	assert.Equal(t, 1, inside.Matched)
	assert.InDelta(t, 0.9, inside.AvgResponseLatency, 1e-9)

	outside := New(1).Score(expected, []domain.Action{act("person", 6.5)})
	assert.Equal(t, 0, outside.Matched)

	early := New(1).Score(expected, []domain.Action{act("person", 4.5)})
	assert.Equal(t, 1, early.Matched, "absolute distance matches early detections too")
}

func TestScoreTypeMustMatch(t *testing.T) {
	s := New(2).Score([]domain.ExpectedEvent{ev("person", 1)}, []domain.Action{act("vehicle", 1)})
	assert.Equal(t, 0, s.Matched)
}

func TestScoreActionClaimedOnce(t *testing.T) {
	expected := []domain.ExpectedEvent{ev("person", 1), ev("person", 1.5)}
	actions := []domain.Action{act("person", 1.2)}

	s := New(2).Score(expected, actions)
	assert.Equal(t, 1, s.Matched)
	assert.True(t, s.Details[0].Matched, "earlier expected event claims first")
	assert.False(t, s.Details[1].Matched)
}

func TestScoreGreedyPicksNearest(t *testing.T) {
	expected := []domain.ExpectedEvent{ev("person", 2), ev("person", 4)}
	actions := []domain.Action{act("person", 3.9), act("person", 2.3), act("person", 1.0)}

	s := New(2).Score(expected, actions)
	require.Equal(t, 2, s.Matched)
	assert.Equal(t, 1, *s.Details[0].ActionIndex)
	assert.Equal(t, 0, *s.Details[1].ActionIndex)
	assert.InDelta(t, (0.3+0.1)/2, s.AvgResponseLatency, 1e-9)
}

// An optimal assignment would match both events (2->0.1, 4->3.0); greedy
// lets the first event take the nearer action and the second goes unmatched.
func TestScoreGreedyOutOfOrder(t *testing.T) {
	expected := []domain.ExpectedEvent{ev("person", 2), ev("person", 4)}
	actions := []domain.Action{act("person", 3.0), act("person", 0.1)}

	s := New(2).Score(expected, actions)
	assertInvariants(t, s, 2)
	assert.Equal(t, 1, s.Matched)
	require.NotNil(t, s.Details[0].ActionIndex)
	assert.Equal(t, 0, *s.Details[0].ActionIndex)
	assert.False(t, s.Details[1].Matched)
}

func TestScoreTieGoesToEarlierAction(t *testing.T) {
	s := New(2).Score([]domain.ExpectedEvent{ev("person", 2)}, []domain.Action{act("person", 1.5), act("person", 2.5)})
	require.Equal(t, 1, s.Matched)
	assert.Equal(t, 0, *s.Details[0].ActionIndex)
}

func TestScoreDetailsFollowScriptOrder(t *testing.T) {
	expected := []domain.ExpectedEvent{ev("b", 4), ev("a", 1)}
	s := New(2).Score(expected, []domain.Action{act("a", 1)})
	assert.Equal(t, "b", s.Details[0].Expected.Type)
	assert.False(t, s.Details[0].Matched)
	assert.True(t, s.Details[1].Matched)
}

func TestScoreZeroValueScorer(t *testing.T) {
	var s Scorer
	got := s.Score([]domain.ExpectedEvent{ev("a", 1)}, []domain.Action{act("a", 2.5)})
	assert.Equal(t, 1, got.Matched, "zero value uses the default tolerance")
}

func TestScoreMonotonicInMatches(t *testing.T) {
	types := []string{"a", "b", "c", "d", "e"}
	expected := make([]domain.ExpectedEvent, len(types))
	for i, typ := range types {
		expected[i] = ev(typ, float64(i))
	}

	var actions []domain.Action
	prev := New(2).Score(expected, actions).TotalScore
	for i, typ := range types {
		actions = append(actions, act(typ, float64(i)+1.9))
		cur := New(2).Score(expected, actions)
		assert.Equal(t, i+1, cur.Matched)
		assert.GreaterOrEqual(t, cur.TotalScore, prev, "adding a match with high latency must not lower the score")
		prev = cur.TotalScore
	}
}

func TestScoreMonotonicInLatency(t *testing.T) {
	expected := []domain.ExpectedEvent{ev("a", 1), ev("b", 3)}
	prev := -1.0
	for _, lag := range []float64{2.0, 1.5, 1.0, 0.5, 0.0} {
		s := New(2).Score(expected, []domain.Action{act("a", 1+lag), act("b", 3)})
		assert.GreaterOrEqual(t, s.TotalScore, prev)
		prev = s.TotalScore
	}
}

func TestScoreInvariantsRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	types := []string{"person", "vehicle", "package"}

	for i := 0; i < 500; i++ {
		n := rng.Intn(8)
		expected := make([]domain.ExpectedEvent, n)
		for j := range expected {
			expected[j] = ev(types[rng.Intn(len(types))], rng.Float64()*10)
		}
		m := rng.Intn(12)
		actions := make([]domain.Action, m)
		for j := range actions {
			actions[j] = act(types[rng.Intn(len(types))], rng.Float64()*12)
		}
		tol := 0.1 + rng.Float64()*3

		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			s := New(tol).Score(expected, actions)
			assertInvariants(t, s, n)

			matched := 0
			seen := map[int]bool{}
			for _, d := range s.Details {
				if !d.Matched {
					continue
				}
				matched++
				require.NotNil(t, d.ActionIndex)
				assert.False(t, seen[*d.ActionIndex], "action matched twice")
				seen[*d.ActionIndex] = true
				assert.LessOrEqual(t, *d.Latency, tol)
			}
			assert.Equal(t, s.Matched, matched)
		})
	}
}
