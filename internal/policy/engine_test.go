package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
)

func TestDefaultPolicyVerdicts(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	cases := []struct {
		name  string
		score *domain.Score
		want  domain.Verdict
	}{
		{"perfect", &domain.Score{TotalScore: 1, Matched: 3, TotalExpected: 3, DetectionAccuracy: 1}, domain.VerdictPass},
		{"high but missed one", &domain.Score{TotalScore: 0.9, Matched: 9, TotalExpected: 10, DetectionAccuracy: 0.9}, domain.VerdictReview},
		{"partial", &domain.Score{TotalScore: 0.6, Matched: 2, TotalExpected: 3}, domain.VerdictReview},
		{"poor", &domain.Score{TotalScore: 0.2, Matched: 1, TotalExpected: 3}, domain.VerdictFail},
		{"empty script", &domain.Score{TotalScore: 1, DetectionAccuracy: 1}, domain.VerdictPass},
		{"no score", nil, domain.VerdictFail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := engine.Evaluate(ctx, "package_delivery", tc.score)
			require.NoError(t, err)
			assert.Equal(t, tc.want, d.Verdict)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestCustomPolicyFromFile(t *testing.T) {
	content := `package scenario_verdict

result := {"decision": "review", "reason": "night scenarios always reviewed"} if {
	input.scenario == "intruder_night"
} else := {"decision": "pass", "reason": "ok"}
`
	path := filepath.Join(t.TempDir(), "verdict.rego")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ctx := context.Background()
	engine, err := Load(ctx, path)
	require.NoError(t, err)

	d, err := engine.Evaluate(ctx, "intruder_night", &domain.Score{TotalScore: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictReview, d.Verdict)

	d, err = engine.Evaluate(ctx, "package_delivery", &domain.Score{TotalScore: 0})
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictPass, d.Verdict)
}

func TestUnknownDecisionRejected(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, `package scenario_verdict

result := {"decision": "maybe", "reason": ""}
`)
	require.NoError(t, err)
	_, err = engine.Evaluate(ctx, "x", &domain.Score{})
	assert.Error(t, err)
}

func TestInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package scenario_verdict\n\nresult := {")
	assert.Error(t, err)

	_, err = Load(context.Background(), filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)
}

func TestLoadDefault(t *testing.T) {
	engine, err := Load(context.Background(), "")
	require.NoError(t, err)
	d, err := engine.Evaluate(context.Background(), "quiet_street", &domain.Score{TotalScore: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictPass, d.Verdict)
}
