// Package policy evaluates run verdicts with OPA.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
)

// Thresholds passed to the policy as input.thresholds.
const (
	PassThreshold   = 0.85
	ReviewThreshold = 0.5
)

// DefaultPolicy is the built-in verdict policy.
//
//go:embed verdict.rego
var DefaultPolicy string

// Decision is the outcome of a verdict evaluation.
type Decision struct {
	Verdict domain.Verdict
	Reason  string
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
// The module must define data.scenario_verdict.result as
// {"decision": ..., "reason": ...}.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.scenario_verdict.result"),
		rego.Module("scenario_verdict.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Load creates an engine from the policy file at path, or from
// DefaultPolicy when path is empty.
func Load(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate returns the verdict for a scored run. A nil score always fails.
func (e *Engine) Evaluate(ctx context.Context, scenario string, score *domain.Score) (Decision, error) {
	if score == nil {
		return Decision{Verdict: domain.VerdictFail, Reason: "run has no score"}, nil
	}

	input := map[string]interface{}{
		"scenario": scenario,
		"score": map[string]interface{}{
			"total_score":          score.TotalScore,
			"matched":              score.Matched,
			"total_expected":       score.TotalExpected,
			"detection_accuracy":   score.DetectionAccuracy,
			"avg_response_latency": score.AvgResponseLatency,
		},
		"thresholds": map[string]interface{}{
			"pass":   PassThreshold,
			"review": ReviewThreshold,
		},
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("policy produced no result")
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("policy result has unexpected type %T", results[0].Expressions[0].Value)
	}
	decision, _ := obj["decision"].(string)
	reason, _ := obj["reason"].(string)

	switch v := domain.Verdict(decision); v {
	case domain.VerdictPass, domain.VerdictReview, domain.VerdictFail:
		return Decision{Verdict: v, Reason: reason}, nil
	default:
		return Decision{}, fmt.Errorf("policy returned unknown decision %q", decision)
	}
}
