package domain

import "encoding/json"

// ExpectedEvent is one entry of a scenario script.
// Offset is measured in seconds of virtual time from run start.
type ExpectedEvent struct {
	Type    string          `json:"type" yaml:"type"`
	Offset  float64         `json:"offset" yaml:"offset"`
	Payload json.RawMessage `json:"payload,omitempty" yaml:"-"`
}

// Scenario is an immutable, named script of expected detection events.
type Scenario struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	ExpectedEvents []ExpectedEvent `json:"expected_events"`
	Duration       float64         `json:"duration"`
}

// ScenarioSummary is the catalog listing form of a scenario.
type ScenarioSummary struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	EventCount  int     `json:"event_count"`
	Duration    float64 `json:"duration"`
}

// Summary returns the listing form of s.
func (s *Scenario) Summary() ScenarioSummary {
	return ScenarioSummary{
		Name:        s.Name,
		Description: s.Description,
		EventCount:  len(s.ExpectedEvents),
		Duration:    s.Duration,
	}
}
