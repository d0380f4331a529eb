package domain

import "encoding/json"

// StartRunRequest is the request to start a scenario run.
type StartRunRequest struct {
	Name string `json:"name"`
}

// StartRunResponse is returned when a run is accepted.
type StartRunResponse struct {
	RunID    string    `json:"run_id"`
	Status   RunStatus `json:"status"`
	Scenario string    `json:"scenario"`
}

// RateRunRequest carries a human rating. Rating stays raw so that
// non-numeric input can be rejected as a validation failure.
type RateRunRequest struct {
	Rating json.RawMessage `json:"rating"`
}

// RateRunResponse is returned after a rating is stored.
type RateRunResponse struct {
	OK          bool   `json:"ok"`
	RunID       string `json:"run_id"`
	HumanRating int    `json:"human_rating"`
}

// CleanupResponse reports how many runs were removed.
type CleanupResponse struct {
	Cleaned int `json:"cleaned"`
}

// StreamRecord is one record on a run's event stream.
type StreamRecord struct {
	Type    RecordType `json:"type"`
	RunID   string     `json:"run_id"`
	Seq     int        `json:"seq"`
	Action  *Action    `json:"action,omitempty"`
	Status  RunStatus  `json:"status,omitempty"`
	Score   *Score     `json:"score,omitempty"`
	Verdict Verdict    `json:"verdict,omitempty"`
	Error   *RunError  `json:"error,omitempty"`
}
