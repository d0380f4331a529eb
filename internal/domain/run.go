package domain

import (
	"encoding/json"
	"time"
)

// Action is one output produced by the detection pipeline during a run.
// Offset is the virtual time, in seconds from run start, at which it was produced.
type Action struct {
	Type       string          `json:"type"`
	Offset     float64         `json:"offset"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	ProducedAt time.Time       `json:"produced_at"`
}

// MatchDetail records whether one expected event was matched.
type MatchDetail struct {
	Expected    ExpectedEvent `json:"expected"`
	Matched     bool          `json:"matched"`
	ActionIndex *int          `json:"action_index,omitempty"`
	Latency     *float64      `json:"latency,omitempty"`
}

// Score is the immutable scoring result of a completed run.
type Score struct {
	TotalScore         float64       `json:"total_score"`
	Matched            int           `json:"matched"`
	TotalExpected      int           `json:"total_expected"`
	Details            []MatchDetail `json:"details"`
	DetectionAccuracy  float64       `json:"detection_accuracy"`
	AvgResponseLatency float64       `json:"avg_response_latency"`
}

// RunError is recorded on a failed run.
type RunError struct {
	Code    RunErrorCode `json:"code"`
	Message string       `json:"message"`
}

// Run represents a single execution of a scenario.
type Run struct {
	RunID        string     `json:"run_id"`
	ScenarioName string     `json:"scenario"`
	Status       RunStatus  `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Actions      []Action   `json:"actions"`
	Score        *Score     `json:"score"`
	HumanRating  *int       `json:"human_rating"`
	Verdict      Verdict    `json:"verdict,omitempty"`
	Error        *RunError  `json:"error,omitempty"`
}

// Clone returns a deep copy of r that shares no mutable state with it.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.StartedAt = cloneTime(r.StartedAt)
	out.FinishedAt = cloneTime(r.FinishedAt)
	out.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		a.Payload = cloneRaw(a.Payload)
		out.Actions[i] = a
	}
	if r.Score != nil {
		out.Score = r.Score.Clone()
	}
	if r.HumanRating != nil {
		rating := *r.HumanRating
		out.HumanRating = &rating
	}
	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	return &out
}

// Clone returns a deep copy of s.
func (s *Score) Clone() *Score {
	out := *s
	out.Details = make([]MatchDetail, len(s.Details))
	for i, d := range s.Details {
		d.Expected.Payload = cloneRaw(d.Expected.Payload)
		if d.ActionIndex != nil {
			idx := *d.ActionIndex
			d.ActionIndex = &idx
		}
		if d.Latency != nil {
			lat := *d.Latency
			d.Latency = &lat
		}
		out.Details[i] = d
	}
	return &out
}

// Summary returns the export form of r.
func (r *Run) Summary() RunSummary {
	return RunSummary{
		RunID:        r.RunID,
		ScenarioName: r.ScenarioName,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		ActionCount:  len(r.Actions),
		Score:        r.Score,
		HumanRating:  r.HumanRating,
		Verdict:      r.Verdict,
		Error:        r.Error,
	}
}

// FinishedRecord returns the terminal stream record announcing r's outcome.
// The broadcaster assigns its sequence number.
func (r *Run) FinishedRecord() StreamRecord {
	return StreamRecord{
		Type:    RecordTypeFinished,
		RunID:   r.RunID,
		Status:  r.Status,
		Score:   r.Score,
		Verdict: r.Verdict,
		Error:   r.Error,
	}
}

// RunSummary is the historical record of a run returned by export.
type RunSummary struct {
	RunID        string     `json:"run_id"`
	ScenarioName string     `json:"scenario"`
	Status       RunStatus  `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ActionCount  int        `json:"action_count"`
	Score        *Score     `json:"score"`
	HumanRating  *int       `json:"human_rating"`
	Verdict      Verdict    `json:"verdict,omitempty"`
	Error        *RunError  `json:"error,omitempty"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
