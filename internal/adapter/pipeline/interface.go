// Package pipeline provides an abstraction for the detection pipeline that
// consumes synthetic camera stimuli and reports detections.
package pipeline

import (
	"context"
	"encoding/json"
)

// Stimulus is one synthesized camera frame submitted for detection.
type Stimulus struct {
	RunID    string          `json:"run_id"`
	Scenario string          `json:"scenario"`
	Index    int             `json:"index"`
	Type     string          `json:"type"`
	Offset   float64         `json:"offset"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Frame    []byte          `json:"frame,omitempty"`
}

// Detection is one result reported by the pipeline for a stimulus.
type Detection struct {
	Type       string          `json:"type"`
	Confidence float64         `json:"confidence"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// DetectResponse is the body returned by the pipeline's detect endpoint.
type DetectResponse struct {
	Detections []Detection `json:"detections"`
}

// Pipeline defines the detection pipeline operations.
type Pipeline interface {
	// Detect submits a stimulus and returns every detection it produced.
	// Errors wrapping domain.ErrUnavailable mean the pipeline could not be reached.
	Detect(ctx context.Context, s Stimulus) ([]Detection, error)

	// Health reports whether the pipeline is reachable.
	Health(ctx context.Context) error
}

// Ensure Client implements Pipeline interface.
var _ Pipeline = (*Client)(nil)
