// Package domain defines the core domain models for the scenario orchestrator.
package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// CanTransition reports whether a run may move from s to next.
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunStatusQueued:
		return next == RunStatusRunning || next == RunStatusFailed
	case RunStatusRunning:
		return next == RunStatusCompleted || next == RunStatusFailed
	}
	return false
}

// RecordType is the type of a record on a run's event stream.
type RecordType string

const (
	RecordTypeAction   RecordType = "action"
	RecordTypeFinished RecordType = "finished"
)

// RunErrorCode classifies why a run failed.
type RunErrorCode string

const (
	RunErrorUnavailable RunErrorCode = "unavailable"
	RunErrorTimeout     RunErrorCode = "timeout"
	RunErrorPipeline    RunErrorCode = "pipeline_error"
	RunErrorInternal    RunErrorCode = "internal"
)

// Verdict is the policy outcome attached to a completed run.
type Verdict string

const (
	VerdictPass   Verdict = "pass"
	VerdictReview Verdict = "review"
	VerdictFail   Verdict = "fail"
)
