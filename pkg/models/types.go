package models

import "time"

// ==================== Verification Types ====================

// RunStatus represents the status of a verification run
type RunStatus string

const (
	StatusPending RunStatus = "pending"
	StatusRunning RunStatus = "running"
	StatusSuccess RunStatus = "success"
	StatusFailed  RunStatus = "failed"
)

// IsTerminal reports whether no further status change is expected
func (s RunStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// VerificationResult is the outcome of a single verification pass
type VerificationResult struct {
	RunID        string     `json:"run_id"`
	Status       RunStatus  `json:"status"`
	TargetURL    string     `json:"target_url"`
	ArtifactPath string     `json:"artifact_path,omitempty"` // Empty when no screenshot was written
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	ReadyAt      *time.Time `json:"ready_at,omitempty"`    // Readiness selector matched
	CapturedAt   *time.Time `json:"captured_at,omitempty"` // Success screenshot capture started
	FinishedAt   time.Time  `json:"finished_at"`
}

// Duration returns the wall time from start to teardown
func (r VerificationResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ==================== Run History Types ====================

// VerificationRun is a stored verification run
type VerificationRun struct {
	ID                 string     `json:"id" db:"id"`
	TemporalWorkflowID string     `json:"temporal_workflow_id" db:"temporal_workflow_id"`
	TemporalRunID      string     `json:"temporal_run_id" db:"temporal_run_id"`
	TargetURL          string     `json:"target_url" db:"target_url"`
	Status             RunStatus  `json:"status" db:"status"`
	ArtifactPath       string     `json:"artifact_path,omitempty" db:"artifact_path"`
	ErrorMessage       string     `json:"error_message,omitempty" db:"error_message"`
	StartedAt          *time.Time `json:"started_at" db:"started_at"`
	CompletedAt        *time.Time `json:"completed_at" db:"completed_at"`
}

// ==================== API Request/Response Types ====================

// VerifyRequest is the body of a request to start a verification
type VerifyRequest struct {
	TargetURL string `json:"target_url,omitempty"` // Overrides the worker default
}

// ==================== WebSocket Message Types ====================

// WSMessage represents a WebSocket message for real-time updates
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
