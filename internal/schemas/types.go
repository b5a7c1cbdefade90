package schemas

import (
	"time"

	"chipforge-gateway/internal/scoring"
)

// EvaluateResponse is the body of every POST /evaluate reply, including
// rejected requests, which carry only success, submission_id (when known)
// and error_message.
type EvaluateResponse struct {
	Success          bool              `json:"success"`
	SubmissionID     string            `json:"submission_id,omitempty"`
	VerilatorResults map[string]any    `json:"verilator_results,omitempty"`
	OpenLaneResults  map[string]any    `json:"openlane_results,omitempty"`
	Weights          *scoring.Weights  `json:"weights,omitempty"`
	Targets          *scoring.Targets  `json:"targets,omitempty"`
	FinalScore       *scoring.Report   `json:"final_score,omitempty"`
	Metrics          *scoring.Metrics  `json:"metrics,omitempty"`
	Backends         map[string]string `json:"backends,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
}

type HealthResponse struct {
	Gateway  string         `json:"gateway"`
	Services map[string]any `json:"services"`
}

// ArchiveTask is the payload of the archive_evaluation task. It carries the
// finished response only, never the uploaded archives.
type ArchiveTask struct {
	SubmissionID string           `json:"submission_id"`
	CompletedAt  time.Time        `json:"completed_at"`
	Response     EvaluateResponse `json:"response"`
}
