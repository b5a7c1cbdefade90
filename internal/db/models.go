package db

import "time"

type Evaluation struct {
	SubmissionID     string    `db:"submission_id"`
	Success          bool      `db:"success"`
	Overall          float64   `db:"overall"`
	FunctionalGate   bool      `db:"functional_gate"`
	OverallGate      bool      `db:"overall_gate"`
	VerilatorOutcome string    `db:"verilator_outcome"`
	OpenLaneOutcome  string    `db:"openlane_outcome"`
	ObjectRef        string    `db:"object_ref"`
	CompletedAt      time.Time `db:"completed_at"`
	CreatedAt        time.Time `db:"created_at"`
}
