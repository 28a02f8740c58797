package model

import "time"

// RunStatus is the lifecycle state of a reconciliation run.
type RunStatus string

// RunStatus constants.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one execution of the pipeline over a set of page inputs.
type Run struct {
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	ID            string     `json:"id"`
	Strategy      string     `json:"strategy"`
	Source        string     `json:"source"`
	Status        RunStatus  `json:"status"`
	BoxesExpected int        `json:"boxes_expected"`
}

// BoxResult is everything the pipeline produced for one box.
type BoxResult struct {
	Record        *BallotBoxRecord
	Tallies       []ResolvedTally
	Discrepancies []Discrepancy
}
