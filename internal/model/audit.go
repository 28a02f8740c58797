package model

import "time"

// Stage names the pipeline step that wrote an audit entry.
type Stage string

// Stage constants.
const (
	StageExtract   Stage = "extract"
	StageDetect    Stage = "detect"
	StageReconcile Stage = "reconcile"
	StageAggregate Stage = "aggregate"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageExtract, StageDetect, StageReconcile, StageAggregate:
		return true
	}
	return false
}

// AuditEntry is one append-only line of the audit trail.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	BoxID     string    `json:"box_id"`
	Stage     Stage     `json:"stage"`
	Detail    string    `json:"detail"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	Seq       int64     `json:"seq"`
}
