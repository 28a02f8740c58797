package model

// Source records which count stream a resolved figure came from.
type Source string

// Source constants.
const (
	SourceMachine    Source = "machine"
	SourceHuman      Source = "human"
	SourceReconciled Source = "reconciled"
)

// Discrepancy is a machine/human disagreement for one candidate in one box.
type Discrepancy struct {
	BoxID       string
	Resolution  string
	CandidateID CandidateID
	Machine     int64
	Human       int64
	Delta       int64
}

// Direction describes the sign of the delta.
func (d Discrepancy) Direction() string {
	if d.Delta > 0 {
		return "human_higher"
	}
	return "machine_higher"
}

// Magnitude is the absolute delta.
func (d Discrepancy) Magnitude() int64 {
	if d.Delta < 0 {
		return -d.Delta
	}
	return d.Delta
}

// ResolvedTally is the authoritative count for one (box, candidate) pair.
type ResolvedTally struct {
	BoxID       string      `json:"box_id"`
	Source      Source      `json:"source"`
	Note        string      `json:"resolution_note"`
	CandidateID CandidateID `json:"candidate_id"`
	FinalCount  int64       `json:"final_count"`
	// Raw stream values are kept so the aggregate can report per-stream totals.
	MachineCount        int64 `json:"machine_count"`
	HumanCount          int64 `json:"human_count"`
	Delta               int64 `json:"delta"`
	Discrepant          bool  `json:"discrepant"`
	MissingVerification bool  `json:"missing_verification"`
}
