package model

import "time"

// ExcludedBox is a box left out of the totals because its page failed extraction.
type ExcludedBox struct {
	BoxID      string `json:"box_id"`
	Reason     string `json:"reason"`
	Detail     string `json:"detail"`
	PageNumber int    `json:"page_number"`
}

// CellRef points at one (box, candidate) cell.
type CellRef struct {
	BoxID       string      `json:"box_id"`
	CandidateID CandidateID `json:"candidate_id"`
}

// AggregateReport is the final tally over every expected box.
type AggregateReport struct {
	GeneratedAt          time.Time             `json:"generated_at"`
	Totals               map[CandidateID]int64 `json:"totals"`
	Strategy             string                `json:"strategy"`
	ExcludedBoxes        []ExcludedBox         `json:"excluded_boxes"`
	MissingVerifications []CellRef             `json:"missing_verifications"`
	LowConfidenceBoxes   []string              `json:"low_confidence_boxes"`
	SignatureShortfalls  []string              `json:"signature_shortfalls"`
	DiscrepancyCount     int                   `json:"discrepancy_count"`
	BoxesProcessed       int                   `json:"boxes_processed"`
	BoxesExpected        int                   `json:"boxes_expected"`
	MachineTotal         int64                 `json:"machine_total"`
	HumanTotal           int64                 `json:"human_total"`
	InvalidTotal         int64                 `json:"invalid_total"`
}

// Complete reports whether every expected box made it into the totals.
func (r *AggregateReport) Complete() bool {
	return len(r.ExcludedBoxes) == 0 && r.BoxesProcessed == r.BoxesExpected
}
