package model

import (
	"sort"
	"time"
)

// CountPair holds the two parallel figures reported for one table row.
type CountPair struct {
	Machine int64
	Human   int64
	// HumanVerified is false when the human cell was blank, illegible or
	// below the configured recognition confidence. Human is zero in that case.
	HumanVerified   bool
	HumanConfidence float64
}

// Delta returns human - machine. Only meaningful when HumanVerified is true.
func (p CountPair) Delta() int64 {
	return p.Human - p.Machine
}

// BallotBoxRecord is the structured content of one scanned tally page.
type BallotBoxRecord struct {
	Timestamp  time.Time
	Counts     map[CandidateID]CountPair
	BoxID      string
	Location   string
	VoteType   string
	Signatures []string
	PageNumber int
}

// CandidateIDs returns the ids present in the record in ascending order,
// including InvalidVotes when the page carried an invalid row.
func (r *BallotBoxRecord) CandidateIDs() []CandidateID {
	ids := make([]CandidateID, 0, len(r.Counts))
	for id := range r.Counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// UnverifiedCandidates lists the ids whose human cell could not be read.
func (r *BallotBoxRecord) UnverifiedCandidates() []CandidateID {
	var out []CandidateID
	for _, id := range r.CandidateIDs() {
		if !r.Counts[id].HumanVerified {
			out = append(out, id)
		}
	}
	return out
}
