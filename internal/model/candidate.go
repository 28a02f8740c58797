// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"sort"
	"strings"
)

// CandidateID is the ballot number printed next to a candidate on the tally sheet.
type CandidateID int

// InvalidVotes is the reserved id carrying the invalid/void row of a tally table.
// It never collides with a real ballot number.
const InvalidVotes CandidateID = 0

// String renders the id the way the report prints it.
func (id CandidateID) String() string {
	if id == InvalidVotes {
		return "invalid"
	}
	return fmt.Sprintf("C%d", int(id))
}

// Candidate is display metadata for a ballot number.
type Candidate struct {
	Name  string      `mapstructure:"name" json:"name"`
	Party string      `mapstructure:"party" json:"party"`
	ID    CandidateID `mapstructure:"id" json:"id"`
}

// DefaultCandidates returns the candidate table printed on the report.
// Ballot numbers 3, 6 and 7 withdrew before election day and never appear.
func DefaultCandidates() []Candidate {
	return []Candidate{
		{ID: 1, Name: "이재명", Party: "더불어민주당"},
		{ID: 2, Name: "김문수", Party: "국민의힘"},
		{ID: 4, Name: "이준석", Party: "개혁신당"},
		{ID: 5, Name: "권영국", Party: "민주노동당"},
		{ID: 8, Name: "송진호", Party: "무소속"},
	}
}

// CandidateSet is an immutable lookup over the configured candidate table.
type CandidateSet struct {
	byID   map[CandidateID]Candidate
	byName map[string]CandidateID
	ids    []CandidateID
}

// NewCandidateSet indexes candidates by id. Duplicate or non-positive ids are rejected.
func NewCandidateSet(candidates []Candidate) (*CandidateSet, error) {
	set := &CandidateSet{
		byID:   make(map[CandidateID]Candidate, len(candidates)),
		byName: make(map[string]CandidateID, len(candidates)),
	}
	for _, c := range candidates {
		if c.ID <= 0 {
			return nil, fmt.Errorf("candidate %q: id must be positive, got %d", c.Name, c.ID)
		}
		if _, exists := set.byID[c.ID]; exists {
			return nil, fmt.Errorf("duplicate candidate id %d", c.ID)
		}
		set.byID[c.ID] = c
		set.ids = append(set.ids, c.ID)
		if key := nameKey(c.Name); key != "" {
			set.byName[key] = c.ID
		}
	}
	sort.Slice(set.ids, func(i, j int) bool { return set.ids[i] < set.ids[j] })
	return set, nil
}

// Contains reports whether id is a valid ballot number.
func (s *CandidateSet) Contains(id CandidateID) bool {
	_, ok := s.byID[id]
	return ok
}

// Get returns the candidate for id.
func (s *CandidateSet) Get(id CandidateID) (Candidate, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// ByName resolves a printed candidate name to its ballot number. Whitespace
// and case are ignored.
func (s *CandidateSet) ByName(name string) (CandidateID, bool) {
	key := nameKey(name)
	if key == "" {
		return 0, false
	}
	id, ok := s.byName[key]
	return id, ok
}

func nameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), ""))
}

// IDs returns the valid ids in ascending order.
func (s *CandidateSet) IDs() []CandidateID {
	out := make([]CandidateID, len(s.ids))
	copy(out, s.ids)
	return out
}

// Len returns the number of configured candidates.
func (s *CandidateSet) Len() int {
	return len(s.ids)
}
