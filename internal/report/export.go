package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Veraticus/tally-reconcile/internal/model"
)

// Document is the exported record of one run: the report, every resolved
// tally and discrepancy, and the full audit sequence.
type Document struct {
	Run           *model.Run             `json:"run,omitempty"`
	Report        *model.AggregateReport `json:"report"`
	Candidates    []model.Candidate      `json:"candidates"`
	Tallies       []model.ResolvedTally  `json:"tallies"`
	Discrepancies []discrepancyJSON      `json:"discrepancies"`
	Audit         []model.AuditEntry     `json:"audit"`
}

type discrepancyJSON struct {
	BoxID       string            `json:"box_id"`
	Direction   string            `json:"direction"`
	Resolution  string            `json:"resolution"`
	CandidateID model.CandidateID `json:"candidate_id"`
	Machine     int64             `json:"machine_count"`
	Human       int64             `json:"human_count"`
	Delta       int64             `json:"delta"`
}

// NewDocument assembles an export document.
func NewDocument(run *model.Run, rep *model.AggregateReport, candidates []model.Candidate,
	tallies []model.ResolvedTally, discrepancies []model.Discrepancy, audit []model.AuditEntry,
) *Document {
	doc := &Document{
		Run:           run,
		Report:        rep,
		Candidates:    candidates,
		Tallies:       tallies,
		Discrepancies: make([]discrepancyJSON, 0, len(discrepancies)),
		Audit:         audit,
	}
	for _, d := range discrepancies {
		doc.Discrepancies = append(doc.Discrepancies, discrepancyJSON{
			BoxID:       d.BoxID,
			CandidateID: d.CandidateID,
			Machine:     d.Machine,
			Human:       d.Human,
			Delta:       d.Delta,
			Direction:   d.Direction(),
			Resolution:  d.Resolution,
		})
	}
	return doc
}

// WriteJSON writes doc as indented JSON.
func WriteJSON(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode report document: %w", err)
	}
	return nil
}

// WriteFile writes doc to path, replacing any existing file.
func WriteFile(path string, doc *Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteJSON(f, doc); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
