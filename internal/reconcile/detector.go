// Package reconcile compares the machine and human count streams of a ballot
// box and resolves them into one authoritative count per candidate.
package reconcile

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/tally-reconcile/internal/audit"
	"github.com/Veraticus/tally-reconcile/internal/model"
)

// FindDiscrepancies lists every cell whose verified human count differs from
// the machine count, ordered by candidate id. Cells without human
// verification cannot disagree and are left to the reconciliation fallback.
func FindDiscrepancies(record *model.BallotBoxRecord) []model.Discrepancy {
	var out []model.Discrepancy
	for _, id := range record.CandidateIDs() {
		pair := record.Counts[id]
		if !pair.HumanVerified || pair.Delta() == 0 {
			continue
		}
		out = append(out, model.Discrepancy{
			BoxID:       record.BoxID,
			CandidateID: id,
			Machine:     pair.Machine,
			Human:       pair.Human,
			Delta:       pair.Delta(),
		})
	}
	return out
}

// Detector wraps FindDiscrepancies with the detect audit entry.
type Detector struct {
	recorder audit.Recorder
}

// NewDetector creates a detector writing to recorder.
func NewDetector(recorder audit.Recorder) *Detector {
	return &Detector{recorder: recorder}
}

// Detect finds the discrepancies of record and writes one summary entry.
func (d *Detector) Detect(record *model.BallotBoxRecord) []model.Discrepancy {
	found := FindDiscrepancies(record)

	if d.recorder != nil {
		if err := d.recorder.Record(record.BoxID, model.StageDetect, summarizeDiscrepancies(found)); err != nil {
			slog.Error("Failed to write audit entry", "box_id", record.BoxID, "stage", model.StageDetect, "error", err)
		}
	}
	return found
}

func summarizeDiscrepancies(found []model.Discrepancy) string {
	if len(found) == 0 {
		return "0 discrepancies"
	}
	parts := make([]string, 0, len(found))
	for _, d := range found {
		parts = append(parts, fmt.Sprintf("%s machine=%d human=%d delta=%+d", d.CandidateID, d.Machine, d.Human, d.Delta))
	}
	return fmt.Sprintf("%d discrepancies: %s", len(found), strings.Join(parts, "; "))
}
