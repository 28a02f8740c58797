package testutil

import (
	"context"
	"fmt"

	"github.com/Veraticus/tally-reconcile/internal/layout"
	"github.com/Veraticus/tally-reconcile/internal/model"
)

// RecordBuilder assembles ballot box records for tests.
type RecordBuilder struct {
	record *model.BallotBoxRecord
}

// NewRecord starts a record for page with the derived box id.
func NewRecord(page int) *RecordBuilder {
	return &RecordBuilder{record: &model.BallotBoxRecord{
		BoxID:      layout.BoxIDForPage(page),
		PageNumber: page,
		Counts:     make(map[model.CandidateID]model.CountPair),
	}}
}

// Count sets a verified cell.
func (b *RecordBuilder) Count(id model.CandidateID, machine, human int64) *RecordBuilder {
	b.record.Counts[id] = model.CountPair{Machine: machine, Human: human, HumanVerified: true}
	return b
}

// Unverified sets a cell whose human count could not be read.
func (b *RecordBuilder) Unverified(id model.CandidateID, machine int64) *RecordBuilder {
	b.record.Counts[id] = model.CountPair{Machine: machine}
	return b
}

// Build returns the record.
func (b *RecordBuilder) Build() *model.BallotBoxRecord {
	return b.record
}

// AgreeingRecord builds a record where both streams report machine for every default candidate.
func AgreeingRecord(page int, machine int64) *model.BallotBoxRecord {
	b := NewRecord(page)
	for _, c := range model.DefaultCandidates() {
		b.Count(c.ID, machine, machine)
	}
	return b.Build()
}

// PageBuilder assembles recognized layouts for tests.
type PageBuilder struct {
	page *layout.Page
}

// NewPage starts a layout with a standard tally table and eight signatures.
func NewPage(number int) *PageBuilder {
	p := &layout.Page{
		Number: number,
		Fields: map[string]string{},
		Tables: []layout.Table{{
			Name:    "tally",
			Columns: []string{"candidate", "machine", "human"},
		}},
	}
	for i := 1; i <= 8; i++ {
		p.Signatures = append(p.Signatures, fmt.Sprintf("signer-%d", i))
	}
	return &PageBuilder{page: p}
}

// Row appends a tally row.
func (b *PageBuilder) Row(label, machine, human string) *PageBuilder {
	b.page.Tables[0].Rows = append(b.page.Tables[0].Rows, []layout.Cell{
		{Text: label}, {Text: machine}, {Text: human},
	})
	return b
}

// RowCells appends a tally row with explicit cells.
func (b *PageBuilder) RowCells(cells ...layout.Cell) *PageBuilder {
	b.page.Tables[0].Rows = append(b.page.Tables[0].Rows, cells)
	return b
}

// Field sets a page field.
func (b *PageBuilder) Field(key, value string) *PageBuilder {
	b.page.Fields[key] = value
	return b
}

// Signatures replaces the signature list.
func (b *PageBuilder) Signatures(ids ...string) *PageBuilder {
	b.page.Signatures = ids
	return b
}

// Build returns the layout.
func (b *PageBuilder) Build() *layout.Page {
	return b.page
}

// StaticRecognizer serves prepared layouts keyed by page number.
type StaticRecognizer struct {
	Pages  map[int]*layout.Page
	Errors map[int]error
}

// Recognize implements layout.Recognizer.
func (s *StaticRecognizer) Recognize(ctx context.Context, in layout.PageInput) (*layout.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := s.Errors[in.Number]; ok {
		return nil, err
	}
	page, ok := s.Pages[in.Number]
	if !ok {
		return nil, fmt.Errorf("no layout for page %d", in.Number)
	}
	return page, nil
}

// PageInputs returns inputs for pages 1..n.
func PageInputs(n int) []layout.PageInput {
	inputs := make([]layout.PageInput, 0, n)
	for p := 1; p <= n; p++ {
		inputs = append(inputs, layout.PageInput{Number: p, BoxID: layout.BoxIDForPage(p)})
	}
	return inputs
}
