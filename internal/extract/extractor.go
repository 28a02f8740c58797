package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/tally-reconcile/internal/audit"
	"github.com/Veraticus/tally-reconcile/internal/layout"
	"github.com/Veraticus/tally-reconcile/internal/model"
)

// Warning codes attached to a successful extraction.
const (
	WarnSignatureShortfall = "signature_shortfall"
	WarnLowConfidence      = "low_confidence"
	WarnBadTimestamp       = "bad_timestamp"
	WarnInvalidHuman       = "invalid_human_count"
)

// Options configures page validation.
type Options struct {
	// PageCount bounds valid page numbers to 1..PageCount.
	PageCount          int
	ExpectedSignatures int
	// MinHumanConfidence marks human cells scored below it as unverified. Zero disables the check.
	MinHumanConfidence float64
}

// DefaultOptions matches the 126-page report with an eight-member committee.
func DefaultOptions() Options {
	return Options{
		PageCount:          126,
		ExpectedSignatures: 8,
	}
}

// Warning is a non-fatal observation about a page.
type Warning struct {
	Code   string
	Detail string
}

// Extraction is the outcome of a successful page extraction.
type Extraction struct {
	Record   *model.BallotBoxRecord
	Warnings []Warning
}

// HasWarning reports whether code was raised.
func (x *Extraction) HasWarning(code string) bool {
	for _, w := range x.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// Extractor turns recognized page layouts into ballot box records.
type Extractor struct {
	recognizer layout.Recognizer
	candidates *model.CandidateSet
	recorder   audit.Recorder
	opts       Options
}

// NewExtractor creates an extractor. Every call to Extract writes one extract audit entry.
func NewExtractor(recognizer layout.Recognizer, candidates *model.CandidateSet, recorder audit.Recorder, opts Options) *Extractor {
	if opts.PageCount <= 0 {
		opts.PageCount = DefaultOptions().PageCount
	}
	return &Extractor{
		recognizer: recognizer,
		candidates: candidates,
		recorder:   recorder,
		opts:       opts,
	}
}

// Extract recognizes and parses one page. A cancelled context is returned as
// is and is not an extraction failure; the box simply stays unobserved.
func (x *Extractor) Extract(ctx context.Context, in layout.PageInput) (*Extraction, error) {
	boxID := in.BoxID
	if boxID == "" {
		boxID = layout.BoxIDForPage(in.Number)
		in.BoxID = boxID
	}

	page, err := x.recognize(ctx, in)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			x.record(boxID, fmt.Sprintf("page %d: recognition cancelled: %v", in.Number, err))
			return nil, err
		}
		extErr := &ExtractionError{Page: in.Number, Reason: ReasonRecognitionFailed, Err: err}
		x.record(boxID, extErr.Error())
		return nil, extErr
	}

	result, extErr := x.Parse(in, page)
	if extErr != nil {
		x.record(boxID, extErr.Error())
		return nil, extErr
	}

	x.record(boxID, describe(result))
	return result, nil
}

func (x *Extractor) recognize(ctx context.Context, in layout.PageInput) (*layout.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return x.recognizer.Recognize(ctx, in)
}

// Parse validates a recognized layout and builds the record. It has no side effects.
func (x *Extractor) Parse(in layout.PageInput, page *layout.Page) (*Extraction, *ExtractionError) {
	if in.Number < 1 || in.Number > x.opts.PageCount {
		return nil, failf(in.Number, ReasonPageOutOfRange, "page must be within 1..%d", x.opts.PageCount)
	}
	if page == nil {
		return nil, failf(in.Number, ReasonMissingTable, "no layout recognized")
	}
	if page.Number != 0 && page.Number != in.Number {
		return nil, failf(in.Number, ReasonPageMismatch, "layout reports page %d", page.Number)
	}

	table, cols, ok := findTallyTable(page.Tables)
	if !ok {
		return nil, failf(in.Number, ReasonMissingTable, "no table with candidate, machine and human columns")
	}

	boxID := in.BoxID
	if boxID == "" {
		boxID = layout.BoxIDForPage(in.Number)
	}

	record := &model.BallotBoxRecord{
		BoxID:      boxID,
		PageNumber: in.Number,
		Counts:     make(map[model.CandidateID]model.CountPair),
		Location:   strings.TrimSpace(page.Fields[layout.FieldLocation]),
		VoteType:   strings.TrimSpace(page.Fields[layout.FieldVoteType]),
		Signatures: normalizeSignatures(page.Signatures),
	}
	result := &Extraction{Record: record}

	lowConfidence := false
	var invalidHuman []string
	for i, row := range table.Rows {
		id, skip, extErr := x.rowCandidate(in.Number, i, row, cols)
		if extErr != nil {
			return nil, extErr
		}
		if skip {
			continue
		}
		if _, dup := record.Counts[id]; dup {
			return nil, failf(in.Number, ReasonDuplicateCandidate, "candidate %s appears more than once", id)
		}

		pair, human, extErr := x.rowCounts(in.Number, id, row, cols)
		if extErr != nil {
			return nil, extErr
		}
		switch human {
		case humanLowConfidence:
			lowConfidence = true
		case humanInvalid:
			invalidHuman = append(invalidHuman, fmt.Sprintf("%s %q", id, cellText(row, cols.human)))
		}
		record.Counts[id] = pair
	}

	if len(record.Counts) == 0 {
		return nil, failf(in.Number, ReasonMissingTable, "tally table has no candidate rows")
	}

	if ts := strings.TrimSpace(page.Fields[layout.FieldTimestamp]); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			result.Warnings = append(result.Warnings, Warning{Code: WarnBadTimestamp, Detail: ts})
		} else {
			record.Timestamp = parsed
		}
	}
	if n := len(record.Signatures); n < x.opts.ExpectedSignatures {
		result.Warnings = append(result.Warnings, Warning{
			Code:   WarnSignatureShortfall,
			Detail: fmt.Sprintf("%d of %d committee signatures", n, x.opts.ExpectedSignatures),
		})
	}
	if lowConfidence {
		result.Warnings = append(result.Warnings, Warning{
			Code:   WarnLowConfidence,
			Detail: fmt.Sprintf("human cells below %.2f confidence", x.opts.MinHumanConfidence),
		})
	}
	if len(invalidHuman) > 0 {
		result.Warnings = append(result.Warnings, Warning{
			Code:   WarnInvalidHuman,
			Detail: "unreadable human cells " + strings.Join(invalidHuman, ", "),
		})
	}

	return result, nil
}

type columns struct {
	candidate int
	machine   int
	human     int
}

func findTallyTable(tables []layout.Table) (layout.Table, columns, bool) {
	for _, t := range tables {
		cols := columns{candidate: -1, machine: -1, human: -1}
		for i, label := range t.Columns {
			switch layout.ColumnRole(label) {
			case layout.ColumnCandidate:
				if cols.candidate < 0 {
					cols.candidate = i
				}
			case layout.ColumnMachine:
				if cols.machine < 0 {
					cols.machine = i
				}
			case layout.ColumnHuman:
				if cols.human < 0 {
					cols.human = i
				}
			}
		}
		if cols.candidate >= 0 && cols.machine >= 0 && cols.human >= 0 {
			return t, cols, true
		}
	}
	return layout.Table{}, columns{}, false
}

func (x *Extractor) rowCandidate(page, rowIdx int, row []layout.Cell, cols columns) (model.CandidateID, bool, *ExtractionError) {
	label := strings.TrimSpace(cellText(row, cols.candidate))
	if label == "" {
		if rowBlank(row) {
			return 0, true, nil
		}
		return 0, false, failf(page, ReasonUnknownCandidate, "row %d has counts but no candidate label", rowIdx+1)
	}
	if layout.IsCaptionLabel(label) || layout.ColumnRole(label) != "" {
		slog.Debug("Skipping caption row", "page", page, "row", rowIdx+1, "label", label)
		return 0, true, nil
	}

	n, invalid, ok := layout.ParseCandidateLabel(label)
	if ok {
		if invalid {
			return model.InvalidVotes, false, nil
		}
		id := model.CandidateID(n)
		if !x.candidates.Contains(id) {
			return 0, false, failf(page, ReasonUnknownCandidate, "candidate id %d is not on the ballot", n)
		}
		return id, false, nil
	}

	if id, found := x.candidates.ByName(label); found {
		return id, false, nil
	}
	if !hasDigits(cellText(row, cols.machine)) && !hasDigits(cellText(row, cols.human)) {
		slog.Debug("Skipping row without counts", "page", page, "row", rowIdx+1, "label", label)
		return 0, true, nil
	}
	return 0, false, failf(page, ReasonUnknownCandidate, "row %d label %q is not a ballot number or candidate name", rowIdx+1, label)
}

// humanState classifies the human cell of a row.
type humanState int

const (
	humanVerified humanState = iota
	humanMissing
	humanLowConfidence
	humanInvalid
)

// rowCounts reads the machine and human cells. The machine count is
// mandatory; a human cell that cannot be trusted as a count leaves the pair
// unverified so the machine count is used downstream.
func (x *Extractor) rowCounts(page int, id model.CandidateID, row []layout.Cell, cols columns) (model.CountPair, humanState, *ExtractionError) {
	var pair model.CountPair

	machineText := cellText(row, cols.machine)
	if strings.TrimSpace(machineText) == "" {
		return pair, humanMissing, failf(page, ReasonUnparseableCount, "candidate %s: machine count missing", id)
	}
	machine, err := ParseCount(machineText)
	if err != nil {
		return pair, humanMissing, failf(page, ReasonUnparseableCount, "candidate %s machine count: %v", id, err)
	}
	pair.Machine = machine

	human := cellAt(row, cols.human)
	if isIllegible(human.Text) {
		return pair, humanMissing, nil
	}
	if x.opts.MinHumanConfidence > 0 && human.Confidence > 0 && human.Confidence < x.opts.MinHumanConfidence {
		pair.HumanConfidence = human.Confidence
		return pair, humanLowConfidence, nil
	}
	value, err := ParseCount(human.Text)
	if err != nil {
		slog.Debug("Human cell unreadable, using machine count", "page", page, "candidate", id, "error", err)
		return pair, humanInvalid, nil
	}
	pair.Human = value
	pair.HumanVerified = true
	pair.HumanConfidence = human.Confidence
	return pair, humanVerified, nil
}

var countPattern = regexp.MustCompile(`^-?\d+$`)

// ParseCount reads a non-negative vote count, accepting thousands separators.
// Negative or non-numeric text is an error, never coerced to zero.
func ParseCount(text string) (int64, error) {
	cleaned := strings.NewReplacer(",", "", " ", "", "\u00a0", "").Replace(strings.TrimSpace(text))
	if !countPattern.MatchString(cleaned) {
		return 0, fmt.Errorf("%q is not a number", text)
	}
	n, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", text, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%q is negative", text)
	}
	return n, nil
}

// isIllegible reports a human cell that was left blank or marked unreadable.
func isIllegible(text string) bool {
	switch strings.TrimSpace(text) {
	case "", "?", "-":
		return true
	}
	return false
}

func cellAt(row []layout.Cell, idx int) layout.Cell {
	if idx < 0 || idx >= len(row) {
		return layout.Cell{}
	}
	return row[idx]
}

func cellText(row []layout.Cell, idx int) string {
	return cellAt(row, idx).Text
}

func hasDigits(text string) bool {
	return strings.ContainsAny(text, "0123456789")
}

func rowBlank(row []layout.Cell) bool {
	for _, c := range row {
		if strings.TrimSpace(c.Text) != "" {
			return false
		}
	}
	return true
}

func normalizeSignatures(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func describe(x *Extraction) string {
	r := x.Record
	var b strings.Builder
	fmt.Fprintf(&b, "page %d: %d rows extracted", r.PageNumber, len(r.Counts))
	if r.Location != "" {
		fmt.Fprintf(&b, ", location %q", r.Location)
	}
	if unverified := r.UnverifiedCandidates(); len(unverified) > 0 {
		fmt.Fprintf(&b, ", %d human cells unverified", len(unverified))
	}
	fmt.Fprintf(&b, ", %d signatures", len(r.Signatures))
	for _, w := range x.Warnings {
		fmt.Fprintf(&b, "; warning %s: %s", w.Code, w.Detail)
	}
	return b.String()
}

func (x *Extractor) record(boxID, detail string) {
	if x.recorder == nil {
		return
	}
	if err := x.recorder.Record(boxID, model.StageExtract, detail); err != nil {
		slog.Error("Failed to write audit entry", "box_id", boxID, "stage", model.StageExtract, "error", err)
	}
}
