// Package extract converts a recognized page layout into a ballot box record.
package extract

import "fmt"

// Reason classifies why a page failed extraction.
type Reason string

// Extraction failure reasons.
const (
	ReasonMissingTable       Reason = "missing_table"
	ReasonUnparseableCount   Reason = "unparseable_count"
	ReasonUnknownCandidate   Reason = "unknown_candidate_id"
	ReasonDuplicateCandidate Reason = "duplicate_candidate"
	ReasonPageOutOfRange     Reason = "page_out_of_range"
	ReasonPageMismatch       Reason = "page_mismatch"
	ReasonRecognitionFailed  Reason = "recognition_failed"
)

// ExtractionError is fatal for one page. The box it carries is excluded from
// aggregation and listed in the final report.
type ExtractionError struct {
	Err    error
	Reason Reason
	Detail string
	Page   int
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("page %d: extraction failed (%s)", e.Page, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is matches another *ExtractionError by reason, and by page when the target sets one.
func (e *ExtractionError) Is(target error) bool {
	t, ok := target.(*ExtractionError)
	if !ok {
		return false
	}
	if t.Reason != "" && t.Reason != e.Reason {
		return false
	}
	return t.Page == 0 || t.Page == e.Page
}

func failf(page int, reason Reason, format string, args ...any) *ExtractionError {
	return &ExtractionError{Page: page, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
