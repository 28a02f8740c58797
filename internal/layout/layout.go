// Package layout describes the recognized structure of a scanned tally page
// and the boundary to the recognition engine that produces it.
package layout

import (
	"context"
	"errors"
)

// ErrNoSource is returned when a page input carries neither a layout file nor an image.
var ErrNoSource = errors.New("page input has no layout or image source")

// Field keys understood on a recognized page.
const (
	FieldLocation  = "location"
	FieldVoteType  = "vote_type"
	FieldTimestamp = "timestamp"
)

// Cell is one recognized table cell.
type Cell struct {
	Text string `json:"text"`
	// Confidence is the recognizer's score in [0,1]. Zero means not reported.
	Confidence float64 `json:"confidence,omitempty"`
}

// Table is a recognized table region with labeled columns.
type Table struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    [][]Cell `json:"rows"`
}

// Page is everything the recognizer found on one scanned page.
type Page struct {
	Fields     map[string]string `json:"fields,omitempty"`
	Signatures []string          `json:"signatures,omitempty"`
	Tables     []Table           `json:"tables"`
	Number     int               `json:"page"`
}

// PageInput identifies one page to process.
type PageInput struct {
	BoxID      string
	ImagePath  string
	LayoutPath string
	Number     int
}

// Recognizer turns a page image into labeled layout regions. Implementations
// must honor ctx cancellation; it is the only call in the pipeline that may block.
type Recognizer interface {
	Recognize(ctx context.Context, in PageInput) (*Page, error)
}

// RecognizerFunc adapts a function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, in PageInput) (*Page, error)

// Recognize calls f.
func (f RecognizerFunc) Recognize(ctx context.Context, in PageInput) (*Page, error) {
	return f(ctx, in)
}
