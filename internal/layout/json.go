package layout

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// JSONRecognizer serves pre-recognized layouts stored as JSON documents.
type JSONRecognizer struct{}

// NewJSONRecognizer creates a recognizer reading PageInput.LayoutPath.
func NewJSONRecognizer() *JSONRecognizer {
	return &JSONRecognizer{}
}

// Recognize decodes the layout file of the page.
func (r *JSONRecognizer) Recognize(ctx context.Context, in PageInput) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.LayoutPath == "" {
		return nil, fmt.Errorf("page %d: %w", in.Number, ErrNoSource)
	}

	data, err := os.ReadFile(in.LayoutPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout: %w", err)
	}

	return DecodePage(data)
}

// DecodePage parses a layout JSON document.
func DecodePage(data []byte) (*Page, error) {
	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode layout: %w", err)
	}
	return &page, nil
}
