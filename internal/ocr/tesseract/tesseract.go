// Package tesseract recognizes scanned tally pages with the Tesseract OCR
// engine and rebuilds their tally table from word boxes.
package tesseract

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/Veraticus/tally-reconcile/internal/layout"
	"github.com/Veraticus/tally-reconcile/internal/ocr"
)

// Client is the subset of the gosseract client the recognizer drives.
type Client interface {
	SetLanguage(langs ...string) error
	SetImageFromBytes(data []byte) error
	Text() (string, error)
	GetBoundingBoxes(level gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error)
	Close() error
}

// DefaultMinWidth is the page width scans are upscaled to before recognition.
const DefaultMinWidth = 2400

// DefaultLanguages are the traineddata sets loaded when none are configured.
var DefaultLanguages = []string{"kor", "eng"}

var locationPattern = regexp.MustCompile(`(투표함\s*\d+|관[내외]\s*\S*투표)`)

// Engine implements layout.Recognizer on top of gosseract.
type Engine struct {
	clientFactory func() Client
	languages     []string
	minWidth      int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLanguages overrides the traineddata languages.
func WithLanguages(langs ...string) Option {
	return func(e *Engine) {
		if len(langs) > 0 {
			e.languages = langs
		}
	}
}

// WithMinWidth sets the width pages are upscaled to before recognition.
func WithMinWidth(px int) Option {
	return func(e *Engine) { e.minWidth = px }
}

// WithClientFactory replaces the gosseract client constructor.
func WithClientFactory(f func() Client) Option {
	return func(e *Engine) { e.clientFactory = f }
}

// NewEngine constructs a Tesseract-backed recognizer.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		clientFactory: func() Client { return gosseract.NewClient() },
		languages:     DefaultLanguages,
		minWidth:      DefaultMinWidth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name identifies the engine in logs and audit details.
func (e *Engine) Name() string { return "tesseract" }

// Recognize reads the page image, runs OCR and rebuilds the tally table.
// Tesseract itself cannot be interrupted; ctx is checked before and after it runs.
func (e *Engine) Recognize(ctx context.Context, in layout.PageInput) (*layout.Page, error) {
	if in.ImagePath == "" {
		return nil, layout.ErrNoSource
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(in.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("read page image: %w", err)
	}
	img, err := ocr.Prepare(raw, e.minWidth)
	if err != nil {
		return nil, err
	}

	c := e.clientFactory()
	defer func() { _ = c.Close() }()

	if err := c.SetLanguage(e.languages...); err != nil {
		return nil, fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetImageFromBytes(img); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("word boxes: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return buildPage(in.Number, text, boxes), nil
}

func buildPage(number int, text string, boxes []gosseract.BoundingBox) *layout.Page {
	page := &layout.Page{Number: number}
	if loc := locationPattern.FindString(text); loc != "" {
		page.Fields = map[string]string{layout.FieldLocation: strings.TrimSpace(loc)}
	}
	if table := layout.TableFromWords(toWords(boxes)); len(table.Rows) > 0 {
		page.Tables = []layout.Table{table}
	}
	return page
}

func toWords(boxes []gosseract.BoundingBox) []layout.Word {
	words := make([]layout.Word, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		words = append(words, layout.Word{
			Text:       text,
			X:          float64(b.Box.Min.X),
			Y:          float64(b.Box.Min.Y),
			Width:      float64(b.Box.Dx()),
			Height:     float64(b.Box.Dy()),
			Confidence: b.Confidence / 100.0,
		})
	}
	return words
}
