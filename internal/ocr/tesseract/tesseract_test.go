package tesseract

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/otiai10/gosseract/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally-reconcile/internal/audit"
	"github.com/Veraticus/tally-reconcile/internal/extract"
	"github.com/Veraticus/tally-reconcile/internal/layout"
	"github.com/Veraticus/tally-reconcile/internal/model"
)

type fakeClient struct {
	textErr   error
	text      string
	languages []string
	boxes     []gosseract.BoundingBox
	image     []byte
	closed    bool
}

func (f *fakeClient) SetLanguage(langs ...string) error {
	f.languages = langs
	return nil
}

func (f *fakeClient) SetImageFromBytes(data []byte) error {
	f.image = data
	return nil
}

func (f *fakeClient) Text() (string, error) { return f.text, f.textErr }

func (f *fakeClient) GetBoundingBoxes(gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error) {
	return f.boxes, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func box(text string, x, y int, conf float64) gosseract.BoundingBox {
	return gosseract.BoundingBox{Box: image.Rect(x, y, x+30, y+20), Word: text, Confidence: conf}
}

func writePage(t *testing.T) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 20, 10))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetGray(3, 3, color.Gray{Y: 0})

	path := filepath.Join(t.TempDir(), "page_004.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestEngine_Recognize(t *testing.T) {
	client := &fakeClient{
		text: "제21대 대통령선거\n투표함 1\n기호 1 1,862 49",
		boxes: []gosseract.BoundingBox{
			box("1", 10, 50, 96), box("1,862", 100, 50, 91), box("49", 200, 51, 62),
			box("기호", 5, 90, 90), box("5", 25, 90, 90), box("40", 100, 91, 88),
			box(" ", 300, 300, 10),
		},
	}
	engine := NewEngine(WithClientFactory(func() Client { return client }), WithLanguages("kor"), WithMinWidth(40))

	page, err := engine.Recognize(context.Background(), layout.PageInput{Number: 4, BoxID: "box-004", ImagePath: writePage(t)})
	require.NoError(t, err)

	assert.Equal(t, 4, page.Number)
	assert.Equal(t, "투표함 1", page.Fields[layout.FieldLocation])
	require.Len(t, page.Tables, 1)
	rows := page.Tables[0].Rows
	require.Len(t, rows, 2)
	assert.Equal(t, "1,862", rows[0][1].Text)
	assert.InDelta(t, 0.62, rows[0][2].Confidence, 1e-9)
	assert.Equal(t, "기호5", rows[1][0].Text)
	assert.Empty(t, rows[1][2].Text)

	assert.Equal(t, []string{"kor"}, client.languages)
	assert.NotEmpty(t, client.image)
	assert.True(t, client.closed)
}

func TestEngine_WithdrawnCandidateIsRejected(t *testing.T) {
	tests := []struct {
		name  string
		boxes []gosseract.BoundingBox
	}{
		{
			name:  "prefixed ballot number",
			boxes: []gosseract.BoundingBox{box("기호", 5, 90, 90), box("3", 25, 90, 90), box("10", 100, 90, 90), box("10", 200, 90, 90)},
		},
		{
			name:  "bare ballot number",
			boxes: []gosseract.BoundingBox{box("6", 10, 90, 90), box("12", 100, 90, 90), box("12", 200, 90, 90)},
		},
		{
			name: "under a header",
			boxes: []gosseract.BoundingBox{
				box("후보자", 10, 10, 90), box("분류된", 100, 10, 90), box("재확인", 200, 10, 90),
				box("후보", 5, 90, 90), box("7", 25, 90, 90), box("5", 200, 90, 90),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boxes := append([]gosseract.BoundingBox{
				box("1", 10, 50, 95), box("1,862", 100, 50, 95), box("49", 200, 50, 95),
			}, tt.boxes...)
			client := &fakeClient{boxes: boxes}
			engine := NewEngine(WithClientFactory(func() Client { return client }), WithMinWidth(0))

			candidates, err := model.NewCandidateSet(model.DefaultCandidates())
			require.NoError(t, err)
			log := audit.NewLog()
			x := extract.NewExtractor(engine, candidates, log, extract.DefaultOptions())

			got, err := x.Extract(context.Background(), layout.PageInput{Number: 4, ImagePath: writePage(t)})
			require.Error(t, err)
			assert.Nil(t, got)
			assert.ErrorIs(t, err, &extract.ExtractionError{Reason: extract.ReasonUnknownCandidate})
			require.Len(t, log.ForBox("box-004"), 1)
		})
	}
}

func TestEngine_RecognizeWithoutTable(t *testing.T) {
	client := &fakeClient{text: "개표상황표 요약"}
	engine := NewEngine(WithClientFactory(func() Client { return client }), WithMinWidth(0))

	page, err := engine.Recognize(context.Background(), layout.PageInput{Number: 1, ImagePath: writePage(t)})
	require.NoError(t, err)
	assert.Empty(t, page.Tables)
	assert.Nil(t, page.Fields)
}

func TestEngine_RecognizeErrors(t *testing.T) {
	t.Run("no image path", func(t *testing.T) {
		_, err := NewEngine().Recognize(context.Background(), layout.PageInput{Number: 1})
		assert.ErrorIs(t, err, layout.ErrNoSource)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewEngine().Recognize(ctx, layout.PageInput{Number: 1, ImagePath: "page_001.png"})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("text failure closes client", func(t *testing.T) {
		client := &fakeClient{textErr: errors.New("tesseract exploded")}
		engine := NewEngine(WithClientFactory(func() Client { return client }))
		_, err := engine.Recognize(context.Background(), layout.PageInput{Number: 1, ImagePath: writePage(t)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tesseract exploded")
		assert.True(t, client.closed)
	})
}

func TestEngine_Defaults(t *testing.T) {
	e := NewEngine(WithLanguages())
	assert.Equal(t, DefaultLanguages, e.languages)
	assert.Equal(t, DefaultMinWidth, e.minWidth)
	assert.Equal(t, "tesseract", e.Name())
}
