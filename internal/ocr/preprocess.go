// Package ocr prepares scanned page images for text recognition.
package ocr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register decoder
	"image/png"

	_ "golang.org/x/image/bmp" // register decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register decoder
)

// ErrEmptyImage is returned for images with no pixels.
var ErrEmptyImage = errors.New("image has no pixels")

// Prepare decodes a scanned page, converts it to grayscale and upscales it
// so the page is at least minWidth pixels wide. The result is PNG encoded.
// A minWidth of zero keeps the original size.
func Prepare(data []byte, minWidth int) ([]byte, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}
	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, ErrEmptyImage
	}

	gray := Grayscale(src)
	if minWidth > 0 && bounds.Dx() < minWidth {
		gray = Upscale(gray, minWidth)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("encode %s page as png: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Grayscale converts img to 8-bit luminance anchored at the origin.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetGray(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return out
}

// Upscale resizes img to width pixels keeping the aspect ratio.
func Upscale(img *image.Gray, width int) *image.Gray {
	b := img.Bounds()
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	out := image.NewGray(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out
}
