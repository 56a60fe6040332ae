// Package testimage renders synthetic document photos: a light card with
// machine-readable text on a dark background.
package testimage

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/example/kyc-verif/internal/glyph"
)

const (
	Background uint8 = 40
	Paper      uint8 = 245
	Ink        uint8 = 0
)

// Document describes one rendered card.
type Document struct {
	Width  int
	Height int
	// Card is the card rectangle inside the frame.
	Card image.Rectangle
	// Lines are drawn top to bottom starting Margin pixels inside the card.
	Lines   []string
	Scale   int
	Margin  int
	LineGap int
}

// Card returns a document with an ID-1 shaped card (85.6 x 54 mm) spanning
// 80% of the frame width, centered, with text at scale 3.
func Card(width, height int, lines ...string) Document {
	cw := width * 8 / 10
	ch := cw * 540 / 856
	x0, y0 := (width-cw)/2, (height-ch)/2
	return Document{
		Width:   width,
		Height:  height,
		Card:    image.Rect(x0, y0, x0+cw, y0+ch),
		Lines:   lines,
		Scale:   3,
		Margin:  16,
		LineGap: 12,
	}
}

// Render draws the document.
func (d Document) Render() *image.Gray {
	img := Uniform(d.Width, d.Height, Background)
	draw.Draw(img, d.Card, image.NewUniform(color.Gray{Y: Paper}), image.Point{}, draw.Src)
	y := d.Card.Min.Y + d.Margin
	for _, line := range d.Lines {
		glyph.Draw(img, line, d.Card.Min.X+d.Margin, y, d.Scale, color.Gray{Y: Ink})
		y += glyph.Height*d.Scale + d.LineGap
	}
	return img
}

// PNG renders the document as PNG bytes.
func (d Document) PNG() ([]byte, error) {
	return EncodePNG(d.Render())
}

// Text renders lines in black on a white canvas sized to fit them with margin
// pixels of padding.
func Text(lines []string, scale, margin, lineGap int) *image.Gray {
	w, h := 0, 0
	for i, line := range lines {
		lw, lh := glyph.Measure(line, scale)
		if lw > w {
			w = lw
		}
		h += lh
		if i > 0 {
			h += lineGap
		}
	}
	img := Uniform(w+2*margin, h+2*margin, 255)
	y := margin
	for _, line := range lines {
		glyph.Draw(img, line, margin, y, scale, color.Gray{Y: Ink})
		y += glyph.Height*scale + lineGap
	}
	return img
}

// Uniform returns a w x h image filled with v.
func Uniform(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// EncodePNG encodes img.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Samples converts a gray image into normalized samples, row-major.
func Samples(img *image.Gray) []float32 {
	b := img.Bounds()
	out := make([]float32, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out = append(out, float32(img.GrayAt(x, y).Y)/255)
		}
	}
	return out
}
