package ingest

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/example/kyc-verif/internal/config"
	"github.com/example/kyc-verif/internal/kyc"
)

func newTestDecoder() *Decoder {
	return NewDecoder(config.Default(), zap.NewNop())
}

func uniformImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestDecodePNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, uniformImage(10, 10, color.RGBA{R: 255, G: 0, B: 0, A: 255})); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	frame, err := newTestDecoder().Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	defer frame.Release()

	if frame.Width != 10 || frame.Height != 10 || frame.Channels != 3 {
		t.Fatalf("unexpected geometry %dx%dx%d", frame.Width, frame.Height, frame.Channels)
	}
	if frame.Format != "png" {
		t.Fatalf("unexpected format: %s", frame.Format)
	}
	if frame.Plane(0)[55] != 1 || frame.Plane(1)[55] != 0 || frame.Plane(2)[55] != 0 {
		t.Fatalf("unexpected pixel: r=%f g=%f b=%f", frame.Plane(0)[55], frame.Plane(1)[55], frame.Plane(2)[55])
	}
}

func TestDecodeJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, uniformImage(16, 8, color.Gray{Y: 128}), &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}

	frame, err := newTestDecoder().Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	defer frame.Release()

	if frame.Width != 16 || frame.Height != 8 {
		t.Fatalf("unexpected geometry %dx%d", frame.Width, frame.Height)
	}
	luma := frame.Luma()
	if math.Abs(float64(luma[0])-128.0/255) > 0.03 {
		t.Fatalf("unexpected luma %f", luma[0])
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	pngHeader := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR")
	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, kyc.ErrCorruptData},
		{"text", []byte("definitely not an image"), kyc.ErrUnsupportedFormat},
		{"truncated png", pngHeader, kyc.ErrCorruptData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := newTestDecoder().Decode(tc.data)
			if err == nil {
				frame.Release()
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDecodeRejectsOversizedImage(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, uniformImage(20, 20, color.White)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	cfg := config.Default()
	cfg.MaxImagePixels = 100
	_, err := NewDecoder(cfg, zap.NewNop()).Decode(buf.Bytes())
	if !errors.Is(err, kyc.ErrCorruptData) {
		t.Fatalf("expected CorruptData, got %v", err)
	}
}

func TestDecodeRawBGRWithOrientation(t *testing.T) {
	// 2x1 BGR: blue pixel then red pixel.
	pix := []byte{255, 0, 0, 0, 0, 255}
	frame, err := newTestDecoder().DecodeRaw(RawImage{
		Type:        ImageTypeBGR24,
		Pix:         pix,
		Width:       2,
		Height:      1,
		Orientation: 6,
	})
	if err != nil {
		t.Fatalf("DecodeRaw() error = %v", err)
	}
	defer frame.Release()

	if frame.Width != 1 || frame.Height != 2 {
		t.Fatalf("expected 1x2 after rotation, got %dx%d", frame.Width, frame.Height)
	}
	if frame.Orientation != 6 {
		t.Fatalf("unexpected orientation: %d", frame.Orientation)
	}
	// Orientation 6 rotates clockwise: the first source pixel ends on top.
	if frame.Plane(2)[0] != 1 || frame.Plane(0)[1] != 1 {
		t.Fatalf("unexpected pixel order: r=%v b=%v", frame.Plane(0), frame.Plane(2))
	}
}

func TestDecodeRawValidation(t *testing.T) {
	d := newTestDecoder()
	if _, err := d.DecodeRaw(RawImage{Type: ImageTypeNV12, Pix: []byte{1}, Width: 1, Height: 1}); !errors.Is(err, kyc.ErrUnsupportedFormat) {
		t.Fatalf("expected UnsupportedFormat, got %v", err)
	}
	if _, err := d.DecodeRaw(RawImage{Type: ImageTypeRGB24, Pix: []byte{1, 2}, Width: 1, Height: 1}); !errors.Is(err, kyc.ErrCorruptData) {
		t.Fatalf("expected CorruptData for short buffer, got %v", err)
	}
	if _, err := d.DecodeRaw(RawImage{Type: ImageTypeY, Pix: []byte{1}, Width: 1, Height: 1, Orientation: 9}); !errors.Is(err, kyc.ErrCorruptData) {
		t.Fatalf("expected CorruptData for orientation, got %v", err)
	}
}

func TestDecodeRawRejectsOverflowingGeometry(t *testing.T) {
	unlimited := config.Default()
	unlimited.MaxImagePixels = 0
	decoders := map[string]*Decoder{
		"limited":   newTestDecoder(),
		"unlimited": NewDecoder(unlimited, zap.NewNop()),
	}
	pix := make([]byte, 64)
	images := map[string]RawImage{
		"huge dimensions": {Type: ImageTypeRGBA32, Pix: pix, Width: math.MaxInt32, Height: math.MaxInt32},
		"huge width":      {Type: ImageTypeRGB24, Pix: pix, Width: math.MaxInt, Height: 1},
		"huge stride":     {Type: ImageTypeY, Pix: pix, Width: 4, Height: 4, Stride: math.MaxInt / 2},
	}
	for dname, d := range decoders {
		for iname, raw := range images {
			t.Run(dname+"/"+iname, func(t *testing.T) {
				if _, err := d.DecodeRaw(raw); !errors.Is(err, kyc.ErrCorruptData) {
					t.Fatalf("expected CorruptData, got %v", err)
				}
			})
		}
	}
}
