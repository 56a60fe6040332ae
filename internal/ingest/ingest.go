// Package ingest turns encoded or raw image buffers into normalized frames.
package ingest

import (
	"bytes"
	"image"
	_ "image/gif"  // register GIF
	_ "image/jpeg" // register JPEG
	_ "image/png"  // register PNG
	"maps"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"  // register BMP
	_ "golang.org/x/image/tiff" // register TIFF
	_ "golang.org/x/image/webp" // register WebP

	"github.com/example/kyc-verif/internal/config"
	"github.com/example/kyc-verif/internal/kyc"
)

var supportedFormats = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
	"image/tiff": "tiff",
	"image/webp": "webp",
}

// MIMETypes lists the encoded formats Decode accepts, sorted.
func MIMETypes() []string {
	return slices.Sorted(maps.Keys(supportedFormats))
}

// Decoder converts input buffers into frames. It is safe for concurrent use.
type Decoder struct {
	maxPixels int
	logger    *zap.Logger
	pool      pixelPool
}

// NewDecoder builds a decoder bounded by cfg.MaxImagePixels.
func NewDecoder(cfg config.Config, logger *zap.Logger) *Decoder {
	return &Decoder{maxPixels: cfg.MaxImagePixels, logger: logger.Named("ingest")}
}

// Decode validates and decodes a compressed image. Empty, truncated or
// oversized inputs are rejected before the pixel buffer is allocated.
func (d *Decoder) Decode(data []byte) (*kyc.Frame, error) {
	const op = "ingest.decode"
	if len(data) == 0 {
		return nil, kyc.Errorf(kyc.KindCorruptData, op, "empty input")
	}

	mime := mimetype.Detect(data)
	format, ok := supportedFormats[baseMIME(mime.String())]
	if !ok {
		return nil, kyc.Errorf(kyc.KindUnsupportedFormat, op, "unsupported content type %q", mime.String())
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, kyc.Wrap(kyc.KindCorruptData, op, err)
	}
	if err := d.checkSize(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, kyc.Wrap(kyc.KindCorruptData, op, err)
	}

	frame := d.toFrame(imaging.Clone(img), format)
	d.logger.Debug("decoded image",
		zap.String("format", format),
		zap.Int("width", frame.Width),
		zap.Int("height", frame.Height),
	)
	return frame, nil
}

// maxBytesPerPixel bounds the widest per-pixel buffer built from a decoded
// image: three float32 planes.
const maxBytesPerPixel = 12

func (d *Decoder) checkSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return kyc.Errorf(kyc.KindCorruptData, "ingest.decode", "invalid dimensions %dx%d", width, height)
	}
	if width > math.MaxInt/maxBytesPerPixel/height {
		return kyc.Errorf(kyc.KindCorruptData, "ingest.decode", "dimensions %dx%d overflow", width, height)
	}
	if d.maxPixels > 0 && width > d.maxPixels/height {
		return kyc.Errorf(kyc.KindCorruptData, "ingest.decode", "image %dx%d exceeds %d pixels", width, height, d.maxPixels)
	}
	return nil
}

// toFrame composites img over white and splits it into R, G, B planes.
func (d *Decoder) toFrame(img *image.NRGBA, format string) *kyc.Frame {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	n := w * h
	pix := d.pool.get(3 * n)
	r, g, b := pix[:n], pix[n:2*n], pix[2*n:]
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+4*w]
		for x := 0; x < w; x++ {
			i := y*w + x
			a := float32(row[4*x+3]) / 255
			r[i] = float32(row[4*x])/255*a + (1 - a)
			g[i] = float32(row[4*x+1])/255*a + (1 - a)
			b[i] = float32(row[4*x+2])/255*a + (1 - a)
		}
	}
	return kyc.NewFrame(w, h, pix, format, d.pool.put)
}

func baseMIME(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		return m[:i]
	}
	return m
}

type pixelPool struct {
	pool sync.Pool
}

func (p *pixelPool) get(n int) []float32 {
	if v, ok := p.pool.Get().(*[]float32); ok && cap(*v) >= n {
		return (*v)[:n]
	}
	return make([]float32, n)
}

func (p *pixelPool) put(buf []float32) {
	if buf == nil {
		return
	}
	p.pool.Put(&buf)
}
