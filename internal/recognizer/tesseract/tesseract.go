//go:build tesseract

package tesseract

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/image/draw"

	"github.com/example/kyc-verif/internal/config"
	"github.com/example/kyc-verif/internal/glyph"
	"github.com/example/kyc-verif/internal/recognizer"
)

// lineHeight is the field height handed to tesseract.
const lineHeight = 48

func init() {
	recognizer.RegisterEngine("tesseract", func(cfg config.Config) (recognizer.Engine, error) {
		return NewEngine(), nil
	})
}

// Engine reads fields with a fresh gosseract client per call; clients are not
// safe for concurrent use.
type Engine struct {
	clientFactory func() *gosseract.Client
}

// NewEngine returns a tesseract engine restricted to the machine-readable
// character set.
func NewEngine() *Engine {
	return &Engine{clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

func (e *Engine) Recognize(field *image.Gray, opts recognizer.EngineOptions) (recognizer.Reading, error) {
	data, err := encodeLine(field, opts.Antialias)
	if err != nil {
		return recognizer.Reading{}, err
	}
	c := e.clientFactory()
	defer c.Close()
	if err := c.SetWhitelist(glyph.Charset); err != nil {
		return recognizer.Reading{}, fmt.Errorf("set whitelist: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		return recognizer.Reading{}, fmt.Errorf("set page segmentation: %w", err)
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return recognizer.Reading{}, fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return recognizer.Reading{}, fmt.Errorf("recognize text: %w", err)
	}
	return recognizer.Reading{
		Text:       strings.Join(strings.Fields(text), ""),
		Confidence: meanConfidence(c),
	}, nil
}

func meanConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}

// encodeLine scales the field to lineHeight and encodes it as PNG.
func encodeLine(field *image.Gray, antialias bool) ([]byte, error) {
	b := field.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty field")
	}
	w := max(1, b.Dx()*lineHeight/b.Dy())
	dst := image.NewGray(image.Rect(0, 0, w, lineHeight))
	var scaler draw.Scaler = draw.NearestNeighbor
	if antialias {
		scaler = draw.CatmullRom
	}
	scaler.Scale(dst, dst.Bounds(), field, b, draw.Src, nil)
	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode field: %w", err)
	}
	return buf.Bytes(), nil
}
