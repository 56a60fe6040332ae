package recognizer

import (
	"fmt"
	"image"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/example/kyc-verif/internal/config"
	"github.com/example/kyc-verif/internal/glyph"
)

// EngineOptions tunes one recognition call.
type EngineOptions struct {
	// Antialias selects a smoothing resampling filter for glyph cells.
	Antialias bool
	// Threshold is the ink cut in [0,1]; zero means the field's own Otsu level.
	Threshold float32
}

// Reading is the text an engine read from one field image.
type Reading struct {
	Text       string
	Confidence float64
}

// Engine reads a single-line field image.
type Engine interface {
	Name() string
	Recognize(field *image.Gray, opts EngineOptions) (Reading, error)
}

// EngineFactory builds an engine for a configuration.
type EngineFactory func(cfg config.Config) (Engine, error)

var (
	enginesMu sync.RWMutex
	engines   = map[string]EngineFactory{
		"template": func(config.Config) (Engine, error) { return NewTemplateEngine(), nil },
	}
)

// RegisterEngine makes an engine selectable through the ocr_engine option.
func RegisterEngine(name string, factory EngineFactory) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	engines[name] = factory
}

// Engines lists the registered engine names.
func Engines() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newEngine(cfg config.Config) (Engine, error) {
	enginesMu.RLock()
	factory, ok := engines[cfg.OCREngine]
	enginesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ocr engine %q not available (have %s)", cfg.OCREngine, strings.Join(Engines(), ", "))
	}
	return factory(cfg)
}

const (
	cellW = 2 * glyph.Width
	cellH = 2 * glyph.Height
	// minCharHeight drops runs shorter than this share of the tallest run.
	minCharHeight = 0.5
)

type template struct {
	r      rune
	cell   []float64
	aspect float64
}

// TemplateEngine matches glyph cells against the built-in 5x7 font by
// normalized cross-correlation. Confidence is the correlation, damped when
// the cell aspect ratio disagrees with the glyph's.
type TemplateEngine struct {
	once      sync.Once
	templates []template
}

// NewTemplateEngine returns an engine whose templates are built on first use.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{}
}

func (e *TemplateEngine) Name() string { return "template" }

// Warm builds the normalized templates.
func (e *TemplateEngine) Warm() {
	e.once.Do(func() {
		for _, r := range glyph.Charset {
			bounds := glyph.Bounds(r)
			img := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
			for y := 0; y < bounds.Dy(); y++ {
				for x := 0; x < bounds.Dx(); x++ {
					v := uint8(255)
					if glyph.Ink(r, bounds.Min.X+x, bounds.Min.Y+y) {
						v = 0
					}
					img.Pix[y*img.Stride+x] = v
				}
			}
			cell, ok := cellVector(img, imaging.NearestNeighbor)
			if !ok {
				continue
			}
			e.templates = append(e.templates, template{
				r:      r,
				cell:   cell,
				aspect: float64(bounds.Dx()) / float64(bounds.Dy()),
			})
		}
	})
}

func (e *TemplateEngine) Recognize(field *image.Gray, opts EngineOptions) (Reading, error) {
	e.Warm()
	b := field.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := samples(field)
	thr := opts.Threshold
	if thr <= 0 {
		t, ok := otsu(pix)
		if !ok {
			return Reading{}, nil
		}
		thr = t
	}
	m := binarize(pix, w, h, thr)

	var cells []image.Rectangle
	tallest := 0
	for _, r := range columnRuns(m, band{0, h}) {
		box, ok := m.tighten(image.Rect(r.x0, 0, r.x1, h))
		if !ok {
			continue
		}
		cells = append(cells, box)
		tallest = max(tallest, box.Dy())
	}

	filter := imaging.NearestNeighbor
	if opts.Antialias {
		filter = imaging.Lanczos
	}
	var text strings.Builder
	var sum float64
	var n int
	for _, box := range cells {
		if float64(box.Dy()) < minCharHeight*float64(tallest) {
			continue
		}
		sub := field.SubImage(box.Add(b.Min))
		vec, ok := cellVector(sub, filter)
		if !ok {
			continue
		}
		r, conf := e.match(vec, float64(box.Dx())/float64(box.Dy()))
		text.WriteRune(r)
		sum += conf
		n++
	}
	if n == 0 {
		return Reading{}, nil
	}
	return Reading{Text: text.String(), Confidence: sum / float64(n)}, nil
}

func (e *TemplateEngine) match(vec []float64, aspect float64) (rune, float64) {
	best, bestScore := '?', math.Inf(-1)
	for _, t := range e.templates {
		var ncc float64
		for i, v := range vec {
			ncc += v * t.cell[i]
		}
		ratio := math.Min(aspect, t.aspect) / math.Max(aspect, t.aspect)
		score := math.Max(ncc, 0) * math.Sqrt(ratio)
		if score > bestScore {
			best, bestScore = t.r, score
		}
	}
	return best, math.Max(bestScore, 0)
}

// cellVector resamples img to the template grid and returns its ink values
// centered and scaled to unit length. ok is false for blank or solid cells.
func cellVector(img image.Image, filter imaging.ResampleFilter) ([]float64, bool) {
	resized := imaging.Resize(img, cellW, cellH, filter)
	vec := make([]float64, cellW*cellH)
	var mean float64
	for i := range vec {
		vec[i] = 1 - float64(resized.Pix[4*i])/255
		mean += vec[i]
	}
	mean /= float64(len(vec))
	var norm float64
	for i := range vec {
		vec[i] -= mean
		norm += vec[i] * vec[i]
	}
	if norm < 1e-9 {
		return nil, false
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec, true
}

func samples(img *image.Gray) []float32 {
	b := img.Bounds()
	out := make([]float32, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride : (y-b.Min.Y)*img.Stride+b.Dx()]
		for _, v := range row {
			out = append(out, float32(v)/255)
		}
	}
	return out
}
