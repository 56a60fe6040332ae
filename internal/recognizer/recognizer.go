// Package recognizer reads the text fields of an aligned document patch.
//
// The patch is binarized with Otsu's threshold, split into lines (watershed
// or projection), lines into fields, and each field is handed to an Engine.
// Fields below the second-pass threshold are read again with a field-local
// threshold and the opposite resampling filter. Post-processing rules
// filter characters and validate field shapes.
package recognizer

import (
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/example/kyc-verif/internal/config"
	"github.com/example/kyc-verif/internal/kyc"
)

const (
	op = "recognizer.Recognize"
	// fieldPad is the margin kept around a field crop.
	fieldPad = 2
)

// Recognizer is safe for concurrent use when its engine is.
type Recognizer struct {
	engine    Engine
	rules     ruleSet
	watershed bool
	twoPasses bool
	threshold float64
	antialias bool
	logger    *zap.Logger
}

// New resolves the engine and the rules for cfg. A missing engine or an
// unreadable rules file is an InvalidConfig error.
func New(cfg config.Config, logger *zap.Logger) (*Recognizer, error) {
	engine, err := newEngine(cfg)
	if err != nil {
		return nil, kyc.Wrap(kyc.KindInvalidConfig, "recognizer.New", err)
	}
	rules, err := rulesFor(cfg.AssetsFolder)
	if err != nil {
		return nil, kyc.Wrap(kyc.KindInvalidConfig, "recognizer.New", err)
	}
	return &Recognizer{
		engine: engine,
		rules: ruleSet{
			Rules:     rules,
			whitelist: cfg.OCRTunningApplyWhitelist,
			blacklist: cfg.OCRTunningApplyBlacklist,
			patterns:  cfg.OCRTunningApplyPatterns,
		},
		watershed: cfg.TextSegmentationType == "watershed",
		twoPasses: cfg.OCR2Passes,
		threshold: cfg.OCR2ndPassThreshold,
		antialias: cfg.OCRPatchAntialias,
		logger:    logger.Named("recognizer"),
	}, nil
}

// Warm prepares engine resources ahead of the first request.
func (r *Recognizer) Warm() {
	if w, ok := r.engine.(interface{ Warm() }); ok {
		w.Warm()
	}
}

// Engine returns the engine name.
func (r *Recognizer) Engine() string { return r.engine.Name() }

// Recognize reads every field of patch in reading order. A patch without any
// readable field fails with RecognitionFailed.
func (r *Recognizer) Recognize(patch *kyc.AlignedPatch) (*kyc.RecognitionResult, error) {
	thr, ok := otsu(patch.Pix)
	if !ok {
		return nil, kyc.Errorf(kyc.KindRecognitionFailed, op, "patch has no contrast")
	}
	m := binarize(patch.Pix, patch.Width, patch.Height, thr)
	m.clearBorder()

	prof := m.rowProfile()
	bands := projectionBands(prof)
	if r.watershed {
		bands = watershedBands(prof)
	}

	img := patchImage(patch)
	result := &kyc.RecognitionResult{}
	for li, b := range bands {
		for fi, box := range fieldBoxes(m, b) {
			field, err := r.readField(img, box, thr)
			if err != nil {
				return nil, kyc.Wrap(kyc.KindRecognitionFailed, op, err)
			}
			if field.Text == "" {
				continue
			}
			field.Name = fmt.Sprintf("line%d_field%d", li+1, fi+1)
			result.Fields = append(result.Fields, field)
		}
	}
	if len(result.Fields) == 0 {
		return nil, kyc.Errorf(kyc.KindRecognitionFailed, op, "no text fields in %d lines", len(bands))
	}
	r.logger.Debug("recognized",
		zap.Int("lines", len(bands)),
		zap.Int("fields", len(result.Fields)),
		zap.Float64("confidence", result.Confidence()),
	)
	return result, nil
}

func (r *Recognizer) readField(img *image.Gray, box image.Rectangle, thr float32) (kyc.Field, error) {
	crop := img.SubImage(box.Inset(-fieldPad).Intersect(img.Bounds())).(*image.Gray)
	reading, err := r.engine.Recognize(crop, EngineOptions{Antialias: r.antialias, Threshold: thr})
	if err != nil {
		return kyc.Field{}, err
	}
	pass := 1
	if r.twoPasses && reading.Confidence < r.threshold {
		second, err := r.engine.Recognize(crop, EngineOptions{Antialias: !r.antialias})
		if err != nil {
			return kyc.Field{}, err
		}
		if second.Confidence > reading.Confidence {
			reading, pass = second, 2
		}
	}
	text, valid, _ := r.rules.apply(reading.Text)
	return kyc.Field{
		Text:       text,
		Confidence: reading.Confidence,
		Box:        box,
		Valid:      valid,
		Pass:       pass,
	}, nil
}

func patchImage(p *kyc.AlignedPatch) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, p.Width, p.Height))
	for i, v := range p.Pix {
		img.Pix[i] = uint8(min(max(v, 0), 1)*255 + 0.5)
	}
	return img
}
