package recognizer

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/example/kyc-verif/internal/config"
	"github.com/example/kyc-verif/internal/kyc"
	"github.com/example/kyc-verif/internal/testimage"
)

func patchFromGray(img *image.Gray) *kyc.AlignedPatch {
	b := img.Bounds()
	return &kyc.AlignedPatch{Width: b.Dx(), Height: b.Dy(), Pix: testimage.Samples(img), Pass: 1}
}

func newTestRecognizer(t *testing.T, cfg config.Config) *Recognizer {
	t.Helper()
	r, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestRecognizeRenderedText(t *testing.T) {
	img := testimage.Text([]string{"P<UTOERIKSSON", "X1234567 740812"}, 6, 24, 24)
	res, err := newTestRecognizer(t, config.Default()).Recognize(patchFromGray(img))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}

	want := map[string]string{
		"line1_field1": "P<UTOERIKSSON",
		"line2_field1": "X1234567",
		"line2_field2": "740812",
	}
	if len(res.Fields) != len(want) {
		t.Fatalf("expected %d fields, got %+v", len(want), res.Fields)
	}
	for name, text := range want {
		f, ok := res.Field(name)
		if !ok {
			t.Fatalf("missing field %s in %+v", name, res.Fields)
		}
		if f.Text != text {
			t.Fatalf("field %s = %q, want %q", name, f.Text, text)
		}
		if !f.Valid {
			t.Fatalf("field %s should match a pattern", name)
		}
		if f.Confidence < 0.8 {
			t.Fatalf("field %s confidence %f too low", name, f.Confidence)
		}
	}
}

func TestRecognizeBlankPatchFails(t *testing.T) {
	_, err := newTestRecognizer(t, config.Default()).Recognize(patchFromGray(testimage.Uniform(64, 40, 250)))
	if !errors.Is(err, kyc.ErrRecognitionFailed) {
		t.Fatalf("expected RecognitionFailed, got %v", err)
	}
}

func touchingLines() *mask {
	const scale, margin, gap = 4, 12, 12
	img := testimage.Text([]string{"HELLO", "WORLD"}, scale, margin, gap)
	// A thin stroke bridging the two lines left of the text.
	top := margin + 7*scale - 2
	for y := top; y < top+gap+4; y++ {
		img.SetGray(margin-4, y, color.Gray{Y: 0})
	}
	b := img.Bounds()
	return binarize(testimage.Samples(img), b.Dx(), b.Dy(), 0.5)
}

func TestWatershedSplitsTouchingLines(t *testing.T) {
	prof := touchingLines().rowProfile()
	if got := projectionBands(prof); len(got) != 1 {
		t.Fatalf("projection should merge touching lines, got %d bands", len(got))
	}
	got := watershedBands(prof)
	if len(got) != 2 {
		t.Fatalf("watershed should split touching lines, got %d bands: %+v", len(got), got)
	}
	if got[0].y1 > got[1].y0 {
		t.Fatalf("bands overlap: %+v", got)
	}
}

func TestFieldBoxesSplitOnWideGaps(t *testing.T) {
	img := testimage.Text([]string{"ID 1234 X"}, 4, 8, 0)
	b := img.Bounds()
	m := binarize(testimage.Samples(img), b.Dx(), b.Dy(), 0.5)
	bands := projectionBands(m.rowProfile())
	if len(bands) != 1 {
		t.Fatalf("expected one line, got %d", len(bands))
	}
	if got := fieldBoxes(m, bands[0]); len(got) != 3 {
		t.Fatalf("expected 3 fields, got %d: %v", len(got), got)
	}
}

type scriptedEngine struct {
	first, second Reading
}

func (e scriptedEngine) Name() string { return "scripted" }

func (e scriptedEngine) Recognize(_ *image.Gray, opts EngineOptions) (Reading, error) {
	if opts.Threshold > 0 {
		return e.first, nil
	}
	return e.second, nil
}

func TestSecondPassKeepsBetterReading(t *testing.T) {
	RegisterEngine("scripted", func(config.Config) (Engine, error) {
		return scriptedEngine{
			first:  Reading{Text: "AB0", Confidence: 0.4},
			second: Reading{Text: "ABC", Confidence: 0.95},
		}, nil
	})
	cfg := config.Default()
	cfg.OCREngine = "scripted"
	img := testimage.Text([]string{"ABC"}, 4, 10, 0)

	res, err := newTestRecognizer(t, cfg).Recognize(patchFromGray(img))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	f := res.Fields[0]
	if f.Pass != 2 || f.Text != "ABC" || f.Confidence != 0.95 {
		t.Fatalf("expected second pass reading, got %+v", f)
	}

	cfg.OCR2Passes = false
	res, err = newTestRecognizer(t, cfg).Recognize(patchFromGray(img))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if f := res.Fields[0]; f.Pass != 1 || f.Text != "AB0" {
		t.Fatalf("expected first pass reading, got %+v", f)
	}
}

func TestNewRejectsUnknownEngine(t *testing.T) {
	cfg := config.Default()
	cfg.OCREngine = "missing"
	if _, err := New(cfg, zap.NewNop()); !errors.Is(err, kyc.ErrInvalidConfig) {
		t.Fatalf("expected InvalidConfig, got %v", err)
	}
}

func TestRulesApply(t *testing.T) {
	base := DefaultRules()
	if err := base.compile(); err != nil {
		t.Fatalf("compile: %v", err)
	}
	all := ruleSet{Rules: base, whitelist: true, blacklist: true, patterns: true}

	cases := []struct {
		name  string
		set   ruleSet
		in    string
		want  string
		valid bool
	}{
		{"numeric fixes", all, "74O8I2", "740812", true},
		{"word untouched", all, "ERIKSSON", "ERIKSSON", true},
		{"whitelist drops lowercase", all, "AbC", "AC", true},
		{"mixed shape invalid", all, "A1B2C", "A1B2C", false},
		{"patterns disabled", ruleSet{Rules: base}, "a1b2", "a1b2", true},
		{"blacklist", ruleSet{Rules: Rules{Blacklist: "<"}, blacklist: true}, "P<UTO", "PUTO", true},
		{"default blacklist without whitelist", ruleSet{Rules: base, blacklist: true, patterns: true}, "ERIK|SSON.", "ERIKSSON", true},
		{"blacklist disabled", ruleSet{Rules: base, patterns: true}, "ERIK|SSON.", "ERIK|SSON.", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, valid, _ := tc.set.apply(tc.in)
			if got != tc.want || valid != tc.valid {
				t.Fatalf("apply(%q) = %q, %v; want %q, %v", tc.in, got, valid, tc.want, tc.valid)
			}
		})
	}
}

func TestRulesFromAssetsFolder(t *testing.T) {
	dir := t.TempDir()
	yaml := "blacklist: \"Q\"\npatterns:\n  - name: code\n    regex: '^[A-Z]{3}$'\n"
	if err := os.WriteFile(filepath.Join(dir, RulesFile), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	rules, err := rulesFor(dir)
	if err != nil {
		t.Fatalf("rulesFor() error = %v", err)
	}
	if rules.Blacklist != "Q" || len(rules.Patterns) != 1 || rules.Patterns[0].Name != "code" {
		t.Fatalf("unexpected rules: %+v", rules)
	}
	if rules.Whitelist == "" {
		t.Fatal("whitelist default should survive a partial file")
	}

	empty, err := rulesFor(t.TempDir())
	if err != nil || len(empty.Patterns) != len(DefaultRules().Patterns) {
		t.Fatalf("missing file should fall back to defaults, got %+v, %v", empty, err)
	}
}

func TestNewRejectsBrokenRules(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, RulesFile), []byte("patterns:\n  - name: bad\n    regex: '('\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	cfg := config.Default()
	cfg.AssetsFolder = dir
	if _, err := New(cfg, zap.NewNop()); !errors.Is(err, kyc.ErrInvalidConfig) {
		t.Fatalf("expected InvalidConfig, got %v", err)
	}
}
