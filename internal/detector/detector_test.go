package detector

import (
	"image"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/example/kyc-verif/internal/config"
	"github.com/example/kyc-verif/internal/kyc"
	"github.com/example/kyc-verif/internal/testimage"
)

func frameFromGray(img *image.Gray) *kyc.Frame {
	gray := testimage.Samples(img)
	pix := make([]float32, 0, 3*len(gray))
	for c := 0; c < 3; c++ {
		pix = append(pix, gray...)
	}
	b := img.Bounds()
	return kyc.NewFrame(b.Dx(), b.Dy(), pix, "png", nil)
}

func collect(d *Detector, frame *kyc.Frame) []kyc.DetectionCandidate {
	var out []kyc.DetectionCandidate
	for c := range d.Detect(frame) {
		out = append(out, c)
	}
	return out
}

func TestDetectUniformFrameYieldsNothing(t *testing.T) {
	d := New(config.Default(), zap.NewNop())
	if got := collect(d, frameFromGray(testimage.Uniform(10, 10, 200))); len(got) != 0 {
		t.Fatalf("expected no candidates, got %d", len(got))
	}
	if got := collect(d, frameFromGray(testimage.Uniform(120, 80, 30))); len(got) != 0 {
		t.Fatalf("expected no candidates on a flat frame, got %d", len(got))
	}
}

func TestDetectSyntheticCard(t *testing.T) {
	doc := testimage.Card(300, 200)
	d := New(config.Default(), zap.NewNop())

	got := collect(d, frameFromGray(doc.Render()))
	if len(got) == 0 {
		t.Fatal("expected a candidate")
	}
	best := got[0]
	if best.Confidence < config.Default().DetectThreshold {
		t.Fatalf("confidence %f below threshold", best.Confidence)
	}
	card := doc.Card
	want := []kyc.Point{
		{X: float64(card.Min.X), Y: float64(card.Min.Y)},
		{X: float64(card.Max.X - 1), Y: float64(card.Min.Y)},
		{X: float64(card.Max.X - 1), Y: float64(card.Max.Y - 1)},
		{X: float64(card.Min.X), Y: float64(card.Max.Y - 1)},
	}
	for i, w := range want {
		p := best.Keypoints[i].Src
		if math.Hypot(p.X-w.X, p.Y-w.Y) > 4 {
			t.Fatalf("corner %d at %+v, want near %+v", i, p, w)
		}
	}
	// Dense graph: corners, side midpoints and the center.
	if len(best.Keypoints) != 9 {
		t.Fatalf("expected 9 keypoints in dense mode, got %d", len(best.Keypoints))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Confidence > got[i-1].Confidence {
			t.Fatal("candidates not ordered by confidence")
		}
	}
}

func TestDetectSparseGraphKeepsCorners(t *testing.T) {
	cfg := config.Default()
	cfg.GraphType = "sparse"
	got := collect(New(cfg, zap.NewNop()), frameFromGray(testimage.Card(300, 200).Render()))
	if len(got) == 0 {
		t.Fatal("expected a candidate")
	}
	if len(got[0].Keypoints) != 4 {
		t.Fatalf("expected 4 keypoints, got %d", len(got[0].Keypoints))
	}
}

func TestDetectSequenceIsSingleUse(t *testing.T) {
	d := New(config.Default(), zap.NewNop())
	seq := d.Detect(frameFromGray(testimage.Card(300, 200).Render()))

	first := 0
	for range seq {
		first++
	}
	if first == 0 {
		t.Fatal("expected candidates on first iteration")
	}
	for range seq {
		t.Fatal("second iteration must yield nothing")
	}
}
