package aligner

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"go.uber.org/zap"

	"github.com/example/kyc-verif/internal/config"
	"github.com/example/kyc-verif/internal/geom"
	"github.com/example/kyc-verif/internal/kyc"
	"github.com/example/kyc-verif/internal/testimage"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.CanonicalWidth = 128
	cfg.CanonicalHeight = 81
	return cfg
}

func uniformFrame(w, h int) *kyc.Frame {
	return kyc.NewFrame(w, h, make([]float32, 3*w*h), "png", nil)
}

// truth maps frame coordinates to the 128x81 canonical frame.
var truth = geom.Homography{0.5, 0.02, -10, -0.01, 0.48, -6, 0.001, 0.0003, 1}

func correspondences(pts []kyc.Point) []kyc.Keypoint {
	kps := make([]kyc.Keypoint, len(pts))
	for i, p := range pts {
		d, _ := truth.Apply(p)
		kps[i] = kyc.Keypoint{Src: p, Dst: d, Weight: 1}
	}
	return kps
}

var cleanPoints = []kyc.Point{
	{X: 20, Y: 12}, {X: 260, Y: 15}, {X: 255, Y: 170}, {X: 25, Y: 175},
	{X: 140, Y: 14}, {X: 258, Y: 90}, {X: 138, Y: 172}, {X: 22, Y: 95},
}

func TestAlignRejectsMajorityOutliers(t *testing.T) {
	kps := correspondences(cleanPoints[:4])
	rng := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 6; i++ {
		p := kyc.Point{X: 20 + rng.Float64()*240, Y: 12 + rng.Float64()*160}
		d, _ := truth.Apply(p)
		d.X += 40 + rng.Float64()*40
		d.Y -= 30 + rng.Float64()*30
		kps = append(kps, kyc.Keypoint{Src: p, Dst: d, Weight: 1})
	}
	cand := kyc.DetectionCandidate{Keypoints: kps}
	a := New(testConfig(), zap.NewNop())

	_, err1 := a.Align(uniformFrame(300, 200), cand)
	_, err2 := a.Align(uniformFrame(300, 200), cand)
	if !errors.Is(err1, kyc.ErrAlignmentFailed) {
		t.Fatalf("expected AlignmentFailed, got %v", err1)
	}
	if err2 == nil || err1.Error() != err2.Error() {
		t.Fatalf("expected deterministic failure, got %v and %v", err1, err2)
	}
}

func TestAlignRejectsOutliersInSmallSets(t *testing.T) {
	kps := correspondences(cleanPoints[:3])
	rng := rand.New(rand.NewPCG(3, 5))
	for i := 0; i < 5; i++ {
		p := kyc.Point{X: 20 + rng.Float64()*240, Y: 12 + rng.Float64()*160}
		d, _ := truth.Apply(p)
		d.X += 30 + rng.Float64()*50
		d.Y += 25 + rng.Float64()*50
		kps = append(kps, kyc.Keypoint{Src: p, Dst: d, Weight: 1})
	}
	cand := kyc.DetectionCandidate{Keypoints: kps}

	for run := 0; run < 2; run++ {
		patch, err := New(testConfig(), zap.NewNop()).Align(uniformFrame(300, 200), cand)
		if !errors.Is(err, kyc.ErrAlignmentFailed) {
			t.Fatalf("run %d: expected AlignmentFailed, got patch %+v err %v", run, patch, err)
		}
	}
}

func TestAlignSupportIgnoresMinimalSample(t *testing.T) {
	a := New(testConfig(), zap.NewNop())
	tests := []struct {
		inliers, n int
		want       float64
	}{
		{4, 4, 1},
		{4, 8, 0},
		{5, 8, 0.25},
		{6, 8, 0.5},
		{8, 8, 1},
		{3, 8, 0},
	}
	for _, tt := range tests {
		if got := a.support(tt.inliers, tt.n); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("support(%d, %d) = %f, want %f", tt.inliers, tt.n, got, tt.want)
		}
	}
}

func TestAlignNeedsFourCorrespondences(t *testing.T) {
	cand := kyc.DetectionCandidate{Keypoints: correspondences(cleanPoints[:3])}
	_, err := New(testConfig(), zap.NewNop()).Align(uniformFrame(300, 200), cand)
	if !errors.Is(err, kyc.ErrAlignmentFailed) {
		t.Fatalf("expected AlignmentFailed, got %v", err)
	}
}

func TestAlignCleanCorrespondences(t *testing.T) {
	cfg := testConfig()
	cfg.Graph2ndPassUmeyamaEnabled = false
	cand := kyc.DetectionCandidate{Keypoints: correspondences(cleanPoints)}

	patch, err := New(cfg, zap.NewNop()).Align(uniformFrame(300, 200), cand)
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}
	if patch.Width != 128 || patch.Height != 81 || len(patch.Pix) != 128*81 {
		t.Fatalf("unexpected patch geometry %dx%d", patch.Width, patch.Height)
	}
	if patch.Quality != 1 || len(patch.Inliers) != len(cleanPoints) {
		t.Fatalf("expected all inliers, got quality %f", patch.Quality)
	}
	if patch.Pass != 2 || patch.Coarse == nil || patch.Coarse.Pass != 1 {
		t.Fatalf("expected a refined patch with its coarse pass, got pass %d", patch.Pass)
	}
	for i, p := range cleanPoints {
		want, _ := truth.Apply(p)
		if e := geom.Homography(patch.Transform).Error(p, want); e > 1e-6 {
			t.Fatalf("point %d residual %g", i, e)
		}
	}
}

func TestAlignUmeyamaRefinementKeepsFirstPassOnPerspective(t *testing.T) {
	cand := kyc.DetectionCandidate{Keypoints: correspondences(cleanPoints)}
	patch, err := New(testConfig(), zap.NewNop()).Align(uniformFrame(300, 200), cand)
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}
	if patch.Pass != 1 || patch.Coarse != nil {
		t.Fatalf("similarity cannot explain a projective view, expected first pass, got pass %d", patch.Pass)
	}
}

func TestAlignSkipsRefinementBelowThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.Graph2ndPassUmeyamaEnabled = false
	cfg.Graph2PassesEnabled = false
	cand := kyc.DetectionCandidate{Keypoints: correspondences(cleanPoints)}
	patch, err := New(cfg, zap.NewNop()).Align(uniformFrame(300, 200), cand)
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}
	if patch.Pass != 1 || patch.Coarse != nil {
		t.Fatalf("expected single pass, got pass %d", patch.Pass)
	}
}

func TestAlignWarpsCardIntoCanonicalFrame(t *testing.T) {
	doc := testimage.Card(300, 200)
	gray := testimage.Samples(doc.Render())
	pix := append(append(append([]float32{}, gray...), gray...), gray...)
	frame := kyc.NewFrame(300, 200, pix, "png", nil)

	c := doc.Card
	cfg := testConfig()
	w, h := float64(cfg.CanonicalWidth-1), float64(cfg.CanonicalHeight-1)
	cand := kyc.DetectionCandidate{Keypoints: []kyc.Keypoint{
		{Src: kyc.Point{X: float64(c.Min.X), Y: float64(c.Min.Y)}, Dst: kyc.Point{X: 0, Y: 0}, Weight: 1},
		{Src: kyc.Point{X: float64(c.Max.X - 1), Y: float64(c.Min.Y)}, Dst: kyc.Point{X: w, Y: 0}, Weight: 1},
		{Src: kyc.Point{X: float64(c.Max.X - 1), Y: float64(c.Max.Y - 1)}, Dst: kyc.Point{X: w, Y: h}, Weight: 1},
		{Src: kyc.Point{X: float64(c.Min.X), Y: float64(c.Max.Y - 1)}, Dst: kyc.Point{X: 0, Y: h}, Weight: 1},
	}}
	patch, err := New(cfg, zap.NewNop()).Align(frame, cand)
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}
	if v := patch.At(64, 40); v < 0.9 {
		t.Fatalf("expected paper at the patch center, got %f", v)
	}
	if v := patch.At(-1, 0); v != 1 {
		t.Fatalf("out of range reads must be white, got %f", v)
	}
}

func TestThinPlateInterpolatesControlPoints(t *testing.T) {
	ctrl := []kyc.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 60}, {X: 0, Y: 60}, {X: 50, Y: 30}}
	disp := []kyc.Point{{X: 1, Y: 0}, {X: -1, Y: 2}, {X: 0, Y: -1}, {X: 2, Y: 1}, {X: 0.5, Y: 0.5}}
	for name, kernel := range map[string]func(float64) float64{"l2": kernelL2, "l1": kernelL1} {
		tp, ok := fitThinPlate(ctrl, disp, kernel, 100)
		if !ok {
			t.Fatalf("%s: fit failed", name)
		}
		for i, c := range ctrl {
			got := tp.displace(c)
			if math.Abs(got.X-(c.X+disp[i].X)) > 1e-3 || math.Abs(got.Y-(c.Y+disp[i].Y)) > 1e-3 {
				t.Fatalf("%s: control %d displaced to %+v", name, i, got)
			}
		}
	}
}

func TestProsacStartsWithStrongestCorrespondences(t *testing.T) {
	kps := []kyc.Keypoint{{Weight: 0.5}, {Weight: 1}, {Weight: 0.8}, {Weight: 1}, {Weight: 0.8}, {Weight: 1}, {Weight: 1}}
	s := newProsacSampler(rand.New(rand.NewPCG(1, 2)), kps)
	got := s.next(0)
	seen := map[int]bool{}
	for _, i := range got {
		seen[i] = true
	}
	for _, want := range []int{1, 3, 5, 6} {
		if !seen[want] {
			t.Fatalf("first PROSAC sample %v misses corner %d", got, want)
		}
	}
}

func TestAdaptiveLimit(t *testing.T) {
	if got := adaptiveLimit(1); got != 1 {
		t.Fatalf("adaptiveLimit(1) = %d", got)
	}
	if adaptiveLimit(0.5) <= adaptiveLimit(0.9) {
		t.Fatal("lower inlier ratio must need more iterations")
	}
}
