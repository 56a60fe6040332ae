package geom

import (
	"math"
	"testing"

	"github.com/example/kyc-verif/internal/kyc"
)

func TestEstimateHomographyRecoversKnownTransform(t *testing.T) {
	want := Homography{1.2, 0.1, 30, -0.05, 0.9, 12, 0.0004, -0.0002, 1}
	src := []kyc.Point{{X: 0, Y: 0}, {X: 400, Y: 10}, {X: 390, Y: 260}, {X: 5, Y: 250}, {X: 200, Y: 130}}
	dst := make([]kyc.Point, len(src))
	for i, p := range src {
		dst[i], _ = want.Apply(p)
	}

	got, err := EstimateHomography(src, dst)
	if err != nil {
		t.Fatalf("EstimateHomography() error = %v", err)
	}
	for i, p := range src {
		if e := got.Error(p, dst[i]); e > 1e-6 {
			t.Fatalf("point %d reprojection error %g", i, e)
		}
	}
}

func TestEstimateHomographyDegenerate(t *testing.T) {
	src := []kyc.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}
	if _, err := EstimateHomography(src, src); err == nil {
		t.Fatal("expected degenerate error for collinear points")
	}
	if !Collinear(src) {
		t.Fatal("expected points to be reported collinear")
	}
}

func TestInverse(t *testing.T) {
	h := Homography{2, 0, 5, 0, 3, -4, 0, 0, 1}
	inv, ok := h.Inverse()
	if !ok {
		t.Fatal("expected invertible")
	}
	p := kyc.Point{X: 7, Y: 9}
	q, _ := h.Apply(p)
	back, _ := inv.Apply(q)
	if math.Hypot(back.X-p.X, back.Y-p.Y) > 1e-9 {
		t.Fatalf("inverse mismatch: %+v", back)
	}
}

func TestEstimateSimilarity(t *testing.T) {
	theta := 0.3
	s := 1.5
	src := []kyc.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 5}, {X: 0, Y: 5}}
	dst := make([]kyc.Point, len(src))
	for i, p := range src {
		dst[i] = kyc.Point{
			X: s*(math.Cos(theta)*p.X-math.Sin(theta)*p.Y) + 3,
			Y: s*(math.Sin(theta)*p.X+math.Cos(theta)*p.Y) - 2,
		}
	}
	h, err := EstimateSimilarity(src, dst)
	if err != nil {
		t.Fatalf("EstimateSimilarity() error = %v", err)
	}
	for i, p := range src {
		if e := h.Error(p, dst[i]); e > 1e-9 {
			t.Fatalf("point %d error %g", i, e)
		}
	}
}

func TestSolve(t *testing.T) {
	a := [][]float64{{2, 1}, {1, 3}}
	x, ok := Solve(a, []float64{3, 5})
	if !ok {
		t.Fatal("expected solution")
	}
	if math.Abs(x[0]-0.8) > 1e-12 || math.Abs(x[1]-1.4) > 1e-12 {
		t.Fatalf("unexpected solution %v", x)
	}
}
