package aligner

import (
	"math"

	"github.com/example/kyc-verif/internal/geom"
	"github.com/example/kyc-verif/internal/kyc"
)

const (
	// tpsMinResidual skips the spline when the homography already fits within
	// this many canonical pixels.
	tpsMinResidual = 0.5
	tpsLambda      = 1e-6
)

// thinPlate is a residual displacement field over canonical coordinates.
// Coordinates are scaled by norm before evaluation.
type thinPlate struct {
	ctrl   []kyc.Point
	wx, wy []float64 // kernel weights followed by the affine terms a0, ax, ay
	kernel func(r float64) float64
	norm   float64
}

func kernelL2(r float64) float64 {
	if r == 0 {
		return 0
	}
	r2 := r * r
	return r2 * math.Log(r2)
}

func kernelL1(r float64) float64 { return r }

// fitThinPlate interpolates disp at ctrl. ctrl and disp are in canonical
// pixels.
func fitThinPlate(ctrl, disp []kyc.Point, kernel func(float64) float64, norm float64) (*thinPlate, bool) {
	n := len(ctrl)
	if n < 3 {
		return nil, false
	}
	scaled := make([]kyc.Point, n)
	for i, p := range ctrl {
		scaled[i] = kyc.Point{X: p.X / norm, Y: p.Y / norm}
	}
	size := n + 3
	a := make([][]float64, size)
	for i := range a {
		a[i] = make([]float64, size)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			r := math.Hypot(scaled[i].X-scaled[j].X, scaled[i].Y-scaled[j].Y)
			a[i][j] = kernel(r)
		}
		a[i][i] += tpsLambda
		a[i][n], a[i][n+1], a[i][n+2] = 1, scaled[i].X, scaled[i].Y
		a[n][i], a[n+1][i], a[n+2][i] = 1, scaled[i].X, scaled[i].Y
	}
	bx := make([]float64, size)
	by := make([]float64, size)
	for i := 0; i < n; i++ {
		bx[i] = disp[i].X
		by[i] = disp[i].Y
	}
	wx, ok := geom.Solve(a, bx)
	if !ok {
		return nil, false
	}
	wy, ok := geom.Solve(a, by)
	if !ok {
		return nil, false
	}
	return &thinPlate{ctrl: scaled, wx: wx, wy: wy, kernel: kernel, norm: norm}, true
}

// displace returns p moved by the interpolated residual.
func (t *thinPlate) displace(p kyc.Point) kyc.Point {
	u := kyc.Point{X: p.X / t.norm, Y: p.Y / t.norm}
	n := len(t.ctrl)
	dx := t.wx[n] + t.wx[n+1]*u.X + t.wx[n+2]*u.Y
	dy := t.wy[n] + t.wy[n+1]*u.X + t.wy[n+2]*u.Y
	for i, c := range t.ctrl {
		k := t.kernel(math.Hypot(u.X-c.X, u.Y-c.Y))
		dx += t.wx[i] * k
		dy += t.wy[i] * k
	}
	return kyc.Point{X: p.X + dx, Y: p.Y + dy}
}

// residualSpline fits the field that moves each canonical target onto the
// place h actually maps its source to. Every speed-th inlier is a control
// point. It returns nil when the residuals are negligible or the system is
// singular.
func (a *Aligner) residualSpline(h geom.Homography, src, dst []kyc.Point, inliers []int) *thinPlate {
	var ctrl, disp []kyc.Point
	var worst float64
	for i := 0; i < len(inliers); i += a.tpsSpeed {
		k := inliers[i]
		p, ok := h.Apply(src[k])
		if !ok {
			continue
		}
		d := kyc.Point{X: p.X - dst[k].X, Y: p.Y - dst[k].Y}
		worst = math.Max(worst, math.Hypot(d.X, d.Y))
		ctrl = append(ctrl, dst[k])
		disp = append(disp, d)
	}
	if len(ctrl) < 4 || worst < tpsMinResidual {
		return nil
	}
	kernel := kernelL2
	if a.tpsCost == "l1" {
		kernel = kernelL1
	}
	tp, ok := fitThinPlate(ctrl, disp, kernel, float64(a.canonW))
	if !ok {
		return nil
	}
	return tp
}
