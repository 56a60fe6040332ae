// Package geom implements the planar transforms used to map detected document
// corners into the canonical frame.
package geom

import (
	"errors"
	"math"

	"github.com/example/kyc-verif/internal/kyc"
)

// ErrDegenerate is returned when a point configuration does not determine a
// transform (collinear or coincident points).
var ErrDegenerate = errors.New("degenerate point configuration")

// Homography is a row-major 3x3 projective transform.
type Homography [9]float64

// Identity returns the identity transform.
func Identity() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Apply maps p. ok is false when p lands on the line at infinity.
func (h Homography) Apply(p kyc.Point) (kyc.Point, bool) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < 1e-12 {
		return kyc.Point{}, false
	}
	return kyc.Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, true
}

// Mul returns h*o (o applied first).
func (h Homography) Mul(o Homography) Homography {
	var r Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += h[3*i+k] * o[3*k+j]
			}
			r[3*i+j] = s
		}
	}
	return r
}

// Inverse returns h^-1 scaled so the last element is 1 where possible.
func (h Homography) Inverse() (Homography, bool) {
	a, b, c := h[0], h[1], h[2]
	d, e, f := h[3], h[4], h[5]
	g, k, l := h[6], h[7], h[8]
	det := a*(e*l-f*k) - b*(d*l-f*g) + c*(d*k-e*g)
	if math.Abs(det) < 1e-12 {
		return Homography{}, false
	}
	inv := Homography{
		(e*l - f*k) / det, (c*k - b*l) / det, (b*f - c*e) / det,
		(f*g - d*l) / det, (a*l - c*g) / det, (c*d - a*f) / det,
		(d*k - e*g) / det, (b*g - a*k) / det, (a*e - b*d) / det,
	}
	return inv.normalized(), true
}

func (h Homography) normalized() Homography {
	if math.Abs(h[8]) < 1e-12 {
		return h
	}
	s := h[8]
	for i := range h {
		h[i] /= s
	}
	return h
}

// Error is the Euclidean reprojection error of src->dst under h.
func (h Homography) Error(src, dst kyc.Point) float64 {
	p, ok := h.Apply(src)
	if !ok {
		return math.Inf(1)
	}
	return math.Hypot(p.X-dst.X, p.Y-dst.Y)
}

// EstimateHomography fits dst ~ H(src) by normalized DLT. Four points give the
// exact solution; more points give the algebraic least-squares fit.
func EstimateHomography(src, dst []kyc.Point) (Homography, error) {
	n := len(src)
	if n < 4 || len(dst) != n {
		return Homography{}, ErrDegenerate
	}
	ts, okS := normalizer(src)
	td, okD := normalizer(dst)
	if !okS || !okD {
		return Homography{}, ErrDegenerate
	}

	var ata [8][8]float64
	var atb [8]float64
	addRow := func(row [8]float64, rhs float64) {
		for i := 0; i < 8; i++ {
			atb[i] += row[i] * rhs
			for j := 0; j < 8; j++ {
				ata[i][j] += row[i] * row[j]
			}
		}
	}
	for i := 0; i < n; i++ {
		s, _ := ts.Apply(src[i])
		d, _ := td.Apply(dst[i])
		addRow([8]float64{s.X, s.Y, 1, 0, 0, 0, -d.X * s.X, -d.X * s.Y}, d.X)
		addRow([8]float64{0, 0, 0, s.X, s.Y, 1, -d.Y * s.X, -d.Y * s.Y}, d.Y)
	}

	a := make([][]float64, 8)
	for i := range a {
		a[i] = ata[i][:]
	}
	x, ok := Solve(a, atb[:])
	if !ok {
		return Homography{}, ErrDegenerate
	}
	hn := Homography{x[0], x[1], x[2], x[3], x[4], x[5], x[6], x[7], 1}
	tdInv, ok := td.Inverse()
	if !ok {
		return Homography{}, ErrDegenerate
	}
	return tdInv.Mul(hn).Mul(ts).normalized(), nil
}

// normalizer moves the centroid to the origin and scales the mean distance to
// sqrt(2).
func normalizer(pts []kyc.Point) (Homography, bool) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n
	var mean float64
	for _, p := range pts {
		mean += math.Hypot(p.X-cx, p.Y-cy)
	}
	mean /= n
	if mean < 1e-9 {
		return Homography{}, false
	}
	s := math.Sqrt2 / mean
	return Homography{s, 0, -s * cx, 0, s, -s * cy, 0, 0, 1}, true
}

// EstimateSimilarity fits dst ~ s*R*src + t in the least-squares sense
// (Umeyama, without reflection).
func EstimateSimilarity(src, dst []kyc.Point) (Homography, error) {
	n := len(src)
	if n < 2 || len(dst) != n {
		return Homography{}, ErrDegenerate
	}
	var msx, msy, mdx, mdy float64
	for i := 0; i < n; i++ {
		msx += src[i].X
		msy += src[i].Y
		mdx += dst[i].X
		mdy += dst[i].Y
	}
	fn := float64(n)
	msx, msy, mdx, mdy = msx/fn, msy/fn, mdx/fn, mdy/fn

	var dot, cross, varSrc float64
	for i := 0; i < n; i++ {
		sx, sy := src[i].X-msx, src[i].Y-msy
		dx, dy := dst[i].X-mdx, dst[i].Y-mdy
		dot += sx*dx + sy*dy
		cross += sx*dy - sy*dx
		varSrc += sx*sx + sy*sy
	}
	if varSrc < 1e-12 {
		return Homography{}, ErrDegenerate
	}
	theta := math.Atan2(cross, dot)
	c, s := math.Cos(theta), math.Sin(theta)
	scale := (dot*c + cross*s) / varSrc
	tx := mdx - scale*(c*msx-s*msy)
	ty := mdy - scale*(s*msx+c*msy)
	return Homography{scale * c, -scale * s, tx, scale * s, scale * c, ty, 0, 0, 1}, nil
}

// Solve solves a*x = b by Gaussian elimination with partial pivoting. a and b
// are not modified.
func Solve(a [][]float64, b []float64) ([]float64, bool) {
	n := len(b)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n+1)
		copy(m[i], a[i])
		m[i][n] = b[i]
	}
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return nil, false
		}
		m[col], m[pivot] = m[pivot], m[col]
		for r := col + 1; r < n; r++ {
			f := m[r][col] / m[col][col]
			if f == 0 {
				continue
			}
			for c := col; c <= n; c++ {
				m[r][c] -= f * m[col][c]
			}
		}
	}
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		s := m[i][n]
		for j := i + 1; j < n; j++ {
			s -= m[i][j] * x[j]
		}
		x[i] = s / m[i][i]
	}
	return x, true
}

// Collinear reports whether any three of pts are (nearly) collinear.
func Collinear(pts []kyc.Point) bool {
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			for k := j + 1; k < len(pts); k++ {
				a, b, c := pts[i], pts[j], pts[k]
				area := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
				scale := math.Hypot(b.X-a.X, b.Y-a.Y) * math.Hypot(c.X-a.X, c.Y-a.Y)
				if scale < 1e-9 || math.Abs(area) < 1e-3*scale {
					return true
				}
			}
		}
	}
	return false
}
