package aligner

import (
	"math"

	"github.com/example/kyc-verif/internal/geom"
	"github.com/example/kyc-verif/internal/kyc"
)

// warp resamples the luma plane into the canonical frame. toFrame maps
// canonical to frame coordinates; spline, when set, corrects canonical
// coordinates first. Samples outside the frame read as white.
func (a *Aligner) warp(luma []float32, fw, fh int, toFrame geom.Homography, spline *thinPlate) []float32 {
	w, h := a.canonW, a.canonH
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := kyc.Point{X: float64(x), Y: float64(y)}
			if spline != nil {
				c = spline.displace(c)
			}
			p, ok := toFrame.Apply(c)
			if !ok {
				out[y*w+x] = 1
				continue
			}
			out[y*w+x] = bilinear(luma, fw, fh, p.X, p.Y)
		}
	}
	if a.stn {
		stretch(out)
	}
	return out
}

func bilinear(pix []float32, w, h int, x, y float64) float32 {
	if x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
		return 1
	}
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	fx, fy := float32(x-float64(x0)), float32(y-float64(y0))
	top := pix[y0*w+x0]*(1-fx) + pix[y0*w+x1]*fx
	bottom := pix[y1*w+x0]*(1-fx) + pix[y1*w+x1]*fx
	return top*(1-fy) + bottom*fy
}

// stretch maps the 1st..99th percentile range onto [0,1] in place. Patches
// with almost no contrast are left alone.
func stretch(pix []float32) {
	const bins = 256
	var hist [bins]int
	for _, v := range pix {
		hist[clampBin(v, bins)]++
	}
	lo, hi := percentile(hist[:], len(pix), 0.01), percentile(hist[:], len(pix), 0.99)
	loV, hiV := float32(lo)/(bins-1), float32(hi)/(bins-1)
	if hiV-loV < 0.05 {
		return
	}
	scale := 1 / (hiV - loV)
	for i, v := range pix {
		s := (v - loV) * scale
		pix[i] = min(max(s, 0), 1)
	}
}

func clampBin(v float32, bins int) int {
	b := int(v * float32(bins-1))
	return min(max(b, 0), bins-1)
}

func percentile(hist []int, total int, q float64) int {
	target := int(math.Ceil(q * float64(total)))
	acc := 0
	for i, c := range hist {
		acc += c
		if acc >= target {
			return i
		}
	}
	return len(hist) - 1
}
