// Package detector locates document candidates in a frame from its edge map.
package detector

import (
	"image"
	"iter"
	"math"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/example/kyc-verif/internal/config"
	"github.com/example/kyc-verif/internal/geom"
	"github.com/example/kyc-verif/internal/kyc"
)

const (
	// flatGradient is the strongest Sobel response still treated as a flat image.
	flatGradient = 0.05
	// minEdge is the lower bound of the edge threshold.
	minEdge = 0.1
	// minAreaRatio drops components smaller than this share of the frame.
	minAreaRatio = 0.02
	// sideSamples is the number of probes per quad side for border coverage.
	sideSamples = 48
	snapRadius  = 3
)

// Detector finds rectangular document borders.
type Detector struct {
	threshold float64
	dense     bool
	canonW    float64
	canonH    float64
	logger    *zap.Logger
}

// New builds a detector from cfg.
func New(cfg config.Config, logger *zap.Logger) *Detector {
	return &Detector{
		threshold: cfg.DetectThreshold,
		dense:     cfg.GraphType == "dense",
		canonW:    float64(cfg.CanonicalWidth),
		canonH:    float64(cfg.CanonicalHeight),
		logger:    logger.Named("detector"),
	}
}

// Detect returns the candidates above the confidence threshold, best first.
// Work starts on the first iteration and the sequence can be consumed once;
// later iterations yield nothing. An empty sequence means no document.
func (d *Detector) Detect(frame *kyc.Frame) iter.Seq[kyc.DetectionCandidate] {
	var consumed atomic.Bool
	return func(yield func(kyc.DetectionCandidate) bool) {
		if consumed.Swap(true) {
			return
		}
		for _, c := range d.candidates(frame) {
			if !yield(c) {
				return
			}
		}
	}
}

func (d *Detector) candidates(frame *kyc.Frame) []kyc.DetectionCandidate {
	w, h := frame.Width, frame.Height
	if w < 8 || h < 8 {
		return nil
	}
	mag, maxMag := sobel(frame.Luma(), w, h)
	if maxMag < flatGradient {
		d.logger.Debug("flat frame, no edges", zap.Float64("max_gradient", maxMag))
		return nil
	}
	thr := math.Max(otsu(mag, maxMag), minEdge)
	edges := make([]bool, len(mag))
	for i, m := range mag {
		edges[i] = m >= thr
	}
	edges = dilate(edges, w, h)

	frameArea := float64(w * h)
	var out []kyc.DetectionCandidate
	for _, comp := range components(edges, w, h) {
		box := comp.box
		if float64(box.Dx()*box.Dy()) < minAreaRatio*frameArea {
			continue
		}
		corners := comp.corners()
		coverage := borderCoverage(edges, w, h, corners)
		areaFactor := math.Min(1, float64(box.Dx()*box.Dy())/(0.25*frameArea))
		conf := coverage * (0.5 + 0.5*areaFactor)
		if conf < d.threshold {
			continue
		}
		out = append(out, kyc.DetectionCandidate{
			Box:        box,
			Confidence: conf,
			Keypoints:  d.keypoints(corners, edges, w, h),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	d.logger.Debug("detection finished", zap.Int("candidates", len(out)), zap.Float64("edge_threshold", thr))
	return out
}

// keypoints maps the corners, and in dense mode the side midpoints and the
// center, onto the canonical frame. Midpoints are predicted through the corner
// homography and snapped to the nearest observed edge.
func (d *Detector) keypoints(corners [4]kyc.Point, edges []bool, w, h int) []kyc.Keypoint {
	canon := [4]kyc.Point{{X: 0, Y: 0}, {X: d.canonW, Y: 0}, {X: d.canonW, Y: d.canonH}, {X: 0, Y: d.canonH}}
	kps := make([]kyc.Keypoint, 0, 9)
	for i := range corners {
		kps = append(kps, kyc.Keypoint{Src: corners[i], Dst: canon[i], Weight: 1})
	}
	if !d.dense {
		return kps
	}
	toFrame, err := geom.EstimateHomography(canon[:], corners[:])
	if err != nil {
		return kps
	}
	mids := []kyc.Point{
		{X: d.canonW / 2, Y: 0},
		{X: d.canonW, Y: d.canonH / 2},
		{X: d.canonW / 2, Y: d.canonH},
		{X: 0, Y: d.canonH / 2},
	}
	for _, m := range mids {
		p, ok := toFrame.Apply(m)
		if !ok {
			continue
		}
		if s, ok := snap(edges, w, h, p); ok {
			kps = append(kps, kyc.Keypoint{Src: s, Dst: m, Weight: 0.8})
		}
	}
	center := kyc.Point{X: d.canonW / 2, Y: d.canonH / 2}
	if p, ok := toFrame.Apply(center); ok {
		kps = append(kps, kyc.Keypoint{Src: p, Dst: center, Weight: 0.5})
	}
	return kps
}

func sobel(luma []float32, w, h int) ([]float64, float64) {
	mag := make([]float64, w*h)
	var maxMag float64
	at := func(x, y int) float64 { return float64(luma[y*w+x]) }
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) - at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)
			gy := at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1) - at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1)
			m := math.Hypot(gx, gy)
			mag[y*w+x] = m
			if m > maxMag {
				maxMag = m
			}
		}
	}
	return mag, maxMag
}

// otsu returns the threshold maximizing between-class variance over a 256 bin
// histogram of values in [0, maxVal].
func otsu(values []float64, maxVal float64) float64 {
	const bins = 256
	var hist [bins]float64
	for _, v := range values {
		b := int(v / maxVal * (bins - 1))
		hist[b]++
	}
	total := float64(len(values))
	var sum float64
	for i, c := range hist {
		sum += float64(i) * c
	}
	var sumB, wB, best float64
	bestBin := 0
	for i, c := range hist {
		wB += c
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(i) * c
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			bestBin = i
		}
	}
	return (float64(bestBin) + 0.5) / (bins - 1) * maxVal
}

func dilate(mask []bool, w, h int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask[y*w+x] {
				continue
			}
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx >= 0 && ny >= 0 && nx < w && ny < h {
						out[ny*w+nx] = true
					}
				}
			}
		}
	}
	return out
}

type component struct {
	box    image.Rectangle
	tl, br kyc.Point // extrema of x+y
	tr, bl kyc.Point // extrema of x-y
}

func (c component) corners() [4]kyc.Point {
	return [4]kyc.Point{c.tl, c.tr, c.br, c.bl}
}

// components labels 8-connected regions of mask.
func components(mask []bool, w, h int) []component {
	seen := make([]bool, len(mask))
	var out []component
	stack := make([]int, 0, 1024)
	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		seen[start] = true
		stack = append(stack[:0], start)
		sx, sy := start%w, start/w
		c := component{box: image.Rect(sx, sy, sx+1, sy+1)}
		minSum, maxSum := math.Inf(1), math.Inf(-1)
		minDiff, maxDiff := math.Inf(1), math.Inf(-1)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			c.box = c.box.Union(image.Rect(x, y, x+1, y+1))
			p := kyc.Point{X: float64(x), Y: float64(y)}
			if s := p.X + p.Y; s < minSum {
				minSum, c.tl = s, p
			}
			if s := p.X + p.Y; s > maxSum {
				maxSum, c.br = s, p
			}
			if df := p.X - p.Y; df > maxDiff {
				maxDiff, c.tr = df, p
			}
			if df := p.X - p.Y; df < minDiff {
				minDiff, c.bl = df, p
			}
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					j := ny*w + nx
					if mask[j] && !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}
		out = append(out, c)
	}
	return out
}

// borderCoverage is the share of probes along the quad sides that sit on an
// edge pixel, within snapRadius.
func borderCoverage(edges []bool, w, h int, q [4]kyc.Point) float64 {
	hits, total := 0, 0
	for i := 0; i < 4; i++ {
		a, b := q[i], q[(i+1)%4]
		for s := 0; s < sideSamples; s++ {
			t := (float64(s) + 0.5) / sideSamples
			p := kyc.Point{X: a.X + t*(b.X-a.X), Y: a.Y + t*(b.Y-a.Y)}
			total++
			if _, ok := snap(edges, w, h, p); ok {
				hits++
			}
		}
	}
	return float64(hits) / float64(total)
}

// snap finds the nearest edge pixel to p within snapRadius.
func snap(edges []bool, w, h int, p kyc.Point) (kyc.Point, bool) {
	cx, cy := int(math.Round(p.X)), int(math.Round(p.Y))
	best := math.Inf(1)
	var out kyc.Point
	for dy := -snapRadius; dy <= snapRadius; dy++ {
		for dx := -snapRadius; dx <= snapRadius; dx++ {
			x, y := cx+dx, cy+dy
			if x < 0 || y < 0 || x >= w || y >= h || !edges[y*w+x] {
				continue
			}
			if d := math.Hypot(float64(x)-p.X, float64(y)-p.Y); d < best {
				best = d
				out = kyc.Point{X: float64(x), Y: float64(y)}
			}
		}
	}
	return out, !math.IsInf(best, 1)
}
