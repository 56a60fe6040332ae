package recognizer

import (
	"image"
	"sort"
)

const (
	// valleyRatio: two watershed basins stay separate only when the profile
	// between them drops below this share of the lower peak.
	valleyRatio = 0.1
	// minBandHeight drops bands thinner than this many rows.
	minBandHeight = 4
	// fieldGapHeight: a gap wider than this share of the band height always
	// splits fields, whatever the median gap.
	fieldGapHeight = 0.6
)

// mask is a binary ink map of a patch.
type mask struct {
	w, h int
	ink  []bool
}

func (m *mask) at(x, y int) bool { return m.ink[y*m.w+x] }

// binarize marks samples darker than thr as ink.
func binarize(pix []float32, w, h int, thr float32) *mask {
	m := &mask{w: w, h: h, ink: make([]bool, w*h)}
	for i, v := range pix {
		m.ink[i] = v < thr
	}
	return m
}

// otsu returns the threshold in [0,1] maximizing between-class variance.
// ok is false when the samples have no usable contrast.
func otsu(pix []float32) (float32, bool) {
	const bins = 256
	var hist [bins]float64
	lo, hi := float32(1), float32(0)
	for _, v := range pix {
		b := int(v * (bins - 1))
		b = min(max(b, 0), bins-1)
		hist[b]++
		lo, hi = min(lo, v), max(hi, v)
	}
	if hi-lo < 0.1 {
		return 0, false
	}
	total := float64(len(pix))
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
		mB, mF := sumB/wB, (sum-sumB)/wF
		if between := wB * wF * (mB - mF) * (mB - mF); between > best {
			best, bestBin = between, i
		}
	}
	return (float32(bestBin) + 0.5) / (bins - 1), true
}

// clearBorder removes ink 4-connected to the patch edge: the document outline
// and background slivers left by the warp.
func (m *mask) clearBorder() {
	var stack []int
	push := func(x, y int) {
		i := y*m.w + x
		if m.ink[i] {
			m.ink[i] = false
			stack = append(stack, i)
		}
	}
	for x := 0; x < m.w; x++ {
		push(x, 0)
		push(x, m.h-1)
	}
	for y := 0; y < m.h; y++ {
		push(0, y)
		push(m.w-1, y)
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%m.w, i/m.w
		if x > 0 {
			push(x-1, y)
		}
		if x < m.w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < m.h-1 {
			push(x, y+1)
		}
	}
}

func (m *mask) rowProfile() []float64 {
	prof := make([]float64, m.h)
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			if m.at(x, y) {
				prof[y]++
			}
		}
	}
	return prof
}

// band is a half-open row range holding one text line.
type band struct{ y0, y1 int }

// projectionBands splits lines on empty rows only.
func projectionBands(prof []float64) []band {
	var out []band
	start := -1
	for y, v := range prof {
		switch {
		case v > 0 && start < 0:
			start = y
		case v == 0 && start >= 0:
			out = append(out, band{start, y})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, band{start, len(prof)})
	}
	return filterBands(out)
}

// watershedBands floods the smoothed row profile from its peaks downwards.
// Basins meeting at a shallow saddle merge; basins meeting at a deep valley
// stay apart and the meeting row becomes the boundary. Touching lines joined
// by a thin stroke therefore split where projection would merge them.
func watershedBands(prof []float64) []band {
	n := len(prof)
	s := smooth(prof)
	order := make([]int, 0, n)
	for y := 0; y < n; y++ {
		if s[y] > 0 {
			order = append(order, y)
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return s[order[a]] > s[order[b]] })

	const (
		none     = 0
		boundary = -1
	)
	label := make([]int, n)
	parent := []int{0}
	peak := []float64{0}
	find := func(l int) int {
		for parent[l] != l {
			parent[l] = parent[parent[l]]
			l = parent[l]
		}
		return l
	}
	for _, y := range order {
		var left, right int
		if y > 0 && label[y-1] > 0 {
			left = find(label[y-1])
		}
		if y < n-1 && label[y+1] > 0 {
			right = find(label[y+1])
		}
		switch {
		case left == none && right == none:
			parent = append(parent, len(parent))
			peak = append(peak, s[y])
			label[y] = len(parent) - 1
		case left == none || right == none || left == right:
			label[y] = max(left, right)
		case s[y] > valleyRatio*min(peak[left], peak[right]):
			parent[right] = left
			peak[left] = max(peak[left], peak[right])
			label[y] = left
		default:
			label[y] = boundary
		}
	}

	var out []band
	start, cur := -1, none
	for y := 0; y <= n; y++ {
		l := none
		if y < n && label[y] > 0 {
			l = find(label[y])
		}
		if l == cur {
			continue
		}
		if cur != none {
			out = append(out, band{start, y})
		}
		start, cur = y, l
	}
	return filterBands(out)
}

func smooth(prof []float64) []float64 {
	out := make([]float64, len(prof))
	for y := range prof {
		var sum float64
		var cnt int
		for d := -1; d <= 1; d++ {
			if j := y + d; j >= 0 && j < len(prof) {
				sum += prof[j]
				cnt++
			}
		}
		if prof[y] > 0 {
			out[y] = sum / float64(cnt)
		}
	}
	return out
}

func filterBands(in []band) []band {
	out := in[:0]
	for _, b := range in {
		if b.y1-b.y0 >= minBandHeight {
			out = append(out, b)
		}
	}
	return out
}

// run is a half-open column range containing ink.
type run struct{ x0, x1 int }

func columnRuns(m *mask, b band) []run {
	var out []run
	start := -1
	for x := 0; x <= m.w; x++ {
		inked := false
		if x < m.w {
			for y := b.y0; y < b.y1; y++ {
				if m.at(x, y) {
					inked = true
					break
				}
			}
		}
		switch {
		case inked && start < 0:
			start = x
		case !inked && start >= 0:
			out = append(out, run{start, x})
			start = -1
		}
	}
	return out
}

// fieldBoxes groups the character runs of a band into fields. A gap wider
// than twice the median gap, and wider than a share of the band height,
// starts a new field. Boxes are tightened to the ink they contain.
func fieldBoxes(m *mask, b band) []image.Rectangle {
	runs := columnRuns(m, b)
	if len(runs) == 0 {
		return nil
	}
	gaps := make([]int, 0, len(runs))
	for i := 1; i < len(runs); i++ {
		gaps = append(gaps, runs[i].x0-runs[i-1].x1)
	}
	limit := fieldGapHeight * float64(b.y1-b.y0)
	if len(gaps) > 0 {
		sorted := append([]int(nil), gaps...)
		sort.Ints(sorted)
		limit = max(limit, 2*float64(sorted[len(sorted)/2]))
	}

	var out []image.Rectangle
	first := 0
	for i := 1; i <= len(runs); i++ {
		if i < len(runs) && float64(gaps[i-1]) <= limit {
			continue
		}
		if box, ok := m.tighten(image.Rect(runs[first].x0, b.y0, runs[i-1].x1, b.y1)); ok {
			out = append(out, box)
		}
		first = i
	}
	return out
}

// tighten shrinks r vertically to the rows holding ink.
func (m *mask) tighten(r image.Rectangle) (image.Rectangle, bool) {
	y0, y1 := -1, -1
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if m.at(x, y) {
				if y0 < 0 {
					y0 = y
				}
				y1 = y + 1
				break
			}
		}
	}
	if y0 < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(r.Min.X, y0, r.Max.X, y1), true
}
