package aligner

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/example/kyc-verif/internal/geom"
	"github.com/example/kyc-verif/internal/kyc"
)

const (
	sampleSize = 4
	// confidence drives the adaptive iteration bound.
	confidence = 0.99
	// prosacStep is the number of draws between subset growth steps.
	prosacStep = 8
)

// estimate is the outcome of one robust fit.
type estimate struct {
	model   geom.Homography
	inliers []int
	score   float64
	iters   int
}

// sampler draws minimal subsets of correspondence indices.
type sampler interface {
	next(iter int) [sampleSize]int
}

type uniformSampler struct {
	rng *rand.Rand
	n   int
}

func (s *uniformSampler) next(int) [sampleSize]int {
	var out [sampleSize]int
	for i := 0; i < sampleSize; i++ {
	draw:
		for {
			v := s.rng.IntN(s.n)
			for j := 0; j < i; j++ {
				if out[j] == v {
					continue draw
				}
			}
			out[i] = v
			break
		}
	}
	return out
}

// prosacSampler favors the highest weighted correspondences first and grows
// the candidate pool as iterations progress. Each draw contains the newest
// pool member and three others from the pool.
type prosacSampler struct {
	rng   *rand.Rand
	order []int
}

func newProsacSampler(rng *rand.Rand, kps []kyc.Keypoint) *prosacSampler {
	order := make([]int, len(kps))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return kps[order[a]].Weight > kps[order[b]].Weight })
	return &prosacSampler{rng: rng, order: order}
}

func (s *prosacSampler) next(iter int) [sampleSize]int {
	n := min(len(s.order), sampleSize+iter/prosacStep)
	var out [sampleSize]int
	out[0] = s.order[n-1]
	if n == sampleSize {
		copy(out[1:], s.order[:sampleSize-1])
		return out
	}
	picked := map[int]bool{n - 1: true}
	for i := 1; i < sampleSize; i++ {
		for {
			v := s.rng.IntN(n - 1)
			if !picked[v] {
				picked[v] = true
				out[i] = s.order[v]
				break
			}
		}
	}
	return out
}

// fitRobust searches for the homography src->dst with the best truncated
// quadratic score. Residuals are measured in canonical pixels and truncated at
// the inlier bound.
func (a *Aligner) fitRobust(src, dst []kyc.Point, kps []kyc.Keypoint) (estimate, bool) {
	n := len(src)
	rng := rand.New(rand.NewPCG(a.seed, a.seed^0x9e3779b97f4a7c15))
	var smp sampler = &uniformSampler{rng: rng, n: n}
	if a.prosac {
		smp = newProsacSampler(rng, kps)
	}

	bound := a.inlierBound()
	maxIters := a.maxIters
	if n == sampleSize {
		maxIters = 1
	}

	best := estimate{score: math.Inf(-1)}
	found := false
	limit := maxIters
	iter := 0
	for ; iter < limit; iter++ {
		idx := smp.next(iter)
		s := make([]kyc.Point, sampleSize)
		d := make([]kyc.Point, sampleSize)
		for i, k := range idx {
			s[i], d[i] = src[k], dst[k]
		}
		if geom.Collinear(s) || geom.Collinear(d) {
			continue
		}
		h, err := geom.EstimateHomography(s, d)
		if err != nil {
			continue
		}
		score, inliers := scoreModel(h, src, dst, bound)
		if score <= best.score {
			continue
		}
		best = estimate{model: h, inliers: inliers, score: score}
		found = true
		limit = min(maxIters, adaptiveLimit(float64(len(inliers))/float64(n)))
	}
	best.iters = iter
	return best, found
}

// scoreModel sums 1 - e^2/bound^2 over correspondences inside bound.
func scoreModel(h geom.Homography, src, dst []kyc.Point, bound float64) (float64, []int) {
	var score float64
	var inliers []int
	b2 := bound * bound
	for i := range src {
		e := h.Error(src[i], dst[i])
		if e > bound {
			continue
		}
		score += 1 - e*e/b2
		inliers = append(inliers, i)
	}
	return score, inliers
}

// adaptiveLimit is the number of draws needed to hit an all-inlier sample with
// the target confidence given the inlier ratio w.
func adaptiveLimit(w float64) int {
	if w >= 1 {
		return 1
	}
	p := math.Pow(w, sampleSize)
	if p <= 0 {
		return math.MaxInt32
	}
	k := math.Log(1-confidence) / math.Log(1-p)
	if k > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Ceil(k))
}

func subset(pts []kyc.Point, idx []int) []kyc.Point {
	out := make([]kyc.Point, len(idx))
	for i, k := range idx {
		out[i] = pts[k]
	}
	return out
}
