// Package aligner maps a detected document into the canonical frame. The
// transform is fitted with a robust sampling estimator, optionally refined on
// the first-pass inliers and corrected by a thin-plate spline.
package aligner

import (
	"go.uber.org/zap"

	"github.com/example/kyc-verif/internal/config"
	"github.com/example/kyc-verif/internal/geom"
	"github.com/example/kyc-verif/internal/kyc"
)

const op = "aligner.Align"

// Aligner is safe for concurrent use; every call seeds its own sampler.
type Aligner struct {
	sigma    float64
	maxIters int
	prosac   bool
	minRatio float64
	seed     uint64
	sparse   bool

	twoPass         bool
	refineThreshold float64
	umeyama         bool

	tps      bool
	tpsSpeed int
	tpsCost  string
	stn      bool

	canonW, canonH int
	logger         *zap.Logger
}

// New builds an aligner from cfg.
func New(cfg config.Config, logger *zap.Logger) *Aligner {
	return &Aligner{
		sigma:           cfg.MagsacSigma,
		maxIters:        cfg.MagsacMaxIters,
		prosac:          cfg.MagsacResampler == "prosac",
		minRatio:        cfg.MagsacMinInlierRatio,
		seed:            uint64(cfg.MagsacSeed),
		sparse:          cfg.GraphType == "sparse",
		twoPass:         cfg.Graph2PassesEnabled,
		refineThreshold: cfg.Graph2ndPassOCRThreshold,
		umeyama:         cfg.Graph2ndPassUmeyamaEnabled,
		tps:             cfg.TPSEnabled,
		tpsSpeed:        cfg.TPSSpeed,
		tpsCost:         cfg.TPSCost,
		stn:             cfg.STNEnabled,
		canonW:          cfg.CanonicalWidth,
		canonH:          cfg.CanonicalHeight,
		logger:          logger.Named("aligner"),
	}
}

// inlierBound is the residual, in canonical pixels, beyond which a
// correspondence is an outlier.
func (a *Aligner) inlierBound() float64 {
	return 3 * a.sigma
}

// Align fits the frame->canonical transform from the candidate keypoints and
// resamples the frame into a canonical gray patch. It fails with
// AlignmentFailed when fewer than four correspondences exist or no model
// explains the configured share of them.
func (a *Aligner) Align(frame *kyc.Frame, cand kyc.DetectionCandidate) (*kyc.AlignedPatch, error) {
	kps := cand.Keypoints
	if a.sparse {
		kps = corners(kps)
	}
	n := len(kps)
	if n < sampleSize {
		return nil, kyc.Errorf(kyc.KindAlignmentFailed, op, "%d correspondences, need %d", n, sampleSize)
	}
	src := make([]kyc.Point, n)
	dst := make([]kyc.Point, n)
	for i, kp := range kps {
		src[i], dst[i] = kp.Src, kp.Dst
	}

	est, ok := a.fitRobust(src, dst, kps)
	if !ok {
		return nil, kyc.Errorf(kyc.KindAlignmentFailed, op, "no valid model in %d iterations", a.maxIters)
	}
	if ratio := a.support(len(est.inliers), n); ratio < a.minRatio {
		return nil, kyc.Errorf(kyc.KindAlignmentFailed, op,
			"best model explains %d of %d correspondences (%.2f < %.2f)", len(est.inliers), n, ratio, a.minRatio)
	}
	a.logger.Debug("robust fit",
		zap.Int("iterations", est.iters),
		zap.Int("inliers", len(est.inliers)),
		zap.Int("correspondences", n),
	)

	luma := frame.Luma()
	first, err := a.patch(luma, frame, est.model, src, dst, est.inliers, 1)
	if err != nil {
		return nil, err
	}
	if !a.twoPass || first.Quality < a.refineThreshold {
		return first, nil
	}

	refined, ok := a.refine(src, dst, est.inliers)
	if !ok {
		return first, nil
	}
	_, refinedInliers := scoreModel(refined, src, dst, a.inlierBound())
	if len(refinedInliers) < len(est.inliers) {
		a.logger.Debug("refinement dropped inliers, keeping first pass",
			zap.Int("first", len(est.inliers)), zap.Int("refined", len(refinedInliers)))
		return first, nil
	}
	second, err := a.patch(luma, frame, refined, src, dst, refinedInliers, 2)
	if err != nil {
		return first, nil
	}
	second.Coarse = first
	return second, nil
}

// support is the share of correspondences outside the minimal sample that
// agree with a model. Any four points fit their own homography exactly, so
// they carry no evidence. With exactly four correspondences there is nothing
// to check against and the exact fit is accepted.
func (a *Aligner) support(inliers, n int) float64 {
	if n == sampleSize {
		return float64(inliers) / float64(n)
	}
	if inliers <= sampleSize {
		return 0
	}
	return float64(inliers-sampleSize) / float64(n-sampleSize)
}

// refine re-estimates the model from the first-pass inliers only.
func (a *Aligner) refine(src, dst []kyc.Point, inliers []int) (geom.Homography, bool) {
	s, d := subset(src, inliers), subset(dst, inliers)
	var (
		h   geom.Homography
		err error
	)
	if a.umeyama {
		h, err = geom.EstimateSimilarity(s, d)
	} else {
		h, err = geom.EstimateHomography(s, d)
	}
	return h, err == nil
}

func (a *Aligner) patch(luma []float32, frame *kyc.Frame, h geom.Homography, src, dst []kyc.Point, inliers []int, pass int) (*kyc.AlignedPatch, error) {
	toFrame, ok := h.Inverse()
	if !ok {
		return nil, kyc.Errorf(kyc.KindAlignmentFailed, op, "singular transform")
	}
	var spline *thinPlate
	if a.tps {
		spline = a.residualSpline(h, src, dst, inliers)
	}
	return &kyc.AlignedPatch{
		Width:     a.canonW,
		Height:    a.canonH,
		Pix:       a.warp(luma, frame.Width, frame.Height, toFrame, spline),
		Transform: h,
		Inliers:   inliers,
		Quality:   float64(len(inliers)) / float64(len(src)),
		Pass:      pass,
	}, nil
}

// corners keeps the full-weight keypoints.
func corners(kps []kyc.Keypoint) []kyc.Keypoint {
	out := make([]kyc.Keypoint, 0, 4)
	for _, kp := range kps {
		if kp.Weight >= 1 {
			out = append(out, kp)
		}
	}
	return out
}
