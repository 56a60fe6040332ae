// Package pipeline orchestrates ingest, detection, alignment, recognition and
// matching for each request and owns the engine lifecycle.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"iter"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/kyc-verif/internal/aligner"
	"github.com/example/kyc-verif/internal/config"
	"github.com/example/kyc-verif/internal/detector"
	"github.com/example/kyc-verif/internal/ingest"
	"github.com/example/kyc-verif/internal/kyc"
	"github.com/example/kyc-verif/internal/logging"
	"github.com/example/kyc-verif/internal/matcher"
	"github.com/example/kyc-verif/internal/recognizer"
)

// State is the lifecycle state of a Pipeline.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateProcessing
	StateFailed
	StateDeinitialized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateReady:
		return "Ready"
	case StateProcessing:
		return "Processing"
	case StateFailed:
		return "Failed"
	case StateDeinitialized:
		return "Deinitialized"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Decoder turns request payloads into frames.
type Decoder interface {
	Decode(data []byte) (*kyc.Frame, error)
	DecodeRaw(raw ingest.RawImage) (*kyc.Frame, error)
}

// Detector yields document candidates, best first.
type Detector interface {
	Detect(frame *kyc.Frame) iter.Seq[kyc.DetectionCandidate]
}

// Aligner maps a candidate into the canonical frame.
type Aligner interface {
	Align(frame *kyc.Frame, cand kyc.DetectionCandidate) (*kyc.AlignedPatch, error)
}

// Recognizer reads the fields of an aligned patch.
type Recognizer interface {
	Recognize(patch *kyc.AlignedPatch) (*kyc.RecognitionResult, error)
}

// Matcher scores recognition passes.
type Matcher interface {
	Score(passes []kyc.RecognitionResult) kyc.MatchScore
}

type stages struct {
	decoder    Decoder
	detector   Detector
	aligner    Aligner
	recognizer Recognizer
	matcher    Matcher
}

// Option customizes a Pipeline. Stage options replace the stage Init would
// build from the configuration.
type Option func(*Pipeline)

func WithDecoder(d Decoder) Option       { return func(p *Pipeline) { p.overrides.decoder = d } }
func WithDetector(d Detector) Option     { return func(p *Pipeline) { p.overrides.detector = d } }
func WithAligner(a Aligner) Option       { return func(p *Pipeline) { p.overrides.aligner = a } }
func WithRecognizer(r Recognizer) Option { return func(p *Pipeline) { p.overrides.recognizer = r } }
func WithMatcher(m Matcher) Option       { return func(p *Pipeline) { p.overrides.matcher = m } }

// WithCallback delivers every outcome, errors included, to fn on its own
// goroutine in addition to the Process return value.
func WithCallback(fn func(*kyc.Result)) Option {
	return func(p *Pipeline) { p.callback = fn }
}

type job struct {
	decode func(Decoder) (*kyc.Frame, error)
	reply  chan outcome
}

type outcome struct {
	result *kyc.Result
	err    error
}

// Pipeline is the engine instance. Init and Deinit must be called from one
// goroutine; Process may be called concurrently and is served by a bounded
// worker pool.
type Pipeline struct {
	logger    *zap.Logger
	overrides stages
	callback  func(*kyc.Result)

	mu       sync.RWMutex
	state    atomic.Int32
	inflight atomic.Int32
	cfg      config.Config
	stages   stages
	jobs     chan job
	workers  sync.WaitGroup
	pending  sync.WaitGroup
	warm     *sync.Once

	causeMu sync.Mutex
	cause   error
}

// New returns an uninitialized pipeline.
func New(logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{logger: logger.Named("pipeline")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State reports the lifecycle state; Processing while requests are running.
func (p *Pipeline) State() State {
	s := State(p.state.Load())
	if s == StateReady && p.inflight.Load() > 0 {
		return StateProcessing
	}
	return s
}

// Init validates cfg, builds the stages and starts the workers. It fails with
// AlreadyInitialized while the pipeline is initialized, leaving it untouched.
func (p *Pipeline) Init(cfg config.Config) error {
	const op = "pipeline.Init"
	p.mu.Lock()
	defer p.mu.Unlock()

	switch State(p.state.Load()) {
	case StateReady, StateFailed:
		return kyc.Errorf(kyc.KindAlreadyInitialized, op, "deinit first")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s, err := p.build(cfg)
	if err != nil {
		return err
	}

	p.cfg = cfg
	p.stages = s
	p.warm = &sync.Once{}
	p.setCause(nil)
	p.jobs = make(chan job, cfg.QueueSize())
	workers := cfg.Workers()
	p.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	p.state.Store(int32(StateReady))

	p.logger.Info("pipeline initialized",
		zap.Int("workers", workers),
		zap.Int("queue_size", cfg.QueueSize()),
		zap.String("graph_type", cfg.GraphType),
		zap.String("ocr_engine", cfg.OCREngine),
		zap.String("text_segmentation_type", cfg.TextSegmentationType),
		zap.Bool("asm_enabled", cfg.AsmEnabled),
		zap.Bool("intrin_enabled", cfg.IntrinEnabled),
		zap.Bool("gpu_ctrl_memory_enabled", cfg.GPUCtrlMemoryEnabled),
		zap.String("openvino_activation", cfg.OpenVINOActivation),
		zap.String("openvino_device", cfg.OpenVINODevice),
		zap.Bool("license_token", cfg.LicenseTokenData != "" || cfg.LicenseTokenFile != ""),
	)
	return nil
}

func (p *Pipeline) build(cfg config.Config) (stages, error) {
	s := p.overrides
	if s.decoder == nil {
		s.decoder = ingest.NewDecoder(cfg, p.logger)
	}
	if s.detector == nil {
		s.detector = detector.New(cfg, p.logger)
	}
	if s.aligner == nil {
		s.aligner = aligner.New(cfg, p.logger)
	}
	if s.recognizer == nil {
		r, err := recognizer.New(cfg, p.logger)
		if err != nil {
			return stages{}, err
		}
		s.recognizer = r
	}
	if s.matcher == nil {
		s.matcher = matcher.New(cfg)
	}
	return s, nil
}

// Deinit stops accepting requests, waits for queued and running ones and
// releases the stages. It fails with NotInitialized unless the pipeline is
// initialized.
func (p *Pipeline) Deinit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch State(p.state.Load()) {
	case StateReady, StateFailed:
	default:
		return kyc.Errorf(kyc.KindNotInitialized, "pipeline.Deinit", "pipeline is %s", State(p.state.Load()))
	}
	close(p.jobs)
	p.workers.Wait()
	p.pending.Wait()
	p.stages = stages{}
	p.state.Store(int32(StateDeinitialized))
	p.logger.Info("pipeline deinitialized")
	return nil
}

// Process runs the full pipeline over an encoded image. ctx bounds only the
// wait for a queue slot; once accepted, a request runs to completion. A frame
// without a document yields a NotFound result, not an error.
func (p *Pipeline) Process(ctx context.Context, data []byte) (*kyc.Result, error) {
	return p.submit(ctx, func(d Decoder) (*kyc.Frame, error) { return d.Decode(data) })
}

// ProcessRaw is Process for an uncompressed pixel buffer.
func (p *Pipeline) ProcessRaw(ctx context.Context, raw ingest.RawImage) (*kyc.Result, error) {
	return p.submit(ctx, func(d Decoder) (*kyc.Frame, error) { return d.DecodeRaw(raw) })
}

func (p *Pipeline) submit(ctx context.Context, decode func(Decoder) (*kyc.Frame, error)) (*kyc.Result, error) {
	const op = "pipeline.Process"
	p.mu.RLock()
	switch State(p.state.Load()) {
	case StateReady:
	case StateFailed:
		p.mu.RUnlock()
		return nil, kyc.Wrap(kyc.KindInternalFailure, op, fmt.Errorf("pipeline failed, deinit and init again: %w", p.failure()))
	default:
		state := State(p.state.Load())
		p.mu.RUnlock()
		return nil, kyc.Errorf(kyc.KindNotInitialized, op, "pipeline is %s", state)
	}

	j := job{decode: decode, reply: make(chan outcome, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	}
	p.mu.RUnlock()

	out := <-j.reply
	return out.result, out.err
}

func (p *Pipeline) worker() {
	defer p.workers.Done()
	for j := range p.jobs {
		res, err := p.run(j)
		j.reply <- outcome{result: res, err: err}
		p.deliver(res, err)
	}
}

func (p *Pipeline) deliver(res *kyc.Result, err error) {
	if p.callback == nil {
		return
	}
	if err != nil {
		res = kyc.ErrorResult(err)
	}
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		p.callback(res)
	}()
}

func (p *Pipeline) run(j job) (res *kyc.Result, err error) {
	const op = "pipeline.Process"
	requestID := uuid.NewString()
	logger := logging.WithOperation(p.logger, op, requestID)
	start := time.Now()
	p.inflight.Add(1)
	defer p.inflight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = kyc.Errorf(kyc.KindInternalFailure, op, "panic: %v", r)
			p.fail(err)
			logger.Error("stage panicked, pipeline latched as failed", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	p.warm.Do(func() { p.warmUp(logger) })

	frame, err := j.decode(p.stages.decoder)
	if err != nil {
		logger.Debug("decode failed", zap.Error(err))
		return nil, err
	}
	defer frame.Release()
	if p.cfg.DebugWriteInputImageEnabled {
		p.dumpInput(frame, requestID, logger)
	}

	res, err = p.analyze(frame, logger)
	if err != nil {
		logger.Debug("request failed", zap.Error(err), zap.String("kind", kyc.KindOf(err).String()))
		return nil, err
	}
	res.RequestID = requestID
	res.Elapsed = time.Since(start)
	if p.cfg.MaxLatency > 0 && res.Elapsed > time.Duration(p.cfg.MaxLatency)*time.Millisecond {
		logger.Warn("slow request",
			zap.Duration("elapsed", res.Elapsed),
			zap.Int("max_latency_ms", p.cfg.MaxLatency),
		)
	}
	logger.Info("request processed",
		zap.String("status", string(res.Status)),
		zap.Int("candidates", res.Candidates),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// analyze tries candidates in confidence order until one aligns, reads it and
// scores the recognition passes.
func (p *Pipeline) analyze(frame *kyc.Frame, logger *zap.Logger) (*kyc.Result, error) {
	var (
		patch      *kyc.AlignedPatch
		alignErr   error
		candidates int
	)
	for cand := range p.stages.detector.Detect(frame) {
		candidates++
		pt, err := p.stages.aligner.Align(frame, cand)
		if err != nil {
			alignErr = err
			logger.Debug("candidate rejected by aligner", zap.Float64("confidence", cand.Confidence), zap.Error(err))
			continue
		}
		patch = pt
		break
	}
	if candidates == 0 {
		return kyc.NewResult(kyc.StatusNotFound), nil
	}
	if patch == nil {
		return nil, alignErr
	}

	passes := make([]kyc.RecognitionResult, 0, 2)
	if patch.Coarse != nil {
		coarse, err := p.stages.recognizer.Recognize(patch.Coarse)
		if err == nil {
			passes = append(passes, *coarse)
		} else {
			logger.Debug("coarse pass unreadable", zap.Error(err))
		}
	}
	final, err := p.stages.recognizer.Recognize(patch)
	if err != nil {
		return nil, err
	}
	passes = append(passes, *final)

	score := p.stages.matcher.Score(passes)
	status := kyc.StatusRejected
	if score.Verified {
		status = kyc.StatusOK
	}
	res := kyc.NewResult(status)
	res.Score = &score
	res.Recognition = final
	res.Candidates = candidates
	return res, nil
}

func (p *Pipeline) warmUp(logger *zap.Logger) {
	start := time.Now()
	if w, ok := p.stages.recognizer.(interface{ Warm() }); ok {
		w.Warm()
	}
	logger.Info("warm-up finished", zap.Duration("elapsed", time.Since(start)))
}

func (p *Pipeline) dumpInput(frame *kyc.Frame, requestID string, logger *zap.Logger) {
	path := filepath.Join(p.cfg.DebugInternalDataPath, "input-"+requestID+".png")
	if err := imaging.Save(frameImage(frame), path); err != nil {
		logger.Warn("failed to write input image", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Debug("input image written", zap.String("path", path))
}

func (p *Pipeline) fail(err error) {
	p.setCause(err)
	p.state.CompareAndSwap(int32(StateReady), int32(StateFailed))
}

func (p *Pipeline) setCause(err error) {
	p.causeMu.Lock()
	defer p.causeMu.Unlock()
	p.cause = err
}

func (p *Pipeline) failure() error {
	p.causeMu.Lock()
	defer p.causeMu.Unlock()
	return p.cause
}

func frameImage(f *kyc.Frame) *image.NRGBA {
	img := image.NewNRGBA(f.Bounds())
	r, g, b := f.Plane(0), f.Plane(1), f.Plane(2)
	for i := range r {
		img.Pix[4*i] = toByte(r[i])
		img.Pix[4*i+1] = toByte(g[i])
		img.Pix[4*i+2] = toByte(b[i])
		img.Pix[4*i+3] = 0xff
	}
	return img
}

func toByte(v float32) uint8 {
	return uint8(min(max(v, 0), 1)*255 + 0.5)
}
