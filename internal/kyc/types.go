// Package kyc holds the data model shared by the verification stages.
package kyc

import (
	"image"
	"sync"
)

// Frame is a decoded image in planar R, G, B order with samples in [0,1].
// A Frame is read-only once returned by ingest.
type Frame struct {
	Width       int
	Height      int
	Channels    int
	Pix         []float32
	Format      string
	Orientation int

	release func([]float32)
	once    sync.Once
}

// NewFrame wraps pix. release, when non-nil, is called once by Release.
func NewFrame(width, height int, pix []float32, format string, release func([]float32)) *Frame {
	return &Frame{
		Width:       width,
		Height:      height,
		Channels:    3,
		Pix:         pix,
		Format:      format,
		Orientation: 1,
		release:     release,
	}
}

// Plane returns channel c (0=R, 1=G, 2=B).
func (f *Frame) Plane(c int) []float32 {
	n := f.Width * f.Height
	return f.Pix[c*n : (c+1)*n]
}

// Luma returns a new gray plane using Rec. 601 weights.
func (f *Frame) Luma() []float32 {
	n := f.Width * f.Height
	out := make([]float32, n)
	r, g, b := f.Plane(0), f.Plane(1), f.Plane(2)
	for i := 0; i < n; i++ {
		out[i] = 0.299*r[i] + 0.587*g[i] + 0.114*b[i]
	}
	return out
}

// Bounds returns the frame rectangle.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Release hands the pixel buffer back to its pool. Safe to call repeatedly.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		if f.release != nil {
			f.release(f.Pix)
		}
		f.Pix = nil
	})
}

// Point is a 2D coordinate.
type Point struct {
	X, Y float64
}

// Keypoint is one correspondence between a detected location and its place in
// the canonical frame.
type Keypoint struct {
	Src    Point
	Dst    Point
	Weight float64
}

// DetectionCandidate is a region likely to contain a document.
type DetectionCandidate struct {
	Box        image.Rectangle
	Confidence float64
	Keypoints  []Keypoint
}

// AlignedPatch is a frame region resampled into canonical coordinates.
type AlignedPatch struct {
	Width     int
	Height    int
	Pix       []float32
	Transform [9]float64
	Inliers   []int
	Quality   float64
	Pass      int
	Coarse    *AlignedPatch
}

// At returns the sample at (x, y); out of range reads are white.
func (p *AlignedPatch) At(x, y int) float32 {
	if x < 0 || y < 0 || x >= p.Width || y >= p.Height {
		return 1
	}
	return p.Pix[y*p.Width+x]
}

// Field is one recognized text field.
type Field struct {
	Name       string          `json:"name"`
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"-"`
	Valid      bool            `json:"valid"`
	Pass       int             `json:"pass"`
}

// RecognitionResult is the output of one recognizer run.
type RecognitionResult struct {
	Fields []Field `json:"fields"`
}

// Confidence is the mean field confidence, zero without fields.
func (r RecognitionResult) Confidence() float64 {
	if len(r.Fields) == 0 {
		return 0
	}
	var sum float64
	for _, f := range r.Fields {
		sum += f.Confidence
	}
	return sum / float64(len(r.Fields))
}

// Field looks a field up by name.
func (r RecognitionResult) Field(name string) (Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// MatchScore is the consistency verdict for a request.
type MatchScore struct {
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Verified  bool    `json:"verified"`
	Passes    int     `json:"passes"`
}
