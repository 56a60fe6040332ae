package kyc

import (
	"encoding/json"
	"time"
)

// Status is the overall outcome of a processed request.
type Status string

const (
	StatusOK       Status = "OK"
	StatusNotFound Status = "NotFound"
	StatusRejected Status = "Rejected"
	StatusError    Status = "Error"
)

// Code returns the non-negative result code for a successful status.
func (s Status) Code() int {
	switch s {
	case StatusOK:
		return 0
	case StatusNotFound:
		return 1
	case StatusRejected:
		return 2
	}
	return KindInternalFailure.Code()
}

// Result is the terminal outcome of Pipeline.Process.
type Result struct {
	RequestID   string             `json:"request_id,omitempty"`
	Status      Status             `json:"status"`
	Code        int                `json:"code"`
	Phrase      string             `json:"phrase"`
	Score       *MatchScore        `json:"score,omitempty"`
	Recognition *RecognitionResult `json:"recognition,omitempty"`
	Candidates  int                `json:"candidates"`
	Elapsed     time.Duration      `json:"-"`
}

// NewResult fills Code and Phrase from status.
func NewResult(status Status) *Result {
	return &Result{Status: status, Code: status.Code(), Phrase: string(status)}
}

// ErrorResult renders err as a result document.
func ErrorResult(err error) *Result {
	kind := KindOf(err)
	return &Result{Status: StatusError, Code: kind.Code(), Phrase: err.Error()}
}

// OK reports whether the request completed without error.
func (r *Result) OK() bool {
	return r != nil && r.Code >= 0
}

// Document flattens the result into a key-value document.
func (r *Result) Document() map[string]any {
	doc := map[string]any{
		"status":     string(r.Status),
		"code":       r.Code,
		"phrase":     r.Phrase,
		"candidates": r.Candidates,
		"elapsed_ms": r.Elapsed.Milliseconds(),
	}
	if r.RequestID != "" {
		doc["request_id"] = r.RequestID
	}
	if r.Score != nil {
		doc["score"] = r.Score.Score
		doc["threshold"] = r.Score.Threshold
		doc["verified"] = r.Score.Verified
		doc["passes"] = r.Score.Passes
	}
	if r.Recognition != nil {
		fields := make([]any, 0, len(r.Recognition.Fields))
		for _, f := range r.Recognition.Fields {
			fields = append(fields, map[string]any{
				"name":       f.Name,
				"text":       f.Text,
				"confidence": f.Confidence,
				"valid":      f.Valid,
				"pass":       f.Pass,
			})
		}
		doc["fields"] = fields
	}
	return doc
}

// JSON encodes Document.
func (r *Result) JSON() ([]byte, error) {
	return json.Marshal(r.Document())
}

// ResultFromDocument rebuilds a result from a flattened document, the
// inverse of Document. Numbers may arrive as any numeric type since
// transports such as structpb decode them as float64.
func ResultFromDocument(doc map[string]any) (*Result, error) {
	status, ok := doc["status"].(string)
	if !ok || status == "" {
		return nil, Errorf(KindCorruptData, "kyc.ResultFromDocument", "document has no status")
	}
	r := &Result{
		Status:     Status(status),
		Code:       int(number(doc["code"])),
		Candidates: int(number(doc["candidates"])),
		Elapsed:    time.Duration(number(doc["elapsed_ms"])) * time.Millisecond,
	}
	r.Phrase, _ = doc["phrase"].(string)
	r.RequestID, _ = doc["request_id"].(string)
	if _, ok := doc["score"]; ok {
		verified, _ := doc["verified"].(bool)
		r.Score = &MatchScore{
			Score:     number(doc["score"]),
			Threshold: number(doc["threshold"]),
			Verified:  verified,
			Passes:    int(number(doc["passes"])),
		}
	}
	if raw, ok := doc["fields"].([]any); ok {
		rec := &RecognitionResult{Fields: make([]Field, 0, len(raw))}
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			f := Field{Confidence: number(m["confidence"]), Pass: int(number(m["pass"]))}
			f.Name, _ = m["name"].(string)
			f.Text, _ = m["text"].(string)
			f.Valid, _ = m["valid"].(bool)
			rec.Fields = append(rec.Fields, f)
		}
		r.Recognition = rec
	}
	return r, nil
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	}
	return 0
}
