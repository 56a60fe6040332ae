package matcher

import (
	"math"
	"testing"

	"github.com/example/kyc-verif/internal/config"
	"github.com/example/kyc-verif/internal/kyc"
)

func pass(fields ...kyc.Field) kyc.RecognitionResult {
	return kyc.RecognitionResult{Fields: fields}
}

func TestScoreIdenticalPasses(t *testing.T) {
	p := pass(
		kyc.Field{Name: "line1_field1", Text: "P<UTOERIKSSON", Confidence: 0.7},
		kyc.Field{Name: "line2_field1", Text: "740812", Confidence: 0.6},
	)
	got := New(config.Default()).Score([]kyc.RecognitionResult{p, p})
	if got.Score != 1 || !got.Verified || got.Passes != 2 {
		t.Fatalf("expected full agreement, got %+v", got)
	}
}

func TestScoreDisjointPasses(t *testing.T) {
	cfg := config.Default()
	a := pass(kyc.Field{Name: "line1_field1", Text: "ABC"})
	b := pass(kyc.Field{Name: "line1_field1", Text: "XYZ"}, kyc.Field{Name: "line2_field1", Text: "123"})
	got := New(cfg).Score([]kyc.RecognitionResult{a, b})
	if got.Score > cfg.MatchThreshold || got.Verified {
		t.Fatalf("expected rejection, got %+v", got)
	}
	if got.Score != 0 {
		t.Fatalf("fully disjoint passes should score 0, got %f", got.Score)
	}
}

func TestScoreSinglePassUsesConfidence(t *testing.T) {
	p := pass(
		kyc.Field{Name: "a", Text: "A", Confidence: 0.9},
		kyc.Field{Name: "b", Text: "B", Confidence: 0.5},
	)
	got := New(config.Default()).Score([]kyc.RecognitionResult{p})
	if math.Abs(got.Score-0.7) > 1e-12 || !got.Verified {
		t.Fatalf("unexpected single pass score %+v", got)
	}
}

func TestScoreNoPasses(t *testing.T) {
	got := New(config.Default()).Score(nil)
	if got.Verified || got.Score != 0 {
		t.Fatalf("expected empty rejection, got %+v", got)
	}
}

func TestSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"ABC", "ABC", 1},
		{"ABC", "ABD", 2.0 / 3},
		{"KITTEN", "SITTING", 1 - 3.0/7},
		{"ABC", "", 0},
	}
	for _, tc := range cases {
		if got := Similarity(tc.a, tc.b); math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("Similarity(%q, %q) = %f, want %f", tc.a, tc.b, got, tc.want)
		}
	}
}
