package kyc

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := Errorf(KindAlignmentFailed, "aligner.align", "only %d inliers", 3)
	wrapped := fmt.Errorf("request failed: %w", err)

	if !errors.Is(wrapped, ErrAlignmentFailed) {
		t.Fatalf("expected errors.Is to match AlignmentFailed, got %v", wrapped)
	}
	if errors.Is(wrapped, ErrCorruptData) {
		t.Fatal("did not expect CorruptData to match")
	}
	if got := KindOf(wrapped); got != KindAlignmentFailed {
		t.Fatalf("unexpected kind: %s", got)
	}
}

func TestKindOfForeignError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternalFailure {
		t.Fatalf("expected InternalFailure, got %s", got)
	}
}

func TestErrorResultCarriesNegativeCode(t *testing.T) {
	res := ErrorResult(Errorf(KindCorruptData, "ingest.decode", "empty input"))
	if res.Status != StatusError {
		t.Fatalf("unexpected status: %s", res.Status)
	}
	if res.Code != -3 {
		t.Fatalf("unexpected code: %d", res.Code)
	}
	if res.OK() {
		t.Fatal("error result must not be OK")
	}
}

func TestRetryableKinds(t *testing.T) {
	cases := map[Kind]bool{
		KindCorruptData:        true,
		KindAlignmentFailed:    true,
		KindRecognitionFailed:  true,
		KindInvalidConfig:      false,
		KindNotInitialized:     false,
		KindAlreadyInitialized: false,
		KindInternalFailure:    false,
	}
	for kind, want := range cases {
		if got := kind.Retryable(); got != want {
			t.Errorf("%s: expected retryable=%t, got %t", kind, want, got)
		}
	}
}

func TestParseKind(t *testing.T) {
	for kind := range kindNames {
		got, ok := ParseKind(kind.String())
		if !ok || got != kind {
			t.Errorf("ParseKind(%q) = %s, %t", kind.String(), got, ok)
		}
	}
	if _, ok := ParseKind("Nope"); ok {
		t.Fatal("unknown names must not parse")
	}
}
