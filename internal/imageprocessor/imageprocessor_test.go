package imageprocessor

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/example/kyc-verif/internal/kyc"
)

type stubEngine struct {
	result *kyc.Result
	err    error
}

func (s stubEngine) Process(context.Context, []byte) (*kyc.Result, error) {
	return s.result, s.err
}

func TestLocalPassesResultsThrough(t *testing.T) {
	want := kyc.NewResult(kyc.StatusOK)
	got, err := NewLocal(stubEngine{result: want}, zap.NewNop()).Process(context.Background(), []byte("img"))
	if err != nil || got != want {
		t.Fatalf("expected passthrough, got %+v, %v", got, err)
	}
}

func TestLocalFoldsImageErrorsIntoResult(t *testing.T) {
	engine := stubEngine{err: kyc.Errorf(kyc.KindCorruptData, "ingest.decode", "truncated")}
	got, err := NewLocal(engine, zap.NewNop()).Process(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Status != kyc.StatusError || got.Code != -3 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestLocalReturnsEngineStateErrors(t *testing.T) {
	engine := stubEngine{err: kyc.Errorf(kyc.KindNotInitialized, "pipeline.Process", "pipeline is Uninitialized")}
	_, err := NewLocal(engine, zap.NewNop()).Process(context.Background(), nil)
	if !errors.Is(err, kyc.ErrNotInitialized) {
		t.Fatalf("expected NotInitialized, got %v", err)
	}
}
