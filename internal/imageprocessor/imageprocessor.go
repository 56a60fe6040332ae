// Package imageprocessor is the caller-facing view of the verification
// engine, served either in process or over gRPC.
package imageprocessor

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/kyc-verif/internal/kyc"
	"github.com/example/kyc-verif/internal/logging"
)

// Client exposes the subset of functionality used by the verification flow.
//
// A request the engine could analyze, including one it failed to read, comes
// back as a result with a status and code. An error means the engine itself
// could not serve the request.
type Client interface {
	Process(ctx context.Context, imageBytes []byte) (*kyc.Result, error)
}

// Engine is the in-process engine, satisfied by *pipeline.Pipeline.
type Engine interface {
	Process(ctx context.Context, data []byte) (*kyc.Result, error)
}

// Local adapts an in-process engine to Client.
type Local struct {
	engine Engine
	logger *zap.Logger
}

// NewLocal wraps engine.
func NewLocal(engine Engine, logger *zap.Logger) *Local {
	return &Local{engine: engine, logger: logger.Named("imageprocessor")}
}

// Process runs the engine. Errors tied to the submitted image are folded
// into an error result; engine state errors are returned.
func (l *Local) Process(ctx context.Context, imageBytes []byte) (*kyc.Result, error) {
	res, err := l.engine.Process(ctx, imageBytes)
	if err == nil {
		return res, nil
	}
	if kind := kyc.KindOf(err); kind.Retryable() {
		l.logger.Debug("image rejected by engine", zap.String("kind", kind.String()), zap.Error(err))
		return kyc.ErrorResult(err), nil
	}
	return nil, logging.NewOperationError("imageprocessor.process", "", err)
}
