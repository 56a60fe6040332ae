package grpcserver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/kyc-verif/internal/imageprocessor"
	"github.com/example/kyc-verif/internal/kyc"
	"github.com/example/kyc-verif/internal/logging"
)

// Server serves Process from an image processor.
type Server struct {
	processor imageprocessor.Client
	logger    *zap.Logger
}

// New returns a server backed by processor.
func New(processor imageprocessor.Client, logger *zap.Logger) *Server {
	return &Server{processor: processor, logger: logger.Named("grpcserver")}
}

// Process verifies the image in in and returns the result document.
func (s *Server) Process(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	res, err := s.processor.Process(ctx, in.GetValue())
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	doc, err := structpb.NewStruct(res.Document())
	if err != nil {
		wrapped := logging.NewOperationError("grpcserver.encode_result", res.RequestID, err)
		s.logger.Error("failed to encode result", zap.Error(wrapped))
		return nil, status.Error(codes.Internal, wrapped.Error())
	}
	return doc, nil
}

func (s *Server) statusError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	kind := kyc.KindOf(err)
	_ = grpc.SetTrailer(ctx, metadata.Pairs(KindTrailer, kind.String()))
	code := codes.Internal
	switch kind {
	case kyc.KindNotInitialized, kyc.KindAlreadyInitialized:
		code = codes.FailedPrecondition
	case kyc.KindInvalidConfig, kyc.KindCorruptData, kyc.KindUnsupportedFormat, kyc.KindAlignmentFailed, kyc.KindRecognitionFailed:
		code = codes.InvalidArgument
	}
	s.logger.Warn("process failed", zap.String("kind", kind.String()), zap.Error(err))
	return status.Error(code, err.Error())
}

// UnaryLogger logs every unary call with its latency and status code.
func UnaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc call",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("elapsed", time.Since(start)),
		)
		return resp, err
	}
}
