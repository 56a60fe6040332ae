package grpcclient

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/kyc-verif/internal/grpcserver"
	"github.com/example/kyc-verif/internal/imageprocessor"
	"github.com/example/kyc-verif/internal/kyc"
	"github.com/example/kyc-verif/internal/logging"
)

// DialImageProcessor returns a ready-to-use client for a remote verification
// engine. Extra options are appended to the insecure blocking defaults.
func DialImageProcessor(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (imageprocessor.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_image_processor", "", err)
		logger.Error("failed to dial image processor", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return &grpcImageProcessor{conn: conn, logger: logger}, conn, nil
}

type grpcImageProcessor struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcImageProcessor) Process(ctx context.Context, imageBytes []byte) (*kyc.Result, error) {
	var (
		out     structpb.Struct
		trailer metadata.MD
	)
	err := g.conn.Invoke(ctx, grpcserver.ProcessMethod, wrapperspb.Bytes(imageBytes), &out, grpc.Trailer(&trailer))
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.process_image", "", remoteError(err, trailer))
		g.logger.Error("image processor call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	res, err := kyc.ResultFromDocument(out.AsMap())
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.decode_result", "", err)
	}
	return res, nil
}

// remoteError restores the engine error kind sent in the trailer. Transport
// failures without one are internal failures.
func remoteError(err error, trailer metadata.MD) error {
	kind := kyc.KindInternalFailure
	if values := trailer.Get(grpcserver.KindTrailer); len(values) > 0 {
		if k, ok := kyc.ParseKind(values[0]); ok {
			kind = k
		}
	}
	return kyc.Wrap(kind, "grpcclient.process", status.Convert(err).Err())
}
