package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/kyc-verif/internal/grpcserver"
	"github.com/example/kyc-verif/internal/imageprocessor"
	"github.com/example/kyc-verif/internal/pipeline"
)

var grpcAddr string

var serveGRPCCmd = &cobra.Command{
	Use:   "serve-grpc",
	Short: "Serve the engine as the kycverif.v1.Verifier gRPC service",
	RunE:  runServeGRPC,
}

func init() {
	serveGRPCCmd.Flags().StringVar(&grpcAddr, "addr", ":50051", "Listen address")
	rootCmd.AddCommand(serveGRPCCmd)
}

func runServeGRPC(cmd *cobra.Command, _ []string) error {
	cfg, err := engineConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	engine := pipeline.New(logger)
	if err := engine.Init(cfg); err != nil {
		return err
	}
	defer func() {
		if err := engine.Deinit(); err != nil {
			logger.Warn("deinit failed", zap.Error(err))
		}
	}()

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", grpcAddr, err)
	}
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(grpcserver.UnaryLogger(logger)),
		grpc.MaxRecvMsgSize(32<<20),
	)
	grpcserver.Register(srv, grpcserver.New(imageprocessor.NewLocal(engine, logger), logger))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()
	logger.Info("gRPC verifier listening", zap.String("addr", lis.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-cmd.Context().Done():
		logger.Info("shutting down gRPC server")
		srv.GracefulStop()
		return nil
	}
}
