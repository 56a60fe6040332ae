package grpcclient

import (
	"context"
	"errors"
	"net"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/kyc-verif/internal/grpcserver"
	"github.com/example/kyc-verif/internal/kyc"
)

type stubProcessor struct {
	result *kyc.Result
	err    error
	got    []byte
}

func (s *stubProcessor) Process(_ context.Context, imageBytes []byte) (*kyc.Result, error) {
	s.got = imageBytes
	return s.result, s.err
}

func startServer(t *testing.T, processor *stubProcessor) func(context.Context, string) (net.Conn, error) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.UnaryLogger(zap.NewNop())))
	grpcserver.Register(srv, grpcserver.New(processor, zap.NewNop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
}

func dial(t *testing.T, processor *stubProcessor) *grpcImageProcessor {
	t.Helper()
	dialer := startServer(t, processor)
	client, conn, err := DialImageProcessor(context.Background(), "bufnet", zap.NewNop(), grpc.WithContextDialer(dialer))
	if err != nil {
		t.Fatalf("DialImageProcessor() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return client.(*grpcImageProcessor)
}

func TestProcessRoundTripsResultDocument(t *testing.T) {
	want := kyc.NewResult(kyc.StatusOK)
	want.RequestID = "engine-1"
	want.Candidates = 1
	want.Score = &kyc.MatchScore{Score: 0.93, Threshold: 0.6, Verified: true, Passes: 2}
	want.Recognition = &kyc.RecognitionResult{Fields: []kyc.Field{
		{Name: "line1_field1", Text: "ERIKSSON", Confidence: 0.97, Valid: true, Pass: 1},
	}}
	processor := &stubProcessor{result: want}

	got, err := dial(t, processor).Process(context.Background(), []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if string(processor.got) != "png-bytes" {
		t.Fatalf("server received %q", processor.got)
	}
	if got.Status != kyc.StatusOK || got.RequestID != "engine-1" || got.Candidates != 1 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got.Score == nil || !got.Score.Verified || got.Score.Passes != 2 {
		t.Fatalf("unexpected score: %+v", got.Score)
	}
	if f, ok := got.Recognition.Field("line1_field1"); !ok || f.Text != "ERIKSSON" {
		t.Fatalf("unexpected recognition: %+v", got.Recognition)
	}
}

func TestProcessRestoresErrorKind(t *testing.T) {
	processor := &stubProcessor{err: kyc.Errorf(kyc.KindNotInitialized, "pipeline.Process", "pipeline is Deinitialized")}

	_, err := dial(t, processor).Process(context.Background(), []byte("x"))
	if !errors.Is(err, kyc.ErrNotInitialized) {
		t.Fatalf("expected NotInitialized, got %v", err)
	}
}
