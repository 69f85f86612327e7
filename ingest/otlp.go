package ingest

import (
	"context"
	"net"
	"sync"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
	"github.com/teranos/pact/trace"
)

// OTLPReceiver accepts spans over the OTLP/gRPC trace service and hands
// each export request to the pipeline as one decoded batch.
type OTLPReceiver struct {
	coltracepb.UnimplementedTraceServiceServer

	addr     string
	listener net.Listener
	server   *grpc.Server
	logger   *zap.SugaredLogger

	mu  sync.Mutex
	out chan<- Message
	ctx context.Context
}

// NewOTLPReceiver listens on addr when Run is called.
func NewOTLPReceiver(addr string, log *zap.SugaredLogger, opts ...grpc.ServerOption) *OTLPReceiver {
	r := &OTLPReceiver{addr: addr, logger: logger.OrNop(log).Named("ingest.otlp")}
	r.server = grpc.NewServer(opts...)
	coltracepb.RegisterTraceServiceServer(r.server, r)
	return r
}

// NewOTLPReceiverWithListener serves on an existing listener.
func NewOTLPReceiverWithListener(lis net.Listener, log *zap.SugaredLogger, opts ...grpc.ServerOption) *OTLPReceiver {
	r := NewOTLPReceiver(lis.Addr().String(), log, opts...)
	r.listener = lis
	return r
}

// Name implements Source.
func (r *OTLPReceiver) Name() string { return "otlp" }

// Run serves until ctx is canceled, then stops gracefully.
func (r *OTLPReceiver) Run(ctx context.Context, out chan<- Message) error {
	lis := r.listener
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", r.addr)
		if err != nil {
			return errors.Wrapf(err, "listen on %s", r.addr)
		}
	}
	r.mu.Lock()
	r.out, r.ctx = out, ctx
	r.mu.Unlock()

	serveCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-serveCtx.Done()
		r.server.GracefulStop()
	}()

	r.logger.Infow("receiving OTLP/gRPC spans", logger.FieldSymbol, sym.Ingest, "address", lis.Addr().String())
	err := r.server.Serve(lis)
	cancel()
	<-stopped
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "serve OTLP receiver")
	}
	return nil
}

// Export implements the OTLP trace service.
func (r *OTLPReceiver) Export(ctx context.Context, req *coltracepb.ExportTraceServiceRequest) (*coltracepb.ExportTraceServiceResponse, error) {
	r.mu.Lock()
	out, runCtx := r.out, r.ctx
	r.mu.Unlock()
	if out == nil {
		return nil, status.Error(codes.Unavailable, "receiver not running")
	}

	batch := trace.FromProto(req.GetResourceSpans())
	m := Message{Batch: &batch, Source: r.Name()}
	select {
	case out <- m:
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	case <-runCtx.Done():
		return nil, status.Error(codes.Unavailable, "receiver shutting down")
	}
	r.logger.Debugw("export accepted", logger.FieldCount, batch.SpanCount())
	return &coltracepb.ExportTraceServiceResponse{}, nil
}

// Close stops the server immediately.
func (r *OTLPReceiver) Close() error {
	r.server.Stop()
	return nil
}
