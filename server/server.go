// Package server exposes stored certificates over HTTP and streams newly
// stored ones to websocket subscribers.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pact/am"
	"github.com/teranos/pact/certstore"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	maxClients        = 256
)

// Server is the certificate API. It implements certify.Publisher so the
// pipeline can hand it every stored certificate.
type Server struct {
	store   certstore.Store
	origins []string
	logger  *zap.SugaredLogger

	clients map[*Client]bool
	mu      sync.RWMutex

	published      atomic.Int64
	broadcastDrops atomic.Int64

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server reading certificates from store.
func New(cfg *am.Config, store certstore.Store, log *zap.SugaredLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		store:   store,
		origins: cfg.GetServerAllowedOrigins(),
		logger:  logger.OrNop(log).Named("server"),
		clients: make(map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Clients returns the number of connected websocket subscribers.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ListenAndServe serves on the given port until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	if port <= 0 {
		return errors.NewConfigurationError("invalid server port %d", port)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return errors.Wrapf(err, "listen on port %d", port)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then closes the
// websocket subscribers and shuts the HTTP server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	s.logger.Infow(sym.AM+" certificate server listening", "addr", ln.Addr().String())

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	s.logger.Infow("certificate server stopping", "clients", s.Clients())
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.CombineErrors(serveErr, errors.Wrap(err, "shutdown http server"))
	}
	s.wg.Wait()

	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	return serveErr
}

func (s *Server) register(client *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil || len(s.clients) >= maxClients {
		return false
	}
	s.clients[client] = true
	return true
}

func (s *Server) unregister(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		client.close()
		s.logger.Debugw("subscriber disconnected", "client_id", client.id, "clients", len(s.clients))
	}
}
