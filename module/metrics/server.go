package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wholesum/bazaar/module/component"
	"github.com/wholesum/bazaar/module/irrecoverable"
)

const (
	MetricsEndpoint = "/metrics"
	shutdownTimeout = 5 * time.Second
)

// Server exposes a prometheus gatherer over http. It is ready once the listener is bound.
type Server struct {
	*component.ComponentManager
	log    zerolog.Logger
	addr   string
	server *http.Server
}

func NewServer(log zerolog.Logger, addr string, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle(MetricsEndpoint, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s := &Server{
		log:    log.With().Str("component", "metrics_server").Logger(),
		addr:   addr,
		server: &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
	}
	s.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(s.serve).
		Build()
	return s
}

func (s *Server) serve(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		ctx.Throw(fmt.Errorf("could not listen on metrics address %s: %w", s.addr, err))
		return
	}
	s.log.Info().Str("address", lis.Addr().String()).Str("endpoint", MetricsEndpoint).Msg("serving metrics")
	ready()

	served := make(chan error, 1)
	go func() { served <- s.server.Serve(lis) }()

	select {
	case err := <-served:
		if !errors.Is(err, http.ErrServerClosed) {
			ctx.Throw(fmt.Errorf("metrics server failed: %w", err))
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("metrics server did not shut down cleanly")
		}
	}
}
