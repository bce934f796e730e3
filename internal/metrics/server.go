package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/platform"
)

// Server exposes a registry on /metrics as a node support module.
type Server struct {
	addr   string
	gather prometheus.Gatherer
	sup    *platform.Supervisor
	log    *slog.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func NewServer(addr string, gather prometheus.Gatherer, sup *platform.Supervisor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, gather: gather, sup: sup, log: logger}
}

func (s *Server) Name() string { return "metrics" }

func (s *Server) Start(ctx context.Context) error {
	if s.sup == nil {
		return errors.New("supervisor is required")
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	s.mu.Lock()
	s.srv, s.ln = srv, ln
	s.mu.Unlock()
	s.log.Info("metrics listening", "addr", ln.Addr().String())

	return s.sup.StartSpec(platform.TaskSpec{Name: "metrics-http", Restart: platform.RestartTemporary}, func(context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
