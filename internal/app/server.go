// Package app contains the top-level orchestration for the client (Fetch) and
// the server (Serve).
package app

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/transport"
	"github.com/1ureka/httpnio/internal/util"
)

const (
	reportInterval  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server is a bound request server plus its optional metrics endpoint.
type Server struct {
	cfg     config.Config
	handler transport.Handler
	reg     *prometheus.Registry
	stats   *util.Stats

	ln        transport.Listener
	metricsLn net.Listener
}

// NewServer binds the configured transport on cfg.Port (all interfaces) and,
// when cfg.MetricsAddr is set, the metrics listener.
func NewServer(ctx context.Context, cfg config.Config, h transport.Handler) (*Server, error) {
	return NewServerAt(ctx, cfg, net.JoinHostPort("", strconv.Itoa(cfg.Port)), h)
}

// NewServerAt is NewServer on an explicit "host:port".
func NewServerAt(ctx context.Context, cfg config.Config, addr string, h transport.Handler) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// ── 1. Metrics registry ────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s := &Server{cfg: cfg, handler: h, reg: reg, stats: util.NewStats(reg)}

	// ── 2. Request listener ────────────────────────────────────────────
	ln, err := transport.Listen(ctx, cfg, addr, s.stats)
	if err != nil {
		return nil, err
	}
	s.ln = ln

	// ── 3. Metrics listener ────────────────────────────────────────────
	if cfg.MetricsAddr != "" {
		var lc net.ListenConfig
		mln, err := lc.Listen(ctx, "tcp", cfg.MetricsAddr)
		if err != nil {
			ln.Close()
			return nil, errors.Wrapf(err, "listen for metrics on %s", cfg.MetricsAddr)
		}
		s.metricsLn = mln
	}
	return s, nil
}

// Addr is the bound request endpoint.
func (s *Server) Addr() string { return s.ln.Addr() }

// MetricsAddr is the bound metrics endpoint, or "" when disabled.
func (s *Server) MetricsAddr() string {
	if s.metricsLn == nil {
		return ""
	}
	return s.metricsLn.Addr().String()
}

// Run serves until ctx is cancelled or a component fails.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return transport.Serve(gctx, s.ln, s.handler, s.cfg.Workers)
	})
	if s.metricsLn != nil {
		g.Go(func() error { return s.serveMetrics(gctx) })
	}
	if s.cfg.Verbose {
		s.stats.StartReporter(gctx, reportInterval)
	}

	util.LogSuccess("serving %s on %s (%d workers)", s.cfg.Transport, s.Addr(), s.cfg.Workers)
	if addr := s.MetricsAddr(); addr != "" {
		util.LogInfo("metrics on http://%s/metrics", addr)
	}
	return g.Wait()
}

func (s *Server) serveMetrics(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Handler: r, ReadHeaderTimeout: shutdownTimeout}
	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(sctx)
	})
	defer stop()

	if err := srv.Serve(s.metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}

// Serve binds and runs a server until ctx is cancelled.
func Serve(ctx context.Context, cfg config.Config, h transport.Handler) error {
	s, err := NewServer(ctx, cfg, h)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}
