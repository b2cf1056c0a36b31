package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"custodychain/internal/adapters/httpapi"
	"custodychain/internal/core"
	"custodychain/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON HTTP API and Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.HTTP.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			handler, err := a.buildHandler(ctx, prometheus.NewRegistry())
			if err != nil {
				_ = ln.Close()
				return err
			}
			return a.serve(ctx, ln, handler)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: http.addr from config)")
	return cmd
}

// buildHandler opens storage with metrics and tracing attached and makes
// sure the configured owner is in place.
func (a *app) buildHandler(ctx context.Context, reg *prometheus.Registry) (http.Handler, error) {
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return nil, err
	}
	ledger, err := a.ledgerFor(ctx, core.WithMetricsRecorder(recorder), core.WithTracer(core.NewOTelTracer(nil)))
	if err != nil {
		return nil, err
	}
	if a.cfg.Owner != "" {
		err := ledger.Initialize(ctx, domain.Address(a.cfg.Owner))
		if errors.Is(err, domain.ErrAlreadyInitialized) {
			owner, _ := ledger.Owner(ctx)
			a.logger.Warn("ledger already has a different owner", "configured", a.cfg.Owner, "owner", owner)
		} else if err != nil {
			return nil, err
		}
	}
	ev, err := a.evidenceService(ctx)
	if err != nil {
		return nil, err
	}
	return httpapi.NewHandler(ledger, ev, reg, a.logger), nil
}

func (a *app) serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	a.logger.Info("serving", "addr", ln.Addr().String(), "storage", a.cfg.Storage.Driver, "evidence", a.cfg.Evidence.Driver)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	a.logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
