package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/farid-feyzi/jacoco/internal/watch"
)

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir := env.cfg.Watch.Dir
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		dir = "."
	}
	addr := env.cfg.Metrics.Addr
	if metricsAddr != "" {
		addr = metricsAddr
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	opts := watch.DefaultOptions()
	opts.Pattern = env.cfg.Watch.Pattern
	opts.Logger = env.logger
	w, err := watch.New(dir, s, opts)
	if err != nil {
		return err
	}

	if addr != "" {
		srv := serveMetrics(addr)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}
	return w.Run(ctx)
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(env.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		env.logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			env.logger.Error("metrics server", "err", err)
		}
	}()
	return srv
}
