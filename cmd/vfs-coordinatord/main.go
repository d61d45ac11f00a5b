// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

// Command vfs-coordinatord runs the out-of-process lock and WAL-index
// coordinator: one listener, shared by every client that opens a database
// path through it.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dreamsxin/sqlitevfs/coordinator"
	"github.com/dreamsxin/sqlitevfs/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "vfs-coordinatord",
		Short: "Serve the pluggable-VFS lock and WAL-index coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg, metricsAddr)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP host:port, or unix:// followed by a socket path")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, or error")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "trace every request/response")
	flags.StringVar(&metricsAddr, "metrics-listen", "", "address to serve Prometheus metrics on; empty disables it")

	return cmd
}

// listen accepts a TCP host:port, or a unix:// prefixed socket path, the
// same pair of notations accepted by --listen.
func listen(addr string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		return net.Listen("unix", path)
	}
	return net.Listen("tcp", addr)
}

func run(cfg config.Config, metricsAddr string) error {
	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		return err
	}

	registerer := prometheus.NewRegistry()
	srv := coordinator.NewServer(coordinator.Config{
		Logger:     logger,
		Registerer: registerer,
		Debug:      cfg.Debug,
	})

	ln, err := listen(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("vfs-coordinatord: listen: %w", err)
	}
	_ = level.Info(logger).Log("msg", "coordinator listening", "addr", ln.Addr().String())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registerer.(*prometheus.Registry), promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			_ = metricsSrv.ListenAndServe()
		}()
		go func() {
			<-ctx.Done()
			_ = metricsSrv.Close()
		}()
	}

	err = srv.Serve(ctx, ln)
	_ = level.Info(logger).Log("msg", "coordinator stopped", "err", err)
	return err
}
