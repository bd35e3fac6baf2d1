// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command tablerpc-server serves in-memory tables over WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Query-farm/tablerpc/internal/config"
	"github.com/Query-farm/tablerpc/internal/logging"
	"github.com/Query-farm/tablerpc/memtable"
	"github.com/Query-farm/tablerpc/tablerpc"
	tableotel "github.com/Query-farm/tablerpc/tablerpc/otel"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 5 * time.Second

var flagConfigDir string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tablerpc-server",
	Short: "Serve in-memory tables over WebSocket",
	Long: `tablerpc-server hosts an in-memory table engine. Clients connect to
{prefix}/ws, create tables and views, query them, and subscribe to
updates.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tablerpc-server %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "directory containing tablerpc.yaml")

	f := serveCmd.Flags()
	f.String("host", "127.0.0.1", "listen address")
	f.Int("port", 8080, "listen port")
	f.String("prefix", tablerpc.DefaultPrefix, "URL prefix")
	f.Bool("locked", false, "reject table creation and mutating methods")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.String("log-format", "console", "log format: console, json")
	f.Int64("read-limit", tablerpc.DefaultReadLimit, "maximum inbound message size in bytes")
	f.Bool("otel", false, "export traces and metrics to stdout")
	f.String("server-id", "", "server identifier (default: random UUID)")
	f.StringSlice("origin-patterns", nil, "hosts allowed to open cross-origin WebSocket connections")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfigDir, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := memtable.NewEngine(memtable.WithLogger(logger))
	manager := tablerpc.NewManager(engine,
		tablerpc.WithLock(cfg.Locked),
		tablerpc.WithServerID(cfg.ServerID),
		tablerpc.WithLogger(logger),
	)

	if cfg.Otel {
		otelCfg, shutdown, err := setupOtel(ctx, os.Stdout)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("otel shutdown failed", "err", err)
			}
		}()
		tableotel.InstrumentManager(manager, otelCfg)
	}

	httpServer := tablerpc.NewHttpServer(manager, cfg.Prefix)
	httpServer.SetReadLimit(cfg.ReadLimit)
	httpServer.SetOriginPatterns(cfg.OriginPatterns)

	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}
	srv := &http.Server{
		Handler:           httpServer,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving",
		"addr", listener.Addr().String(),
		"prefix", cfg.Prefix,
		"server_id", cfg.ServerID,
		"locked", cfg.Locked,
	)
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	logger.Info("stopped")
	return nil
}
