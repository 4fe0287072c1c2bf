/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/vakt/internal/config"
	"github.com/friendsincode/vakt/internal/db"
	"github.com/friendsincode/vakt/internal/logbuffer"
	"github.com/friendsincode/vakt/internal/logging"
	"github.com/friendsincode/vakt/internal/server"
	"github.com/friendsincode/vakt/internal/telemetry"
	"github.com/friendsincode/vakt/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config

	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "vakt",
	Short: "Vakt - staff duty rostering service",
	Long:  "Vakt builds staff duty rosters: it loads scheduling instances, runs a constraint-checked greedy fill, and serves the results over a CLI and an HTTP API.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Vakt server",
	Long:  "Start the HTTP API server and the run worker",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to YAML config file (overridden by VAKT_* env vars)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration for commands that need the full service
// config (serve, import, reset). Local commands like solve and validate
// use cliLogger instead and skip it.
func loadConfig() error {
	path := configFile
	if path == "" {
		path = os.Getenv("VAKT_CONFIG_FILE")
	}

	var err error
	cfg, err = config.LoadWithFile(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	logger = logging.Setup(cfg.Environment, level)
	return nil
}

// cliLogger builds a logger for local, configuration-free commands.
func cliLogger() zerolog.Logger {
	level := logLevel
	if level == "" {
		level = "warn"
	}
	return logging.Setup("development", level)
}

func runServe(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = os.Getenv("VAKT_CONFIG_FILE")
	}

	var err error
	cfg, err = config.LoadWithFile(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The log buffer feeds the admin logs API; it sees every log line
	// the process writes.
	logBuf := logbuffer.New(2048)
	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	logger = logging.SetupWithWriter(cfg.Environment, level, logbuffer.NewWriter(logBuf, nil))

	logger.Info().Str("version", version.String()).Msg("vakt starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "vakt",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	srv, err := server.New(cfg, logBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("vakt stopped")
	return nil
}

// initDatabase connects using the loaded config (used by import and reset).
func initDatabase() (*gorm.DB, error) {
	return db.Connect(cfg)
}
