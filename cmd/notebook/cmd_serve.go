// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/amarkhullar1/reactive-notebook/pkg/logging"
	"github.com/amarkhullar1/reactive-notebook/services/notebook"
	"github.com/amarkhullar1/reactive-notebook/services/notebook/engine"
	"github.com/amarkhullar1/reactive-notebook/services/notebook/kernel"
	"github.com/amarkhullar1/reactive-notebook/services/notebook/session"
	"github.com/amarkhullar1/reactive-notebook/services/notebook/storage"
)

var serveFlags struct {
	configPath  string
	port        int
	dataDir     string
	cellTimeout time.Duration
	pythonPath  string
	logDir      string
	debug       bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the notebook server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.configPath, "config", "", "Path to YAML config file")
	serveCmd.Flags().IntVar(&serveFlags.port, "port", 0, "Port to listen on")
	serveCmd.Flags().StringVar(&serveFlags.dataDir, "data-dir", "", "Directory for the notebook store")
	serveCmd.Flags().DurationVar(&serveFlags.cellTimeout, "cell-timeout", 0, "Per-cell execution timeout")
	serveCmd.Flags().StringVar(&serveFlags.pythonPath, "python", "", "Path to the Python interpreter")
	serveCmd.Flags().StringVar(&serveFlags.logDir, "log-dir", "", "Directory for JSON log files")
	serveCmd.Flags().BoolVar(&serveFlags.debug, "debug", false, "Enable debug mode")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(serveFlags.configPath)
	if err != nil {
		return err
	}
	if serveFlags.port != 0 {
		cfg.Port = serveFlags.port
	}
	if serveFlags.dataDir != "" {
		cfg.DataDir = serveFlags.dataDir
	}
	if serveFlags.cellTimeout != 0 {
		cfg.CellTimeout = serveFlags.cellTimeout
	}
	if serveFlags.pythonPath != "" {
		cfg.PythonPath = serveFlags.pythonPath
	}
	if serveFlags.logDir != "" {
		cfg.LogDir = serveFlags.logDir
	}
	if serveFlags.debug {
		cfg.Debug = true
	}

	appLog := logging.New(logging.Config{
		Level:   logLevel(cfg.Debug),
		LogDir:  cfg.LogDir,
		Service: "notebook",
	})
	defer appLog.Close()

	logger := appLog.Slog()
	slog.SetDefault(logger)

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := storage.Open(storage.DefaultConfig(cfg.DataDir))
	if err != nil {
		return fmt.Errorf("open notebook store: %w", err)
	}
	defer store.Close()

	hub := notebook.NewHub(logger)

	runners := func() (engine.Runner, error) {
		opts := []kernel.Option{
			kernel.WithTimeout(cfg.CellTimeout),
			kernel.WithLogger(logger),
		}
		if cfg.PythonPath != "" {
			opts = append(opts, kernel.WithPythonPath(cfg.PythonPath))
		}
		return kernel.New(opts...)
	}

	manager, err := session.NewManager(store, runners,
		session.WithLogger(logger),
		session.WithSinkFactory(hub.EngineSink),
	)
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}

	handlers := notebook.NewHandlers(manager, hub, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	notebook.RegisterRoutes(v1, handlers)

	printBanner(cfg)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutting down notebook server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown failed", slog.String("error", err.Error()))
		}
	}()

	slog.Info("Starting notebook server", slog.String("address", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("start server: %w", err)
	}
	return nil
}

func logLevel(debug bool) logging.Level {
	if debug {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}

func printBanner(cfg Config) {
	fmt.Printf(`
  Reactive Notebook
  -----------------
  Port:         %d
  Data dir:     %s
  Cell timeout: %s
  Websocket:    ws://localhost:%d/v1/notebook/ws
  Health:       http://localhost:%d/v1/notebook/health

`, cfg.Port, cfg.DataDir, cfg.CellTimeout, cfg.Port, cfg.Port)
}
