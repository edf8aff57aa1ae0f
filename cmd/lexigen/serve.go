package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/lexigen/lexigen/pkg/api"
	"github.com/lexigen/lexigen/pkg/config"
	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/pipeline"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if mode := os.Getenv("GIN_MODE"); mode != "" {
				gin.SetMode(mode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			catalog, err := database.OpenAndMigrate(
				filepath.Join(cfg.ProjectsRoot, "catalog.db"), database.CatalogMigrations)
			if err != nil {
				return err
			}
			defer catalog.Close()

			tok, err := pipeline.NewKagomeTokenizer()
			if err != nil {
				return err
			}

			server := api.NewServer(cfg, catalog, tok)

			errCh := make(chan error, 1)
			go func() {
				slog.Info("HTTP server listening", "port", cfg.HTTPPort)
				if err := server.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			case sig := <-stop:
				slog.Info("Shutting down", "signal", sig)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}
