package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/diet-analysis/internal/config"
	"github.com/sells-group/diet-analysis/internal/fetcher"
	"github.com/sells-group/diet-analysis/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initAnalysis(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildHandler(env, cfg),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildHandler wires the HTTP layer onto env.
func buildHandler(env *analysisEnv, c *config.Config) http.Handler {
	f := fetcher.New(fetcher.Options{
		UserAgent:         c.Fetch.UserAgent,
		Timeout:           time.Duration(c.Fetch.TimeoutSecs) * time.Second,
		MaxBytes:          c.Fetch.MaxBytes,
		RequestsPerSecond: c.Fetch.RequestsPerSecond,
	})

	keys := c.Server.KeyMap()
	if len(keys) == 0 {
		zap.L().Warn("no api keys configured, requests identify users by the uid field")
	}

	return server.New(env.Pipeline, f, env.Metrics, server.Config{
		AllowedOrigins: c.Server.AllowedOrigins,
		APIKeys:        keys,
		MaxUploadBytes: c.Server.MaxUploadBytes,
	}).Handler()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
