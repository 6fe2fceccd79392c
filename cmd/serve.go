package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docketwatch/searchstream/internal/simulator"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scripted progress stream simulator.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if port == 0 {
				port = cfg.Server.Port
			}

			sim, err := simulator.NewServer(nil, logger, nil)
			if err != nil {
				return fmt.Errorf("build simulator: %w", err)
			}

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           sim.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			go func() {
				logger.Info("simulator started",
					zap.Int("port", port),
					zap.String("try", fmt.Sprintf("searchstream watch --job %s --unit SC --unit PR --endpoint http://localhost:%d/v1/progress", uuid.NewString(), port)))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("simulator server error", zap.Error(err))
					stop()
				}
			}()

			<-ctx.Done()
			logger.Info("shutdown initiated")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (defaults to config)")
	return cmd
}
