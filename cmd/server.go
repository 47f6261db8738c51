package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"capturekit/api"
	"capturekit/config"
	"capturekit/core"
	"capturekit/logger"

	"github.com/spf13/cobra"
)

var standaloneServerPort string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the ingestion API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		portToUse := standaloneServerPort
		if !cmd.Flags().Changed("port") {
			portToUse = config.AppConfig.Server.Port
		}
		if portToUse == "" {
			portToUse = "8778"
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serveAPI(ctx, services, portToUse)
	},
}

// serveAPI runs the API on port until ctx is cancelled, then shuts down
// gracefully.
func serveAPI(ctx context.Context, svc *core.Services, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           api.NewRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server: Listening on :%s (API under /api)", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Server: Shutdown signal received...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server: Graceful shutdown failed: %v", err)
		return err
	}
	logger.Info("Server: Gracefully stopped.")
	return nil
}

func init() {
	serverCmd.Flags().StringVarP(&standaloneServerPort, "port", "p", "8778", "Port for the server to listen on (overrides config)")
	rootCmd.AddCommand(serverCmd)
}
