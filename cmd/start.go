package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"capturekit/config"
	"capturekit/logger"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	startServerPort string
	startProxyPort  string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Starts the API server and the capture proxy together",
	Long: `Starts both the ingestion API server and the MITM capture proxy over one
shared store. Press Ctrl+C to shut both down. If either service fails the
other is stopped too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		serverPort := startServerPort
		if !cmd.Flags().Changed("server-port") {
			serverPort = config.AppConfig.Server.Port
		}
		proxyPort := startProxyPort
		if !cmd.Flags().Changed("proxy-port") {
			proxyPort = config.AppConfig.Proxy.Port
		}
		logger.Info("Start Command: Server port %s, proxy port %s", serverPort, proxyPort)

		cp, err := newCaptureProxy(services)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return serveAPI(gctx, services, serverPort) })
		g.Go(func() error { return cp.ListenAndServe(gctx, ":"+proxyPort) })

		err = g.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Start Command: %v", err)
			return err
		}
		logger.Info("Start Command: All services shut down.")
		return nil
	},
}

func init() {
	startCmd.Flags().StringVar(&startServerPort, "server-port", "8778", "Port for the API server (overrides config)")
	startCmd.Flags().StringVar(&startProxyPort, "proxy-port", "8777", "Port for the capture proxy (overrides config)")
	rootCmd.AddCommand(startCmd)
}
