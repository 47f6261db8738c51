package cmd

import (
	"os/signal"
	"syscall"

	"capturekit/config"
	"capturekit/core"
	"capturekit/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var standaloneProxyPort string

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Runs the MITM capture proxy",
	Long: `Starts the Man-in-the-Middle proxy. JSON responses from hosts matching
proxy.host_pattern are turned into captured exchanges and processed as they
pass through. A request header X-Capture-Rule sets the exchange's rule label.

Clients must trust the CA certificate generated by 'proxy init-ca'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		portToUse := standaloneProxyPort
		if !cmd.Flags().Changed("port") {
			portToUse = config.AppConfig.Proxy.Port
		}
		if portToUse == "" {
			portToUse = "8777"
		}

		cp, err := newCaptureProxy(services)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return cp.ListenAndServe(ctx, ":"+portToUse)
	},
}

// newCaptureProxy builds the proxy from config. A missing or unreadable CA
// falls back to goproxy's built-in CA with a warning.
func newCaptureProxy(svc *core.Services) (*core.CaptureProxy, error) {
	cp, err := core.NewCaptureProxy(svc.Pipeline, config.AppConfig.Proxy.HostPattern)
	if err != nil {
		return nil, err
	}
	certPath, keyPath := config.AppConfig.Proxy.CACertPath, config.AppConfig.Proxy.CAKeyPath
	if certPath == "" || keyPath == "" {
		logger.Warn("Proxy CA certificate or key path not configured; using goproxy's built-in CA. Run 'proxy init-ca' to create one.")
		return cp, nil
	}
	if err := cp.UseCA(certPath, keyPath); err != nil {
		logger.Warn("Could not load proxy CA (%v); using goproxy's built-in CA. Run 'proxy init-ca' to create one.", err)
	}
	return cp, nil
}

var proxyInitCACmd = &cobra.Command{
	Use:         "init-ca",
	Short:       "Generates the root CA certificate and key for the MITM proxy",
	Annotations: map[string]string{skipStoreAnnotation: ""},
	RunE: func(cmd *cobra.Command, args []string) error {
		certPath := config.AppConfig.Proxy.CACertPath
		keyPath := config.AppConfig.Proxy.CAKeyPath
		if certPath == "" || keyPath == "" {
			logger.Error("CA certificate or key path is not defined in configuration.")
			return errMissingCAPaths
		}

		if err := core.GenerateAndSaveCA(certPath, keyPath); err != nil {
			return err
		}
		color.Green("CA certificate written to %s", certPath)
		cmd.Println("Import it into your browser/system trust store before capturing HTTPS traffic.")
		return nil
	},
}

func init() {
	proxyCmd.Flags().StringVarP(&standaloneProxyPort, "port", "p", "8777", "Port for the proxy server to listen on (overrides config)")
	proxyCmd.AddCommand(proxyInitCACmd)
	rootCmd.AddCommand(proxyCmd)
}
