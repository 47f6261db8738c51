package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"capturekit/config"
	"capturekit/core"
	"capturekit/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile            string
	dbPath             string // Bound to --dbpath flag
	appLogPathFlag     string
	captureLogPathFlag string
	logLevelFlag       string

	// services is opened by PersistentPreRunE for every command that needs
	// the store and closed by PersistentPostRunE.
	services *core.Services
)

// skipStoreAnnotation marks commands that run without opening the store.
const skipStoreAnnotation = "capturekit/skip-store"

func expandTildeCmd(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

var rootCmd = &cobra.Command{
	Use:   "capturekit",
	Short: "Turns captured social-platform traffic into structured records",
	Long: `capturekit ingests captured HTTP exchanges and scraped comment trees,
extracts typed records (comments, notes, users, notifications) and upserts
them idempotently into SQLite or MongoDB.

Exchanges arrive through the HTTP API, the MITM capture proxy, a Kafka topic
or JSON files.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(cfgFile, appLogPathFlag, captureLogPathFlag, logLevelFlag); err != nil {
			return fmt.Errorf("failed to initialize config in PersistentPreRunE: %w", err)
		}

		if dbPath != "" {
			expandedPath, err := expandTildeCmd(dbPath)
			if err != nil {
				logger.Error("Error expanding tilde in --dbpath flag '%s': %v. Using original.", dbPath, err)
				expandedPath = dbPath
			}
			config.AppConfig.Database.Path = expandedPath
			logger.Info("PersistentPreRunE: Using database path from --dbpath flag: '%s'", expandedPath)
		} else if expandedPath, err := expandTildeCmd(config.AppConfig.Database.Path); err == nil {
			config.AppConfig.Database.Path = expandedPath
		}

		if skipsStore(cmd) {
			return nil
		}
		svc, err := core.OpenServices(cmd.Context(), config.AppConfig)
		if err != nil {
			return fmt.Errorf("failed to open services: %w", err)
		}
		services = svc
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if services == nil {
			return nil
		}
		err := services.Close(context.WithoutCancel(cmd.Context()))
		services = nil
		return err
	},
}

func skipsStore(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd, "help":
		return true
	}
	_, ok := cmd.Annotations[skipStoreAnnotation]
	return ok
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/capturekit/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "dbpath", "", "path to SQLite database file (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&appLogPathFlag, "app-log", "", "path for the application log file (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&captureLogPathFlag, "capture-log", "", "path for the capture log file (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR (overrides config/default)")
}
