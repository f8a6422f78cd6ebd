package main

import (
	"os"

	"github.com/spf13/cobra"

	"pictor/internal/config"
	"pictor/pkg/logger"
)

var (
	configPath string
	quiet      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "pictor",
		Short:         "Image derivative pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadEnv()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Setup(cfg.Log.LoggerOptions())
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", os.Getenv("STARTUP_LOG_ACTIVE") == "false", "Skip the startup banner")

	rootCmd.AddCommand(serveCmd(), deriveCmd(), sweepCmd(), minsizeCmd(), benchCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.LogFatal("%v", err)
	}
}
