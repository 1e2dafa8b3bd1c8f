package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"btcgold-correlation/internal/app"
	"btcgold-correlation/internal/config"
	"btcgold-correlation/internal/logging"
)

// skipAppAnnotation marks commands that run without loading configuration.
const skipAppAnnotation = "btcgold/skip-app"

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "btcgold",
	Short:         "Track the correlation between BTC and gold prices",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd.Annotations[skipAppAnnotation] != "" {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		sinks, err := logging.NewSinks(cfg.Logging)
		if err != nil {
			return err
		}
		appHandle = app.NewApp(cfg, logging.NewLogger(cfg.Logging), sinks)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle == nil {
			return nil
		}
		return appHandle.Close()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(taskCommands()...)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
