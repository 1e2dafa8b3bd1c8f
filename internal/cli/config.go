package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"btcgold-correlation/internal/config"
)

var (
	configInitOut   string
	configInitForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or scaffold configuration",
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write the default configuration as YAML",
	Annotations: map[string]string{skipAppAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := defaultConfigYAML()
		if err != nil {
			return err
		}
		if configInitOut == "" || configInitOut == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}

		flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
		if configInitForce {
			flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		}
		file, err := os.OpenFile(configInitOut, flags, 0o600)
		if err != nil {
			return fmt.Errorf("create %s: %w", configInitOut, err)
		}
		defer file.Close()
		if _, err := file.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", configInitOut, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s; put credentials in %s or the environment (%s_*)\n", configInitOut, config.Default().App.EnvFile, config.EnvPrefix)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getApp().Config
		if err := cfg.RequireCryptoKey(); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "warning: %v\n", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration ok (storage=%s, cron=%q)\n", cfg.Storage.Driver, cfg.Scheduler.Cron)
		return nil
	},
}

func defaultConfigYAML() ([]byte, error) {
	cfg := config.Default().WithoutSecrets()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal default config: %w", err)
	}
	return data, nil
}

func init() {
	configInitCmd.Flags().StringVarP(&configInitOut, "out", "o", "", "Output path (default: stdout)")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
}
