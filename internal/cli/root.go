package cli

import (
	"github.com/spf13/cobra"

	"github.com/knightchaser/ticksched/internal/config"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

// NewRootCmd creates the root cobra command for the ticksched CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ticksched",
		Short:        "Cooperative cycle scheduler",
		Long:         "ticksched runs periodic and deadline tasks and interrupt handlers on a fixed cycle budget.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (trace, debug, info, warn, error); overrides the config file")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (console, json); overrides the config file")

	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
	)

	return root
}

// loadConfig reads the configuration file and applies the persistent flag overrides.
func loadConfig() (config.File, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	return cfg, nil
}
