package main

import (
	"github.com/spf13/cobra"

	"apprentice/internal/config"
	"apprentice/internal/logging"
)

var (
	configPath string
	storePath  string
	logLevel   string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "apprentice",
	Short: "Alignment-driven distillation for LLM-backed functions",
	Long: `apprentice manages declared LLM-backed functions: alignment examples,
typed invocation against a teacher model, and automatic distillation onto
fine-tuned student models once enough training records accumulate.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if storePath != "" {
			cfg.StorePath = storePath
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		return logging.Initialize(cfg.LogLevel, false)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "apprentice.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "alignment store path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn, or error")
}
