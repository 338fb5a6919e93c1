package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mlife-core/platform/pkg/common/config"
	"github.com/mlife-core/platform/pkg/common/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if err := newRootCmd(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "mlife",
		Short:        "Parse ICU exports and aggregate them into daily registry records",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			logger.InitWithLevel(level)
			return cfg.Validate()
		},
	}
	rootCmd.PersistentFlags().String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(parseCmd(cfg))
	rootCmd.AddCommand(aggregateCmd(cfg))
	rootCmd.AddCommand(mappingCmd())
	rootCmd.AddCommand(tailCmd(cfg))
	return rootCmd
}
