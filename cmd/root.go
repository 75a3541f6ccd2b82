package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hps-group/dealengine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dealengine",
	Short: "Deterministic deal-underwriting engine",
	Long:  "Computes offers, floors, ceilings, and workflow gates for distressed-property deals from org policy, with content-addressed run history and a governed policy override workflow.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
