package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/venue-research/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "venue-research",
	Short: "Place research synthesis and cross-reference pipeline",
	Long:  "Assembles per-place source bundles, synthesizes venue signals with an LLM, resolves them to knowledge-graph entities and reconciles them with existing convergence signals.",
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
