// Command sentryd is the agent's entrypoint: a cobra root with a "run"
// subcommand and a "version" subcommand, grounded on the
// teacher's cmd/cli root command plus pkg/version's VersionCmd.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sentryd/sentryd/internal/agent/bootstrap"
	"github.com/sentryd/sentryd/internal/agent/config"
	"github.com/sentryd/sentryd/internal/log"
	"github.com/sentryd/sentryd/pkg/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sentryd",
	Short: "sentryd observes process lifecycle events from the kernel",
	Long:  "sentryd reconstructs process lifecycle state from eBPF tracepoints, runs a windowed heuristic rules engine over it, and fans events and alerts out to subscribers.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent and block until terminated",
	RunE:  runAgent,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", envOr("SENTRYD_CONFIG", "sentryd.yaml"), "configuration file path")
	rootCmd.AddCommand(runCmd, version.VersionCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runAgent(cmd *cobra.Command, args []string) error {
	logConf := log.SetDefaults()
	if lvl := os.Getenv("SENTRYD_LOG_LEVEL"); lvl != "" {
		logConf.Level = lvl
	}
	logger, err := log.New(logConf)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %q: %w", configPath, err)
	}
	if v := os.Getenv("SKIP_CAP_CHECK"); v == "1" || v == "true" {
		cfg.SkipCapabilityCheck = true
	}

	agent, err := bootstrap.New(*cfg)
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}

	logger.Info("sentryd starting", zap.String("config", configPath))
	return agent.Run(context.Background())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
