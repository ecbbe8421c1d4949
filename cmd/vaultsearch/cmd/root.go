package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vaultsearch/internal/config"
	"vaultsearch/internal/logging"
)

var (
	// cfgPath is the YAML config file; empty means the default locations
	cfgPath string
	// logLevel overrides log.level from the config
	logLevel string
	// vaultPath overrides vault.path from the config
	vaultPath string
)

var rootCmd = &cobra.Command{
	Use:   "vaultsearch",
	Short: "Semantic search over a markdown note vault",
	Long: `vaultsearch embeds every note of a vault, keeps the embeddings in memory
and answers similarity queries over them.

Examples:
  # Serve the HTTP API used by the Obsidian plugin
  vaultsearch serve --vault ~/notes --watch

  # One-off search from the shell
  vaultsearch search "distributed consensus" -k 3

  # Interactive search
  vaultsearch tui --vault ~/notes`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config (defaults to ./config.yaml or ~/.config/vaultsearch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&vaultPath, "vault", "", "Vault directory (overrides vault.path)")
}

func loadConfig() (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if vaultPath != "" {
		cfg.Vault.Path = vaultPath
	}
	return cfg, nil
}

func setup() (*config.AppConfig, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
