// Package cli implements the nofree command-line interface using Cobra.
// Each subcommand maps to one workflow: run a simulation, serve the API,
// inspect stored runs, or print the effective configuration.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nofree-network/nofree/internal/daemon"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "nofree",
	Short: "nofree - simulate a reputation-based anti-free-riding P2P network",
	Long: `nofree simulates an overlay of peers that share files only with peers
whose sharing history, as reported by the network, meets their required
share rate. Runs are stored locally and can be inspected later.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default $NOFREE_HOME/config.toml)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (daemon.Config, error) {
	path := configPath
	if path == "" {
		path = daemon.DefaultConfigPath()
	}
	return daemon.LoadConfig(path)
}

// openDaemon builds the logger and daemon for cfg. The caller closes it.
func openDaemon(cfg daemon.Config) (*daemon.Daemon, error) {
	log, err := daemon.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	d, err := daemon.New(cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("initialize daemon: %w", err)
	}
	if rootCmd.Version != "" {
		d.SetVersion(rootCmd.Version)
	}
	return d, nil
}
