package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nofree-network/nofree/internal/daemon"
)

func init() {
	configCmd.Flags().StringVarP(&configOut, "output", "o", "", "Write the configuration to this file instead of stdout")
	rootCmd.AddCommand(configCmd)
}

var configOut string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults are applied. With --output the
configuration is written to a file that can be edited and passed back
with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if configOut != "" {
		return daemon.SaveConfig(configOut, cfg)
	}

	text, err := cfg.Encode()
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), text)
	return nil
}
