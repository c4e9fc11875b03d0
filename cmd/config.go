package cmd

import (
	"fmt"
	"os"

	"github.com/brogergvhs/archivist/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective config or manage config profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, used, err := config.LoadMerged(config.Options{
			IgnoreConfig: flagIgnoreConfig,
			Debug:        flagDebug,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Loaded config from:\n  %s\n\n", used)
		cfg.Print(os.Stdout)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
