package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagIgnoreConfig bool
	flagDebug        bool
)

var rootCmd = &cobra.Command{
	Use:   "archivist",
	Short: "Archive Telegraph image articles into zip or epub with a searchable index",
	Long: `archivist downloads the images of Telegraph posts, packs them into a zip
page archive or an epub book and records each work in a SQLite index.

Run once with "archive", or keep a dispatcher and HTTP API up with "serve".`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagIgnoreConfig, "ignore-config", false, "ignore config and use only CLI flags")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
