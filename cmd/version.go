package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the archivist version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("archivist %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
