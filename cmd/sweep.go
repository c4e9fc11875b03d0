package cmd

import (
	"fmt"
	"time"

	"github.com/brogergvhs/archivist/internal/config"
	"github.com/brogergvhs/archivist/internal/util"

	"github.com/spf13/cobra"
)

var flagRetention time.Duration

func init() {
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete temp download folders older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(config.Options{TempRoot: flagTempRoot})
			if err != nil {
				return err
			}

			retention := cfg.TempRetention
			if cmd.Flags().Changed("retention") {
				retention = flagRetention
			}

			removed, err := util.SweepTempDirs(cfg.TempRoot, retention, time.Now())
			if err != nil {
				return err
			}

			for _, dir := range removed {
				fmt.Println("removed", dir)
			}
			fmt.Printf("Swept %d folder(s) older than %s from %s\n", len(removed), retention, cfg.TempRoot)
			return nil
		},
	}

	sweepCmd.Flags().StringVar(&flagTempRoot, "temp-root", "", "folder for in-flight downloads")
	sweepCmd.Flags().DurationVar(&flagRetention, "retention", 24*time.Hour, "remove folders untouched for longer than this")

	rootCmd.AddCommand(sweepCmd)
}
