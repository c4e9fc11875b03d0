package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/brogergvhs/archivist/internal/config"

	"github.com/spf13/cobra"
)

var flagYes bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create and activate the Default profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaultPath, err := config.ProfilePath(config.DefaultLabel)
		if err != nil {
			return err
		}

		if !flagYes {
			fmt.Println("Configuration file will be saved at:")
			fmt.Println("  ", defaultPath)
			fmt.Println()
			fmt.Println("Default configuration:")
			config.DefaultConfig().Print(os.Stdout)
			fmt.Println()

			reader := bufio.NewReader(os.Stdin)
			fmt.Print("Create and activate it? [y/N]: ")
			resp, _ := reader.ReadString('\n')
			resp = strings.TrimSpace(strings.ToLower(resp))

			if resp != "y" && resp != "yes" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		path, err := config.InitDefaultConfig()
		if errors.Is(err, os.ErrExist) {
			fmt.Println("Configuration already exists at:")
			fmt.Println("  ", path)
			fmt.Println("It is now active. Use `archivist config reset` to restore defaults.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Println("Config created at:", path)
		fmt.Printf("This config is now active (label: %s).\n", config.DefaultLabel)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "do not ask for confirmation")
	configCmd.AddCommand(configInitCmd)
}
