package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brogergvhs/archivist/internal/config"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var configSwitchCmd = &cobra.Command{
	Use:   "switch [label]",
	Short: "Switch the active config profile",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label := ""
		if len(args) == 1 {
			label = args[0]
		} else {
			picked, err := pickProfile()
			if err != nil {
				return err
			}
			label = picked
		}

		if err := config.SwitchConfig(label); err != nil {
			return err
		}
		fmt.Println("Switched to:", label)
		return nil
	},
}

func pickProfile() (string, error) {
	list, err := config.ListConfigs()
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", errors.New("no profiles available, run `archivist config init`")
	}

	cursor := 0
	for i, c := range list {
		if c.Active {
			cursor = i
		}
	}

	prompt := promptui.Select{
		Label:     "Profile",
		Items:     list,
		CursorPos: cursor,
		Size:      min(len(list), 10),
		Templates: &promptui.SelectTemplates{
			Active:   `▸ {{ .Label | cyan }}{{ if .Active }} (active){{ end }}`,
			Inactive: `  {{ .Label }}{{ if .Active }} (active){{ end }}`,
			Selected: `{{ "✔" | green }} {{ .Label }}`,
			Details:  `{{ .Path | faint }}`,
		},
		Searcher: func(input string, idx int) bool {
			return strings.Contains(strings.ToLower(list[idx].Label), strings.ToLower(input))
		},
	}

	idx, _, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("selection cancelled: %w", err)
	}
	return list[idx].Label, nil
}

func init() {
	configCmd.AddCommand(configSwitchCmd)
}
