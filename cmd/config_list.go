package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/brogergvhs/archivist/internal/config"

	"github.com/spf13/cobra"
)

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List config profiles, the active one marked with *",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := config.ListConfigs()
		if err != nil {
			return fmt.Errorf("cannot read %s: %w", config.ConfigsDir(), err)
		}
		if len(list) == 0 {
			fmt.Println("No profiles yet, run `archivist config init`.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		_, _ = fmt.Fprintln(w, "\tLABEL\tMODIFIED\tPATH")
		for _, c := range list {
			mark := ""
			if c.Active {
				mark = "*"
			}
			modified := "-"
			if !c.Modified.IsZero() {
				modified = c.Modified.Format("2006-01-02 15:04")
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, c.Label, modified, c.Path)
		}
		return w.Flush()
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
}
