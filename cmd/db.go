package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/brogergvhs/archivist/internal/config"
	"github.com/brogergvhs/archivist/internal/store"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Query and edit the metadata store",
}

func init() {
	dbCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "metadata store path")

	dbCmd.AddCommand(
		&cobra.Command{
			Use:   "search <substring>",
			Short: "Find works whose title contains the substring (case-sensitive)",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(ctx context.Context, st *store.Store, args []string) error {
				recs, err := st.SearchByTitle(ctx, args[0])
				if err != nil {
					return err
				}
				printRecords(recs)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "tag <value>",
			Short: "Find works carrying the tag in any tag column",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(ctx context.Context, st *store.Store, args []string) error {
				recs, err := st.SearchByTag(ctx, strings.TrimPrefix(args[0], "#"))
				if err != nil {
					return err
				}
				printRecords(recs)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "random",
			Short: "Show a random work",
			Args:  cobra.NoArgs,
			RunE: withStore(func(ctx context.Context, st *store.Store, _ []string) error {
				rec, err := st.Random(ctx)
				if errors.Is(err, store.ErrNotFound) {
					fmt.Println(color.YellowString("missed, try again"))
					return nil
				}
				if err != nil {
					return err
				}
				printRecord(rec)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show one work",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(ctx context.Context, st *store.Store, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				rec, err := st.Get(ctx, id)
				if err != nil {
					return err
				}
				printRecord(rec)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "modify <works|tags> <column> <id> <value...>",
			Short: "Update one column; tag columns take #a #b or several values",
			Args:  cobra.MinimumNArgs(4),
			RunE: withStore(func(ctx context.Context, st *store.Store, args []string) error {
				id, err := parseID(args[2])
				if err != nil {
					return err
				}

				var value any = strings.Join(args[3:], " ")
				if args[0] == "tags" {
					var tags []string
					for _, a := range args[3:] {
						for _, t := range strings.Split(a, "#") {
							if t = strings.TrimSpace(t); t != "" {
								tags = append(tags, t)
							}
						}
					}
					value = tags
				}

				if err := st.Modify(ctx, args[0], args[1], id, value); err != nil {
					return err
				}
				fmt.Printf("%s %s.%s of #%d\n", color.GreenString("updated"), args[0], args[1], id)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Delete a work and its tags (the artifact stays on disk)",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(ctx context.Context, st *store.Store, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				if err := st.Remove(ctx, id); err != nil {
					return err
				}
				fmt.Printf("%s #%d\n", color.GreenString("removed"), id)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "check",
			Short: "Run the SQLite integrity check",
			Args:  cobra.NoArgs,
			RunE: withStore(func(ctx context.Context, st *store.Store, _ []string) error {
				if err := st.CheckHealth(ctx); err != nil {
					fmt.Printf("%-12s %s\n", "store:", color.RedString("corrupt"))
					return err
				}
				fmt.Printf("%-12s %s\n", "store:", color.GreenString("ok"))
				return nil
			}),
		},
	)

	rootCmd.AddCommand(dbCmd)
}

func withStore(fn func(ctx context.Context, st *store.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, logSvc, err := loadConfig(config.Options{DBPath: flagDBPath})
		if err != nil {
			return err
		}

		st, err := openStore(cfg, logSvc)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		return fn(cmd.Context(), st, args)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printRecords(recs []store.Record) {
	if len(recs) == 0 {
		fmt.Println(color.YellowString("no matches"))
		return
	}
	for i, r := range recs {
		if i > 0 {
			fmt.Println()
		}
		printRecord(r)
	}
	fmt.Printf("\n%d match(es)\n", len(recs))
}

func printRecord(r store.Record) {
	fmt.Printf("%s %s\n", color.CyanString("#%d", r.ID), r.Title)
	fmt.Printf("  %-12s %s\n", "added:", r.TimeAdded.Format("2006-01-02 15:04"))
	fmt.Printf("  %-12s %s\n", "file:", r.FileLocation)
	if r.OriginalURL != "" {
		fmt.Printf("  %-12s %s\n", "source:", r.OriginalURL)
	}
	if r.PreviewURL != "" {
		fmt.Printf("  %-12s %s\n", "preview:", r.PreviewURL)
	}

	tags := r.Tags()
	for _, col := range store.TagColumns {
		if len(tags[col]) == 0 {
			continue
		}
		fmt.Printf("  %-12s %s\n", col+":", color.GreenString("#"+strings.Join(tags[col], " #")))
	}
}
