package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/brogergvhs/archivist/internal/config"
	"github.com/brogergvhs/archivist/internal/job"
	"github.com/brogergvhs/archivist/internal/submission"
	"github.com/brogergvhs/archivist/internal/title"
	"github.com/brogergvhs/archivist/internal/util"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var (
	// selection
	flagKind  string
	flagInput string

	// runtime
	flagArchiveRoot  string
	flagEbookRoot    string
	flagTempRoot     string
	flagDBPath       string
	flagImageWorkers int
	flagBatchCeiling int
	flagCDNPrefix    string
	flagKeepFolders  bool
	flagNoRecord     bool
)

func init() {
	archiveCmd := &cobra.Command{
		Use:   "archive [url|text...]",
		Short: "Archive one or more Telegraph pages. Uses the defaults from the selected config, overwritten by CLI flags",
		Long: `Archive one or more Telegraph pages.

Arguments (or --input, "-" for stdin) are read as a submission: every
telegra.ph link is queued. When exactly one link is given, "label: #tag"
lines such as "language: #chinese" are recorded in the metadata store.`,
		RunE: runArchive,
	}

	archiveCmd.Flags().StringVar(&flagKind, "kind", "archive", "output kind: archive (zip) or ebook (epub)")
	archiveCmd.Flags().StringVar(&flagInput, "input", "", "read the submission text from a file, - for stdin")

	archiveCmd.Flags().StringVar(&flagArchiveRoot, "archive-root", "", "root folder for zip output")
	archiveCmd.Flags().StringVar(&flagEbookRoot, "ebook-root", "", "root folder for epub output")
	archiveCmd.Flags().StringVar(&flagTempRoot, "temp-root", "", "folder for in-flight downloads")
	archiveCmd.Flags().StringVar(&flagDBPath, "db", "", "metadata store path")
	archiveCmd.Flags().IntVar(&flagImageWorkers, "image-workers", 0, "parallel image downloads per job")
	archiveCmd.Flags().IntVar(&flagBatchCeiling, "batch-ceiling", 0, "max jobs running at once (1-3)")
	archiveCmd.Flags().StringVar(&flagCDNPrefix, "cdn-prefix", "", "route page and image requests through this prefix")
	archiveCmd.Flags().BoolVar(&flagKeepFolders, "keep-folders", false, "keep temporary folders")
	archiveCmd.Flags().BoolVar(&flagNoRecord, "no-record", false, "do not write metadata to the store")

	rootCmd.AddCommand(archiveCmd)
}

func readSubmission(args []string) (string, error) {
	switch flagInput {
	case "":
		return strings.Join(args, "\n"), nil
	case "-":
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	default:
		b, err := os.ReadFile(flagInput)
		return string(b), err
	}
}

func runArchive(cmd *cobra.Command, args []string) error {
	kind, ok := title.ParseKind(flagKind)
	if !ok {
		return fmt.Errorf("unknown --kind %q (want archive or ebook)", flagKind)
	}

	cfg, logSvc, err := loadConfig(config.Options{
		ArchiveRoot:  flagArchiveRoot,
		EbookRoot:    flagEbookRoot,
		TempRoot:     flagTempRoot,
		DBPath:       flagDBPath,
		ImageWorkers: flagImageWorkers,
		BatchCeiling: flagBatchCeiling,
		CDNPrefix:    flagCDNPrefix,
		KeepFolders:  flagKeepFolders,
	})
	if err != nil {
		return err
	}

	text, err := readSubmission(args)
	if err != nil {
		return err
	}

	sub := submission.Parse(text, cfg.IndexHost)
	if len(sub.URLs) == 0 {
		return errors.New(sub.Warning)
	}
	if sub.Warning != "" {
		logSvc.Warnf("%s", sub.Warning)
	}
	if flagNoRecord {
		sub.Record = nil
	}

	if cfg.Debug {
		fmt.Println("Full config:")
		cfg.Print(os.Stdout)
		fmt.Println()
	}

	ctx, stop := util.InterruptContext(cmd.Context())
	defer stop()

	a, err := newApp(cfg, logSvc, true)
	if err != nil {
		return err
	}

	jobs := make([]*job.ArchiveJob, len(sub.URLs))
	for i, u := range sub.URLs {
		jobs[i] = job.New(u, kind, sub.Record)
	}

	start := time.Now()
	a.dispatcher.Submit(jobs...)
	runErr := a.dispatcher.Drain(ctx)
	a.Close()

	fmt.Println()
	fmt.Println("Archive Summary:")
	for _, j := range jobs {
		switch j.State() {
		case job.StateDone:
			fmt.Printf("  ok    %s\n", j.Result())
		case job.StateFailed:
			fmt.Printf("  fail  %s: %v\n", j.SourceURL, j.Err())
			if job.IsIntegrity(j.Err()) {
				fmt.Printf("        partial download kept under %s, rerun to resume\n", cfg.TempRoot)
			}
		default:
			fmt.Printf("  -     %s: %s\n", j.SourceURL, j.State())
		}
	}
	fmt.Printf("Jobs:     %d (%d failed, %d skipped)\n", a.stats.TotalJobs.Load(), a.stats.FailedJobs.Load(), a.stats.SkippedJobs.Load())
	fmt.Printf("Images:   %d\n", a.stats.TotalImages.Load())
	fmt.Printf("Data:     %s\n", util.Human(a.stats.TotalBytes.Load()))
	fmt.Printf("Time:     %s\n", time.Since(start).Round(time.Second))

	if runErr != nil {
		return fmt.Errorf("%d job(s) did not finish", len(multierr.Errors(runErr)))
	}

	fmt.Println("\nAll done.")
	return nil
}
