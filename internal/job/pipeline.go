package job

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/brogergvhs/archivist/internal/archive"
	"github.com/brogergvhs/archivist/internal/downloader"
	"github.com/brogergvhs/archivist/internal/providers"
	"github.com/brogergvhs/archivist/internal/store"
	"github.com/brogergvhs/archivist/internal/title"
	"github.com/brogergvhs/archivist/internal/ui"
	"github.com/brogergvhs/archivist/internal/util"
)

// MetadataStore is the part of the store a finished job writes to.
type MetadataStore interface {
	Insert(ctx context.Context, rec store.Record, art *store.Artifact) (int64, error)
}

// Observer is told about finished jobs and image outcomes.
type Observer interface {
	JobFinished(state string)
	ImagesFetched(downloaded, skipped, failed int, bytes int64)
}

type nopObserver struct{}

func (nopObserver) JobFinished(string)                 {}
func (nopObserver) ImagesFetched(int, int, int, int64) {}

type Options struct {
	TempRoot      string
	UnknownArtist string
	KeepFolders   bool

	Workers     int
	MaxAttempts int
	Timeout     time.Duration
	Backoff     time.Duration
}

type Pipeline struct {
	scraper    providers.Scraper
	classifier title.Classifier
	downloader *downloader.Downloader
	builder    *archive.Builder
	store      MetadataStore
	ledger     *Ledger

	log      *ui.Logger
	progress ui.ProgressFactory
	stats    *ui.Stats
	observer Observer
	opts     Options

	tmpMu    sync.Mutex
	tmpInUse map[string]bool
}

type Deps struct {
	Scraper    providers.Scraper
	Classifier title.Classifier
	Downloader *downloader.Downloader
	Builder    *archive.Builder

	// Optional.
	Store    MetadataStore
	Ledger   *Ledger
	Log      *ui.Logger
	Progress ui.ProgressFactory
	Stats    *ui.Stats
	Observer Observer
}

func NewPipeline(d Deps, opts Options) *Pipeline {
	p := &Pipeline{
		scraper:    d.Scraper,
		classifier: d.Classifier,
		downloader: d.Downloader,
		builder:    d.Builder,
		store:      d.Store,
		ledger:     d.Ledger,
		log:        d.Log,
		progress:   d.Progress,
		stats:      d.Stats,
		observer:   d.Observer,
		opts:       opts,
		tmpInUse:   map[string]bool{},
	}
	if p.log == nil {
		p.log = ui.NopLogger()
	}
	if p.stats == nil {
		p.stats = &ui.Stats{}
	}
	if p.observer == nil {
		p.observer = nopObserver{}
	}
	if p.opts.UnknownArtist == "" {
		p.opts.UnknownArtist = "unknown"
	}
	return p
}

// Run takes j from pending to done or failed. The returned error is the
// job's error; the job itself records it too.
func (p *Pipeline) Run(ctx context.Context, j *ArchiveJob) (err error) {
	log := p.log.With("job", j.ID, "url", j.SourceURL)
	p.stats.TotalJobs.Add(1)

	defer func() {
		p.observer.JobFinished(string(j.State()))
		if err != nil {
			p.stats.FailedJobs.Add(1)
			log.Errorf("job failed: %v", err)
		}
	}()

	if path, ok := p.ledger.Lookup(j.Kind, j.SourceURL); ok {
		log.Infof("already archived at %s", path)
		p.stats.SkippedJobs.Add(1)
		j.succeed(Result{
			Title:      trimExt(filepath.Base(path)),
			OutputPath: path,
			Skipped:    true,
		})
		return nil
	}

	if err := j.advance(StateScraping); err != nil {
		return err
	}

	page, err := p.scraper.Scrape(ctx, j.SourceURL)
	if err != nil {
		j.fail(Result{}, err)
		return err
	}

	work := title.Parse(page.RawTitle, p.opts.UnknownArtist)
	if work.Title == "" {
		work.Title = title.FromURL(j.SourceURL)
		log.Debugf("page title %q unusable, naming the work %q", page.RawTitle, work.Title)
	}
	outDir := p.classifier.Dir(j.Kind, work)
	res := Result{
		Title:      work.Title,
		Artist:     work.Artist,
		OutputPath: title.OutputPath(p.classifier, j.Kind, work),
		Images:     len(page.Images),
	}
	log.Infof("%q by %s: %d images -> %s", work.Title, work.Artist, len(page.Images), res.OutputPath)

	if util.FileExists(res.OutputPath) {
		log.Infof("output already exists, skipping download")
		p.stats.SkippedJobs.Add(1)
		res.Skipped = true
		p.finish(ctx, j, res, log)
		return nil
	}

	tmpDir, release := p.claimTempDir(work.Title)
	defer release()
	assets := downloader.NewAssets(page.Images, tmpDir)

	bar := ui.NopProgress()
	if p.progress != nil {
		bar = p.progress.Register(work.Title)
	}

	if err := j.advance(StateDownloading); err != nil {
		return err
	}

	report, err := p.download(ctx, j, assets, tmpDir, bar, log)
	res.Bytes = report.Bytes
	res.Failed = report.FailedIndexes()
	if err != nil {
		util.RemoveIfEmpty(tmpDir)
		j.fail(res, err)
		return err
	}

	if err := j.advance(StateVerifying); err != nil {
		return err
	}
	if err := downloader.Verify(tmpDir, len(assets)); err != nil {
		if !util.RemoveIfEmpty(tmpDir) {
			log.Warnf("keeping %s for a later attempt", tmpDir)
		}
		j.fail(res, err)
		return err
	}

	if err := j.advance(StatePackaging); err != nil {
		return err
	}
	_, err = p.builder.Build(ctx, archive.Request{
		Kind:      j.Kind,
		Title:     work.Title,
		Artist:    work.Artist,
		RawTitle:  work.RawTitle,
		Dir:       tmpDir,
		Files:     report.Files(),
		OutputDir: outDir,
	})
	if err != nil {
		util.RemoveIfEmpty(outDir)
		j.fail(res, err)
		return err
	}

	p.finish(ctx, j, res, log)

	if !p.opts.KeepFolders {
		util.CleanupFolder(tmpDir)
	}
	return nil
}

// download runs the worker pool, then spends the job's retry budget on
// further passes while images are still missing. Files already on disk are
// skipped by each pass.
func (p *Pipeline) download(
	ctx context.Context,
	j *ArchiveJob,
	assets []downloader.Asset,
	dir string,
	bar ui.Progress,
	log *ui.Logger,
) (downloader.Report, error) {
	opts := downloader.Options{
		Workers:     p.opts.Workers,
		MaxAttempts: p.opts.MaxAttempts,
		Timeout:     p.opts.Timeout,
		Backoff:     p.opts.Backoff,
		Referer:     j.SourceURL,
		Progress:    bar,
	}

	var total downloader.Report
	for pass := 0; ; pass++ {
		if pass > 0 {
			if err := j.advance(StateDownloading); err != nil {
				return total, err
			}
			opts.Progress = ui.NopProgress()
			log.Infof("retrying %d missing images (pass %d)", len(total.Failed), pass+1)
			for i := range assets {
				assets[i].Err = nil
			}
		}

		report, err := p.downloader.Download(ctx, assets, dir, opts)
		p.observer.ImagesFetched(report.Downloaded, report.Skipped, len(report.Failed), report.Bytes)
		p.stats.TotalImages.Add(int64(report.Downloaded))
		p.stats.TotalBytes.Add(report.Bytes)

		total.Assets = report.Assets
		total.Downloaded += report.Downloaded
		total.Bytes += report.Bytes
		total.Failed = report.Failed
		if pass == 0 {
			total.Skipped = report.Skipped
		}

		if err != nil {
			return total, err
		}
		if len(report.Failed) == 0 || j.RetryBudget <= pass {
			return total, nil
		}
	}
}

// finish records the artifact in the store and ledger and marks j done.
// Store failures are logged only.
func (p *Pipeline) finish(ctx context.Context, j *ArchiveJob, res Result, log *ui.Logger) {
	if p.store != nil && j.Meta != nil {
		rec := *j.Meta
		if rec.OriginalURL == "" {
			rec.OriginalURL = j.SourceURL
		}
		id, err := p.store.Insert(ctx, rec, &store.Artifact{Title: res.Title, OutputPath: res.OutputPath})
		if err != nil {
			log.Warnf("metadata not recorded: %v", err)
		} else if id > 0 {
			log.Debugf("metadata recorded as #%d", id)
		}
	}

	if err := p.ledger.Record(j.Kind, j.SourceURL, res.OutputPath); err != nil {
		log.Warnf("ledger not updated: %v", err)
	}

	j.succeed(res)
}

// claimTempDir reserves <temp_root>/<name> for one running job. A job whose
// title collides with a running one gets <name>~2, <name>~3 and so on.
func (p *Pipeline) claimTempDir(name string) (string, func()) {
	if strings.HasPrefix(name, LedgerFile) {
		name = "_" + name
	}

	p.tmpMu.Lock()
	defer p.tmpMu.Unlock()

	dir := filepath.Join(p.opts.TempRoot, name)
	for n := 2; p.tmpInUse[dir]; n++ {
		dir = filepath.Join(p.opts.TempRoot, fmt.Sprintf("%s~%d", name, n))
	}
	p.tmpInUse[dir] = true

	return dir, func() {
		p.tmpMu.Lock()
		delete(p.tmpInUse, dir)
		p.tmpMu.Unlock()
	}
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

// IsIntegrity reports whether err is an integrity failure, which leaves the
// partial download in place for a later attempt.
func IsIntegrity(err error) bool {
	var ie *downloader.IntegrityError
	return errors.As(err, &ie)
}

func (r Result) String() string {
	if r.Skipped {
		return fmt.Sprintf("%s (already archived)", r.OutputPath)
	}
	return fmt.Sprintf("%s (%d images, %s)", r.OutputPath, r.Images, util.Human(r.Bytes))
}
