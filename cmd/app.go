package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brogergvhs/archivist/internal/archive"
	"github.com/brogergvhs/archivist/internal/config"
	"github.com/brogergvhs/archivist/internal/dispatcher"
	"github.com/brogergvhs/archivist/internal/downloader"
	"github.com/brogergvhs/archivist/internal/job"
	"github.com/brogergvhs/archivist/internal/metrics"
	"github.com/brogergvhs/archivist/internal/providers/telegraph"
	"github.com/brogergvhs/archivist/internal/store"
	"github.com/brogergvhs/archivist/internal/title"
	"github.com/brogergvhs/archivist/internal/ui"
	"github.com/brogergvhs/archivist/internal/util"

	"golang.org/x/time/rate"
)

// app is the wired pipeline shared by the archive and serve commands.
type app struct {
	cfg        *config.Config
	log        *ui.Logger
	store      *store.Store
	metrics    *metrics.Metrics
	stats      *ui.Stats
	dispatcher *dispatcher.Dispatcher
	progress   *ui.MPBProgressManager
}

func loadConfig(opts config.Options) (*config.Config, *ui.Logger, error) {
	opts.IgnoreConfig = flagIgnoreConfig
	opts.Debug = opts.Debug || flagDebug

	cfg, usedPath, err := config.LoadMerged(opts)
	if err != nil {
		return nil, nil, err
	}

	log, err := ui.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, err
	}
	log.Debugf("config: %s", usedPath)
	return cfg, log, nil
}

func openStore(cfg *config.Config, log *ui.Logger) (*store.Store, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return store.Open(cfg.DBPath, log, store.Options{RandomRange: cfg.RandomRange})
}

// newApp wires scraper, pool, builder, store and dispatcher from cfg. With
// withProgress the downloads render mpb bars on stderr.
func newApp(cfg *config.Config, log *ui.Logger, withProgress bool) (*app, error) {
	if err := os.MkdirAll(cfg.TempRoot, 0755); err != nil {
		return nil, fmt.Errorf("cannot create temp root: %w", err)
	}

	if removed, err := util.SweepTempDirs(cfg.TempRoot, cfg.TempRetention, time.Now()); err != nil {
		log.Warnf("temp sweep failed: %v", err)
	} else if len(removed) > 0 {
		log.Infof("swept %d stale temp folders", len(removed))
	}

	pageClient, err := util.NewHTTPClient(util.HTTPClientOptions{
		Timeout:          cfg.PageTimeout,
		UserAgent:        util.PickUserAgent(cfg.UserAgent),
		Cookie:           cfg.Cookie,
		CookieFile:       cfg.CookieFile,
		CloudflareBypass: cfg.CloudflareBypass,
		DebugLogger:      log,
	})
	if err != nil {
		return nil, err
	}

	imageClient, err := util.NewHTTPClient(util.HTTPClientOptions{
		UserAgent:        util.PickUserAgent(cfg.UserAgent),
		Cookie:           cfg.Cookie,
		CookieFile:       cfg.CookieFile,
		CloudflareBypass: cfg.CloudflareBypass,
	})
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}

	st, err := openStore(cfg, log)
	if err != nil {
		log.Warnf("metadata store unavailable, continuing without it: %v", err)
		st = nil
	}

	ledger, err := job.OpenLedger(filepath.Join(cfg.TempRoot, job.LedgerFile))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		store:   st,
		metrics: metrics.New(),
		stats:   &ui.Stats{},
	}

	deps := job.Deps{
		Scraper: telegraph.NewScraper(pageClient, log, telegraph.Options{
			CDNPrefix: cfg.CDNPrefix,
			Timeout:   cfg.PageTimeout,
		}),
		Classifier: title.PlatformClassifier{
			ArchiveRoot: cfg.ArchiveRoot,
			EbookRoot:   cfg.EbookRoot,
			Platforms:   cfg.Platforms,
		},
		Downloader: downloader.New(imageClient, log, limiter),
		Builder:    archive.NewBuilder(log, cfg.LanguageKeywords),
		Ledger:     ledger,
		Log:        log,
		Stats:      a.stats,
		Observer:   a.metrics,
	}
	if st != nil {
		deps.Store = st
	}
	if withProgress {
		a.progress = ui.NewProgressManager(os.Stderr)
		deps.Progress = a.progress
	}

	pipeline := job.NewPipeline(deps, job.Options{
		TempRoot:      cfg.TempRoot,
		UnknownArtist: cfg.UnknownArtist,
		KeepFolders:   cfg.KeepFolders,
		Workers:       cfg.ImageWorkers,
		MaxAttempts:   cfg.RetryAttempts,
		Timeout:       cfg.ImageTimeout,
		Backoff:       cfg.RetryBackoff,
	})

	a.dispatcher = dispatcher.New(pipeline, log, a.metrics, dispatcher.Options{
		Ceiling:       cfg.BatchCeiling,
		ScaleUpDepth:  cfg.ScaleUpDepth,
		PollInterval:  cfg.PollInterval,
		IdleInterval:  cfg.IdleInterval,
		IdleThreshold: cfg.IdleThreshold,
	})

	return a, nil
}

func (a *app) Close() {
	if a.progress != nil {
		a.progress.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warnf("%v", err)
		}
	}
	a.log.Sync()
}
