package job

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brogergvhs/archivist/internal/archive"
	"github.com/brogergvhs/archivist/internal/downloader"
	"github.com/brogergvhs/archivist/internal/providers"
	"github.com/brogergvhs/archivist/internal/providers/telegraph"
	"github.com/brogergvhs/archivist/internal/store"
	"github.com/brogergvhs/archivist/internal/title"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type site struct {
	srv        *httptest.Server
	pageHits   atomic.Int32
	imageHits  atomic.Int32
	brokenHits atomic.Int32
	broken     string
	// failFirst limits the broken image to its first n fetches; 0 breaks it for good.
	failFirst int32
}

func newSite(t *testing.T, rawTitle string, images int) *site {
	t.Helper()
	s := &site{}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/file/") {
			s.imageHits.Add(1)
			if s.broken != "" && r.URL.Path == s.broken {
				if n := s.brokenHits.Add(1); s.failFirst == 0 || n <= s.failFirst {
					http.Error(w, "nope", http.StatusBadGateway)
					return
				}
			}
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = fmt.Fprintf(w, "\xff\xd8\xff%s", r.URL.Path)
			return
		}

		s.pageHits.Add(1)
		var b strings.Builder
		fmt.Fprintf(&b, "<html><head><title>%s</title></head><body><article>", rawTitle)
		for i := 0; i < images; i++ {
			fmt.Fprintf(&b, `<img src="/file/%d.jpg">`, i)
		}
		b.WriteString("</article></body></html>")
		_, _ = fmt.Fprint(w, b.String())
	}))
	t.Cleanup(s.srv.Close)
	return s
}

type fakeStore struct {
	mu      sync.Mutex
	records []store.Record
	err     error
}

func (f *fakeStore) Insert(_ context.Context, rec store.Record, art *store.Artifact) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	rec.FileLocation = art.OutputPath
	rec.Title = art.Title
	f.records = append(f.records, rec)
	return int64(len(f.records)), nil
}

type countingObserver struct {
	mu         sync.Mutex
	states     []string
	downloaded int
	failed     int
}

func (o *countingObserver) JobFinished(state string) {
	o.mu.Lock()
	o.states = append(o.states, state)
	o.mu.Unlock()
}

func (o *countingObserver) ImagesFetched(downloaded, _, failed int, _ int64) {
	o.mu.Lock()
	o.downloaded += downloaded
	o.failed += failed
	o.mu.Unlock()
}

type fixture struct {
	root     string
	pipeline *Pipeline
	store    *fakeStore
	ledger   *Ledger
	observer *countingObserver
}

func newFixture(t *testing.T, keep bool) *fixture {
	t.Helper()
	root := t.TempDir()

	ledger, err := OpenLedger(filepath.Join(root, "tmp", LedgerFile))
	require.NoError(t, err)

	f := &fixture{root: root, store: &fakeStore{}, ledger: ledger, observer: &countingObserver{}}
	f.pipeline = NewPipeline(Deps{
		Scraper: telegraph.NewScraper(http.DefaultClient, nil, telegraph.Options{Timeout: 2 * time.Second}),
		Classifier: title.PlatformClassifier{
			ArchiveRoot: filepath.Join(root, "archive"),
			EbookRoot:   filepath.Join(root, "epub"),
			Platforms:   []string{"fanbox", "pixiv"},
		},
		Downloader: downloader.New(http.DefaultClient, nil, nil),
		Builder:    archive.NewBuilder(nil, nil),
		Store:      f.store,
		Ledger:     ledger,
		Observer:   f.observer,
	}, Options{
		TempRoot:    filepath.Join(root, "tmp"),
		KeepFolders: keep,
		Workers:     2,
		MaxAttempts: 3,
		Timeout:     2 * time.Second,
		Backoff:     time.Millisecond,
	})
	return f
}

func TestRunArchivesWork(t *testing.T) {
	s := newSite(t, "[Alice] Sunny Day", 3)
	f := newFixture(t, false)

	j := New(s.srv.URL+"/Sunny-Day-01-01", title.KindArchive, &store.Record{Language: []string{"english"}})
	require.NoError(t, f.pipeline.Run(context.Background(), j))

	select {
	case <-j.Done():
	default:
		t.Fatal("done channel must be closed")
	}

	assert.Equal(t, StateDone, j.State())
	res := j.Result()
	assert.Equal(t, "SunnyDay", res.Title)
	assert.Equal(t, "Alice", res.Artist)
	assert.Equal(t, filepath.Join(f.root, "archive", "SunnyDay", "SunnyDay.zip"), res.OutputPath)
	assert.Equal(t, 3, res.Images)
	assert.False(t, res.Skipped)
	assert.FileExists(t, res.OutputPath)

	assert.NoDirExists(t, filepath.Join(f.root, "tmp", "SunnyDay"))

	require.Len(t, f.store.records, 1)
	rec := f.store.records[0]
	assert.Equal(t, res.OutputPath, rec.FileLocation)
	assert.Equal(t, j.SourceURL, rec.OriginalURL)
	assert.Equal(t, []string{"english"}, rec.Language)

	path, ok := f.ledger.Lookup(title.KindArchive, j.SourceURL)
	assert.True(t, ok)
	assert.Equal(t, res.OutputPath, path)

	assert.Equal(t, 3, f.observer.downloaded)
	assert.Equal(t, []string{"done"}, f.observer.states)
}

func TestRunResubmissionDoesNoNetworkIO(t *testing.T) {
	s := newSite(t, "[Alice] Sunny Day", 2)
	f := newFixture(t, false)
	url := s.srv.URL + "/Sunny-Day"

	require.NoError(t, f.pipeline.Run(context.Background(), New(url, title.KindArchive, nil)))
	pages, images := s.pageHits.Load(), s.imageHits.Load()

	again := New(url, title.KindArchive, nil)
	require.NoError(t, f.pipeline.Run(context.Background(), again))

	assert.Equal(t, StateDone, again.State())
	assert.True(t, again.Result().Skipped)
	assert.Equal(t, pages, s.pageHits.Load())
	assert.Equal(t, images, s.imageHits.Load())
}

func TestRunExistingOutputSkipsImages(t *testing.T) {
	s := newSite(t, "[pixiv] Gallery", 2)
	f := newFixture(t, false)

	out := filepath.Join(f.root, "epub", "pixiv", "Gallery.epub")
	require.NoError(t, os.MkdirAll(filepath.Dir(out), 0755))
	require.NoError(t, os.WriteFile(out, []byte("book"), 0644))

	j := New(s.srv.URL+"/Gallery", title.KindEbook, nil)
	require.NoError(t, f.pipeline.Run(context.Background(), j))

	assert.True(t, j.Result().Skipped)
	assert.Equal(t, out, j.Result().OutputPath)
	assert.Equal(t, int32(1), s.pageHits.Load())
	assert.Zero(t, s.imageHits.Load())

	path, ok := f.ledger.Lookup(title.KindEbook, j.SourceURL)
	assert.True(t, ok)
	assert.Equal(t, out, path)
}

func TestRunIntegrityFailureKeepsPartialDownload(t *testing.T) {
	s := newSite(t, "[Bob] Broken", 4)
	s.broken = "/file/2.jpg"
	f := newFixture(t, false)

	j := New(s.srv.URL+"/Broken", title.KindArchive, &store.Record{})
	err := f.pipeline.Run(context.Background(), j)

	var ie *downloader.IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.True(t, IsIntegrity(err))
	assert.Equal(t, 4, ie.Expected)
	assert.Equal(t, 3, ie.Found)

	assert.Equal(t, StateFailed, j.State())
	assert.Equal(t, []int{2}, j.Result().Failed)
	assert.Equal(t, err, j.Err())

	// three good images plus three attempts at the broken one
	assert.Equal(t, int32(3+3), s.imageHits.Load())
	assert.Equal(t, int32(3), s.brokenHits.Load())

	entries, err := os.ReadDir(filepath.Join(f.root, "tmp", "Broken"))
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	assert.NoFileExists(t, filepath.Join(f.root, "archive", "Broken", "Broken.zip"))
	assert.Empty(t, f.store.records)
	_, ok := f.ledger.Lookup(title.KindArchive, j.SourceURL)
	assert.False(t, ok)
}

func TestRunImageFailingThreeTimesBlocksPackaging(t *testing.T) {
	s := newSite(t, "[Bob] Flaky", 2)
	s.broken = "/file/1.jpg"
	s.failFirst = 3
	f := newFixture(t, false)

	j := New(s.srv.URL+"/Flaky", title.KindArchive, nil)
	err := f.pipeline.Run(context.Background(), j)

	assert.True(t, IsIntegrity(err))
	assert.Equal(t, StateFailed, j.State())
	assert.Equal(t, int32(3), s.brokenHits.Load(), "no fetch beyond the attempt ceiling")
	assert.NoFileExists(t, filepath.Join(f.root, "archive", "Flaky", "Flaky.zip"))
}

func TestRunRetryBudgetAddsAPass(t *testing.T) {
	s := newSite(t, "[Bob] Flaky", 2)
	s.broken = "/file/1.jpg"
	s.failFirst = 3
	f := newFixture(t, false)

	j := New(s.srv.URL+"/Flaky", title.KindArchive, nil)
	j.RetryBudget = 1
	require.NoError(t, f.pipeline.Run(context.Background(), j))

	assert.Equal(t, StateDone, j.State())
	assert.Equal(t, int32(4), s.brokenHits.Load())
	assert.FileExists(t, j.Result().OutputPath)
}

func TestRunAllImagesFailedDropsEmptyTempDir(t *testing.T) {
	s := newSite(t, "[Bob] Gone", 1)
	s.broken = "/file/0.jpg"
	f := newFixture(t, false)

	err := f.pipeline.Run(context.Background(), New(s.srv.URL+"/Gone", title.KindArchive, nil))
	assert.True(t, IsIntegrity(err))
	assert.NoDirExists(t, filepath.Join(f.root, "tmp", "Gone"))
}

func TestRunArchiveThenEbookBuildsBoth(t *testing.T) {
	s := newSite(t, "[Alice] Sunny Day", 2)
	f := newFixture(t, false)
	url := s.srv.URL + "/Sunny-Day"

	zipJob := New(url, title.KindArchive, nil)
	require.NoError(t, f.pipeline.Run(context.Background(), zipJob))

	bookJob := New(url, title.KindEbook, nil)
	require.NoError(t, f.pipeline.Run(context.Background(), bookJob))

	assert.False(t, bookJob.Result().Skipped)
	assert.Equal(t, filepath.Join(f.root, "epub", "Alice", "SunnyDay.epub"), bookJob.Result().OutputPath)
	assert.FileExists(t, zipJob.Result().OutputPath)
	assert.FileExists(t, bookJob.Result().OutputPath)

	again := New(url, title.KindEbook, nil)
	require.NoError(t, f.pipeline.Run(context.Background(), again))
	assert.True(t, again.Result().Skipped)
	assert.Equal(t, bookJob.Result().OutputPath, again.Result().OutputPath)
}

func TestRunUnusableTitleFallsBackToURL(t *testing.T) {
	for _, raw := range []string{"", "..", " – Telegraph"} {
		t.Run(fmt.Sprintf("%q", raw), func(t *testing.T) {
			s := newSite(t, raw, 2)
			f := newFixture(t, false)

			sibling := filepath.Join(f.root, "tmp", "OtherJob", "0.jpg")
			require.NoError(t, os.MkdirAll(filepath.Dir(sibling), 0755))
			require.NoError(t, os.WriteFile(sibling, []byte("jpg"), 0644))
			require.NoError(t, f.ledger.Record(title.KindArchive, "https://telegra.ph/other", sibling))

			j := New(s.srv.URL+"/Sunny-Day-01-01", title.KindArchive, nil)
			require.NoError(t, f.pipeline.Run(context.Background(), j))

			want := filepath.Join(f.root, "archive", "Sunny-Day-01-01", "Sunny-Day-01-01.zip")
			assert.Equal(t, want, j.Result().OutputPath)
			assert.FileExists(t, want)
			assert.FileExists(t, sibling)
			assert.FileExists(t, filepath.Join(f.root, "tmp", LedgerFile))
			assert.NoDirExists(t, filepath.Join(f.root, "tmp", "Sunny-Day-01-01"))
		})
	}
}

func TestRunSameTitleJobsInParallel(t *testing.T) {
	s := newSite(t, "[Alice] Twin", 6)
	f := newFixture(t, false)
	url := s.srv.URL + "/Twin"

	jobs := []*ArchiveJob{New(url, title.KindArchive, nil), New(url, title.KindEbook, nil)}
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.pipeline.Run(context.Background(), j))
		}()
	}
	wg.Wait()

	for _, j := range jobs {
		assert.Equal(t, StateDone, j.State())
		assert.Equal(t, 6, j.Result().Images)
		assert.FileExists(t, j.Result().OutputPath)
	}
	assert.NotEqual(t, jobs[0].Result().OutputPath, jobs[1].Result().OutputPath)

	entries, err := os.ReadDir(filepath.Join(f.root, "tmp"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, e.IsDir(), "temp dir %s left behind", e.Name())
	}
}

func TestClaimTempDir(t *testing.T) {
	f := newFixture(t, false)
	tmp := filepath.Join(f.root, "tmp")

	first, releaseFirst := f.pipeline.claimTempDir("Work")
	second, releaseSecond := f.pipeline.claimTempDir("Work")
	assert.Equal(t, filepath.Join(tmp, "Work"), first)
	assert.Equal(t, filepath.Join(tmp, "Work~2"), second)

	releaseFirst()
	again, releaseAgain := f.pipeline.claimTempDir("Work")
	assert.Equal(t, first, again)
	releaseAgain()
	releaseSecond()

	ledgerName, release := f.pipeline.claimTempDir(LedgerFile)
	assert.Equal(t, filepath.Join(tmp, "_"+LedgerFile), ledgerName)
	release()
}

func TestRunScrapeFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	f := newFixture(t, false)

	j := New(srv.URL+"/gone", title.KindArchive, nil)
	err := f.pipeline.Run(context.Background(), j)

	var se *providers.ScrapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.Equal(t, StateFailed, j.State())
	assert.Equal(t, []string{"failed"}, f.observer.states)
}

func TestRunStoreFailureIsNotFatal(t *testing.T) {
	s := newSite(t, "[Alice] Stored", 1)
	f := newFixture(t, true)
	f.store.err = &store.StoreError{Op: "insert", Err: errors.New("disk full")}

	j := New(s.srv.URL+"/Stored", title.KindArchive, &store.Record{})
	require.NoError(t, f.pipeline.Run(context.Background(), j))

	assert.Equal(t, StateDone, j.State())
	assert.FileExists(t, j.Result().OutputPath)
	assert.DirExists(t, filepath.Join(f.root, "tmp", "Stored"), "keep_folders retains the download")
}

func TestAdvance(t *testing.T) {
	j := New("https://telegra.ph/x", title.KindArchive, nil)
	assert.Equal(t, StatePending, j.State())
	assert.NotEmpty(t, j.ID)

	require.NoError(t, j.advance(StateScraping))
	require.NoError(t, j.advance(StateDownloading))
	require.NoError(t, j.advance(StateDownloading))
	assert.ErrorIs(t, j.advance(StateScraping), ErrInvalidTransition)
	require.NoError(t, j.advance(StateVerifying))
	assert.ErrorIs(t, j.advance(StateVerifying), ErrInvalidTransition)
	require.NoError(t, j.advance(StateDone))
	assert.ErrorIs(t, j.advance(StateFailed), ErrInvalidTransition)

	<-j.Done()
}

func TestLedgerPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", LedgerFile)
	artifact := filepath.Join(dir, "a.zip")
	require.NoError(t, os.WriteFile(artifact, []byte("zip"), 0644))

	l, err := OpenLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(title.KindArchive, "https://telegra.ph/a", artifact))
	require.NoError(t, l.Record(title.KindArchive, "https://telegra.ph/b", filepath.Join(dir, "missing.zip")))

	reloaded, err := OpenLedger(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Len())

	got, ok := reloaded.Lookup(title.KindArchive, "https://telegra.ph/a")
	assert.True(t, ok)
	assert.Equal(t, artifact, got)

	_, ok = reloaded.Lookup(title.KindEbook, "https://telegra.ph/a")
	assert.False(t, ok, "entries are per output kind")

	_, ok = reloaded.Lookup(title.KindArchive, "https://telegra.ph/b")
	assert.False(t, ok, "entries whose artifact vanished are ignored")
}

func TestSnapshot(t *testing.T) {
	j := New("https://telegra.ph/x", title.KindEbook, nil)
	j.fail(Result{Title: "x"}, errors.New("boom"))

	s := j.Snapshot()
	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, "boom", s.Error)
	assert.Equal(t, title.KindEbook, s.Kind)
}
