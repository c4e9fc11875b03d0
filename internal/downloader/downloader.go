package downloader

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/brogergvhs/archivist/internal/ui"
	"github.com/brogergvhs/archivist/internal/util"

	"golang.org/x/time/rate"
)

// Asset is one image of a job. Index is 0-based and defines page order.
type Asset struct {
	Index    int
	URL      string
	Path     string
	Size     int64
	Attempts int
	Err      error
}

// NewAssets lays out one asset per URL at <dir>/<index>.jpg.
func NewAssets(urls []string, dir string) []Asset {
	assets := make([]Asset, len(urls))
	for i, u := range urls {
		assets[i] = Asset{
			Index: i,
			URL:   u,
			Path:  filepath.Join(dir, fmt.Sprintf("%d.jpg", i)),
		}
	}
	return assets
}

type Options struct {
	Workers     int
	MaxAttempts int
	Timeout     time.Duration
	Backoff     time.Duration
	Referer     string
	Progress    ui.Progress
}

// Report summarises one Download call. Assets are in index order.
type Report struct {
	Assets     []Asset
	Downloaded int
	Skipped    int
	Bytes      int64
	Failed     []*FetchError
}

// Files returns the paths of every asset that ended up on disk, in index order.
func (r Report) Files() []string {
	files := make([]string, 0, len(r.Assets))
	for _, a := range r.Assets {
		if a.Err == nil {
			files = append(files, a.Path)
		}
	}
	return files
}

// FailedIndexes lists the indexes of permanently failed assets.
func (r Report) FailedIndexes() []int {
	out := make([]int, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, f.Index)
	}
	return out
}

type Downloader struct {
	client  *http.Client
	log     *ui.Logger
	limiter *rate.Limiter
}

// New builds a Downloader. limiter may be nil for unthrottled fetches and is
// shared by every worker of every job using this Downloader.
func New(c *http.Client, log *ui.Logger, limiter *rate.Limiter) *Downloader {
	if log == nil {
		log = ui.NopLogger()
	}
	return &Downloader{
		client:  c,
		log:     log,
		limiter: limiter,
	}
}

type queueItem struct {
	idx     int
	attempt int
}

type poolState struct {
	mu     sync.Mutex
	report Report
	done   int
	total  int
	bytes  int64
	prog   ui.Progress
}

func (s *poolState) finish(bytes int64, skipped bool, failure *FetchError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done++
	switch {
	case failure != nil:
		s.report.Failed = append(s.report.Failed, failure)
	case skipped:
		s.report.Skipped++
	default:
		s.report.Downloaded++
	}
	s.bytes += bytes
	s.prog.Update(s.done, s.total, s.bytes)
}

// Download fetches every asset into dir with a pool of opts.Workers workers
// sharing one queue. A failed fetch is put back on the queue until it has
// been tried opts.MaxAttempts times, after which it is recorded in
// Report.Failed and its siblings carry on. Download returns once the queue
// is drained; the error is non-nil only for setup failures or cancellation.
func (d *Downloader) Download(ctx context.Context, assets []Asset, dir string, opts Options) (Report, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Progress == nil {
		opts.Progress = ui.NopProgress()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return Report{}, err
	}

	st := &poolState{total: len(assets), prog: opts.Progress}
	st.prog.Update(0, st.total, 0)

	if len(assets) == 0 {
		st.prog.MarkDone()
		return Report{}, nil
	}

	queue := make(chan queueItem, len(assets))
	var pending sync.WaitGroup
	pending.Add(len(assets))
	for i := range assets {
		queue <- queueItem{idx: i}
	}

	go func() {
		pending.Wait()
		close(queue)
	}()

	var workers sync.WaitGroup
	workers.Add(opts.Workers)
	for w := 0; w < opts.Workers; w++ {
		go func() {
			defer workers.Done()
			for it := range queue {
				if d.process(ctx, assets, it, queue, st, opts) {
					pending.Done()
				}
			}
		}()
	}
	workers.Wait()

	rep := st.report
	rep.Assets = assets
	rep.Bytes = st.bytes

	if err := ctx.Err(); err != nil {
		st.prog.Abort()
		return rep, err
	}

	if len(rep.Failed) > 0 {
		st.prog.Abort()
	} else {
		st.prog.MarkDone()
	}
	return rep, nil
}

// process handles one queue item and reports whether the asset is settled.
// An unsettled asset has been put back on the queue.
func (d *Downloader) process(
	ctx context.Context,
	assets []Asset,
	it queueItem,
	queue chan<- queueItem,
	st *poolState,
	opts Options,
) bool {
	a := &assets[it.idx]

	if util.FileExists(a.Path) {
		if info, err := os.Stat(a.Path); err == nil {
			a.Size = info.Size()
		}
		d.log.Debugf("image %d already present, skipping", a.Index)
		st.finish(0, true, nil)
		return true
	}

	a.Attempts = it.attempt + 1
	n, err := d.fetch(ctx, a.URL, a.Path, opts, st)
	if err == nil {
		a.Size = n
		a.Err = nil
		st.finish(0, false, nil)
		return true
	}

	a.Err = err
	if ctx.Err() != nil || a.Attempts >= opts.MaxAttempts {
		if ctx.Err() == nil {
			d.log.Warnf("image %d failed permanently after %d attempts: %v", a.Index, a.Attempts, err)
		}
		st.finish(0, false, &FetchError{
			Index:    a.Index,
			URL:      a.URL,
			Attempts: a.Attempts,
			Err:      err,
		})
		return true
	}

	d.log.Debugf("image %d attempt %d failed: %v", a.Index, a.Attempts, err)

	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(a.Attempts) * opts.Backoff):
	}

	// Capacity equals the asset count and each asset has at most one
	// entry in flight, so this send never blocks.
	queue <- queueItem{idx: it.idx, attempt: it.attempt + 1}
	return false
}

func (d *Downloader) fetch(ctx context.Context, u, output string, opts Options, st *poolState) (int64, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}

	if opts.Referer != "" {
		req.Header.Set("Referer", opts.Referer)
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, _ := mime.ParseMediaType(ct); strings.HasPrefix(mt, "text/") {
			return 0, fmt.Errorf("unexpected MIME: %s", ct)
		}
	}

	tmp := output + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}

	var last int64
	written, err := copyWithProgress(f, resp.Body, func(done int64) {
		delta := done - last
		if delta <= 0 {
			return
		}
		last = done

		st.mu.Lock()
		st.bytes += delta
		st.prog.Update(st.done, st.total, st.bytes)
		st.mu.Unlock()
	})
	closeErr := f.Close()

	if err == nil && written == 0 {
		err = ErrEmptyBody
	}
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp, output)
	}
	if err != nil {
		_ = os.Remove(tmp)
		if written > 0 {
			st.mu.Lock()
			st.bytes -= written
			st.mu.Unlock()
		}
		return 0, err
	}

	return written, nil
}

// Verify checks that dir holds exactly expected files and none of them is
// empty. In-progress .part files are not counted.
func Verify(dir string, expected int) error {
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	ie := &IntegrityError{Dir: dir, Expected: expected}
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasSuffix(e.Name(), ".part") {
			continue
		}
		ie.Found++

		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			ie.Empty = append(ie.Empty, e.Name())
		}
	}

	if ie.Found != expected || len(ie.Empty) > 0 {
		return ie
	}
	return nil
}
