package ui

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/brogergvhs/archivist/internal/util"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Progress receives download progress for one job.
type Progress interface {
	Update(done, total int, bytes int64)
	MarkDone()
	Abort()
}

// ProgressFactory hands out one Progress per job.
type ProgressFactory interface {
	Register(prefix string) Progress
}

type MPBProgressManager struct {
	p *mpb.Progress
}

func NewProgressManager(out io.Writer) *MPBProgressManager {
	p := mpb.New(
		mpb.WithWidth(52),
		mpb.WithOutput(out),
		mpb.WithRefreshRate(120*time.Millisecond),
	)
	return &MPBProgressManager{p: p}
}

func (pm *MPBProgressManager) Close() {
	pm.p.Wait()
}

func (pm *MPBProgressManager) Register(prefix string) Progress {
	h := &ProgressHandle{
		pm:     pm,
		prefix: prefix,
	}
	h.initBar()
	return h
}

type ProgressHandle struct {
	pm     *MPBProgressManager
	prefix string
	bar    *mpb.Bar

	total atomic.Int64
	bytes atomic.Int64

	start   time.Time
	elapsed atomic.Int64

	final atomic.Bool
}

func (h *ProgressHandle) initBar() {
	h.start = time.Now()

	h.bar = h.pm.p.New(
		0,
		mpb.BarStyle().Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(h.prefix+"  "),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncWidth),
			decor.CountersNoUnit(" | %d/%d images", decor.WCSyncWidth),
			decor.Any(func(_ decor.Statistics) string {
				return " | " + util.Human(h.bytes.Load())
			}),
			decor.Any(func(_ decor.Statistics) string {
				if h.final.Load() {
					return fmt.Sprintf(" | %ds", h.elapsed.Load())
				}
				return fmt.Sprintf(" | %ds", int(time.Since(h.start).Seconds()))
			}),
		),
	)
}

func (h *ProgressHandle) Update(done, total int, bytes int64) {
	if h.final.Load() {
		return
	}

	if total > 0 {
		h.total.Store(int64(total))
		h.bar.SetTotal(int64(total), false)
	}

	h.bytes.Store(bytes)
	h.bar.SetCurrent(int64(done))
}

func (h *ProgressHandle) MarkDone() {
	if h.final.Swap(true) {
		return
	}

	h.elapsed.Store(int64(time.Since(h.start).Seconds()))
	h.bar.SetCurrent(h.total.Load())
	h.bar.SetTotal(h.total.Load(), true)
}

func (h *ProgressHandle) Abort() {
	if h.final.Swap(true) {
		return
	}

	h.elapsed.Store(int64(time.Since(h.start).Seconds()))
	h.bar.Abort(false)
}

type nopProgress struct{}

func (nopProgress) Update(int, int, int64) {}
func (nopProgress) MarkDone()              {}
func (nopProgress) Abort()                 {}

// NopProgress discards all updates.
func NopProgress() Progress { return nopProgress{} }
