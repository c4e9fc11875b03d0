package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brogergvhs/archivist/internal/job"
	"github.com/brogergvhs/archivist/internal/title"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type fakeRunner struct {
	mu      sync.Mutex
	order   []string
	active  atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
	failFor map[string]error
	panicOn string
}

func (f *fakeRunner) Run(_ context.Context, j *job.ArchiveJob) error {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.order = append(f.order, j.SourceURL)
	f.mu.Unlock()

	if j.SourceURL == f.panicOn {
		panic("boom")
	}
	time.Sleep(f.delay)
	return f.failFor[j.SourceURL]
}

type recordingGauges struct {
	mu      sync.Mutex
	depths  []int
	batches []int
}

func (g *recordingGauges) QueueDepth(n int) {
	g.mu.Lock()
	g.depths = append(g.depths, n)
	g.mu.Unlock()
}

func (g *recordingGauges) BatchSize(n int) {
	g.mu.Lock()
	g.batches = append(g.batches, n)
	g.mu.Unlock()
}

func jobs(urls ...string) []*job.ArchiveJob {
	out := make([]*job.ArchiveJob, len(urls))
	for i, u := range urls {
		out[i] = job.New(u, title.KindArchive, nil)
	}
	return out
}

func TestBatchSize(t *testing.T) {
	cases := []struct {
		depth, ceiling, want int
	}{
		{0, 2, 0},
		{1, 2, 1},
		{1, 3, 1},
		{2, 2, 2},
		{5, 3, 2},
		{9, 3, 2},
		{10, 3, 3},
		{50, 3, 3},
		{10, 2, 2},
		{5, 1, 1},
		{12, 1, 1},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, BatchSize(c.depth, c.ceiling, 10), "depth=%d ceiling=%d", c.depth, c.ceiling)
	}
}

func TestTickRunsBatchesInFIFOOrder(t *testing.T) {
	r := &fakeRunner{}
	g := &recordingGauges{}
	d := New(r, nil, g, Options{Ceiling: 2})
	d.Submit(jobs("a", "b", "c")...)
	require.Equal(t, 3, d.Depth())

	n, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, d.Depth())

	n, err = d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, d.Depth())

	assert.ElementsMatch(t, []string{"a", "b"}, r.order[:2])
	assert.Equal(t, "c", r.order[2])
	assert.Equal(t, []int{2, 1}, g.batches)
}

func TestTickNeverExceedsCeiling(t *testing.T) {
	r := &fakeRunner{delay: 20 * time.Millisecond}
	d := New(r, nil, nil, Options{Ceiling: 3, ScaleUpDepth: 10})

	urls := make([]string, 12)
	for i := range urls {
		urls[i] = string(rune('a' + i))
	}
	d.Submit(jobs(urls...)...)

	n, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(3), r.peak.Load())

	require.NoError(t, d.Drain(context.Background()))
	assert.Len(t, r.order, 12)
	assert.LessOrEqual(t, r.peak.Load(), int32(3))
}

func TestTickIsolatesFailures(t *testing.T) {
	boom := errors.New("scrape failed")
	r := &fakeRunner{failFor: map[string]error{"bad": boom}, panicOn: "worse"}
	d := New(r, nil, nil, Options{Ceiling: 3, ScaleUpDepth: 2})
	d.Submit(jobs("bad", "worse", "good")...)

	n, err := d.Tick(context.Background())
	assert.Equal(t, 3, n)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "panicked")
	assert.Len(t, r.order, 3)
}

func TestIdleBackoff(t *testing.T) {
	d := New(&fakeRunner{}, nil, nil, Options{
		Ceiling:       2,
		PollInterval:  time.Second,
		IdleInterval:  10 * time.Second,
		IdleThreshold: 3,
	})

	for i := 0; i < 3; i++ {
		assert.Equal(t, time.Second, d.Interval())
		n, err := d.Tick(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Equal(t, 3, d.Idle())
	assert.Equal(t, 10*time.Second, d.Interval())

	d.Submit(jobs("x")...)
	_, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, d.Idle())
	assert.Equal(t, time.Second, d.Interval())
}

func TestRunProcessesUntilCancelled(t *testing.T) {
	r := &fakeRunner{}
	d := New(r, nil, nil, Options{Ceiling: 2, PollInterval: 5 * time.Millisecond})
	d.Submit(jobs("a", "b", "c")...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.Depth() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.order) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestCeilingClamped(t *testing.T) {
	assert.Equal(t, 3, New(&fakeRunner{}, nil, nil, Options{Ceiling: 9}).opts.Ceiling)
	assert.Equal(t, 1, New(&fakeRunner{}, nil, nil, Options{Ceiling: 0}).opts.Ceiling)
}
