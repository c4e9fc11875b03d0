// Package dispatcher owns the job queue and paces how many jobs run at once.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brogergvhs/archivist/internal/job"
	"github.com/brogergvhs/archivist/internal/ui"

	"go.uber.org/multierr"
)

// Runner executes one job to a terminal state.
type Runner interface {
	Run(ctx context.Context, j *job.ArchiveJob) error
}

// Gauges receives queue measurements.
type Gauges interface {
	QueueDepth(n int)
	BatchSize(n int)
}

type nopGauges struct{}

func (nopGauges) QueueDepth(int) {}
func (nopGauges) BatchSize(int)  {}

type Options struct {
	// Ceiling caps concurrent jobs and is clamped to 1..3.
	Ceiling      int
	ScaleUpDepth int

	PollInterval  time.Duration
	IdleInterval  time.Duration
	IdleThreshold int
}

func (o *Options) normalize() {
	if o.Ceiling < 1 {
		o.Ceiling = 1
	}
	if o.Ceiling > 3 {
		o.Ceiling = 3
	}
	if o.ScaleUpDepth < 2 {
		o.ScaleUpDepth = 10
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = 10 * time.Second
	}
	if o.IdleThreshold < 1 {
		o.IdleThreshold = 20
	}
}

// Dispatcher is the only consumer of its queue.
type Dispatcher struct {
	runner Runner
	log    *ui.Logger
	gauges Gauges
	opts   Options

	mu    sync.Mutex
	queue []*job.ArchiveJob
	idle  int
}

func New(r Runner, log *ui.Logger, g Gauges, opts Options) *Dispatcher {
	opts.normalize()
	if log == nil {
		log = ui.NopLogger()
	}
	if g == nil {
		g = nopGauges{}
	}
	return &Dispatcher{runner: r, log: log, gauges: g, opts: opts}
}

// Submit appends jobs to the queue in order.
func (d *Dispatcher) Submit(jobs ...*job.ArchiveJob) {
	d.mu.Lock()
	d.queue = append(d.queue, jobs...)
	n := len(d.queue)
	d.mu.Unlock()

	d.gauges.QueueDepth(n)
}

func (d *Dispatcher) Depth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Idle is the number of consecutive ticks that found the queue empty.
func (d *Dispatcher) Idle() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idle
}

// BatchSize decides how many jobs run together for a given queue depth.
// A deep backlog gets the full ceiling, anything else at most two.
func BatchSize(depth, ceiling, scaleUpDepth int) int {
	switch {
	case depth <= 0:
		return 0
	case depth == 1:
		return 1
	case depth >= scaleUpDepth:
		return ceiling
	default:
		return min(2, ceiling)
	}
}

// Interval is how long Run sleeps before the next tick.
func (d *Dispatcher) Interval() time.Duration {
	if d.Idle() < d.opts.IdleThreshold {
		return d.opts.PollInterval
	}
	return d.opts.IdleInterval
}

// Tick runs one batch from the head of the queue and waits for it. It
// returns how many jobs ran and their combined errors.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	d.mu.Lock()
	n := BatchSize(len(d.queue), d.opts.Ceiling, d.opts.ScaleUpDepth)
	if n == 0 {
		d.idle++
		d.mu.Unlock()
		return 0, nil
	}

	d.idle = 0
	batch := make([]*job.ArchiveJob, n)
	copy(batch, d.queue[:n])
	d.queue = d.queue[n:]
	depth := len(d.queue)
	d.mu.Unlock()

	d.gauges.BatchSize(n)
	d.gauges.QueueDepth(depth)
	d.log.Debugf("running batch of %d, %d left in queue", n, depth)

	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i, j := range batch {
		go func() {
			defer wg.Done()
			errs[i] = d.runOne(ctx, j)
		}()
	}
	wg.Wait()

	err := multierr.Combine(errs...)
	if err != nil {
		d.log.Warnf("%d of %d jobs failed", len(multierr.Errors(err)), n)
	}
	return n, err
}

func (d *Dispatcher) runOne(ctx context.Context, j *job.ArchiveJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.ID, r)
			d.log.Errorf("%v", err)
		}
	}()

	if err := d.runner.Run(ctx, j); err != nil {
		return fmt.Errorf("%s: %w", j.SourceURL, err)
	}
	return nil
}

// Run ticks until ctx is cancelled, sleeping longer once the queue has
// stayed empty for IdleThreshold ticks.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Infof("dispatcher started (ceiling %d)", d.opts.Ceiling)

	timer := time.NewTimer(d.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Infof("dispatcher stopped, %d jobs left in queue", d.Depth())
			return ctx.Err()
		case <-timer.C:
		}

		_, _ = d.Tick(ctx)
		timer.Reset(d.Interval())
	}
}

// Drain ticks back to back until the queue is empty and returns every job
// error seen on the way.
func (d *Dispatcher) Drain(ctx context.Context) error {
	var all error
	for d.Depth() > 0 {
		if err := ctx.Err(); err != nil {
			return multierr.Append(all, err)
		}
		_, err := d.Tick(ctx)
		all = multierr.Append(all, err)
	}
	return all
}
