// Package job drives one archive request from source URL to artifact.
package job

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brogergvhs/archivist/internal/store"
	"github.com/brogergvhs/archivist/internal/title"

	"github.com/google/uuid"
)

type State string

const (
	StatePending     State = "pending"
	StateScraping    State = "scraping"
	StateDownloading State = "downloading"
	StateVerifying   State = "verifying"
	StatePackaging   State = "packaging"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

var stateRank = map[State]int{
	StatePending:     0,
	StateScraping:    1,
	StateDownloading: 2,
	StateVerifying:   3,
	StatePackaging:   4,
	StateDone:        5,
	StateFailed:      5,
}

func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

var ErrInvalidTransition = errors.New("invalid state transition")

// DefaultRetryBudget is how many extra download passes a job gets when some
// images are still missing after the worker pool gave up on them. Each pass
// tries a failed image up to MaxAttempts more times, so a budget above zero
// loosens the per-image attempt ceiling and has to be asked for.
const DefaultRetryBudget = 0

type Result struct {
	Title      string
	Artist     string
	OutputPath string
	Images     int
	Bytes      int64
	Failed     []int
	// Skipped is set when the artifact already existed and nothing was fetched.
	Skipped bool
}

type ArchiveJob struct {
	ID          string
	SourceURL   string
	Kind        title.Kind
	Meta        *store.Record
	RetryBudget int
	Submitted   time.Time

	mu     sync.Mutex
	state  State
	result Result
	err    error
	done   chan struct{}
}

func New(sourceURL string, kind title.Kind, meta *store.Record) *ArchiveJob {
	return &ArchiveJob{
		ID:          uuid.NewString(),
		SourceURL:   sourceURL,
		Kind:        kind,
		Meta:        meta,
		RetryBudget: DefaultRetryBudget,
		Submitted:   time.Now(),
		state:       StatePending,
		done:        make(chan struct{}),
	}
}

func (j *ArchiveJob) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *ArchiveJob) Result() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

func (j *ArchiveJob) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Done is closed once the job reaches done or failed.
func (j *ArchiveJob) Done() <-chan struct{} { return j.done }

// advance moves the job forward. States never go back, and the only repeat
// allowed is another download pass.
func (j *ArchiveJob) advance(to State) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	from := j.state
	if from.Terminal() {
		return fmt.Errorf("%w: job %s already %s", ErrInvalidTransition, j.ID, from)
	}
	if to == from && to == StateDownloading {
		return nil
	}
	if stateRank[to] <= stateRank[from] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	j.state = to
	if to.Terminal() {
		close(j.done)
	}
	return nil
}

func (j *ArchiveJob) succeed(res Result) {
	j.mu.Lock()
	j.result = res
	j.mu.Unlock()
	_ = j.advance(StateDone)
}

func (j *ArchiveJob) fail(res Result, err error) {
	j.mu.Lock()
	j.result = res
	j.err = err
	j.mu.Unlock()
	_ = j.advance(StateFailed)
}

// Snapshot is a point-in-time copy of a job suitable for display.
type Snapshot struct {
	ID         string     `json:"id"`
	SourceURL  string     `json:"source_url"`
	Kind       title.Kind `json:"kind"`
	State      State      `json:"state"`
	Title      string     `json:"title,omitempty"`
	OutputPath string     `json:"output_path,omitempty"`
	Images     int        `json:"images,omitempty"`
	Failed     []int      `json:"failed,omitempty"`
	Skipped    bool       `json:"skipped,omitempty"`
	Error      string     `json:"error,omitempty"`
	Submitted  time.Time  `json:"submitted"`
}

func (j *ArchiveJob) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		ID:         j.ID,
		SourceURL:  j.SourceURL,
		Kind:       j.Kind,
		State:      j.state,
		Title:      j.result.Title,
		OutputPath: j.result.OutputPath,
		Images:     j.result.Images,
		Failed:     j.result.Failed,
		Skipped:    j.result.Skipped,
		Submitted:  j.Submitted,
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	return s
}
