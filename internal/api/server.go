// Package api exposes job submission and status over HTTP.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/brogergvhs/archivist/internal/job"
	"github.com/brogergvhs/archivist/internal/submission"
	"github.com/brogergvhs/archivist/internal/title"
	"github.com/brogergvhs/archivist/internal/ui"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Submitter is the dispatcher side the server enqueues into.
type Submitter interface {
	Submit(jobs ...*job.ArchiveJob)
	Depth() int
}

type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

type Options struct {
	IndexHost string
	MaxBody   int64
	// History bounds how many submitted jobs stay queryable.
	History int
}

type Server struct {
	router  chi.Router
	disp    Submitter
	health  HealthChecker
	metrics http.Handler
	log     *ui.Logger
	opts    Options

	mu    sync.Mutex
	jobs  map[string]*job.ArchiveJob
	order []string
}

// NewServer wires the routes. health and metrics may be nil.
func NewServer(disp Submitter, health HealthChecker, metrics http.Handler, log *ui.Logger, opts Options) *Server {
	if log == nil {
		log = ui.NopLogger()
	}
	if opts.IndexHost == "" {
		opts.IndexHost = "telegra.ph"
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = 1 << 20
	}
	if opts.History <= 0 {
		opts.History = 1000
	}

	s := &Server{
		disp:    disp,
		health:  health,
		metrics: metrics,
		log:     log,
		opts:    opts,
		jobs:    map[string]*job.ArchiveJob{},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.submit)
		r.Get("/", s.list)
		r.Get("/{job_id}", s.get)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

type submitResponse struct {
	Jobs    []string `json:"jobs"`
	Warning string   `json:"warning,omitempty"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	kind, ok := title.ParseKind(r.URL.Query().Get("kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be archive or ebook")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	sub := submission.Parse(string(body), s.opts.IndexHost)
	if len(sub.URLs) == 0 {
		writeError(w, http.StatusBadRequest, sub.Warning)
		return
	}
	if sub.Warning != "" {
		s.log.Warnf("%s", sub.Warning)
	}

	jobs := make([]*job.ArchiveJob, len(sub.URLs))
	ids := make([]string, len(sub.URLs))
	for i, u := range sub.URLs {
		jobs[i] = job.New(u, kind, sub.Record)
		ids[i] = jobs[i].ID
	}

	s.remember(jobs)
	s.disp.Submit(jobs...)
	s.log.Infof("queued %d %s job(s), depth %d", len(jobs), kind, s.disp.Depth())

	writeJSON(w, http.StatusAccepted, submitResponse{Jobs: ids, Warning: sub.Warning})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")

	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j.Snapshot())
}

func (s *Server) list(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := make([]job.Snapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id].Snapshot())
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"jobs": out, "queue_depth": s.disp.Depth()})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.CheckHealth(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// remember keeps the newest History jobs queryable, evicting the oldest
// finished ones first.
func (s *Server) remember(jobs []*job.ArchiveJob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range jobs {
		s.jobs[j.ID] = j
		s.order = append(s.order, j.ID)
	}

	for i := 0; len(s.order) > s.opts.History && i < len(s.order); {
		id := s.order[i]
		if !s.jobs[id].State().Terminal() {
			i++
			continue
		}
		delete(s.jobs, id)
		s.order = append(s.order[:i], s.order[i+1:]...)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debugf("%s %s %d %s [%s]", r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
