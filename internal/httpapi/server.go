// Package httpapi exposes the read side of the moderation service: the
// decision audit trail, pending deferred bans, build info, and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/you/gnasty-mod/internal/action"
	"github.com/you/gnasty-mod/internal/auditstore"
)

type Store interface {
	Count() (int64, error)
	ListEvents(ctx context.Context, limit int) ([]auditstore.FilterEvent, error)
}

// Pending yields the deferred bans still inside their grace period.
type Pending interface {
	Snapshot() []action.PendingInfo
}

type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	store      Store
	pending    Pending
	metrics    *Metrics
	limiter    *visitorLimiter
	cors       *originPolicy
	started    time.Time
	opts       Options
}

type Options struct {
	Addr        string
	RateRPS     int
	RateBurst   int
	CORSOrigins []string
	Build       BuildInfo

	// Channel is the chat channel being moderated, echoed on /info.
	Channel string
	// RulesetName reports the active filter config name. Optional.
	RulesetName func() string
}

func New(store Store, pending Pending, opts Options) *Server {
	srv := &Server{
		store:   store,
		pending: pending,
		metrics: newMetrics(),
		limiter: newVisitorLimiter(opts.RateRPS, opts.RateBurst),
		cors:    newOriginPolicy(opts.CORSOrigins),
		started: time.Now(),
		opts:    opts,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.wrap("/healthz", srv.handleHealthz))
	mux.HandleFunc("/count", srv.wrap("/count", srv.handleCount))
	mux.HandleFunc("/decisions", srv.wrap("/decisions", srv.handleDecisions))
	mux.HandleFunc("/moderation/pending", srv.wrap("/moderation/pending", srv.handlePending))
	mux.HandleFunc("/info", srv.wrap("/info", srv.handleInfo))
	mux.Handle("/metrics", srv.metrics.Handler())
	srv.mux = mux

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Metrics exposes the collector bundle so the pipeline can report into the
// same registry the /metrics endpoint serves.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Mux exposes the router so extra handler sets can be registered before
// Start is called.
func (s *Server) Mux() *http.ServeMux { return s.mux }

func (s *Server) wrap(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusWriter{ResponseWriter: w}

		if handled, status := s.cors.preflight(rec, r); handled {
			s.metrics.ObserveRequest(route, r.Method, status, time.Since(start))
			return
		}
		if !s.cors.decorate(rec, r) {
			http.Error(rec, "origin not allowed", http.StatusForbidden)
			s.metrics.ObserveRequest(route, r.Method, http.StatusForbidden, time.Since(start))
			return
		}
		if !s.limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(rec, "rate limit exceeded", http.StatusTooManyRequests)
			s.metrics.ObserveRequest(route, r.Method, http.StatusTooManyRequests, time.Since(start))
			return
		}

		if gz := negotiateGzip(rec, r); gz != nil {
			defer gz.Close()
		}

		h(rec, r)
		s.metrics.ObserveRequest(route, r.Method, rec.Status(), time.Since(start))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleCount(w http.ResponseWriter, _ *http.Request) {
	count, err := s.store.Count()
	if err != nil {
		http.Error(w, "count error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{"count": count})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	f, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Fetch more than the page size so post-filtering can still fill it.
	fetch := f.Limit * 4
	if fetch < f.Limit {
		fetch = f.Limit
	}
	rows, err := s.store.ListEvents(r.Context(), fetch)
	if err != nil {
		http.Error(w, "list error", http.StatusInternalServerError)
		return
	}

	out := make([]auditstore.FilterEvent, 0, f.Limit)
	for _, row := range rows {
		if !f.Matches(row) {
			continue
		}
		out = append(out, row)
		if len(out) >= f.Limit {
			break
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}

type pendingResponse struct {
	Subject  string    `json:"subject"`
	Channel  string    `json:"channel"`
	Deadline time.Time `json:"deadline"`
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request) {
	var out []pendingResponse
	if s.pending != nil {
		for _, p := range s.pending.Snapshot() {
			out = append(out, pendingResponse{
				Subject:  p.Subject.Name,
				Channel:  p.Channel,
				Deadline: p.Deadline,
			})
		}
	}
	if out == nil {
		out = []pendingResponse{}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
