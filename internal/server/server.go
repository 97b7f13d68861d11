// Package server exposes scheduler diagnostics over HTTP.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/knightchaser/ticksched/internal/sched"
	"github.com/knightchaser/ticksched/internal/workload"
)

// Server serves stats, metrics and manual interrupt raises for one scheduler.
type Server struct {
	sched    *sched.Scheduler
	flags    map[string]*workload.Flag
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
}

// New creates a Server. flags are the raisable interrupts keyed by name.
func New(s *sched.Scheduler, flags map[string]*workload.Flag, g prometheus.Gatherer, logger zerolog.Logger) *Server {
	return &Server{
		sched:    s,
		flags:    flags,
		gatherer: g,
		logger:   logger.With().Str("component", "server").Logger(),
	}
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/stats.txt", s.handleStatsText)
	r.Get("/interrupts", s.handleListInterrupts)
	r.Post("/interrupts/{name}", s.handleRaise)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"running": s.sched.Running(),
		"session": s.sched.Session(),
		"elapsed": s.sched.Elapsed().String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sched.Stats())
}

func (s *Server) handleStatsText(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.WriteString(w, s.sched.StatsString()+"\n"); err != nil {
		s.logger.Error().Err(err).Msg("write response")
	}
}

func (s *Server) handleListInterrupts(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.flags))
	for name := range s.flags {
		names = append(names, name)
	}
	sort.Strings(names)
	s.writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleRaise(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	flag, ok := s.flags[name]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown interrupt " + name})
		return
	}
	flag.Raise()
	s.logger.Info().Str("interrupt", name).Msg("interrupt raised")
	s.writeJSON(w, http.StatusAccepted, map[string]string{"raised": name})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Int("status", status).Msg("write response")
	}
}
