package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/doujins-org/rankkit"
	"github.com/doujins-org/rankkit/retrieve"
	"github.com/doujins-org/rankkit/stats"
)

type server struct {
	pipeline *rankkit.Pipeline
	pool     *pgxpool.Pool
	log      zerolog.Logger
	validate *validator.Validate

	searchDuration *prometheus.HistogramVec
	feedbackEvents *prometheus.CounterVec
}

func newServer(pipeline *rankkit.Pipeline, pool *pgxpool.Pool, log zerolog.Logger) *server {
	return &server{
		pipeline: pipeline,
		pool:     pool,
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		searchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rankd",
			Name:      "stage_duration_seconds",
			Help:      "Wall time per ranking pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"stage"}),
		feedbackEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankd",
			Name:      "feedback_events_total",
			Help:      "Feedback events recorded, by action.",
		}, []string{"action"}),
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/search", s.handleSearch)
	r.Post("/feedback/{item_id}", s.handleFeedback)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

type searchRequest struct {
	Query     string `json:"query" validate:"required,min=1,max=512"`
	Limit     int    `json:"limit" validate:"gte=0,lte=100"`
	SessionID string `json:"session_id" validate:"max=128"`
	Genre     string `json:"genre" validate:"max=64"`
	Mood      string `json:"mood" validate:"max=64"`
	Format    string `json:"format" validate:"max=64"`
	BPMMin    int    `json:"bpm_min" validate:"gte=0,lte=1000"`
	BPMMax    int    `json:"bpm_max" validate:"gte=0,lte=1000"`
	Seed      int64  `json:"seed"`

	IncludeScores bool `json:"include_scores"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.pipeline.Search(r.Context(), rankkit.Request{
		Query:         req.Query,
		SessionID:     req.SessionID,
		Limit:         req.Limit,
		Seed:          req.Seed,
		IncludeScores: req.IncludeScores,
		Filters: retrieve.Filters{
			Genre:  req.Genre,
			Mood:   req.Mood,
			Format: req.Format,
			BPMMin: req.BPMMin,
			BPMMax: req.BPMMax,
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, rankkit.ErrInvalidInput):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, rankkit.ErrRetrievalFailed):
			s.log.Error().Err(err).Msg("search failed")
			s.writeError(w, http.StatusBadGateway, "retrieval unavailable")
		default:
			s.log.Error().Err(err).Msg("search failed")
			s.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.observeTimings(resp.Timings)
	s.writeJSON(w, http.StatusOK, resp)
}

type feedbackRequest struct {
	Action    string `json:"action" validate:"required,oneof=impression click like skip play_complete"`
	Rank      int    `json:"rank" validate:"required,gte=1,lte=1000"`
	SessionID string `json:"session_id" validate:"max=128"`
}

func (s *server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := s.pipeline.RecordFeedback(r.Context(), itemID, stats.Event{
		Kind:      stats.Kind(req.Action),
		Rank:      req.Rank,
		At:        time.Now(),
		SessionID: req.SessionID,
	})
	if err != nil {
		if errors.Is(err, rankkit.ErrInvalidInput) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error().Err(err).Str("item_id", itemID).Msg("feedback record failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.feedbackEvents.WithLabelValues(req.Action).Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) observeTimings(t rankkit.StageTimings) {
	s.searchDuration.WithLabelValues("embed").Observe(t.Embed.Seconds())
	s.searchDuration.WithLabelValues("retrieve").Observe(t.Retrieve.Seconds())
	s.searchDuration.WithLabelValues("stats").Observe(t.Stats.Seconds())
	s.searchDuration.WithLabelValues("score").Observe(t.Score.Seconds())
	s.searchDuration.WithLabelValues("rerank").Observe(t.Rerank.Seconds())
	s.searchDuration.WithLabelValues("diversify").Observe(t.Diversify.Seconds())
	s.searchDuration.WithLabelValues("total").Observe(t.Total.Seconds())
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("write response failed")
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
