package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"reminder-assistant/internal/clock"
	"reminder-assistant/internal/intent"
	"reminder-assistant/internal/models"
	"reminder-assistant/internal/notify"
	"reminder-assistant/internal/ratelimit"
	"reminder-assistant/internal/scheduler"
	"reminder-assistant/internal/telemetry"
)

const apologyText = "Sorry, something went wrong on my side and your request was not saved. Please try again in a moment."

// IntentHandler applies intents and lists reminders.
type IntentHandler interface {
	HandleIntent(ctx context.Context, in intent.Intent) (string, error)
	Open(ctx context.Context) ([]models.Reminder, error)
}

// Dedup remembers which inbound message ids already produced a mutation.
type Dedup interface {
	MarkProcessed(ctx context.Context, messageID string, at time.Time) (bool, error)
	ForgetProcessed(ctx context.Context, messageID string) error
}

// JobInspector exposes scheduler state for the status endpoint.
type JobInspector interface {
	Depth(ctx context.Context) (scheduled, leased int64, err error)
	Jobs(ctx context.Context, limit int64) ([]scheduler.Job, error)
}

// Server wires HTTP handlers for the inbound intent webhook and read-only views.
type Server struct {
	intents  IntentHandler
	dedup    Dedup
	jobs     JobInspector
	notifier notify.Notifier
	limiter  *ratelimit.TokenBucket
	clock    clock.Clock
	logger   *slog.Logger
}

// Deps collects the server's collaborators. Limiter may be nil to disable rate limiting.
type Deps struct {
	Intents  IntentHandler
	Dedup    Dedup
	Jobs     JobInspector
	Notifier notify.Notifier
	Limiter  *ratelimit.TokenBucket
	Clock    clock.Clock
	Logger   *slog.Logger
}

func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Server{
		intents:  d.Intents,
		dedup:    d.Dedup,
		jobs:     d.Jobs,
		notifier: d.Notifier,
		limiter:  d.Limiter,
		clock:    d.Clock,
		logger:   d.Logger.With("component", "api"),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.With(s.rateLimit).Post("/webhook/intent", s.handleIntent)
	r.Get("/reminders", s.handleListReminders)
	r.Get("/scheduler/status", s.handleSchedulerStatus)
	return r
}

type intentRequest struct {
	MessageID string          `json:"message_id"`
	Intent    json.RawMessage `json:"intent"`
}

type intentResponse struct {
	Response  string `json:"response"`
	Duplicate bool   `json:"duplicate"`
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "message_id is required")
		return
	}
	if len(req.Intent) == 0 {
		writeError(w, http.StatusBadRequest, "intent is required")
		return
	}
	ctx := r.Context()
	logger := s.logger.With("message_id", req.MessageID)

	first, err := s.dedup.MarkProcessed(ctx, req.MessageID, s.clock.Now())
	if err != nil {
		logger.ErrorContext(ctx, "dedup check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "dedup unavailable")
		return
	}
	if !first {
		telemetry.DuplicateMessages.Inc()
		logger.InfoContext(ctx, "duplicate message skipped")
		writeJSON(w, http.StatusOK, intentResponse{Duplicate: true})
		return
	}

	in, err := intent.Decode(req.Intent, s.clock)
	if err != nil {
		if rej, ok := intent.AsRejection(err); ok {
			telemetry.IntentRejections.WithLabelValues(in.Kind.String()).Inc()
			s.reply(ctx, logger, rej.Message)
			writeJSON(w, http.StatusOK, intentResponse{Response: rej.Message})
			return
		}
		s.forget(ctx, logger, req.MessageID)
		logger.WarnContext(ctx, "malformed intent", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.intents.HandleIntent(ctx, in)
	if err != nil {
		s.forget(ctx, logger, req.MessageID)
		s.reply(ctx, logger, apologyText)
		writeError(w, http.StatusInternalServerError, "intent could not be applied")
		return
	}
	s.reply(ctx, logger, reply)
	writeJSON(w, http.StatusOK, intentResponse{Response: reply})
}

// reply sends text to the user. A failed send does not undo the mutation.
func (s *Server) reply(ctx context.Context, logger *slog.Logger, text string) {
	if err := s.notifier.Notify(ctx, text); err != nil {
		telemetry.DeliveryFailures.WithLabelValues("chat").Inc()
		logger.ErrorContext(ctx, "reply delivery failed", "error", err)
	}
}

// forget releases a message id whose processing did not complete so a redelivery is handled.
func (s *Server) forget(ctx context.Context, logger *slog.Logger, messageID string) {
	if err := s.dedup.ForgetProcessed(context.WithoutCancel(ctx), messageID); err != nil {
		logger.ErrorContext(ctx, "could not release message id", "error", err)
	}
}

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	open, err := s.intents.Open(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "list reminders failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reminders")
		return
	}
	if open == nil {
		open = []models.Reminder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": open})
}

type jobView struct {
	Key    string    `json:"key"`
	FireAt time.Time `json:"fire_at"`
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	limit := int64(100)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	ctx := r.Context()
	scheduled, leased, err := s.jobs.Depth(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read scheduler")
		return
	}
	jobs, err := s.jobs.Jobs(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read scheduler")
		return
	}
	views := make([]jobView, len(jobs))
	for i, j := range jobs {
		views[i] = jobView{Key: j.Key, FireAt: j.FireAt.In(s.clock.Location())}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scheduled": scheduled,
		"running":   leased,
		"jobs":      views,
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		allowed, _, err := s.limiter.Allow(r.Context(), senderFromRequest(r))
		if err != nil {
			s.logger.ErrorContext(r.Context(), "rate limiter unavailable", "error", err)
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func senderFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Sender"); v != "" {
		return v
	}
	return "owner"
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
