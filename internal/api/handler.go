package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shaayud/shaayud/internal/bus"
	"github.com/shaayud/shaayud/internal/domain"
	"github.com/shaayud/shaayud/internal/rules"
)

// Ingester runs the ingest pipeline for one record.
type Ingester interface {
	Ingest(ctx context.Context, in *domain.IngestInput) error
}

// Check is a named dependency probed by /health and /ready.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Deps holds the collaborators of the API handlers. Journal and Bus may be nil.
type Deps struct {
	Ingester     Ingester
	Rules        *rules.RuleSet
	Journal      domain.Journal
	Bus          domain.EventBus
	Checks       []Check
	Version      string
	MaxBodyBytes int64
}

// Handler holds dependencies for API handlers.
type Handler struct {
	ingester     Ingester
	rules        *rules.RuleSet
	journal      domain.Journal
	bus          domain.EventBus
	checks       []Check
	version      string
	maxBodyBytes int64
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		ingester:     deps.Ingester,
		rules:        deps.Rules,
		journal:      deps.Journal,
		bus:          deps.Bus,
		checks:       deps.Checks,
		version:      deps.Version,
		maxBodyBytes: deps.MaxBodyBytes,
	}
}

// Ingest handles POST /ingest: the record is scored and committed before the response.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	in, err := domain.DecodeInput(body)
	if err == nil {
		err = h.ingester.Ingest(r.Context(), in)
	}
	if err != nil {
		writeIngestError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// IngestAsync handles POST /ingest/async: the record is validated and queued for the worker.
func (h *Handler) IngestAsync(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	in, err := domain.DecodeInput(body)
	if err == nil {
		err = in.Validate()
	}
	if err != nil {
		writeIngestError(w, r, err)
		return
	}

	if err := h.bus.Publish(r.Context(), domain.TopicEventIngested, body); err != nil {
		slog.Error("failed to queue ingest",
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		status := http.StatusInternalServerError
		if errors.Is(err, bus.ErrBufferFull) || errors.Is(err, bus.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"error": "ingest not queued"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "request body too large",
			})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return nil, false
	}
	return body, true
}

// writeIngestError maps pipeline errors to status codes. Graph details stay in the logs.
func writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrMalformedInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrAdmissionCanceled):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ingest canceled while queued"})
	default:
		slog.Error("ingest failed",
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ingest failed"})
	}
}

// EventScores handles GET /events/{id}/scores.
func (h *Handler) EventScores(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "journal not available",
		})
		return
	}

	eventID := chi.URLParam(r, "id")
	entries, err := h.journal.ListByEvent(r.Context(), eventID)
	if err != nil {
		slog.Error("failed to list event scores", "event_id", eventID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list scores",
		})
		return
	}
	if len(entries) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "event not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"eventId": eventID,
		"scores":  entries,
	})
}

// IdentityEvents handles GET /identities/{id}/events?since=RFC3339&limit=N.
func (h *Handler) IdentityEvents(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "journal not available",
		})
		return
	}

	identityID := chi.URLParam(r, "id")

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be an RFC 3339 timestamp",
			})
			return
		}
		since = t
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be between 1 and 1000",
			})
			return
		}
		limit = n
	}

	entries, err := h.journal.ListByIdentity(r.Context(), identityID, since, limit)
	if err != nil {
		slog.Error("failed to list identity events", "identity_id", identityID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list events",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"identityId": identityID,
		"events":     entries,
		"count":      len(entries),
	})
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	summaries := h.rules.Summaries()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":      h.rules.Version,
		"defaultScore": h.rules.Default,
		"rules":        summaries,
		"count":        len(summaries),
	})
}

// Health returns service health with the state of every dependency.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status, checks := h.probe(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns 503 until every dependency answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status, checks := h.probe(r.Context())
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ready":  code == http.StatusOK,
		"checks": checks,
	})
}

func (h *Handler) probe(ctx context.Context) (string, map[string]string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := "healthy"
	results := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			slog.Warn("health check failed", "check", c.Name, "error", err)
			results[c.Name] = "down"
			status = "degraded"
			continue
		}
		results[c.Name] = "up"
	}
	return status, results
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
