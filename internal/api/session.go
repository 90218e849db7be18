package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/sidekick/internal/domain"
)

// SessionHandler exposes transcript, game event and command intake plus the
// pacing and batch views.
type SessionHandler struct {
	*Handler
	stream http.Handler
}

// NewSessionHandler creates a session handler. stream serves the advice SSE feed.
func NewSessionHandler(base *Handler, stream http.Handler) *SessionHandler {
	return &SessionHandler{Handler: base, stream: stream}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/transcript", h.PostTranscript)
		r.Post("/events", h.PostGameEvent)
		r.Post("/commands", h.PostCommand)
		r.Get("/state", h.GetState)
		r.Get("/batches", h.ListBatches)
		r.Get("/batches/{batchID}/advice", h.ListAdvice)
		if h.stream != nil {
			r.Get("/advice/stream", h.stream.ServeHTTP)
		}
	})
}

type transcriptRequest struct {
	Segments []domain.TranscriptSegment `json:"segments"`
}

// PostTranscript feeds transcript segments to the classifier.
func (h *SessionHandler) PostTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Segments) == 0 {
		Error(w, http.StatusBadRequest, "segments cannot be empty")
		return
	}
	h.engine.ProcessSegments(req.Segments)
	JSON(w, http.StatusAccepted, map[string]any{"accepted": len(req.Segments)})
}

// PostGameEvent feeds a game engine notification to the classifier.
func (h *SessionHandler) PostGameEvent(w http.ResponseWriter, r *http.Request) {
	var ev domain.GameEvent
	if err := decodeBody(w, r, &ev); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if ev.EventType == "" {
		Error(w, http.StatusBadRequest, "event_type is required")
		return
	}
	h.engine.ProcessGameEvent(ev)
	JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type commandRequest struct {
	// Text is raw chat syntax such as "/act 2 45".
	Text string   `json:"text,omitempty"`
	Type string   `json:"type,omitempty"`
	Args []string `json:"args,omitempty"`
}

// PostCommand applies a GM command given as chat text or as type and args.
func (h *SessionHandler) PostCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := domain.GMCommand{Type: strings.TrimPrefix(strings.TrimSpace(req.Type), "/"), Args: req.Args}
	if req.Text != "" {
		parsed, ok := domain.ParseCommand(req.Text)
		if !ok {
			Error(w, http.StatusBadRequest, "text is not a slash command")
			return
		}
		cmd = parsed
	}
	if cmd.Type == "" {
		Error(w, http.StatusBadRequest, "command type is required")
		return
	}

	res := h.engine.HandleCommand(cmd)
	status := http.StatusOK
	if !res.OK {
		status = http.StatusUnprocessableEntity
	}
	JSON(w, status, res)
}

// GetState returns the pacing state and arbitration queue depth.
func (h *SessionHandler) GetState(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"state":       h.engine.Snapshot(),
		"queue_depth": h.engine.QueueDepth(),
	})
}

// ListBatches returns recent trigger batches, newest first.
func (h *SessionHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		Error(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	batches, err := h.history.ListBatches(r.Context(), limit)
	if err != nil {
		slog.Error("[API] Failed to list batches", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	if batches == nil {
		batches = []domain.TriggerBatch{}
	}
	JSON(w, http.StatusOK, map[string]any{"batches": batches})
}

// ListAdvice returns the advice recorded for one batch.
func (h *SessionHandler) ListAdvice(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		Error(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}
	batchID := chi.URLParam(r, "batchID")
	advice, err := h.history.ListAdvice(r.Context(), batchID)
	if err != nil {
		slog.Error("[API] Failed to list advice", "error", err, "batch_id", batchID)
		Error(w, http.StatusInternalServerError, "failed to list advice")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"batch_id": batchID, "advice": advice})
}
