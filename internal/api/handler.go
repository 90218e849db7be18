// Package api provides HTTP handlers for the Sidekick API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ashureev/sidekick/internal/advisor"
	"github.com/ashureev/sidekick/internal/classifier"
	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/pacing"
)

// defaultMaxRequestBodySize is the maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Engine is the classifier surface the API drives. *classifier.Classifier satisfies it.
type Engine interface {
	ProcessSegments(segments []domain.TranscriptSegment)
	ProcessGameEvent(ev domain.GameEvent)
	HandleCommand(cmd domain.GMCommand) classifier.CommandResult
	Snapshot() pacing.State
	QueueDepth() int
}

// History reads the batch and advice log.
type History interface {
	ListBatches(ctx context.Context, limit int) ([]domain.TriggerBatch, error)
	ListAdvice(ctx context.Context, batchID string) ([]*advisor.Advice, error)
}

var _ Engine = (*classifier.Classifier)(nil)

// Handler provides common handler utilities.
type Handler struct {
	engine  Engine
	history History
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(engine Engine, history History) *Handler {
	return &Handler{engine: engine, history: history}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes a size-limited JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body too large")
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
