// Package advisor hands trigger batches to the external reasoning service and
// fans its advice out to the GM dashboard.
package advisor

import (
	"time"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/pacing"
)

// AdviceKind categorizes advice chunks.
type AdviceKind string

const (
	// AdviceSuggestion is model-generated guidance.
	AdviceSuggestion AdviceKind = "suggestion"
	// AdviceLookup is a fact pulled from campaign notes or game state.
	AdviceLookup AdviceKind = "lookup"
	// AdviceAlert is a pacing warning.
	AdviceAlert AdviceKind = "alert"
	// AdviceSummary is a plain description of the batch, used without an advisor.
	AdviceSummary AdviceKind = "summary"
	// AdviceSilent is internal and never surfaced.
	AdviceSilent AdviceKind = "silent"
	// AdviceError reports an advisor failure.
	AdviceError AdviceKind = "error"
)

// Request is what the advisor receives for one batch.
type Request struct {
	Batch domain.TriggerBatch `json:"batch"`
	State pacing.State        `json:"state"`
}

// Advice is one streamed chunk of guidance.
type Advice struct {
	BatchID   string                 `json:"batch_id"`
	Kind      AdviceKind             `json:"kind"`
	Content   string                 `json:"content"`
	Priority  domain.TriggerPriority `json:"priority"`
	Sources   []string               `json:"sources,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Silent reports whether the chunk must not reach the dashboard.
func (a *Advice) Silent() bool {
	return a == nil || a.Kind == AdviceSilent || (a.Content == "" && a.Kind != AdviceError)
}
