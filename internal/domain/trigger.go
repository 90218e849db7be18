package domain

import (
	"time"

	"github.com/google/uuid"
)

// TriggerPriority is an ordinal urgency tier. Lower values are more urgent.
type TriggerPriority int

const (
	P1 TriggerPriority = iota + 1
	P2
	P3
	P4
)

func (p TriggerPriority) String() string {
	switch p {
	case P1:
		return "P1"
	case P2:
		return "P2"
	case P3:
		return "P3"
	case P4:
		return "P4"
	default:
		return "P?"
	}
}

// TriggerType categorizes classified events.
type TriggerType string

const (
	TriggerQuestion          TriggerType = "question"
	TriggerHesitationGapFill TriggerType = "hesitation_gap_fill"
	TriggerSceneTransition   TriggerType = "scene_transition"
	TriggerSceneDetected     TriggerType = "scene_detected"
	TriggerNPCFirstSeen      TriggerType = "npc_first_appearance"
	TriggerPacingGate        TriggerType = "pacing_gate"
	TriggerSceneOverrun      TriggerType = "scene_overrun"
	TriggerGMSilence         TriggerType = "gm_silence"
)

// Trigger sources.
const (
	SourceTranscript = "transcript"
	SourceEngine     = "engine"
	SourceCommand    = "command"
	SourceTimer      = "timer"
)

// TriggerEvent is a single classified event. Treat it as immutable once created.
type TriggerEvent struct {
	ID        string          `json:"id"`
	Type      TriggerType     `json:"type"`
	Priority  TriggerPriority `json:"priority"`
	Source    string          `json:"source"`
	Data      map[string]any  `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewTriggerEvent builds an event with a fresh ID. The data map is copied.
func NewTriggerEvent(typ TriggerType, priority TriggerPriority, source string, data map[string]any, ts time.Time) TriggerEvent {
	var copied map[string]any
	if len(data) > 0 {
		copied = make(map[string]any, len(data))
		for k, v := range data {
			copied[k] = v
		}
	}
	return TriggerEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Priority:  priority,
		Source:    source,
		Data:      copied,
		Timestamp: ts,
	}
}

// TriggerBatch is the unit handed to the reasoning subsystem.
type TriggerBatch struct {
	ID        string         `json:"id"`
	Events    []TriggerEvent `json:"events"`
	FlushedAt time.Time      `json:"flushed_at"`
}

// HighestPriority returns the most urgent priority in the batch, or 0 when empty.
func (b TriggerBatch) HighestPriority() TriggerPriority {
	var best TriggerPriority
	for _, ev := range b.Events {
		if best == 0 || ev.Priority < best {
			best = ev.Priority
		}
	}
	return best
}
