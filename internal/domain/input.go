package domain

import (
	"strings"
	"time"
)

// TranscriptSegment is a single utterance from the speech-to-text bridge.
// Interim segments carry Final=false and may later be re-sent as final under
// the same ID.
type TranscriptSegment struct {
	ID           string    `json:"id,omitempty"`
	Text         string    `json:"text"`
	UserID       string    `json:"user_id,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	SpeakerLabel string    `json:"speaker_label,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Final        bool      `json:"final"`
}

// SpeakerKey returns the most specific speaker identifier available.
func (s TranscriptSegment) SpeakerKey() string {
	switch {
	case s.UserID != "":
		return s.UserID
	case s.SpeakerLabel != "":
		return s.SpeakerLabel
	case s.DisplayName != "":
		return s.DisplayName
	default:
		return "unknown"
	}
}

// GameEventSceneChange is the only engine event the classifier acts on.
const GameEventSceneChange = "scene_change"

// GameEvent is a notification from the remote game engine.
type GameEvent struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
}

// GMCommand is a parsed chat command such as "/act 2 45".
type GMCommand struct {
	Type string   `json:"type"`
	Args []string `json:"args,omitempty"`
}

// ParseCommand parses "/command args..." chat syntax. It returns false for
// anything that is not a slash command.
func ParseCommand(text string) (GMCommand, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return GMCommand{}, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return GMCommand{}, false
	}
	return GMCommand{
		Type: strings.ToLower(fields[0]),
		Args: fields[1:],
	}, true
}
