package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to AssistantState
		allowed  bool
	}{
		{StatePregame, StateActive, true},
		{StateActive, StateSleep, true},
		{StateSleep, StateActive, true},
		{StatePregame, StateSleep, false},
		{StateActive, StatePregame, false},
		{StateSleep, StatePregame, false},
		{StateActive, StateActive, false},
	}

	for _, tt := range tests {
		got := CanTransition(tt.from, tt.to)
		if got.Allowed != tt.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got.Allowed, tt.allowed)
		}
		if !tt.allowed && got.Error() == nil {
			t.Errorf("CanTransition(%s, %s) should carry a reason", tt.from, tt.to)
		}
	}
}

func TestParseCommand(t *testing.T) {
	cmd, ok := ParseCommand("  /Act 2 45 ")
	if !ok {
		t.Fatal("expected a command")
	}
	if cmd.Type != "act" || len(cmd.Args) != 2 || cmd.Args[0] != "2" || cmd.Args[1] != "45" {
		t.Errorf("unexpected command: %+v", cmd)
	}

	for _, in := range []string{"act 2", "/", "   ", "hello /act"} {
		if _, ok := ParseCommand(in); ok {
			t.Errorf("ParseCommand(%q) should not parse", in)
		}
	}
}

func TestSpeakerKeyPrecedence(t *testing.T) {
	if got := (TranscriptSegment{UserID: "u1", SpeakerLabel: "S1", DisplayName: "Ana"}).SpeakerKey(); got != "u1" {
		t.Errorf("got %q, want u1", got)
	}
	if got := (TranscriptSegment{SpeakerLabel: "S1", DisplayName: "Ana"}).SpeakerKey(); got != "S1" {
		t.Errorf("got %q, want S1", got)
	}
	if got := (TranscriptSegment{}).SpeakerKey(); got != "unknown" {
		t.Errorf("got %q, want unknown", got)
	}
}

func TestMarkServedIsOneWay(t *testing.T) {
	at := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	e := &NPCCacheEntry{Name: "Daokresh"}

	if !e.MarkServed(at) {
		t.Fatal("first MarkServed should change the entry")
	}
	if e.MarkServed(at.Add(time.Minute)) {
		t.Error("second MarkServed should be a no-op")
	}
	if !e.ServedAt.Equal(at) {
		t.Errorf("ServedAt = %v, want %v", e.ServedAt, at)
	}
}

func TestNewTriggerEventCopiesData(t *testing.T) {
	data := map[string]any{"npc": "Daokresh"}
	ev := NewTriggerEvent(TriggerNPCFirstSeen, P2, SourceTranscript, data, time.Now())
	data["npc"] = "mutated"

	if ev.Data["npc"] != "Daokresh" {
		t.Errorf("event data aliased caller map: %v", ev.Data)
	}
	if ev.ID == "" {
		t.Error("event ID should be set")
	}
}

func TestHighestPriority(t *testing.T) {
	b := TriggerBatch{Events: []TriggerEvent{{Priority: P3}, {Priority: P2}, {Priority: P4}}}
	if got := b.HighestPriority(); got != P2 {
		t.Errorf("HighestPriority = %s, want P2", got)
	}
	if got := (TriggerBatch{}).HighestPriority(); got != 0 {
		t.Errorf("empty batch HighestPriority = %d, want 0", got)
	}
}
