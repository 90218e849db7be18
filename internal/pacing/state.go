// Package pacing holds the session lifecycle record: assistant state, act and
// scene timers, spotlight and engagement bookkeeping, and cache-build flags.
//
// The package performs no I/O and owns no timers. Callers drive elapsed-time
// recomputation explicitly and serialize access themselves.
package pacing

import (
	"strings"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
)

// Timing tracks one act or scene.
type Timing struct {
	StartedAt         time.Time `json:"started_at"`
	PlannedMaxMinutes int       `json:"planned_max_minutes"`
	ElapsedMinutes    float64   `json:"elapsed_minutes"`
}

// Engagement is a per-player engagement level.
type Engagement string

const (
	EngagementHigh   Engagement = "HIGH"
	EngagementMedium Engagement = "MEDIUM"
	EngagementLow    Engagement = "LOW"
)

// Separation describes whether the party is split.
type Separation string

const (
	SeparationNormal   Separation = "NORMAL"
	SeparationSplit    Separation = "SPLIT"
	SeparationCritical Separation = "CRITICAL"
)

// Climax describes how close the session is to its climax.
type Climax string

const (
	ClimaxNormal      Climax = "NORMAL"
	ClimaxApproaching Climax = "APPROACHING"
	ClimaxEscalating  Climax = "ESCALATING"
	ClimaxPeak        Climax = "CLIMAX"
)

// ParseEngagement parses a case-insensitive engagement level.
func ParseEngagement(s string) (Engagement, bool) {
	switch e := Engagement(strings.ToUpper(strings.TrimSpace(s))); e {
	case EngagementHigh, EngagementMedium, EngagementLow:
		return e, true
	}
	return "", false
}

// ParseSeparation parses a case-insensitive separation status.
func ParseSeparation(s string) (Separation, bool) {
	switch v := Separation(strings.ToUpper(strings.TrimSpace(s))); v {
	case SeparationNormal, SeparationSplit, SeparationCritical:
		return v, true
	}
	return "", false
}

// ParseClimax parses a case-insensitive climax proximity.
func ParseClimax(s string) (Climax, bool) {
	switch v := Climax(strings.ToUpper(strings.TrimSpace(s))); v {
	case ClimaxNormal, ClimaxApproaching, ClimaxEscalating, ClimaxPeak:
		return v, true
	}
	return "", false
}

// Seed is a planted narrative seed.
type Seed struct {
	Name     string `json:"name"`
	Scene    string `json:"scene"`
	Revealed bool   `json:"revealed"`
}

// State is the full pacing record.
type State struct {
	SessionStart time.Time `json:"session_start"`

	Act       int    `json:"act"`
	ActTiming Timing `json:"act_timing"`

	Scene       string `json:"scene"`
	SceneTiming Timing `json:"scene_timing"`

	Thread      string   `json:"thread"`
	NextBeat    string   `json:"next_beat"`
	OpenThreads []string `json:"open_threads"`

	SpotlightDebt           map[string]int        `json:"spotlight_debt"`
	PlayersWithoutSpotlight []string              `json:"players_without_spotlight"`
	Engagement              map[string]Engagement `json:"engagement"`
	Separation              Separation            `json:"separation"`
	Climax                  Climax                `json:"climax"`
	Seeds                   []Seed                `json:"seeds"`

	AssistantState   domain.AssistantState   `json:"assistant_state"`
	ActivationSource domain.ActivationSource `json:"activation_source"`
	SessionEnd       *time.Time              `json:"session_end,omitempty"`

	NPCCacheStatus   domain.CacheStatus `json:"npc_cache_status"`
	SceneIndexStatus domain.CacheStatus `json:"scene_index_status"`
	GameStateFreshAt string             `json:"game_state_fresh_at,omitempty"`
	WikiFreshAt      string             `json:"wiki_fresh_at,omitempty"`

	// OverrunFired holds scene names whose overrun alert already fired.
	OverrunFired map[string]bool `json:"overrun_fired"`
}

func newState() State {
	return State{
		SpotlightDebt:  make(map[string]int),
		Engagement:     make(map[string]Engagement),
		Separation:     SeparationNormal,
		Climax:         ClimaxNormal,
		AssistantState: domain.StatePregame,
		OverrunFired:   make(map[string]bool),
	}
}

// clone returns a deep copy.
func (s State) clone() State {
	out := s
	out.OpenThreads = append([]string(nil), s.OpenThreads...)
	out.PlayersWithoutSpotlight = append([]string(nil), s.PlayersWithoutSpotlight...)
	out.Seeds = append([]Seed(nil), s.Seeds...)
	out.SpotlightDebt = make(map[string]int, len(s.SpotlightDebt))
	for k, v := range s.SpotlightDebt {
		out.SpotlightDebt[k] = v
	}
	out.Engagement = make(map[string]Engagement, len(s.Engagement))
	for k, v := range s.Engagement {
		out.Engagement[k] = v
	}
	out.OverrunFired = make(map[string]bool, len(s.OverrunFired))
	for k, v := range s.OverrunFired {
		out.OverrunFired[k] = v
	}
	if s.SessionEnd != nil {
		end := *s.SessionEnd
		out.SessionEnd = &end
	}
	return out
}
