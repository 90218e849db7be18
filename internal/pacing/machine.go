package pacing

import (
	"sort"
	"strings"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
)

// Machine is the authoritative holder of the pacing State.
//
// Machine never rejects a transition: TransitionTo is unconditional and
// legality is the caller's job. Every method is total; unknown player, seed
// and thread names are inserted.
type Machine struct {
	state State
	now   func() time.Time
}

// NewMachine returns a machine in PREGAME. A nil now defaults to time.Now.
func NewMachine(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{state: newState(), now: now}
}

// State returns the current assistant state.
func (m *Machine) State() domain.AssistantState { return m.state.AssistantState }

// Act returns the current act number.
func (m *Machine) Act() int { return m.state.Act }

// Scene returns the current scene name.
func (m *Machine) Scene() string { return m.state.Scene }

// SessionEnd returns the configured session end, if any.
func (m *Machine) SessionEnd() (time.Time, bool) {
	if m.state.SessionEnd == nil {
		return time.Time{}, false
	}
	return *m.state.SessionEnd, true
}

// TransitionTo sets the assistant state.
func (m *Machine) TransitionTo(s domain.AssistantState) {
	m.state.AssistantState = s
}

// StartSession resets to PREGAME, clears the activation source and cache
// status flags, and stamps the session start.
func (m *Machine) StartSession() {
	m.state.AssistantState = domain.StatePregame
	m.state.ActivationSource = domain.ActivationNone
	m.state.NPCCacheStatus = domain.CacheUnbuilt
	m.state.SceneIndexStatus = domain.CacheUnbuilt
	m.state.SessionStart = m.now()
}

// SetActivationSource records which mechanism activated the session.
func (m *Machine) SetActivationSource(src domain.ActivationSource) {
	m.state.ActivationSource = src
}

// UpdateElapsed recomputes elapsed minutes for the act and scene timers.
func (m *Machine) UpdateElapsed(now time.Time) {
	m.state.ActTiming.ElapsedMinutes = elapsedMinutes(m.state.ActTiming.StartedAt, now)
	m.state.SceneTiming.ElapsedMinutes = elapsedMinutes(m.state.SceneTiming.StartedAt, now)
}

func elapsedMinutes(start, now time.Time) float64 {
	if start.IsZero() || now.Before(start) {
		return 0
	}
	return now.Sub(start).Minutes()
}

// IsSceneOverrun reports whether the current scene has a plan and has run
// past it by more than thresholdMinutes.
func (m *Machine) IsSceneOverrun(thresholdMinutes float64) bool {
	t := m.state.SceneTiming
	if t.PlannedMaxMinutes <= 0 {
		return false
	}
	return t.ElapsedMinutes > float64(t.PlannedMaxMinutes)+thresholdMinutes
}

// HasOverrunFired reports whether the overrun alert fired for the current scene visit.
func (m *Machine) HasOverrunFired() bool {
	return m.state.OverrunFired[m.state.Scene]
}

// MarkOverrunFired records that the overrun alert fired for the current scene.
func (m *Machine) MarkOverrunFired() {
	m.state.OverrunFired[m.state.Scene] = true
}

// AdvanceScene enters a scene. The overrun guard for the entering name is
// cleared so a revisit can alert again.
func (m *Machine) AdvanceScene(name string, plannedMinutes int) {
	m.state.Scene = name
	m.state.SceneTiming = Timing{StartedAt: m.now(), PlannedMaxMinutes: plannedMinutes}
	delete(m.state.OverrunFired, name)
}

// AdvanceAct enters an act and clears every overrun guard.
func (m *Machine) AdvanceAct(number, plannedMinutes int) {
	m.state.Act = number
	m.state.ActTiming = Timing{StartedAt: m.now(), PlannedMaxMinutes: plannedMinutes}
	m.state.OverrunFired = make(map[string]bool)
}

// SetSpotlightDebt sets a player's spotlight debt and recomputes the list of
// players without recent spotlight.
func (m *Machine) SetSpotlightDebt(player string, debt int) {
	m.state.SpotlightDebt[player] = debt
	lacking := make([]string, 0, len(m.state.SpotlightDebt))
	for p, d := range m.state.SpotlightDebt {
		if d > 0 {
			lacking = append(lacking, p)
		}
	}
	sort.Strings(lacking)
	m.state.PlayersWithoutSpotlight = lacking
}

// SetEngagement sets a player's engagement level.
func (m *Machine) SetEngagement(player string, level Engagement) {
	m.state.Engagement[player] = level
}

// SetSeparation sets the party separation status.
func (m *Machine) SetSeparation(s Separation) { m.state.Separation = s }

// SetClimax sets the climax proximity.
func (m *Machine) SetClimax(c Climax) { m.state.Climax = c }

// PlantSeed records a narrative seed in the current scene. Replanting an
// existing name is a no-op.
func (m *Machine) PlantSeed(name string) {
	for _, s := range m.state.Seeds {
		if strings.EqualFold(s.Name, name) {
			return
		}
	}
	m.state.Seeds = append(m.state.Seeds, Seed{Name: name, Scene: m.state.Scene})
}

// RevealSeed marks a seed revealed, planting it first if unknown.
func (m *Machine) RevealSeed(name string) {
	for i := range m.state.Seeds {
		if strings.EqualFold(m.state.Seeds[i].Name, name) {
			m.state.Seeds[i].Revealed = true
			return
		}
	}
	m.state.Seeds = append(m.state.Seeds, Seed{Name: name, Scene: m.state.Scene, Revealed: true})
}

// SetThread sets the current narrative thread and tracks it as open.
func (m *Machine) SetThread(name string) {
	m.state.Thread = name
	m.AddOpenThread(name)
}

// AddOpenThread adds a thread to the open list once.
func (m *Machine) AddOpenThread(name string) {
	for _, t := range m.state.OpenThreads {
		if strings.EqualFold(t, name) {
			return
		}
	}
	m.state.OpenThreads = append(m.state.OpenThreads, name)
}

// ResolveThread removes a thread from the open list.
func (m *Machine) ResolveThread(name string) {
	out := m.state.OpenThreads[:0]
	for _, t := range m.state.OpenThreads {
		if !strings.EqualFold(t, name) {
			out = append(out, t)
		}
	}
	m.state.OpenThreads = out
	if strings.EqualFold(m.state.Thread, name) {
		m.state.Thread = ""
	}
}

// SetNextBeat sets the next planned beat.
func (m *Machine) SetNextBeat(beat string) { m.state.NextBeat = beat }

// SetSessionEnd sets the wall-clock session end.
func (m *Machine) SetSessionEnd(end time.Time) {
	m.state.SessionEnd = &end
}

// MarkGameStateFresh stamps the game-state freshness timestamp.
func (m *Machine) MarkGameStateFresh() {
	m.state.GameStateFreshAt = m.now().UTC().Format(time.RFC3339)
}

// MarkWikiFresh stamps the wiki freshness timestamp.
func (m *Machine) MarkWikiFresh() {
	m.state.WikiFreshAt = m.now().UTC().Format(time.RFC3339)
}

// SetNPCCacheStatus sets the NPC cache build status.
func (m *Machine) SetNPCCacheStatus(s domain.CacheStatus) { m.state.NPCCacheStatus = s }

// SetSceneIndexStatus sets the scene index build status.
func (m *Machine) SetSceneIndexStatus(s domain.CacheStatus) { m.state.SceneIndexStatus = s }

// Snapshot returns a deep copy of the state.
func (m *Machine) Snapshot() State {
	return m.state.clone()
}

// Restore replaces the state with a deep copy of s. Nil maps are re-created.
func (m *Machine) Restore(s State) {
	restored := s.clone()
	if restored.AssistantState == "" {
		restored.AssistantState = domain.StatePregame
	}
	m.state = restored
}
