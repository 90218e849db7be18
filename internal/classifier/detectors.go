package classifier

import (
	"math"
	"strings"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
)

// processSegment runs one transcript segment through the detectors.
// Interim segments only feed the flow window and speech timestamps; final
// segments run every detector once per ID.
func (c *Classifier) processSegment(seg domain.TranscriptSegment, now time.Time) {
	if strings.TrimSpace(seg.Text) == "" {
		return
	}

	c.flow.Add(now, seg.SpeakerKey())
	c.speechSeq++

	gm := c.isGM(seg)
	if gm {
		c.lastGMSpeech = now
		c.silenceFired = false
		c.hesitationFired = false
		if c.machine.State() == domain.StateSleep {
			c.wake("gm_speech")
		}
	}

	if !seg.Final {
		return
	}
	if seg.ID != "" && !c.seen.add(seg.ID) {
		return
	}

	text := strings.TrimSpace(seg.Text)
	if gm {
		c.trackHesitation(text, now)
	}
	if c.machine.State() == domain.StatePregame {
		c.scanAutoActivation(text, now)
	}

	for _, rule := range c.rules {
		if rule.Match == nil || !rule.appliesIn(c.machine.State()) {
			continue
		}
		if matched, ok := rule.Match(text); ok {
			c.emit(rule.Type, rule.Priority, domain.SourceTranscript, map[string]any{
				"rule":    rule.Name,
				"matched": matched,
				"text":    text,
				"speaker": seg.SpeakerKey(),
			})
		}
	}

	if c.machine.State() != domain.StateActive {
		return
	}
	normalized := normalizeGarbled(c.garbled, text)
	c.detectNPCs(normalized, now)
	c.accumulateSceneKeywords(normalized, now)
}

func (c *Classifier) isGM(seg domain.TranscriptSegment) bool {
	id := strings.TrimSpace(c.cfg.GMIdentifier)
	if id == "" {
		return true
	}
	return strings.EqualFold(seg.UserID, id) ||
		strings.EqualFold(seg.DisplayName, id) ||
		strings.EqualFold(seg.SpeakerLabel, id)
}

// isFlowing reports whether players are actively talking among themselves.
func (c *Classifier) isFlowing(now time.Time) bool {
	c.flow.Prune(now)
	if c.flow.Len() < c.cfg.FlowMinSegments {
		return false
	}
	return Distinct(c.flow) >= c.cfg.FlowMinSpeakers
}

func (c *Classifier) scanAutoActivation(text string, now time.Time) {
	if !c.cfg.AutoActivate.Enabled || len(c.garbled) == 0 {
		return
	}
	c.activation.Prune(now)
	for _, term := range canonicalTerms(c.garbled, text) {
		c.activation.Add(now, term)
	}
	distinct := Distinct(c.activation)
	if distinct < c.cfg.AutoActivate.Threshold {
		return
	}
	c.logger.Info("[CLASSIFIER] Campaign vocabulary detected", "distinct_terms", distinct)
	c.activation.Reset()
	c.activate(domain.ActivationTranscript)
}

func (c *Classifier) detectNPCs(text string, now time.Time) {
	for _, m := range c.npcs {
		if m.entry.Served {
			continue
		}
		term, ok := m.match(text)
		if !ok || !m.entry.MarkServed(now) {
			continue
		}
		c.emit(domain.TriggerNPCFirstSeen, domain.P2, domain.SourceTranscript, map[string]any{
			"npc":     m.entry.Name,
			"matched": term,
			"text":    text,
		})
	}
}

func (c *Classifier) accumulateSceneKeywords(text string, now time.Time) {
	for _, m := range c.scenes {
		if m.entry.Served {
			continue
		}
		w, ok := c.sceneWindows[m.entry.Name]
		if !ok {
			w = NewWindow[string](c.cfg.SceneKeywordWindow, 64)
			c.sceneWindows[m.entry.Name] = w
		}
		w.Prune(now)
		for _, kw := range m.matches(text) {
			w.Add(now, kw)
		}
		if Distinct(w) < c.cfg.SceneKeywordMin {
			continue
		}
		keywords := uniqueStrings(w.Values())
		delete(c.sceneWindows, m.entry.Name)
		if !m.entry.MarkServed(now) {
			continue
		}
		c.emit(domain.TriggerSceneDetected, domain.P2, domain.SourceTranscript, map[string]any{
			"scene":    m.entry.Name,
			"keywords": keywords,
		})
	}
}

// trackHesitation sets or clears the pending hesitation marker for a final GM segment.
func (c *Classifier) trackHesitation(text string, now time.Time) {
	if c.cfg.HesitationSilence <= 0 || !matchesAny(c.hesitationRes, text) {
		c.hesitation = nil
		c.stopHesitationTimer()
		return
	}
	c.hesitation = &pendingHesitation{text: text, at: now, seq: c.speechSeq}
	c.stopHesitationTimer()
	c.hesitationGen++
	gen := c.hesitationGen
	c.hesitationTimer = c.afterFunc(c.cfg.HesitationSilence, func() {
		if gen != c.hesitationGen {
			return
		}
		c.hesitationTimer = nil
		c.checkHesitation(c.clock.Now())
	})
}

func (c *Classifier) stopHesitationTimer() {
	if c.hesitationTimer != nil {
		c.hesitationTimer.Stop()
		c.hesitationTimer = nil
	}
}

// checkHesitation fires a P1 when a hesitation marker survived the full
// silence gap with no speech since. Any later segment, even one sharing the
// marker's timestamp, cancels it.
func (c *Classifier) checkHesitation(now time.Time) {
	h := c.hesitation
	if h == nil || c.hesitationFired || c.machine.State() != domain.StateActive {
		return
	}
	if c.speechSeq != h.seq {
		c.hesitation = nil
		return
	}
	if now.Sub(h.at) < c.cfg.HesitationSilence {
		return
	}
	c.hesitation = nil
	c.hesitationFired = true
	c.stopHesitationTimer()
	c.emit(domain.TriggerHesitationGapFill, domain.P1, domain.SourceTimer, map[string]any{
		"text":            h.text,
		"silence_seconds": math.Round(now.Sub(h.at).Seconds()),
	})
}

// gmSilence returns how long the GM has been silent in the current ACTIVE stretch.
func (c *Classifier) gmSilence(now time.Time) time.Duration {
	since := c.activeSince
	if c.lastGMSpeech.After(since) {
		since = c.lastGMSpeech
	}
	if since.IsZero() {
		return 0
	}
	return now.Sub(since)
}

func (c *Classifier) checkSilence(now time.Time) {
	silent := c.gmSilence(now)
	if c.cfg.SleepSilence > 0 && silent >= c.cfg.SleepSilence {
		c.sleep("gm_silence")
		return
	}
	if c.cfg.ActiveSilence <= 0 || silent < c.cfg.ActiveSilence || c.silenceFired {
		return
	}
	c.silenceFired = true
	if c.isFlowing(now) {
		c.logger.Debug("[CLASSIFIER] GM silence alert suppressed by flowing dialogue")
		return
	}
	c.emit(domain.TriggerGMSilence, domain.P4, domain.SourceTimer, map[string]any{
		"silent_seconds": math.Round(silent.Seconds()),
	})
}

func (c *Classifier) checkOverrun(now time.Time) {
	if !c.machine.IsSceneOverrun(c.cfg.SceneOverrunThreshold) || c.machine.HasOverrunFired() {
		return
	}
	c.machine.MarkOverrunFired()
	if c.isFlowing(now) {
		c.logger.Debug("[CLASSIFIER] Scene overrun alert suppressed by flowing dialogue",
			"scene", c.machine.Scene())
		return
	}
	st := c.machine.Snapshot()
	c.emit(domain.TriggerSceneOverrun, domain.P3, domain.SourceTimer, map[string]any{
		"scene":           st.Scene,
		"elapsed_minutes": math.Round(st.SceneTiming.ElapsedMinutes),
		"planned_minutes": st.SceneTiming.PlannedMaxMinutes,
	})
}

func (c *Classifier) checkPacingGates(now time.Time) {
	end, ok := c.machine.SessionEnd()
	if !ok {
		return
	}
	remaining := end.Sub(now)
	remainingMinutes := math.Round(remaining.Minutes())

	if !c.gates.convergenceFired && c.cfg.ConvergenceGate > 0 &&
		remaining > 0 && remaining <= c.cfg.ConvergenceGate {
		c.gates.convergenceFired = true
		c.gates.convergenceAt = now
		c.emit(domain.TriggerPacingGate, domain.P2, domain.SourceTimer, map[string]any{
			"gate":              "convergence",
			"remaining_minutes": remainingMinutes,
		})
	}
	if !c.gates.denouementFired && c.cfg.DenouementGate > 0 &&
		remaining > 0 && remaining <= c.cfg.DenouementGate {
		c.gates.denouementFired = true
		c.emit(domain.TriggerPacingGate, domain.P2, domain.SourceTimer, map[string]any{
			"gate":              "denouement",
			"remaining_minutes": remainingMinutes,
		})
	}
	if c.gates.convergenceFired && !c.gates.escalationFired &&
		now.Sub(c.gates.convergenceAt) >= c.cfg.EscalationDelay {
		c.gates.escalationFired = true
		if act := c.machine.Act(); act < c.cfg.FinalAct {
			c.emit(domain.TriggerPacingGate, domain.P2, domain.SourceTimer, map[string]any{
				"gate":              "escalation",
				"act":               act,
				"remaining_minutes": remainingMinutes,
			})
		}
	}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
