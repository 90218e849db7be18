// Package classifier turns the live session input (transcript segments, game
// engine events, GM chat commands and periodic ticks) into prioritized
// trigger batches, and drives the assistant lifecycle on the pacing machine.
//
// A single mutex serializes every entry point and every timer callback.
// Sink callbacks run after the lock is released, in the order they were
// produced; a Sink must not call back into the Classifier synchronously.
package classifier

import (
	"log/slog"
	"regexp"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ashureev/sidekick/internal/clock"
	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/pacing"
)

// seenLimit bounds the remembered final-segment IDs.
const seenLimit = 512

// Sink receives classifier output.
type Sink interface {
	// DeliverBatch receives a flushed trigger batch.
	DeliverBatch(batch domain.TriggerBatch)
	// Activated is called once per PREGAME->ACTIVE transition.
	Activated(source domain.ActivationSource)
}

// CacheController rebuilds the NPC cache on request.
type CacheController interface {
	RefreshNPCCache()
}

type nopSink struct{}

func (nopSink) DeliverBatch(domain.TriggerBatch)  {}
func (nopSink) Activated(domain.ActivationSource) {}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRules replaces the built-in keyword rules.
func WithRules(rules []Rule) Option {
	return func(c *Classifier) { c.rules = append([]Rule(nil), rules...) }
}

// WithCacheController sets the cache rebuilt by "/npc refresh" and on every
// activation.
func WithCacheController(cc CacheController) Option {
	return func(c *Classifier) { c.cache = cc }
}

type pendingHesitation struct {
	text string
	at   time.Time
	seq  uint64
}

type gateState struct {
	convergenceFired bool
	convergenceAt    time.Time
	denouementFired  bool
	escalationFired  bool
}

// Classifier is the live trigger engine.
type Classifier struct {
	mu        sync.Mutex
	deliverMu sync.Mutex
	outbox    []func()
	refreshWg sync.WaitGroup

	cfg     Config
	machine *pacing.Machine
	clock   clock.Clock
	sink    Sink
	cache   CacheController
	logger  *slog.Logger
	rules   []Rule
	metrics *metrics
	queue   *arbiter

	flow          *Window[string]
	activation    *Window[string]
	garbled       []garbledTerm
	hesitationRes []*regexp.Regexp

	npcs         []npcMatcher
	npcEntries   []*domain.NPCCacheEntry
	scenes       []sceneMatcher
	sceneEntries []*domain.SceneIndexEntry
	sceneWindows map[string]*Window[string]

	speechSeq       uint64
	lastGMSpeech    time.Time
	activeSince     time.Time
	silenceFired    bool
	hesitationFired bool
	hesitation      *pendingHesitation
	hesitationTimer clock.Timer
	hesitationGen   uint64

	gates gateState
	seen  seenSet

	closed bool
}

// New creates a classifier. A nil machine gets a fresh one bound to clk; a nil
// sink discards output.
func New(cfg Config, machine *pacing.Machine, clk clock.Clock, sink Sink, opts ...Option) *Classifier {
	if clk == nil {
		clk = clock.Real{}
	}
	if machine == nil {
		machine = pacing.NewMachine(clk.Now)
	}
	if sink == nil {
		sink = nopSink{}
	}
	cfg = cfg.withDefaults()

	c := &Classifier{
		cfg:           cfg,
		machine:       machine,
		clock:         clk,
		sink:          sink,
		logger:        slog.Default(),
		rules:         DefaultRules(),
		metrics:       newMetrics(),
		flow:          NewWindow[string](cfg.FlowWindow, 256),
		activation:    NewWindow[string](cfg.AutoActivate.Window, 256),
		hesitationRes: compileKeywords(cfg.HesitationKeywords),
		sceneWindows:  make(map[string]*Window[string]),
		seen:          newSeenSet(seenLimit),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.queue = &arbiter{
		capacity:    cfg.QueueCap,
		window:      cfg.BatchWindow,
		minInterval: cfg.MinInterval,
		now:         clk.Now,
		afterFunc:   c.afterFunc,
		deliver: func(b domain.TriggerBatch) {
			c.outbox = append(c.outbox, func() { c.sink.DeliverBatch(b) })
		},
		metrics: c.metrics,
		logger:  c.logger,
	}
	if machine.State() == domain.StateActive {
		c.activeSince = clk.Now()
	}
	return c
}

// run executes fn under the lock, then delivers queued sink calls in order
// with the lock released.
func (c *Classifier) run(fn func()) {
	c.mu.Lock()
	fn()
	out := c.outbox
	c.outbox = nil
	if len(out) == 0 {
		c.mu.Unlock()
		return
	}
	c.deliverMu.Lock()
	c.mu.Unlock()
	defer c.deliverMu.Unlock()
	for _, deliver := range out {
		deliver()
	}
}

// afterFunc schedules f under the classifier lock.
func (c *Classifier) afterFunc(d time.Duration, f func()) clock.Timer {
	return c.clock.AfterFunc(d, func() {
		c.run(func() {
			if c.closed {
				return
			}
			f()
		})
	})
}

// Config returns the classifier configuration.
func (c *Classifier) Config() Config { return c.cfg }

// State returns the current assistant state.
func (c *Classifier) State() domain.AssistantState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State()
}

// Snapshot returns a deep copy of the pacing state.
func (c *Classifier) Snapshot() pacing.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Snapshot()
}

// Restore replaces the pacing state, for example from a persisted snapshot.
func (c *Classifier) Restore(s pacing.State) {
	c.run(func() {
		c.machine.Restore(s)
		c.gates = gateState{}
		if c.machine.State() == domain.StateActive {
			c.activeSince = c.clock.Now()
		}
	})
}

// StartSession stamps a new session start. It only applies in PREGAME and
// reports whether it did. Installed lookup tables and their served flags are
// kept.
func (c *Classifier) StartSession() bool {
	var ok bool
	c.run(func() { ok = c.startSession() })
	return ok
}

func (c *Classifier) startSession() bool {
	if st := c.machine.State(); st != domain.StatePregame {
		c.logger.Debug("[CLASSIFIER] Session start rejected", "state", st)
		return false
	}
	c.machine.StartSession()
	if len(c.npcEntries) > 0 {
		c.machine.SetNPCCacheStatus(domain.CacheReady)
	}
	if len(c.scenes) > 0 {
		c.machine.SetSceneIndexStatus(domain.CacheReady)
	}
	c.gates = gateState{}
	c.activeSince = time.Time{}
	c.lastGMSpeech = time.Time{}
	c.silenceFired = false
	c.hesitationFired = false
	c.hesitation = nil
	c.stopHesitationTimer()
	c.flow.Reset()
	c.activation.Reset()
	c.sceneWindows = make(map[string]*Window[string])
	c.logger.Info("[CLASSIFIER] Session started")
	return true
}

// QueueDepth returns the number of pending trigger events.
func (c *Classifier) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.depth()
}

// SetNPCCache installs the NPC cache. Entries are shared, not copied: the
// classifier flips their Served flags in place.
func (c *Classifier) SetNPCCache(entries []*domain.NPCCacheEntry) {
	c.run(func() {
		c.npcEntries = entries
		c.npcs = buildNPCMatchers(entries)
		c.machine.SetNPCCacheStatus(domain.CacheReady)
		c.logger.Info("[CLASSIFIER] NPC cache installed", "entries", len(entries))
	})
}

// NPCCache returns a copy of the installed NPC cache.
func (c *Classifier) NPCCache() []domain.NPCCacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.NPCCacheEntry, 0, len(c.npcEntries))
	for _, e := range c.npcEntries {
		if e != nil {
			cp := *e
			cp.Aliases = append([]string(nil), e.Aliases...)
			out = append(out, cp)
		}
	}
	return out
}

// SetSceneIndex installs the scene keyword index.
func (c *Classifier) SetSceneIndex(entries []*domain.SceneIndexEntry) {
	c.run(func() {
		c.sceneEntries = entries
		c.scenes = buildSceneMatchers(entries)
		c.sceneWindows = make(map[string]*Window[string])
		c.machine.SetSceneIndexStatus(domain.CacheReady)
		c.logger.Info("[CLASSIFIER] Scene index installed", "entries", len(entries))
	})
}

// SceneIndex returns a copy of the installed scene index.
func (c *Classifier) SceneIndex() []domain.SceneIndexEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.SceneIndexEntry, 0, len(c.sceneEntries))
	for _, e := range c.sceneEntries {
		if e != nil {
			cp := *e
			cp.Keywords = append([]string(nil), e.Keywords...)
			out = append(out, cp)
		}
	}
	return out
}

// SetHesitationKeywords replaces the hesitation markers. An empty list
// restores the configured ones.
func (c *Classifier) SetHesitationKeywords(keywords []string) {
	c.run(func() {
		if len(keywords) == 0 {
			keywords = c.cfg.HesitationKeywords
		}
		c.hesitationRes = compileKeywords(keywords)
		c.logger.Info("[CLASSIFIER] Hesitation keywords installed", "keywords", len(keywords))
	})
}

// SetGarbledTerms installs the garbled-form -> canonical dictionary used for
// auto-activation and NPC normalization. An empty dictionary disables
// transcript auto-activation.
func (c *Classifier) SetGarbledTerms(dict map[string]string) {
	c.run(func() {
		c.garbled = buildGarbledTerms(dict, c.cfg.AutoActivate.MinTermLength)
		c.activation.Reset()
		if len(c.garbled) == 0 {
			c.logger.Warn("[CLASSIFIER] Garbled term dictionary empty, transcript auto-activation disabled")
			return
		}
		c.logger.Info("[CLASSIFIER] Garbled term dictionary installed", "forms", len(c.garbled))
	})
}

// MarkWikiFresh stamps wiki freshness on the pacing state.
func (c *Classifier) MarkWikiFresh() {
	c.run(c.machine.MarkWikiFresh)
}

// SetNPCCacheStatus records the NPC cache build status.
func (c *Classifier) SetNPCCacheStatus(s domain.CacheStatus) {
	c.run(func() { c.machine.SetNPCCacheStatus(s) })
}

// Close stops pending timers and waits for in-flight cache rebuilds. Queued
// events are discarded.
func (c *Classifier) Close() {
	c.mu.Lock()
	c.closed = true
	c.queue.stopTimers()
	c.stopHesitationTimer()
	c.mu.Unlock()
	c.refreshWg.Wait()
}

// ProcessSegments classifies a batch of transcript segments in order.
func (c *Classifier) ProcessSegments(segments []domain.TranscriptSegment) {
	c.run(func() {
		for _, seg := range segments {
			c.processSegment(seg, c.clock.Now())
		}
	})
}

// ProcessGameEvent handles a game engine notification. Only scene changes
// are acted on; everything else refreshes game-state freshness.
func (c *Classifier) ProcessGameEvent(ev domain.GameEvent) {
	c.run(func() {
		c.machine.MarkGameStateFresh()
		if ev.EventType != domain.GameEventSceneChange {
			return
		}
		scene, _ := ev.Data["scene"].(string)
		planned := intFromAny(ev.Data["planned_minutes"])

		if c.machine.State() == domain.StatePregame {
			c.activate(domain.ActivationEngine)
		}
		if scene != "" {
			c.machine.AdvanceScene(scene, planned)
		}
		c.emit(domain.TriggerSceneTransition, domain.P2, domain.SourceEngine, map[string]any{
			"scene":           scene,
			"planned_minutes": planned,
		})
	})
}

// Tick runs the time-based detectors. It is expected roughly every 10s.
func (c *Classifier) Tick() {
	c.run(func() { c.tick(c.clock.Now()) })
}

func (c *Classifier) tick(now time.Time) {
	c.machine.UpdateElapsed(now)
	if c.machine.State() != domain.StateActive {
		return
	}
	c.checkHesitation(now)
	c.checkSilence(now)
	if c.machine.State() != domain.StateActive {
		return
	}
	c.checkOverrun(now)
	c.checkPacingGates(now)
}

// emit creates an event and offers it to the arbiter. Outside ACTIVE only P1
// events survive.
func (c *Classifier) emit(typ domain.TriggerType, prio domain.TriggerPriority, source string, data map[string]any) {
	if st := c.machine.State(); st != domain.StateActive && prio != domain.P1 {
		c.metrics.add(c.metrics.dropped, attribute.String("reason", "gated"))
		c.logger.Debug("[CLASSIFIER] Event gated by state",
			"type", typ, "priority", prio.String(), "state", st)
		return
	}
	ev := domain.NewTriggerEvent(typ, prio, source, data, c.clock.Now())
	c.logger.Debug("[CLASSIFIER] Event classified",
		"type", typ, "priority", prio.String(), "source", source)
	c.queue.offer(ev)
}

// activate performs PREGAME->ACTIVE and notifies the sink.
func (c *Classifier) activate(source domain.ActivationSource) bool {
	from := c.machine.State()
	if guard := domain.CanTransition(from, domain.StateActive); !guard.Allowed || from != domain.StatePregame {
		return false
	}
	now := c.clock.Now()
	c.machine.TransitionTo(domain.StateActive)
	c.machine.SetActivationSource(source)
	c.enterActive(now)
	c.metrics.add(c.metrics.activations, attribute.String("source", string(source)))
	c.logger.Info("[CLASSIFIER] Session activated", "source", source)
	c.outbox = append(c.outbox, func() { c.sink.Activated(source) })
	if c.cache != nil {
		c.requestCacheRefresh()
	}
	return true
}

// requestCacheRefresh starts an asynchronous cache rebuild. The rebuild calls
// back into the classifier, so it must not run under the lock or on the
// delivery path.
func (c *Classifier) requestCacheRefresh() {
	if c.closed {
		return
	}
	c.machine.SetNPCCacheStatus(domain.CacheBuilding)
	c.refreshWg.Add(1)
	go func() {
		defer c.refreshWg.Done()
		c.cache.RefreshNPCCache()
	}()
}

// WaitRefresh blocks until every requested cache rebuild has finished.
func (c *Classifier) WaitRefresh() {
	c.refreshWg.Wait()
}

// wake performs SLEEP->ACTIVE.
func (c *Classifier) wake(reason string) bool {
	if guard := domain.CanTransition(c.machine.State(), domain.StateActive); !guard.Allowed ||
		c.machine.State() != domain.StateSleep {
		return false
	}
	c.machine.TransitionTo(domain.StateActive)
	c.enterActive(c.clock.Now())
	c.logger.Info("[CLASSIFIER] Woke from sleep", "reason", reason)
	return true
}

// sleep performs ACTIVE->SLEEP.
func (c *Classifier) sleep(reason string) bool {
	if guard := domain.CanTransition(c.machine.State(), domain.StateSleep); !guard.Allowed {
		c.logger.Debug("[CLASSIFIER] Sleep rejected", "error", guard.Error())
		return false
	}
	c.machine.TransitionTo(domain.StateSleep)
	c.hesitation = nil
	c.stopHesitationTimer()
	c.logger.Info("[CLASSIFIER] Entering sleep", "reason", reason)
	return true
}

func (c *Classifier) enterActive(now time.Time) {
	c.activeSince = now
	c.silenceFired = false
}

type seenSet struct {
	ids   map[string]struct{}
	order []string
	limit int
}

func newSeenSet(limit int) seenSet {
	return seenSet{ids: make(map[string]struct{}, limit), limit: limit}
}

// add records id and reports whether it was new.
func (s *seenSet) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.limit {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	return true
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	default:
		return 0
	}
}
