package classifier

import "time"

// AutoActivateConfig controls transcript-derived activation while in PREGAME.
type AutoActivateConfig struct {
	Enabled       bool
	Window        time.Duration
	Threshold     int
	MinTermLength int
}

// Config holds every tunable the classifier reads. It is passed by value at
// construction time; there is no package-level configuration.
type Config struct {
	// Arbitration.
	BatchWindow time.Duration
	MinInterval time.Duration
	QueueCap    int

	// Scene overrun, in minutes past the planned maximum.
	SceneOverrunThreshold float64

	// GM silence: ActiveSilence raises P4, SleepSilence forces ACTIVE->SLEEP.
	ActiveSilence time.Duration
	SleepSilence  time.Duration

	AutoActivate AutoActivateConfig

	HesitationSilence  time.Duration
	HesitationKeywords []string

	// Pacing gates, expressed as remaining time before the session end.
	ConvergenceGate time.Duration
	DenouementGate  time.Duration
	EscalationDelay time.Duration
	FinalAct        int

	// GMIdentifier is matched case-insensitively against user ID, display
	// name and speaker label. Empty means every speaker counts as the GM.
	GMIdentifier string

	// Flowing dialogue detection.
	FlowWindow      time.Duration
	FlowMinSegments int
	FlowMinSpeakers int

	// Scene keyword accumulation.
	SceneKeywordWindow time.Duration
	SceneKeywordMin    int
}

// DefaultConfig returns the default classifier configuration.
func DefaultConfig() Config {
	return Config{
		BatchWindow:           8 * time.Second,
		MinInterval:           30 * time.Second,
		QueueCap:              100,
		SceneOverrunThreshold: 10,
		ActiveSilence:         90 * time.Second,
		SleepSilence:          15 * time.Minute,
		AutoActivate: AutoActivateConfig{
			Enabled:       true,
			Window:        5 * time.Minute,
			Threshold:     3,
			MinTermLength: 4,
		},
		HesitationSilence:  5 * time.Second,
		HesitationKeywords: []string{"uh", "um", "uhh", "umm", "hmm", "er", "let me think", "let me see"},
		ConvergenceGate:    45 * time.Minute,
		DenouementGate:     15 * time.Minute,
		EscalationDelay:    10 * time.Minute,
		FinalAct:           3,
		FlowWindow:         60 * time.Second,
		FlowMinSegments:    4,
		FlowMinSpeakers:    2,
		SceneKeywordWindow: 3 * time.Minute,
		SceneKeywordMin:    2,
	}
}

// withDefaults fills zero-valued structural fields the classifier cannot run without.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueCap <= 0 {
		c.QueueCap = d.QueueCap
	}
	if c.FlowWindow <= 0 {
		c.FlowWindow = d.FlowWindow
	}
	if c.FlowMinSegments <= 0 {
		c.FlowMinSegments = d.FlowMinSegments
	}
	if c.FlowMinSpeakers <= 0 {
		c.FlowMinSpeakers = d.FlowMinSpeakers
	}
	if c.SceneKeywordWindow <= 0 {
		c.SceneKeywordWindow = d.SceneKeywordWindow
	}
	if c.SceneKeywordMin <= 0 {
		c.SceneKeywordMin = d.SceneKeywordMin
	}
	if c.AutoActivate.Window <= 0 {
		c.AutoActivate.Window = d.AutoActivate.Window
	}
	if c.AutoActivate.Threshold <= 0 {
		c.AutoActivate.Threshold = d.AutoActivate.Threshold
	}
	return c
}
