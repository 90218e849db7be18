// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ashureev/sidekick/internal/advisor"
	"github.com/ashureev/sidekick/internal/classifier"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "SIDEKICK_"

// Config holds all application configuration.
type Config struct {
	Port         string        `env:"PORT"          envDefault:"8080"`
	FrontendURL  string        `env:"FRONTEND_URL"`
	DBPath       string        `env:"DB_PATH"       envDefault:"./data/sidekick.db"`
	LogLevel     string        `env:"LOG_LEVEL"     envDefault:"info"`
	LexiconPath  string        `env:"LEXICON_PATH"`
	WatchLexicon bool          `env:"WATCH_LEXICON" envDefault:"true"`
	AdvisorAddr  string        `env:"ADVISOR_ADDR"`
	BridgeToken  string        `env:"BRIDGE_TOKEN"`
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"10s"`
	SnapshotKeep int           `env:"SNAPSHOT_KEEP" envDefault:"200"`

	Classifier ClassifierConfig `envPrefix:"CLASSIFIER_"`
	Dispatch   DispatchConfig   `envPrefix:"DISPATCH_"`
	SSE        SSEConfig        `envPrefix:"SSE_"`
	Telemetry  TelemetryConfig  `envPrefix:"OTEL_"`
}

// ClassifierConfig exposes the most commonly tuned classifier settings. The
// arbitration queue capacity is fixed and not configurable.
type ClassifierConfig struct {
	GMIdentifier       string        `env:"GM_IDENTIFIER"`
	BatchWindow        time.Duration `env:"BATCH_WINDOW"         envDefault:"8s"`
	MinInterval        time.Duration `env:"MIN_INTERVAL"         envDefault:"30s"`
	OverrunMinutes     float64       `env:"OVERRUN_MINUTES"      envDefault:"10"`
	ActiveSilence      time.Duration `env:"ACTIVE_SILENCE"       envDefault:"90s"`
	SleepSilence       time.Duration `env:"SLEEP_SILENCE"        envDefault:"15m"`
	HesitationSilence  time.Duration `env:"HESITATION_SILENCE"   envDefault:"5s"`
	HesitationKeywords []string      `env:"HESITATION_KEYWORDS"  envDefault:"uh,um,uhh,umm,hmm,er,let me think,let me see" envSeparator:","`
	ConvergenceGate    time.Duration `env:"CONVERGENCE_GATE"     envDefault:"45m"`
	DenouementGate     time.Duration `env:"DENOUEMENT_GATE"      envDefault:"15m"`
	AutoActivate       bool          `env:"AUTO_ACTIVATE"        envDefault:"true"`
	AutoActivateWindow time.Duration `env:"AUTO_ACTIVATE_WINDOW" envDefault:"5m"`
	AutoActivateHits   int           `env:"AUTO_ACTIVATE_HITS"   envDefault:"3"`
	MinTermLength      int           `env:"MIN_TERM_LENGTH"      envDefault:"4"`
	FinalAct           int           `env:"FINAL_ACT"            envDefault:"3"`
}

// DispatchConfig sizes the advisor worker pool.
type DispatchConfig struct {
	Workers   int `env:"WORKERS"    envDefault:"4"`
	QueueSize int `env:"QUEUE_SIZE" envDefault:"100"`
}

// SSEConfig holds SSE connection configuration.
type SSEConfig struct {
	RetryDelay        time.Duration `env:"RETRY_DELAY"        envDefault:"5s"`
	KeepaliveInterval time.Duration `env:"KEEPALIVE_INTERVAL" envDefault:"10s"`
	ReplaySize        int           `env:"REPLAY_SIZE"        envDefault:"100"`
}

// TelemetryConfig configures OTLP export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint       string        `env:"ENDPOINT"`
	Insecure       bool          `env:"INSECURE"        envDefault:"true"`
	MetricInterval time.Duration `env:"METRIC_INTERVAL" envDefault:"30s"`
}

// Load reads configuration from SIDEKICK_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("SIDEKICK_PORT cannot be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("SIDEKICK_DB_PATH cannot be empty"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("SIDEKICK_TICK_INTERVAL must be > 0"))
	}
	if c.SnapshotKeep <= 0 {
		errs = append(errs, errors.New("SIDEKICK_SNAPSHOT_KEEP must be > 0"))
	}
	if c.Classifier.ConvergenceGate < 0 || c.Classifier.DenouementGate < 0 {
		errs = append(errs, errors.New("classifier pacing gates cannot be negative"))
	}
	if c.Classifier.ConvergenceGate > 0 && c.Classifier.DenouementGate > c.Classifier.ConvergenceGate {
		errs = append(errs, errors.New("SIDEKICK_CLASSIFIER_DENOUEMENT_GATE must not exceed CONVERGENCE_GATE"))
	}
	if c.Classifier.MinTermLength <= 0 {
		errs = append(errs, errors.New("SIDEKICK_CLASSIFIER_MIN_TERM_LENGTH must be > 0"))
	}
	if c.Classifier.BatchWindow < 0 || c.Classifier.MinInterval < 0 {
		errs = append(errs, errors.New("classifier batch window and min interval cannot be negative"))
	}
	if c.Classifier.SleepSilence > 0 && c.Classifier.ActiveSilence >= c.Classifier.SleepSilence {
		errs = append(errs, errors.New("SIDEKICK_CLASSIFIER_ACTIVE_SILENCE must be shorter than SLEEP_SILENCE"))
	}
	if c.Dispatch.Workers <= 0 || c.Dispatch.QueueSize <= 0 {
		errs = append(errs, errors.New("dispatch workers and queue size must be > 0"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// ClassifierSettings overlays the configured values on the classifier defaults.
func (c *Config) ClassifierSettings() classifier.Config {
	cc := classifier.DefaultConfig()
	cc.GMIdentifier = c.Classifier.GMIdentifier
	cc.BatchWindow = c.Classifier.BatchWindow
	cc.MinInterval = c.Classifier.MinInterval
	cc.SceneOverrunThreshold = c.Classifier.OverrunMinutes
	cc.ActiveSilence = c.Classifier.ActiveSilence
	cc.SleepSilence = c.Classifier.SleepSilence
	cc.HesitationSilence = c.Classifier.HesitationSilence
	if kws := trimAll(c.Classifier.HesitationKeywords); len(kws) > 0 {
		cc.HesitationKeywords = kws
	}
	cc.ConvergenceGate = c.Classifier.ConvergenceGate
	cc.DenouementGate = c.Classifier.DenouementGate
	cc.AutoActivate.Enabled = c.Classifier.AutoActivate
	cc.AutoActivate.Window = c.Classifier.AutoActivateWindow
	cc.AutoActivate.Threshold = c.Classifier.AutoActivateHits
	cc.AutoActivate.MinTermLength = c.Classifier.MinTermLength
	cc.FinalAct = c.Classifier.FinalAct
	return cc
}

// HubSettings returns the dashboard stream configuration.
func (c *Config) HubSettings() advisor.HubConfig {
	return advisor.HubConfig{
		RetryDelay:        c.SSE.RetryDelay,
		KeepaliveInterval: c.SSE.KeepaliveInterval,
		ReplaySize:        c.SSE.ReplaySize,
	}
}

// DispatcherSettings returns the advisor worker pool configuration.
func (c *Config) DispatcherSettings() advisor.DispatcherConfig {
	return advisor.DispatcherConfig{Workers: c.Dispatch.Workers, QueueSize: c.Dispatch.QueueSize}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("SIDEKICK_LOG_LEVEL: %w", err)
	}
	return l, nil
}
