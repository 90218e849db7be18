package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ashureev/sidekick/internal/classifier"
	"github.com/ashureev/sidekick/internal/clock"
	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/lexicon"
	"github.com/ashureev/sidekick/internal/pacing"
)

// Options configures a replay run.
type Options struct {
	Start        time.Time
	TickInterval time.Duration
	LexiconPath  string
	JSON         bool
	Plain        bool

	// Tail keeps the clock running after the last entry so pending
	// batches and timers can fire.
	Tail time.Duration
}

// Summary describes a finished run.
type Summary struct {
	Entries int
	Batches int
	Events  map[domain.TriggerType]int
	Final   pacing.State
}

// Runner replays timelines through a classifier driven by a manual clock.
type Runner struct {
	opts    Options
	clk     *clock.Manual
	clf     *classifier.Classifier
	printer *Printer
	logger  *slog.Logger
}

// NewRunner builds a classifier with cfg and wires its output to w.
func NewRunner(cfg classifier.Config, opts Options, w io.Writer, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Start.IsZero() {
		opts.Start = time.Date(2000, 1, 1, 19, 0, 0, 0, time.UTC)
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = classifier.DefaultTickInterval
	}

	clk := clock.NewManual(opts.Start)
	printer := NewPrinter(w, opts.Start, clk.Now, opts.JSON, opts.Plain)

	clfOpts := []classifier.Option{classifier.WithLogger(logger)}
	var lex *lexicon.Controller
	if opts.LexiconPath != "" {
		lex = lexicon.NewController(opts.LexiconPath, logger)
		clfOpts = append(clfOpts, classifier.WithCacheController(lex))
	}
	clf := classifier.New(cfg, nil, clk, printer, clfOpts...)
	if lex != nil {
		lex.Bind(clf)
		if err := lex.Build(); err != nil {
			clf.Close()
			return nil, fmt.Errorf("load lexicon: %w", err)
		}
	}

	return &Runner{opts: opts, clk: clk, clf: clf, printer: printer, logger: logger}, nil
}

// Run applies every entry at its offset, ticking the classifier on the
// configured interval in between.
func (r *Runner) Run(ctx context.Context, entries []Entry) (Summary, error) {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return r.summary(len(entries)), err
		}
		r.advanceTo(r.opts.Start.Add(time.Duration(e.At)))
		r.apply(e)
	}

	end := r.clk.Now().Add(r.opts.Tail)
	r.advanceTo(end)
	return r.summary(len(entries)), nil
}

// Close releases the classifier's timers.
func (r *Runner) Close() {
	r.clf.Close()
}

func (r *Runner) apply(e Entry) {
	switch {
	case len(e.Segments) > 0:
		r.clf.ProcessSegments(e.Segments)
	case e.Event != nil:
		r.clf.ProcessGameEvent(*e.Event)
	case e.Command != "":
		cmd, _ := domain.ParseCommand(e.Command)
		res := r.clf.HandleCommand(cmd)
		if res.OK {
			r.printer.Note("%s: %s", e.Command, res.Message)
		} else {
			r.printer.Note("%s rejected: %s", e.Command, res.Message)
		}
	}
	// Cache rebuilds run in the background; finish them so output stays
	// deterministic.
	r.clf.WaitRefresh()
	r.logger.Debug("[REPLAY] Entry applied", "line", e.line, "at", time.Duration(e.At))
}

// advanceTo moves the clock in tick-sized steps so time-based detectors see
// the same cadence they would in a live session.
func (r *Runner) advanceTo(target time.Time) {
	for {
		next := r.clk.Now().Add(r.opts.TickInterval)
		if next.After(target) {
			break
		}
		r.clk.Set(next)
		r.clf.Tick()
	}
	r.clk.Set(target)
}

func (r *Runner) summary(entries int) Summary {
	batches, events := r.printer.Counts()
	return Summary{
		Entries: entries,
		Batches: batches,
		Events:  events,
		Final:   r.clf.Snapshot(),
	}
}
