// Replay feeds a recorded session timeline through the trigger engine and
// prints every batch it would have sent to the advisor.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/sidekick/internal/config"
	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/replay"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		lexiconPath string
		tail        time.Duration
		tick        time.Duration
		start       string
		asJSON      bool
		noColor     bool
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:     "replay <timeline.ndjson | ->",
		Short:   "Replay a recorded session through the trigger engine",
		Version: version,
		Long: `Replay reads a newline-delimited JSON timeline and drives the classifier
on a simulated clock. Each line carries an "at" offset and one of
"segments", "event" or "command":

  {"at":"0s","segments":[{"id":"1","text":"who is the innkeeper?","user_id":"p1","final":true}]}
  {"at":"10s","command":"/wake"}
  {"at":"2m","event":{"event_type":"scene_change","data":{"scene":"Harbor"}}}

Classifier settings come from the same SIDEKICK_* environment as the server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			opts := replay.Options{
				TickInterval: cfg.TickInterval,
				Tail:         tail,
				LexiconPath:  cfg.LexiconPath,
				JSON:         asJSON,
				Plain:        noColor,
			}
			if cmd.Flags().Changed("lexicon") {
				opts.LexiconPath = lexiconPath
			}
			if tick > 0 {
				opts.TickInterval = tick
			}
			if start != "" {
				if opts.Start, err = time.Parse(time.RFC3339, start); err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
			}

			in, closeIn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeIn()

			entries, err := replay.ParseTimeline(in)
			if err != nil {
				return err
			}

			r, err := replay.NewRunner(cfg.ClassifierSettings(), opts, cmd.OutOrStdout(), logger)
			if err != nil {
				return err
			}
			defer r.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			sum, err := r.Run(ctx, entries)
			if err != nil {
				return err
			}
			if !asJSON {
				printSummary(cmd.OutOrStdout(), sum, noColor)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&lexiconPath, "lexicon", "", "campaign lexicon YAML (defaults to SIDEKICK_LEXICON_PATH)")
	cmd.Flags().DurationVar(&tail, "tail", time.Minute, "keep the clock running this long after the last entry")
	cmd.Flags().DurationVar(&tick, "tick", 0, "tick interval (defaults to SIDEKICK_TICK_INTERVAL)")
	cmd.Flags().StringVar(&start, "start", "", "session start time (RFC3339)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print batches as NDJSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log classifier decisions to stderr")
	return cmd
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open timeline: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func printSummary(w io.Writer, sum replay.Summary, plain bool) {
	bold := color.New(color.Bold)
	if plain {
		bold.DisableColor()
	}

	fmt.Fprintln(w)
	bold.Fprintf(w, "%d entries, %d batches\n", sum.Entries, sum.Batches)

	types := make([]domain.TriggerType, 0, len(sum.Events))
	for typ := range sum.Events {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, typ := range types {
		fmt.Fprintf(w, "  %-22s %d\n", typ, sum.Events[typ])
	}

	s := sum.Final
	fmt.Fprintf(w, "final: %s, act %d, scene %q\n", s.AssistantState, s.Act, s.Scene)
}
