package classifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/sidekick/internal/pacing"
)

// DefaultTickInterval is the cadence of the time-based detectors.
const DefaultTickInterval = 10 * time.Second

// TickCallback is called after every tick with a snapshot of the pacing state.
type TickCallback func(state pacing.State)

// StartTickWorker runs a background goroutine that calls Tick on the
// classifier every interval until ctx is cancelled.
func StartTickWorker(ctx context.Context, c *Classifier, interval time.Duration, onTick TickCallback) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Tick worker started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				c.Tick()
				if onTick != nil {
					onTick(c.Snapshot())
				}
			case <-ctx.Done():
				slog.Info("Tick worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
