package classifier

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ashureev/sidekick/internal/clock"
	"github.com/ashureev/sidekick/internal/domain"
)

// arbiter is the bounded priority queue that decides when pending trigger
// events are flushed as a batch.
//
// A P1 arrival flushes immediately. Anything else starts the batch window
// timer if none is running. A pending set holding a P1 or P2 ignores the
// minimum interval and flushes at once. Any other set that comes due inside
// the interval gets a single deferred flush for when the interval lapses.
//
// All methods run under the classifier lock. Timer callbacks are wrapped by
// the classifier so they take the same lock.
type arbiter struct {
	capacity    int
	window      time.Duration
	minInterval time.Duration

	now       func() time.Time
	afterFunc func(time.Duration, func()) clock.Timer
	deliver   func(domain.TriggerBatch)
	metrics   *metrics
	logger    *slog.Logger

	pending   []domain.TriggerEvent
	lastFlush time.Time

	windowTimer clock.Timer
	windowGen   uint64
	deferTimer  clock.Timer
	deferGen    uint64
}

// offer adds ev to the queue. It reports false when ev was dropped because
// the queue is full of events at least as urgent.
func (a *arbiter) offer(ev domain.TriggerEvent) bool {
	if len(a.pending) >= a.capacity {
		idx := a.leastUrgent()
		victim := a.pending[idx]
		if ev.Priority >= victim.Priority {
			a.metrics.add(a.metrics.dropped, attribute.String("reason", "queue_full"))
			a.logger.Warn("[ARBITER] Queue full, dropping event",
				"type", ev.Type, "priority", ev.Priority.String())
			return false
		}
		a.pending = append(a.pending[:idx], a.pending[idx+1:]...)
		a.metrics.add(a.metrics.evicted, attribute.String("priority", victim.Priority.String()))
		a.logger.Debug("[ARBITER] Evicted queued event",
			"type", victim.Type, "priority", victim.Priority.String())
	}

	a.pending = append(a.pending, ev)
	a.metrics.depth.Store(int64(len(a.pending)))
	a.metrics.add(a.metrics.enqueued, attribute.String("priority", ev.Priority.String()))

	if ev.Priority == domain.P1 {
		a.flush()
		return true
	}
	if a.windowTimer == nil {
		a.windowGen++
		gen := a.windowGen
		a.windowTimer = a.afterFunc(a.window, func() { a.onWindow(gen) })
	}
	return true
}

// leastUrgent returns the index of the lowest-priority event, newest among ties.
func (a *arbiter) leastUrgent() int {
	idx := 0
	for i, ev := range a.pending {
		if ev.Priority >= a.pending[idx].Priority {
			idx = i
		}
	}
	return idx
}

func (a *arbiter) onWindow(gen uint64) {
	if gen != a.windowGen || a.windowTimer == nil {
		return
	}
	a.windowTimer = nil
	a.flush()
}

func (a *arbiter) onDeferred(gen uint64) {
	if gen != a.deferGen || a.deferTimer == nil {
		return
	}
	a.deferTimer = nil
	a.flush()
}

// exempt reports whether the pending set may bypass the minimum interval.
func (a *arbiter) exempt() bool {
	for _, ev := range a.pending {
		if ev.Priority <= domain.P2 {
			return true
		}
	}
	return false
}

func (a *arbiter) flush() {
	if len(a.pending) == 0 {
		a.stopTimers()
		return
	}

	now := a.now()
	if !a.lastFlush.IsZero() && !a.exempt() {
		if since := now.Sub(a.lastFlush); since < a.minInterval {
			if a.deferTimer == nil {
				a.deferGen++
				gen := a.deferGen
				a.deferTimer = a.afterFunc(a.minInterval-since, func() { a.onDeferred(gen) })
				a.metrics.add(a.metrics.deferred)
				a.logger.Debug("[ARBITER] Flush deferred by minimum interval",
					"pending", len(a.pending), "wait", a.minInterval-since)
			}
			return
		}
	}

	a.stopTimers()

	events := a.pending
	a.pending = nil
	a.metrics.depth.Store(0)
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Priority != events[j].Priority {
			return events[i].Priority < events[j].Priority
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	a.lastFlush = now
	batch := domain.TriggerBatch{ID: uuid.NewString(), Events: events, FlushedAt: now}
	a.metrics.add(a.metrics.batches, attribute.String("priority", batch.HighestPriority().String()))
	a.logger.Info("[ARBITER] Flushing batch",
		"batch_id", batch.ID, "events", len(events), "highest", batch.HighestPriority().String())
	a.deliver(batch)
}

func (a *arbiter) stopTimers() {
	if a.windowTimer != nil {
		a.windowTimer.Stop()
		a.windowTimer = nil
	}
	if a.deferTimer != nil {
		a.deferTimer.Stop()
		a.deferTimer = nil
	}
}

// depth returns the number of pending events.
func (a *arbiter) depth() int { return len(a.pending) }
