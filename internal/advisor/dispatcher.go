package advisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/pacing"
	"github.com/ashureev/sidekick/internal/telemetry"
)

// StateSource supplies the pacing state sent alongside each batch.
type StateSource interface {
	Snapshot() pacing.State
}

// Recorder persists batches and the advice they produced.
type Recorder interface {
	RecordBatch(ctx context.Context, batch domain.TriggerBatch) error
	RecordAdvice(ctx context.Context, adv *Advice) error
}

// Publisher pushes events to the dashboard.
type Publisher interface {
	Publish(event string, v any) bool
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
}

// DefaultDispatcherConfig returns default configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{Workers: 4, QueueSize: 100}
}

// ActivationNotice is published when the assistant leaves PREGAME.
type ActivationNotice struct {
	Source        domain.ActivationSource `json:"source"`
	AdvisorHealth string                  `json:"advisor_health"`
	At            time.Time               `json:"at"`
}

type adviseJob struct {
	batch domain.TriggerBatch
}

// Dispatcher receives flushed batches from the classifier and runs them
// through the advisor on a bounded worker pool. It satisfies classifier.Sink.
type Dispatcher struct {
	proc   Processor
	rec    Recorder
	pub    Publisher
	cfg    DispatcherConfig
	logger *slog.Logger
	tracer trace.Tracer

	state StateSource
	ctx   context.Context

	jobChan  chan adviseJob
	workerWg sync.WaitGroup
	hookWg   sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewDispatcher creates a dispatcher. rec and pub may be nil.
func NewDispatcher(proc Processor, rec Recorder, pub Publisher, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultDispatcherConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	return &Dispatcher{
		proc:    proc,
		rec:     rec,
		pub:     pub,
		cfg:     cfg,
		logger:  logger,
		tracer:  telemetry.Tracer("sidekick/advisor"),
		ctx:     context.Background(),
		jobChan: make(chan adviseJob, cfg.QueueSize),
	}
}

// Start launches the workers. state is read by workers, never from inside
// DeliverBatch, so the classifier may be passed here.
func (d *Dispatcher) Start(ctx context.Context, state StateSource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	d.ctx = ctx
	d.state = state

	for i := 0; i < d.cfg.Workers; i++ {
		d.workerWg.Add(1)
		go d.worker()
	}
	d.logger.Info("[DISPATCH] Worker pool started", "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize)
}

// Stop drains queued batches and waits for workers and hooks to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobChan)
	d.mu.Unlock()

	d.workerWg.Wait()
	d.hookWg.Wait()
}

// DeliverBatch enqueues a batch without blocking. A full queue drops it.
func (d *Dispatcher) DeliverBatch(batch domain.TriggerBatch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		d.logger.Warn("[DISPATCH] Dispatcher stopped, dropping batch", "batch_id", batch.ID)
		return
	}

	select {
	case d.jobChan <- adviseJob{batch: batch}:
		d.logger.Debug("[DISPATCH] Batch enqueued",
			"batch_id", batch.ID,
			"events", len(batch.Events),
			"priority", batch.HighestPriority().String(),
		)
	default:
		d.logger.Warn("[DISPATCH] Job queue full, dropping batch",
			"batch_id", batch.ID,
			"events", len(batch.Events),
		)
	}
}

// Activated checks advisor health in the background and announces the
// activation on the dashboard.
func (d *Dispatcher) Activated(source domain.ActivationSource) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	ctx := d.ctx
	d.hookWg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.hookWg.Done()

		health := "ok"
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := d.proc.Health(hctx); err != nil {
			health = err.Error()
			d.logger.Warn("[DISPATCH] Advisor unhealthy at activation", "source", source, "error", err)
		}
		d.logger.Info("[DISPATCH] Session activated", "source", source, "advisor_health", health)
		d.publish(EventState, ActivationNotice{Source: source, AdvisorHealth: health, At: time.Now()})
	}()
}

func (d *Dispatcher) worker() {
	defer d.workerWg.Done()
	for job := range d.jobChan {
		d.process(job)
	}
}

func (d *Dispatcher) process(job adviseJob) {
	ctx, span := d.tracer.Start(d.ctx, "advisor.advise",
		trace.WithAttributes(
			attribute.String("batch.id", job.batch.ID),
			attribute.Int("batch.events", len(job.batch.Events)),
			attribute.String("batch.priority", job.batch.HighestPriority().String()),
		))
	defer span.End()

	if d.rec != nil {
		if err := d.rec.RecordBatch(ctx, job.batch); err != nil {
			d.logger.Warn("[DISPATCH] Failed to record batch", "batch_id", job.batch.ID, "error", err)
		}
	}
	d.publish(EventBatch, job.batch)

	req := Request{Batch: job.batch}
	if d.state != nil {
		req.State = d.state.Snapshot()
	}

	chunks := 0
	for adv, err := range d.proc.Advise(ctx, req) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.logger.Error("[DISPATCH] Advisor stream error", "batch_id", job.batch.ID, "error", err)
			d.publish(EventAdvice, &Advice{
				BatchID:   job.batch.ID,
				Kind:      AdviceError,
				Content:   "advisor unavailable",
				Priority:  job.batch.HighestPriority(),
				CreatedAt: time.Now(),
			})
			break
		}
		if adv.Silent() {
			continue
		}
		chunks++
		if d.rec != nil {
			if err := d.rec.RecordAdvice(ctx, adv); err != nil {
				d.logger.Warn("[DISPATCH] Failed to record advice", "batch_id", adv.BatchID, "error", err)
			}
		}
		d.publish(EventAdvice, adv)
	}
	span.SetAttributes(attribute.Int("advice.chunks", chunks))
	d.logger.Info("[DISPATCH] Batch advised", "batch_id", job.batch.ID, "chunks", chunks)
}

func (d *Dispatcher) publish(event string, v any) {
	if d.pub == nil {
		return
	}
	d.pub.Publish(event, v)
}
