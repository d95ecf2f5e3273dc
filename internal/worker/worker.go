// Package worker consumes records queued by the async ingest endpoint.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaayud/shaayud/internal/domain"
)

// Ingester runs the ingest pipeline for one record.
type Ingester interface {
	Ingest(ctx context.Context, in *domain.IngestInput) error
}

// Worker feeds bus messages into an Ingester through a fixed pool of goroutines.
type Worker struct {
	bus      domain.EventBus
	ingester Ingester

	jobs          chan *domain.Message
	subscriptions []domain.Subscription
	wg            sync.WaitGroup

	// ctx scopes the ingests themselves and is canceled only after the pool drains.
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards stopped; enqueue holds it shared while handing off a message.
	mu      sync.RWMutex
	stopped bool

	processed atomic.Int64
	failed    atomic.Int64
}

var errStopped = errors.New("worker stopped")

// Config holds worker configuration.
type Config struct {
	// WorkerCount is the number of concurrent ingests
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, ingester Ingester) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		ingester: ingester,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to TopicEventIngested and starts the pool.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	w.jobs = make(chan *domain.Message)

	for range cfg.WorkerCount {
		w.wg.Add(1)
		go w.loop()
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicEventIngested, w.enqueue)
	if err != nil {
		w.shutdown()
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicEventIngested,
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// enqueue hands msg to an idle goroutine, blocking the subscription until one is free.
// A message handed off here is always processed, even if Stop runs meanwhile.
func (w *Worker) enqueue(_ context.Context, msg *domain.Message) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return errStopped
	}
	w.jobs <- msg
	return nil
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for msg := range w.jobs {
		w.process(msg)
	}
}

func (w *Worker) process(msg *domain.Message) {
	start := time.Now()

	in, err := domain.DecodeInput(msg.Payload)
	if err == nil {
		err = w.ingester.Ingest(w.ctx, in)
	}

	if err != nil {
		w.failed.Add(1)
		level := slog.LevelError
		if errors.Is(err, domain.ErrMalformedInput) {
			level = slog.LevelWarn
		}
		slog.Log(w.ctx, level, "async ingest failed",
			"message_id", msg.ID,
			"error", err,
		)
		return
	}

	w.processed.Add(1)
	slog.Debug("async ingest processed",
		"message_id", msg.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes and waits for in-progress ingests to finish. In-flight
// ingests keep a live context until the pool has drained. Messages still
// buffered in the bus are not consumed.
func (w *Worker) Stop() error {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	if !w.shutdown() {
		return nil
	}

	slog.Info("worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// shutdown closes the job queue once no hand-off is in progress, waits for the
// pool and then cancels the ingest context. It reports false if already stopped.
func (w *Worker) shutdown() bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	w.stopped = true
	if w.jobs != nil {
		close(w.jobs)
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()
	return true
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
