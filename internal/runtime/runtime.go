package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/haiha210/screenshot-service-be/internal/config"
	"github.com/haiha210/screenshot-service-be/internal/models"
	"github.com/haiha210/screenshot-service-be/internal/observability"
	"github.com/haiha210/screenshot-service-be/internal/queue"
	"github.com/haiha210/screenshot-service-be/internal/renderer"
	"github.com/haiha210/screenshot-service-be/internal/state"
)

// Handler processes one delivery. nil acknowledges the message.
type Handler interface {
	Handle(ctx context.Context, msg queue.Message) error
}

// statusSampleInterval paces the requests-by-status gauge refresh.
const statusSampleInterval = time.Minute

// Runtime owns the process lifecycle: the receive loop, the bounded handler
// pool, the health and metrics listeners, and the drain on shutdown.
type Runtime struct {
	cfg     config.Config
	queue   queue.Consumer
	handler Handler
	store   state.Store
	log     zerolog.Logger
}

func New(cfg config.Config, q queue.Consumer, h Handler, store state.Store, log zerolog.Logger) *Runtime {
	return &Runtime{cfg: cfg, queue: q, handler: h, store: store, log: log}
}

// Run consumes until ctx is cancelled, then drains in-flight handlers within
// the shutdown deadline. A non-nil return means the process should exit
// non-zero.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	health := r.startHealth()
	defer r.stopServer(health)
	if metrics := r.startMetrics(); metrics != nil {
		defer r.stopServer(metrics)
	}
	if r.store != nil {
		go r.sampleStatuses(ctx)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		engineErr error
	)
	// semaphore bounds in-flight handlers at the receive batch size
	slots := make(chan struct{}, r.cfg.BatchSize)

	r.log.Info().Int("concurrency", r.cfg.BatchSize).Msg("worker started")
	for ctx.Err() == nil {
		msgs, err := r.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			r.log.Error().Err(err).Msg("receive failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				// message stays invisible until the timeout, then redelivers
				break
			}
			wg.Add(1)
			go func(msg queue.Message) {
				defer wg.Done()
				defer func() { <-slots }()
				if err := r.handle(msg); err != nil && errors.Is(err, renderer.ErrEngine) {
					mu.Lock()
					engineErr = err
					mu.Unlock()
					cancel()
				}
			}(msg)
		}
	}

	r.log.Info().Msg("shutting down, draining handlers")
	if !waitWithDeadline(&wg, r.cfg.ShutdownTimeout) {
		return fmt.Errorf("shutdown deadline %s exceeded with handlers in flight", r.cfg.ShutdownTimeout)
	}
	mu.Lock()
	defer mu.Unlock()
	return engineErr
}

// handle runs one delivery on its own context so an in-flight message can
// finish during shutdown. Its timeout matches the visibility timeout; past
// it the queue has redelivered anyway and the writes stay idempotent.
func (r *Runtime) handle(msg queue.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.VisibilityTimeout)
	defer cancel()

	observability.InflightHandlers.Inc()
	defer observability.InflightHandlers.Dec()

	err := r.handler.Handle(ctx, msg)
	if err != nil {
		r.log.Warn().Err(err).Str("message_id", msg.ID).Msg("message left for redelivery")
		return err
	}
	if err := r.queue.Delete(ctx, msg); err != nil {
		// redelivery will be skipped by the record status check
		r.log.Error().Err(err).Str("message_id", msg.ID).Msg("ack failed")
	}
	return nil
}

// sampleStatuses refreshes the requests-by-status gauges from the secondary
// index.
func (r *Runtime) sampleStatuses(ctx context.Context) {
	t := time.NewTicker(statusSampleInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, status := range []models.Status{models.StatusProcessing, models.StatusFailed} {
				recs, err := r.store.QueryByStatus(ctx, status, 100)
				if err != nil {
					r.log.Debug().Err(err).Str("status", string(status)).Msg("status sample failed")
					continue
				}
				observability.RequestsByStatus.WithLabelValues(string(status)).Set(float64(len(recs)))
			}
		}
	}
}

func waitWithDeadline(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
