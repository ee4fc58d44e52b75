package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/haiha210/screenshot-service-be/internal/models"
	"github.com/haiha210/screenshot-service-be/internal/observability"
	"github.com/haiha210/screenshot-service-be/internal/queue"
	"github.com/haiha210/screenshot-service-be/internal/renderer"
	"github.com/haiha210/screenshot-service-be/internal/state"
	"github.com/haiha210/screenshot-service-be/internal/storage"
)

// ErrMalformed marks a message that can never be handled; the queue's
// redrive policy eventually dead-letters it.
var ErrMalformed = errors.New("malformed capture message")

// staleAfter is how old a consumerProcessing claim must be before another
// worker may presume the owner dead and take over.
const staleAfter = 10 * time.Minute

// storeRetries are the in-place retry delays for throttled record store
// calls. Everything past them is the queue's redelivery loop.
var storeRetries = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Handler runs the per-message request lifecycle. A nil return acknowledges
// the message; an error leaves it for redelivery.
type Handler struct {
	store    state.Store
	objects  storage.ObjectStore
	renderer renderer.Renderer
	log      zerolog.Logger

	defaultWidth  int
	defaultHeight int

	now   func() time.Time
	sleep func(time.Duration)
}

func New(store state.Store, objects storage.ObjectStore, r renderer.Renderer, log zerolog.Logger, defaultWidth, defaultHeight int) *Handler {
	return &Handler{
		store:         store,
		objects:       objects,
		renderer:      r,
		log:           log,
		defaultWidth:  defaultWidth,
		defaultHeight: defaultHeight,
		now:           time.Now,
		sleep:         time.Sleep,
	}
}

func (h *Handler) Handle(ctx context.Context, msg queue.Message) error {
	m, err := models.ParseCaptureMessage(msg.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	m.ApplyDefaults(h.defaultWidth, h.defaultHeight)
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	m.URL = renderer.NormalizeURL(m.URL)

	log := h.log.With().Str("message_id", msg.ID).Str("request_id", m.RequestID).Logger()

	rec, err := h.loadOrCreate(ctx, log, m)
	if err != nil {
		return err
	}

	switch rec.Status {
	case models.StatusSuccess:
		// duplicate delivery of finished work
		log.Info().Msg("request already succeeded, skipping")
		observability.MessageSkips.WithLabelValues("already_succeeded").Inc()
		return nil
	case models.StatusConsumerProcessing:
		age := h.now().Sub(rec.UpdatedAt)
		if age <= staleAfter {
			log.Info().Dur("age", age).Msg("request owned by a live worker, skipping")
			observability.MessageSkips.WithLabelValues("in_progress").Inc()
			return nil
		}
		log.Warn().Dur("age", age).Msg("stale claim, taking over")
		observability.StaleTakeovers.Inc()
	}

	// claim: unconditional on status so takeover works, but updatedAt moves
	// to now so staleness is measured from this owner; an errorMessage left
	// by an earlier failed attempt is cleared
	noError := ""
	claim := state.StatusPatch{Width: &m.Width, Height: &m.Height, Format: &m.Format, ErrorMessage: &noError}
	if err := h.updateStatus(ctx, m.RequestID, models.StatusConsumerProcessing, claim); err != nil {
		return err
	}

	started := h.now()
	img, err := h.renderer.Render(ctx, renderer.Request{
		URL:      m.URL,
		Width:    m.Width,
		Height:   m.Height,
		Format:   m.Format,
		Quality:  *m.Quality,
		FullPage: m.FullPage,
	})
	observability.RenderDuration.Observe(h.now().Sub(started).Seconds())
	if err != nil {
		log.Error().Err(err).Msg("render failed")
		return h.fail(ctx, log, m.RequestID, err)
	}

	key := storage.ObjectKey(m.RequestID, m.URL, m.Format, h.now())
	objectURL, err := h.objects.Put(ctx, key, img, storage.ContentType(m.Format))
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("upload failed")
		return h.fail(ctx, log, m.RequestID, err)
	}

	done := state.StatusPatch{ObjectURL: &objectURL, ObjectKey: &key}
	if err := h.updateStatus(ctx, m.RequestID, models.StatusSuccess, done); err != nil {
		log.Error().Err(err).Msg("finalize failed")
		return h.fail(ctx, log, m.RequestID, err)
	}

	log.Info().Str("object_key", key).Msg("request completed")
	observability.MessagesHandled.WithLabelValues("success").Inc()
	return nil
}

// loadOrCreate reads the record, creating it when the enqueuer's write has
// not been observed. A lost create race falls back to the winner's record.
func (h *Handler) loadOrCreate(ctx context.Context, log zerolog.Logger, m models.CaptureMessage) (models.RequestRecord, error) {
	rec, ok, err := h.getRecord(ctx, m.RequestID)
	if err != nil {
		return models.RequestRecord{}, err
	}
	if ok {
		return rec, nil
	}

	log.Warn().Msg("record missing at delivery, creating")
	fresh := models.RequestRecord{
		ID:       m.RequestID,
		URL:      m.URL,
		Status:   models.StatusProcessing,
		Width:    m.Width,
		Height:   m.Height,
		Format:   m.Format,
		Quality:  *m.Quality,
		FullPage: m.FullPage,
	}
	err = h.withRetry(ctx, func() error {
		return h.store.Create(ctx, fresh, true)
	})
	switch {
	case err == nil:
		rec, _, err = h.getRecord(ctx, m.RequestID)
		if err != nil {
			return models.RequestRecord{}, err
		}
		return rec, nil
	case errors.Is(err, state.ErrAlreadyExists):
		rec, ok, err = h.getRecord(ctx, m.RequestID)
		if err != nil {
			return models.RequestRecord{}, err
		}
		if !ok {
			return models.RequestRecord{}, fmt.Errorf("record %s vanished after create race", m.RequestID)
		}
		return rec, nil
	default:
		return models.RequestRecord{}, err
	}
}

// fail writes the failed record and surfaces the primary error so the queue
// redelivers. A secondary store failure is logged, never masked.
func (h *Handler) fail(ctx context.Context, log zerolog.Logger, id string, cause error) error {
	msg := cause.Error()
	patch := state.StatusPatch{ErrorMessage: &msg}
	if err := h.updateStatus(ctx, id, models.StatusFailed, patch); err != nil {
		log.Error().Err(err).Msg("writing failed status")
	}
	observability.MessagesHandled.WithLabelValues("failed").Inc()
	return cause
}

func (h *Handler) getRecord(ctx context.Context, id string) (rec models.RequestRecord, ok bool, err error) {
	err = h.withRetry(ctx, func() error {
		rec, ok, err = h.store.Get(ctx, id)
		return err
	})
	return rec, ok, err
}

func (h *Handler) updateStatus(ctx context.Context, id string, status models.Status, patch state.StatusPatch) error {
	return h.withRetry(ctx, func() error {
		return h.store.UpdateStatus(ctx, id, status, patch)
	})
}

// withRetry re-runs fn on throttling with fixed backoff, then gives up and
// lets the queue redeliver.
func (h *Handler) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; ; i++ {
		err = fn()
		if err == nil || !errors.Is(err, state.ErrThrottled) || i >= len(storeRetries) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		h.sleep(storeRetries[i])
	}
}
