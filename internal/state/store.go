package state

import (
	"context"
	"errors"

	"github.com/haiha210/screenshot-service-be/internal/models"
)

var (
	// ErrAlreadyExists reports a conditional create against a present key.
	// Callers on the idempotent path swallow it.
	ErrAlreadyExists = errors.New("record already exists")
	ErrNotFound      = errors.New("record not found")
	// ErrThrottled marks a transient backend rejection; callers may retry.
	ErrThrottled = errors.New("record store throttled")
)

// StatusPatch is the optional field subset a status update may carry.
// Nil fields are left untouched.
type StatusPatch struct {
	Width        *int
	Height       *int
	Format       *string
	ObjectURL    *string
	ObjectKey    *string
	ErrorMessage *string
}

// Store is the request record store. Create with onlyIfAbsent and
// UpdateStatus must each be a single atomic write on the backend; status
// transition rules live in the consumer, not here.
type Store interface {
	Create(ctx context.Context, rec models.RequestRecord, onlyIfAbsent bool) error
	Get(ctx context.Context, id string) (models.RequestRecord, bool, error)
	UpdateStatus(ctx context.Context, id string, status models.Status, patch StatusPatch) error
	QueryByStatus(ctx context.Context, status models.Status, limit int) ([]models.RequestRecord, error)
}
