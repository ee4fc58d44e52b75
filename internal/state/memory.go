package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haiha210/screenshot-service-be/internal/models"
)

// Memory is an in-process Store used by tests and local runs. Timestamps
// already present on a created record are preserved so tests can seed
// stale states.
type Memory struct {
	mu      sync.Mutex
	records map[string]models.RequestRecord
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]models.RequestRecord),
		now:     time.Now,
	}
}

// SetClock replaces the store clock, for staleness tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Create(_ context.Context, rec models.RequestRecord, onlyIfAbsent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok && onlyIfAbsent {
		return ErrAlreadyExists
	}
	now := m.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (models.RequestRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok, nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, status models.Status, patch StatusPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.UpdatedAt = m.now().UTC()
	if patch.Width != nil {
		rec.Width = *patch.Width
	}
	if patch.Height != nil {
		rec.Height = *patch.Height
	}
	if patch.Format != nil {
		rec.Format = *patch.Format
	}
	if patch.ObjectURL != nil {
		rec.ObjectURL = *patch.ObjectURL
	}
	if patch.ObjectKey != nil {
		rec.ObjectKey = *patch.ObjectKey
	}
	if patch.ErrorMessage != nil {
		rec.ErrorMessage = *patch.ErrorMessage
	}
	m.records[id] = rec
	return nil
}

func (m *Memory) QueryByStatus(_ context.Context, status models.Status, limit int) ([]models.RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RequestRecord, 0, len(m.records))
	for _, rec := range m.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
