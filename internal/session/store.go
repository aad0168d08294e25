package session

import (
	"context"
	"sync"

	"github.com/docsession/uploader/internal/models"
)

// Store keeps the uploaded-file records behind the recent-files endpoint.
type Store interface {
	SaveRecords(ctx context.Context, records ...models.SessionFileRecord) error
	RecentRecords(ctx context.Context, limit int) ([]models.SessionFileRecord, error)
}

const maxStoredRecords = 1000

// MemoryStore is the default single-node record store.
type MemoryStore struct {
	mu      sync.Mutex
	records []models.SessionFileRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveRecords prepends the records, newest first.
func (m *MemoryStore) SaveRecords(_ context.Context, records ...models.SessionFileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(append([]models.SessionFileRecord{}, records...), m.records...)
	if len(m.records) > maxStoredRecords {
		m.records = m.records[:maxStoredRecords]
	}
	return nil
}

func (m *MemoryStore) RecentRecords(_ context.Context, limit int) ([]models.SessionFileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]models.SessionFileRecord, limit)
	copy(out, m.records[:limit])
	return out, nil
}
