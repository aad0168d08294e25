package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docsession/uploader/internal/models"
)

// maxMemoryRecords bounds the in-process history; delta detection never
// looks further back than this anyway.
const maxMemoryRecords = 100

// Memory keeps records in process, newest first.
type Memory struct {
	mu      sync.RWMutex
	records []models.SessionFileRecord
}

func NewMemory() *Memory {
	return &Memory{}
}

// Seed replaces the held records wholesale, for example with a fetch from
// the session service.
func (m *Memory) Seed(records []models.SessionFileRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append([]models.SessionFileRecord(nil), records...)
	m.trim()
}

func (m *Memory) RegisterUpload(_ context.Context, records ...models.SessionFileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
		m.records = append([]models.SessionFileRecord{rec}, m.records...)
	}
	m.trim()

	return nil
}

func (m *Memory) RecentFiles(_ context.Context, limit int) ([]models.SessionFileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	return append([]models.SessionFileRecord(nil), m.records[:limit]...), nil
}

func (m *Memory) trim() {
	if len(m.records) > maxMemoryRecords {
		m.records = m.records[:maxMemoryRecords]
	}
}
