package history

import (
	"context"
	"sync"
)

// MemoryStore хранит историю в памяти процесса
type MemoryStore struct {
	mu       sync.RWMutex
	statuses map[string]string
	sessions []SessionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{statuses: make(map[string]string)}
}

func (m *MemoryStore) RecordDeliveryStatus(_ context.Context, msgID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[msgID] = status
	return nil
}

func (m *MemoryStore) RecordNewSession(_ context.Context, rec SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, rec)
	return nil
}

// DeliveryStatus возвращает последний записанный статус сообщения
func (m *MemoryStore) DeliveryStatus(_ context.Context, msgID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[msgID]
	if !ok {
		return "", ErrNotFound
	}
	return status, nil
}

// Sessions возвращает копию записанных сессий в порядке записи
func (m *MemoryStore) Sessions() []SessionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionRecord, len(m.sessions))
	copy(out, m.sessions)
	return out
}
