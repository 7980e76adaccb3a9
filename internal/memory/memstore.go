package memory

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory Provider and Sink for local development and
// tests.
type MemStore struct {
	mu         sync.Mutex
	profiles   map[string]Profile
	reminders  map[string]Reminder
	records    []CallRecord
	recordings map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{
		profiles:   make(map[string]Profile),
		reminders:  make(map[string]Reminder),
		recordings: make(map[string][]byte),
	}
}

func (m *MemStore) PutProfile(p Profile) {
	m.mu.Lock()
	m.profiles[p.CallerID] = p
	m.mu.Unlock()
}

func (m *MemStore) PutReminder(r Reminder) {
	m.mu.Lock()
	m.reminders[r.ID] = r
	m.mu.Unlock()
}

func (m *MemStore) LoadProfile(ctx context.Context, callerID string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[callerID]; ok {
		return p, nil
	}
	return Profile{CallerID: callerID}, nil
}

func (m *MemStore) PendingReminders(ctx context.Context, callerID string, now time.Time) ([]Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reminder
	for _, r := range m.reminders {
		if r.CallerID == callerID && !r.Delivered && !r.DueAt.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemStore) MarkDelivered(ctx context.Context, reminderID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[reminderID]
	if !ok {
		return nil
	}
	r.Delivered = true
	r.At = &at
	m.reminders[reminderID] = r
	return nil
}

func (m *MemStore) SaveCallRecord(ctx context.Context, rec CallRecord) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *MemStore) UploadRecording(key string, data []byte) error {
	m.mu.Lock()
	m.recordings[key] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

func (m *MemStore) Records() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallRecord, len(m.records))
	copy(out, m.records)
	return out
}
