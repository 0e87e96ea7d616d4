package drmserver

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key or rights object does not exist
var ErrNotFound = errors.New("not found")

// RightsObject is an issued permission for one device to use one content item.
type RightsObject struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	ContentID   string    `json:"content_id"`
	Permissions []string  `json:"permissions"`
	IssuedAt    time.Time `json:"issued_at"`
	NotAfter    time.Time `json:"not_after"`
}

// Expired reports whether the rights object is no longer valid at now
func (r *RightsObject) Expired(now time.Time) bool {
	return !r.NotAfter.IsZero() && !now.Before(r.NotAfter)
}

// Store persists content encryption keys and issued rights objects.
type Store interface {
	PutContentKey(ctx context.Context, contentID string, key []byte) error
	HasContentKey(ctx context.Context, contentID string) (bool, error)
	PutRights(ctx context.Context, ro *RightsObject) error
	GetRights(ctx context.Context, id string) (*RightsObject, error)
	// PurgeExpired removes rights objects expired at now and returns how many were removed
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// MemoryStore keeps keys and rights in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	keys   map[string][]byte
	rights map[string]*RightsObject
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:   make(map[string][]byte),
		rights: make(map[string]*RightsObject),
	}
}

func (m *MemoryStore) PutContentKey(ctx context.Context, contentID string, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[contentID] = append([]byte(nil), key...)
	return nil
}

func (m *MemoryStore) HasContentKey(ctx context.Context, contentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[contentID]
	return ok, nil
}

func (m *MemoryStore) PutRights(ctx context.Context, ro *RightsObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *ro
	clone.Permissions = append([]string(nil), ro.Permissions...)
	m.rights[ro.ID] = &clone
	return nil
}

func (m *MemoryStore) GetRights(ctx context.Context, id string) (*RightsObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ro, ok := m.rights[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *ro
	clone.Permissions = append([]string(nil), ro.Permissions...)
	return &clone, nil
}

func (m *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, ro := range m.rights {
		if ro.Expired(now) {
			delete(m.rights, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Close() error { return nil }
