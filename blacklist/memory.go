package blacklist

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Memory is an in-process blacklist for single-node deployments and tests. Reads take a
// shared lock and ignore expired entries; Sweep removes them.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemory returns an empty in-process blacklist.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		entries: make(map[string]time.Time),
		now:     o.now,
	}
}

// Add implements Blacklist. Re-adding a jti keeps the later expiry.
func (m *Memory) Add(_ context.Context, jti string, expiry time.Time) error {
	if jti == "" {
		return errors.New("jti required")
	}
	if !expiry.After(m.now()) {
		return nil
	}
	m.mu.Lock()
	if cur, ok := m.entries[jti]; !ok || expiry.After(cur) {
		m.entries[jti] = expiry
	}
	m.mu.Unlock()
	return nil
}

// Contains implements Blacklist.
func (m *Memory) Contains(_ context.Context, jti string) (bool, error) {
	m.mu.RLock()
	expiry, ok := m.entries[jti]
	m.mu.RUnlock()
	return ok && m.now().Before(expiry), nil
}

// Sweep implements Blacklist.
func (m *Memory) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for jti, expiry := range m.entries {
		if !now.Before(expiry) {
			delete(m.entries, jti)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
