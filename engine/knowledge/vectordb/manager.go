package vectordb

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ReleaseFunc drops one reference to a shared store. The last release closes it.
type ReleaseFunc func(context.Context) error

// Manager hands out one store per configuration ID to every caller in the
// process, so the HTTP server and background work share connection pools.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*sharedEntry
	opening singleflight.Group
}

type sharedEntry struct {
	store     Store
	refs      int
	signature string
}

var defaultManager = NewManager()

func NewManager() *Manager {
	return &Manager{entries: make(map[string]*sharedEntry)}
}

// AcquireShared uses the process-wide manager.
func AcquireShared(ctx context.Context, cfg *Config) (Store, func(context.Context) error, error) {
	store, release, err := defaultManager.AcquireShared(ctx, cfg)
	return store, release, err
}

// AcquireShared returns the store registered under cfg.ID, opening it on first
// use. Asking for an ID that is open with different settings is an error.
func (m *Manager) AcquireShared(ctx context.Context, cfg *Config) (Store, ReleaseFunc, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, nil, err
	}
	id, sig := cfg.ID, signatureKey(cfg)
	for {
		store, ok, err := m.retain(id, sig)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			return store, m.releaser(id, sig), nil
		}
		// concurrent first acquisitions open the backend once
		if _, err, _ := m.opening.Do(id, func() (any, error) {
			return nil, m.open(ctx, cfg, sig)
		}); err != nil {
			return nil, nil, err
		}
	}
}

func (m *Manager) retain(id, sig string) (Store, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, false, nil
	}
	if entry.signature != sig {
		return nil, false, fmt.Errorf("vector_db %q: configuration mismatch for shared store", id)
	}
	entry.refs++
	return entry.store, true, nil
}

func (m *Manager) open(ctx context.Context, cfg *Config, sig string) error {
	m.mu.Lock()
	_, exists := m.entries[cfg.ID]
	m.mu.Unlock()
	if exists {
		return nil
	}
	store, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[cfg.ID] = &sharedEntry{store: store, signature: sig}
	m.mu.Unlock()
	return nil
}

func (m *Manager) releaser(id, sig string) ReleaseFunc {
	var once sync.Once
	return func(ctx context.Context) error {
		var closeErr error
		once.Do(func() {
			m.mu.Lock()
			entry, ok := m.entries[id]
			if !ok || entry.signature != sig {
				m.mu.Unlock()
				return
			}
			entry.refs--
			if entry.refs > 0 {
				m.mu.Unlock()
				return
			}
			delete(m.entries, id)
			m.mu.Unlock()
			closeErr = entry.store.Close(ctx)
		})
		return closeErr
	}
}

// signatureKey identifies the settings that make two stores interchangeable.
func signatureKey(cfg *Config) string {
	c := *cfg
	c.ID = ""
	c.Namespace = strings.TrimSpace(c.Namespace)
	c.Table = strings.TrimSpace(c.Table)
	c.Metric = strings.ToLower(strings.TrimSpace(c.Metric))
	c.PGVector = nil
	pg := PGVectorOptions{}
	if cfg.PGVector != nil {
		pg = *cfg.PGVector
	}
	return fmt.Sprintf("%+v|%+v", c, pg)
}
