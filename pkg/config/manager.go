package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/compozy/policyrag/pkg/logger"
)

// Manager holds the active configuration and the sources it came from.
type Manager struct {
	Service   Service
	current   atomic.Pointer[Config]
	sources   []Source
	mu        sync.Mutex
	callbacks []func(*Config)
	closeOnce sync.Once
}

func NewManager(service Service) *Manager {
	if service == nil {
		service = NewService()
	}
	return &Manager{Service: service}
}

func (m *Manager) Load(ctx context.Context, sources ...Source) (*Config, error) {
	cfg, err := m.Service.Load(ctx, sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	m.mu.Lock()
	m.sources = append([]Source(nil), sources...)
	m.mu.Unlock()
	m.apply(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Reload re-reads every source and swaps the configuration on success.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	sources := append([]Source(nil), m.sources...)
	m.mu.Unlock()
	cfg, err := m.Service.Load(ctx, sources...)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	m.apply(cfg)
	return nil
}

// Watch reloads the configuration whenever a watchable source changes.
// Reload failures are logged and the previous configuration stays active.
func (m *Manager) Watch(ctx context.Context) error {
	m.mu.Lock()
	sources := append([]Source(nil), m.sources...)
	m.mu.Unlock()
	log := logger.FromContext(ctx)
	for _, src := range sources {
		if src == nil {
			continue
		}
		err := src.Watch(ctx, func() {
			if err := m.Reload(ctx); err != nil {
				log.Error("Failed to reload configuration", "source", src.Type(), "error", err)
				return
			}
			log.Info("Configuration reloaded", "source", src.Type())
		})
		if err != nil {
			return fmt.Errorf("failed to watch %s source: %w", src.Type(), err)
		}
	}
	return nil
}

// OnChange registers a listener for configurations that differ from the
// one they replace.
func (m *Manager) OnChange(callback func(*Config)) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, callback)
	m.mu.Unlock()
}

func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		sources := append([]Source(nil), m.sources...)
		m.mu.Unlock()
		for _, src := range sources {
			if src == nil {
				continue
			}
			if err := src.Close(); err != nil {
				logger.FromContext(ctx).Error("Failed to close configuration source", "source", src.Type(), "error", err)
			}
		}
	})
	return nil
}

func (m *Manager) apply(cfg *Config) {
	previous := m.current.Swap(cfg)
	if previous == nil || reflect.DeepEqual(previous, cfg) {
		return
	}
	m.mu.Lock()
	callbacks := append([]func(*Config){}, m.callbacks...)
	m.mu.Unlock()
	for _, cb := range callbacks {
		cb(cfg)
	}
}
