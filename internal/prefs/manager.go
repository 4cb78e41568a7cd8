// Package prefs provides cached access to user preferences stored alongside
// the enhancement history.
package prefs

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/voloshyn/retouch/internal/provider"
)

// Store defines the storage operations the Manager needs. Implemented by
// history.Store.
type Store interface {
	SetPreference(key, value string) error
	GetAllPreferences() (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Preferences are the user-tunable settings of the enhancement workflow.
type Preferences struct {
	DefaultResolution string `json:"default_resolution"`
	Theme             string `json:"theme"`
}

const (
	keyDefaultResolution = "default_resolution"
	keyTheme             = "theme"
)

// Manager provides cached, structured access to preferences.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Preferences
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		clock: realClock{},
		ttl:   60 * time.Second,
	}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
	}
}

// Get reads all preference keys from storage (or cache). Missing keys take
// their defaults.
func (m *Manager) Get() (Preferences, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		p := *m.cached
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return *m.cached, nil
	}

	kv, err := m.store.GetAllPreferences()
	if err != nil {
		return Preferences{}, fmt.Errorf("loading preferences: %w", err)
	}

	p := build(kv)
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return p, nil
}

func build(kv map[string]string) Preferences {
	p := Preferences{
		DefaultResolution: string(provider.DefaultResolution),
		Theme:             "system",
	}
	if v, ok := kv[keyDefaultResolution]; ok && v != "" {
		if r, err := provider.ParseResolution(v); err == nil {
			p.DefaultResolution = string(r)
		}
	}
	if v, ok := kv[keyTheme]; ok && v != "" {
		p.Theme = v
	}
	return p
}

// Validate reports whether key/value would be accepted by Set, without
// persisting anything.
func Validate(key, value string) error {
	switch key {
	case keyDefaultResolution:
		if _, err := provider.ParseResolution(value); err != nil {
			return err
		}
	case keyTheme:
		// free-form UI hint
	default:
		return fmt.Errorf("unknown preference key %q (valid keys: %s)",
			key, strings.Join(ValidKeys(), ", "))
	}
	return nil
}

// Set validates and persists a preference key, invalidating the cache.
func (m *Manager) Set(key, value string) error {
	if err := Validate(key, value); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetPreference(key, value); err != nil {
		return fmt.Errorf("setting preference %q: %w", key, err)
	}

	m.cached = nil
	return nil
}

// ValidKeys returns the preference key names Set accepts.
func ValidKeys() []string {
	return []string{keyDefaultResolution, keyTheme}
}
