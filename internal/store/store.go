// Package store holds committed setting values and persists them through a Backend.
package store

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

// Store is the process-wide Value Store. Readers always see a fully committed value.
// Writers to the same key serialize through LockKey; unrelated keys proceed independently.
type Store struct {
	mu       sync.RWMutex
	current  map[string]value.Value
	defaults map[string]value.Value

	keyMu    sync.Mutex
	keyLocks map[string]*sync.Mutex

	saveMu  sync.Mutex
	backend Backend
	ready   atomic.Bool
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty, not yet ready store. A nil backend keeps values in memory only.
func New(backend Backend, opts ...Option) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &Store{
		current:  make(map[string]value.Value),
		defaults: make(map[string]value.Value),
		keyLocks: make(map[string]*sync.Mutex),
		backend:  backend,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load populates the store from persisted state and marks it ready.
func (s *Store) Load(ctx context.Context) error {
	snap, err := s.backend.Load(ctx)
	if err != nil {
		return errors.WrapError(err, errors.CategoryStorage, "load persisted preferences").Build()
	}
	s.mu.Lock()
	if snap != nil {
		maps.Copy(s.current, snap.Values)
	}
	n := len(s.current)
	s.mu.Unlock()

	s.ready.Store(true)
	s.logger.Info("Preference store loaded", slog.Int("keys", n))
	return nil
}

// Ready reports whether Load has completed.
func (s *Store) Ready() bool {
	return s.ready.Load()
}

// Get returns the current value for key, falling back to its default.
func (s *Store) Get(key string) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.current[key]; ok {
		return v, true
	}
	v, ok := s.defaults[key]
	return v, ok
}

// Current returns only a committed value, ignoring defaults.
func (s *Store) Current(key string) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.current[key]
	return v, ok
}

func (s *Store) GetDefault(key string) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.defaults[key]
	return v, ok
}

// LoadDefaults replaces the default snapshot.
func (s *Store) LoadDefaults(defaults map[string]value.Value) {
	m := make(map[string]value.Value, len(defaults))
	maps.Copy(m, defaults)
	s.mu.Lock()
	s.defaults = m
	s.mu.Unlock()
}

// Set commits v under key, replacing any prior value, and persists the snapshot.
// The commit stands even when persistence fails; the returned error reports the
// persistence failure only.
func (s *Store) Set(ctx context.Context, key string, v value.Value) error {
	s.mu.Lock()
	s.current[key] = v
	s.mu.Unlock()
	return s.persist(ctx)
}

func (s *Store) persist(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	snap := &Snapshot{Values: s.Snapshot(), SavedAt: time.Now().UTC()}
	if err := s.backend.Save(ctx, snap); err != nil {
		s.logger.Warn("Failed to persist preferences", slog.String("error", err.Error()))
		return errors.WrapError(err, errors.CategoryStorage, "persist preferences").Build()
	}
	return nil
}

// Snapshot returns a copy of all committed values.
func (s *Store) Snapshot() map[string]value.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := make(map[string]value.Value, len(s.current))
	maps.Copy(m, s.current)
	return m
}

// Keys returns the sorted keys that have a committed or default value.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(s.current)+len(s.defaults))
	for k := range s.current {
		seen[k] = struct{}{}
	}
	for k := range s.defaults {
		seen[k] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// LockKey acquires the per-key mutation lock and returns its release function.
func (s *Store) LockKey(key string) func() {
	s.keyMu.Lock()
	l, ok := s.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[key] = l
	}
	s.keyMu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Store) Close() error {
	return s.backend.Close()
}
