package prefs

import (
	"maps"
	"slices"
	"sync"

	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/util/sets"
)

// Registry maps every owned key to exactly one handler. Handlers are registered once at
// startup; Seal rejects later registrations.
type Registry struct {
	mu       sync.RWMutex
	handlers []Handler
	owners   map[string]Handler
	sealed   bool
}

func NewRegistry() *Registry {
	return &Registry{owners: make(map[string]Handler)}
}

// Register adds h and all of its keys. If any key is already owned (or repeated within
// h's own key list) nothing is registered and a fatal DuplicateKey error is returned.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return errors.ValidationError("handler cannot be nil").Build()
	}
	keys := h.Keys()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return errors.RuntimeError("registry is sealed").WithContext("handler", h.Name()).Build()
	}

	seen := sets.New[string]()
	for _, key := range keys {
		if key == "" {
			return errors.ValidationError("handler declares an empty key").
				WithContext("handler", h.Name()).Build()
		}
		if owner, ok := r.owners[key]; ok {
			return errors.DuplicateKey(key, owner.Name(), h.Name()).Build()
		}
		if seen.Has(key) {
			return errors.DuplicateKey(key, h.Name(), h.Name()).Build()
		}
		seen.Add(key)
	}

	for _, key := range keys {
		r.owners[key] = h
	}
	r.handlers = append(r.handlers, h)
	return nil
}

// RegisterAll registers handlers in order and stops at the first error.
func (r *Registry) RegisterAll(handlers ...Handler) error {
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// Seal freezes the registry.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Lookup returns the handler owning key.
func (r *Registry) Lookup(key string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.owners[key]
	return h, ok
}

// Keys returns all owned keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.owners))
}

// Handlers returns handlers in registration order.
func (r *Registry) Handlers() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.handlers)
}
