package store

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// BackendFactory builds a Backend from a DSN.
type BackendFactory func(dsn string) (Backend, error)

var backendFactories = struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
}{factories: map[string]BackendFactory{}}

// RegisterBackendFactory overrides or adds support for a DSN scheme.
func RegisterBackendFactory(scheme string, factory BackendFactory) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" || factory == nil {
		return
	}
	backendFactories.mu.Lock()
	defer backendFactories.mu.Unlock()
	backendFactories.factories[scheme] = factory
}

func lookupBackendFactory(scheme string) (BackendFactory, bool) {
	backendFactories.mu.RLock()
	defer backendFactories.mu.RUnlock()
	f, ok := backendFactories.factories[scheme]
	return f, ok
}

// BuildBackendFromDSN selects a backend by scheme: memory://, file://path.json (or a bare
// path), sqlite://path.db, postgres://...
func BuildBackendFromDSN(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryBackend(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse storage dsn: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if factory, ok := lookupBackendFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "memory", "mem":
		return NewMemoryBackend(), nil
	case "", "file":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewFileBackend(path), nil
	case "sqlite", "sqlite3":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewSQLiteBackend(path)
	case "postgres", "postgresql":
		return NewPostgresBackend(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return raw, nil
	}
	path := parsed.Host + parsed.Path
	if path == "" {
		path = parsed.Opaque
	}
	if path == "" {
		return "", fmt.Errorf("storage dsn %q has no path", raw)
	}
	return path, nil
}
