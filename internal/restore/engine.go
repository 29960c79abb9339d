// Package restore checks that stored settings still resolve to usable resources and
// rebuilds them from the default specification when they do not.
package restore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/prefsd/internal/daemon/events"
	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/logfields"
	"git.home.luguber.info/inful/prefsd/internal/metrics"
	"git.home.luguber.info/inful/prefsd/internal/observability"
	"git.home.luguber.info/inful/prefsd/internal/prefs"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

// SweepResult is the per-key outcome of a consistency sweep.
type SweepResult struct {
	Key        string `json:"key"`
	Consistent bool   `json:"consistent"`
	Restored   bool   `json:"restored"`
	Skipped    bool   `json:"skipped,omitempty"`
	Err        error  `json:"-"`
	Error      string `json:"error,omitempty"`
}

// Engine is the restore/consistency engine. Each key's check-then-restore is an isolated
// unit of work guarded by its own lock; there is no cross-key lock.
type Engine struct {
	dispatcher *prefs.Dispatcher
	source     DefaultsSource
	targets    []Target
	byKey      map[string]Target

	mediaDir    string
	specialDirs []string
	gate        func() bool

	mu      sync.Mutex
	entries map[string]string
	cache   map[string]prefs.Default

	lockMu   sync.Mutex
	keyLocks map[string]*sync.Mutex

	bus      *events.Bus
	recorder metrics.Recorder
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMediaDir sets where CopyToMedia targets copy their default resource.
func WithMediaDir(dir string) Option {
	return func(e *Engine) { e.mediaDir = dir }
}

// WithSpecialDirectories lists directories CreateSpecialDirectories ensures exist.
func WithSpecialDirectories(dirs ...string) Option {
	return func(e *Engine) { e.specialDirs = append(e.specialDirs, dirs...) }
}

// WithGate makes sweeps skip every key while gate returns false.
func WithGate(gate func() bool) Option {
	return func(e *Engine) { e.gate = gate }
}

func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine builds the engine and loads the default specification once. The dispatcher's
// store must already be loaded from persisted state.
func NewEngine(ctx context.Context, d *prefs.Dispatcher, source DefaultsSource, targets []Target, opts ...Option) (*Engine, error) {
	if d == nil || !d.Store().Ready() {
		return nil, errors.RuntimeError("restore engine requires a loaded value store").Build()
	}
	e := &Engine{
		dispatcher: d,
		source:     source,
		targets:    targets,
		byKey:      make(map[string]Target, len(targets)),
		keyLocks:   make(map[string]*sync.Mutex),
		recorder:   metrics.NoopRecorder{},
		logger:     slog.Default(),
	}
	for _, t := range targets {
		e.byKey[t.Key] = t
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.RefreshDefaults(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Targets returns the recoverable keys in sweep order.
func (e *Engine) Targets() []Target {
	return append([]Target(nil), e.targets...)
}

// RefreshDefaults re-reads the default specification and drops resolved entries.
func (e *Engine) RefreshDefaults(ctx context.Context) error {
	if e.source == nil {
		e.mu.Lock()
		e.entries = map[string]string{}
		e.cache = map[string]prefs.Default{}
		e.mu.Unlock()
		return nil
	}
	doc, err := e.source.Load(ctx)
	if err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "read default specification").Build()
	}
	entries, err := parseDocument(doc)
	if err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "invalid default specification").Build()
	}
	e.mu.Lock()
	e.entries = entries
	e.cache = make(map[string]prefs.Default)
	e.mu.Unlock()
	e.logger.Info("Default specification loaded", logfields.Count(len(entries)))
	return nil
}

// resolveDefault parses the entry for key on first use.
func (e *Engine) resolveDefault(key string) (prefs.Default, error) {
	t, ok := e.byKey[key]
	if !ok {
		return prefs.Default{}, errors.RestoreFailed(key, "key is not recoverable").Build()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.cache[key]; ok {
		return d, nil
	}
	encoded, ok := e.entries[key]
	if !ok {
		return prefs.Default{}, errors.RestoreFailed(key, "no default entry").Build()
	}
	d, err := resolveEntry(t, encoded)
	if err != nil {
		return prefs.Default{}, errors.RestoreFailed(key, "malformed default entry").WithCause(err).Build()
	}
	e.cache[key] = d
	return d, nil
}

// Default returns the resolved default for key.
func (e *Engine) Default(key string) (prefs.Default, error) {
	return e.resolveDefault(key)
}

func (e *Engine) lockKey(key string) func() {
	e.lockMu.Lock()
	l, ok := e.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		e.keyLocks[key] = l
	}
	e.lockMu.Unlock()
	l.Lock()
	return l.Unlock
}

// IsConsistent asks the owning handler whether the stored value is still usable.
// Handlers without a consistency check are always consistent; unknown keys never are.
func (e *Engine) IsConsistent(ctx context.Context, key string) bool {
	h, ok := e.dispatcher.Registry().Lookup(key)
	if !ok {
		return false
	}
	checker, ok := h.(prefs.ConsistencyChecker)
	consistent := !ok || checker.IsPrefConsistent(ctx, key)
	e.recorder.IncConsistencyCheck(key, consistent)
	return consistent
}

// RestoreDefault replaces key with its default through the normal dispatch pipeline.
func (e *Engine) RestoreDefault(ctx context.Context, key string) error {
	ctx, span := observability.StartSpan(observability.WithKey(ctx, key), "restore")
	unlock := e.lockKey(key)
	err := e.restore(ctx, key)
	unlock()
	span.End(err)

	evt := events.RestoreCompleted{Key: key, Consistent: err == nil, At: time.Now().UTC()}
	if err != nil {
		evt.Error = errors.MessageOf(err)
		e.recorder.IncRestore(key, metrics.ResultFailed)
	} else {
		e.recorder.IncRestore(key, metrics.ResultSuccess)
	}
	e.bus.TryPublish(evt)
	return err
}

func (e *Engine) restore(ctx context.Context, key string) error {
	h, ok := e.dispatcher.Registry().Lookup(key)
	if !ok {
		return errors.UnknownKey(key).Build()
	}
	d, err := e.resolveDefault(key)
	if err != nil {
		return err
	}
	if d.Path != "" {
		if _, statErr := os.Stat(d.Path); statErr != nil {
			return errors.RestoreFailed(key, "default resource missing").
				WithCause(statErr).WithContext("path", d.Path).Build()
		}
		if e.byKey[key].CopyToMedia {
			if d, err = e.copyToMedia(d); err != nil {
				return errors.RestoreFailed(key, "copy default to media partition").WithCause(err).Build()
			}
		}
	}

	apply := e.dispatcher.ApplyFunc(prefs.OriginRestore)
	if r, ok := h.(prefs.Restorer); ok {
		err = r.RestoreToDefault(ctx, d, apply)
	} else {
		err = apply(ctx, key, d.Value)
	}
	if err != nil {
		return errors.RestoreFailed(key, "default value rejected").WithCause(err).Build()
	}
	if !e.IsConsistent(ctx, key) {
		return errors.RestoreFailed(key, "restored value is not consistent").Build()
	}
	observability.InfoContext(ctx, "Restored default", logfields.Path(d.Path))
	return nil
}

// copyToMedia places the default resource inside the media directory and rewrites the
// default's path field to the copy.
func (e *Engine) copyToMedia(d prefs.Default) (prefs.Default, error) {
	if e.mediaDir == "" || isWithin(e.mediaDir, d.Path) {
		return d, nil
	}
	dst := filepath.Join(e.mediaDir, filepath.Base(d.Path))
	if err := copyFile(d.Path, dst); err != nil {
		return d, err
	}
	field := e.byKey[d.Key].PathField
	d.Value = d.Value.With(field, value.String(dst))
	d.Path = dst
	return d, nil
}

func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// Sweep checks every target and restores the inconsistent ones. A failing key never
// stops the sweep; a canceled context marks the remaining keys skipped.
func (e *Engine) Sweep(ctx context.Context) []SweepResult {
	results := make([]SweepResult, 0, len(e.targets))
	gated := e.gate != nil && !e.gate()
	for _, t := range e.targets {
		r := SweepResult{Key: t.Key}
		switch {
		case gated:
			r.Skipped = true
		case ctx.Err() != nil:
			r.Skipped = true
			r.Err = ctx.Err()
		default:
			r.Consistent = e.IsConsistent(ctx, t.Key)
			if !r.Consistent {
				if err := e.RestoreDefault(ctx, t.Key); err != nil {
					r.Err = err
					e.logger.Warn("Restore failed", logfields.Key(t.Key), logfields.Error(err))
				} else {
					r.Restored = true
					r.Consistent = true
				}
			}
		}
		if r.Err != nil {
			r.Error = errors.MessageOf(r.Err)
		}
		results = append(results, r)
	}
	return results
}

// CreateSpecialDirectories ensures the configured resource directories exist.
func (e *Engine) CreateSpecialDirectories() error {
	for _, dir := range e.specialDirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapError(err, errors.CategoryStorage, "create special directory").
				WithContext("path", dir).Build()
		}
	}
	return nil
}

// StartupCheck creates special directories and then sweeps all targets.
func (e *Engine) StartupCheck(ctx context.Context) ([]SweepResult, error) {
	if err := e.CreateSpecialDirectories(); err != nil {
		return nil, err
	}
	results := e.Sweep(ctx)
	e.logSweep("startup", results)
	return results, nil
}

// RuntimeCheck sweeps all targets.
func (e *Engine) RuntimeCheck(ctx context.Context) []SweepResult {
	results := e.Sweep(ctx)
	e.logSweep("runtime", results)
	return results
}

func (e *Engine) logSweep(kind string, results []SweepResult) {
	restored, failed := 0, 0
	for _, r := range results {
		if r.Restored {
			restored++
		}
		if r.Err != nil && !r.Skipped {
			failed++
		}
	}
	e.logger.Info("Consistency check finished",
		slog.String("check", kind),
		logfields.Count(len(results)),
		slog.Int("restored", restored),
		slog.Int("failed", failed))
}
