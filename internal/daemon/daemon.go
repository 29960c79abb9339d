// Package daemon is the composition root of prefsd: it builds every component from the
// configuration, sequences startup and owns the background workers.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/prefsd/internal/config"
	"git.home.luguber.info/inful/prefsd/internal/daemon/events"
	"git.home.luguber.info/inful/prefsd/internal/erase"
	"git.home.luguber.info/inful/prefsd/internal/eventstore"
	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/handlers"
	"git.home.luguber.info/inful/prefsd/internal/logfields"
	"git.home.luguber.info/inful/prefsd/internal/metrics"
	"git.home.luguber.info/inful/prefsd/internal/prefs"
	"git.home.luguber.info/inful/prefsd/internal/restore"
	"git.home.luguber.info/inful/prefsd/internal/retry"
	"git.home.luguber.info/inful/prefsd/internal/server/httpserver"
	"git.home.luguber.info/inful/prefsd/internal/storagemode"
	"git.home.luguber.info/inful/prefsd/internal/store"
	"git.home.luguber.info/inful/prefsd/internal/util/sets"
)

// Status represents the lifecycle state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Daemon owns every prefsd component.
type Daemon struct {
	cfg       *config.Config
	status    atomic.Value // Status
	startTime time.Time
	mu        sync.Mutex

	bus        *events.Bus
	store      *store.Store
	registry   *prefs.Registry
	dispatcher *prefs.Dispatcher
	machine    *storagemode.Machine
	eraser     *erase.Service
	wallpaper  *handlers.WallpaperHandler
	engine     *restore.Engine

	recorder    metrics.Recorder
	promHandler http.Handler

	httpServer *httpserver.Server
	scheduler  *restore.SweepScheduler
	watcher    *restore.DefaultsWatcher
	natsSource atomic.Pointer[storagemode.NATSSource]
	journal    *eventstore.SQLiteStore

	workers workerGroup
	cancel  context.CancelFunc
}

// Option customizes construction, mainly for tests and embedding.
type Option func(*options)

type options struct {
	backend     store.Backend
	eraseOpener erase.ProviderOpener
	importer    handlers.ImageImporter
	registry    *prom.Registry
}

// WithBackend replaces the backend selected by storage.dsn.
func WithBackend(b store.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithEraseProvider replaces the flag-file erase provider.
func WithEraseProvider(open erase.ProviderOpener) Option {
	return func(o *options) { o.eraseOpener = open }
}

func WithImageImporter(imp handlers.ImageImporter) Option {
	return func(o *options) { o.importer = imp }
}

// WithPrometheusRegistry registers metrics on reg instead of a private registry.
func WithPrometheusRegistry(reg *prom.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New builds the daemon. No goroutine runs and nothing is read from storage until Start.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.ConfigError("configuration is required").Build()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := &Daemon{cfg: cfg, bus: events.NewBus(), recorder: metrics.NoopRecorder{}}
	d.status.Store(StatusStopped)

	if cfg.Metrics.Enabled {
		reg := o.registry
		if reg == nil {
			reg = prom.NewRegistry()
		}
		d.recorder = metrics.NewPrometheusRecorder(reg)
		d.promHandler = metrics.HTTPHandler(reg)
	}

	backend := o.backend
	if backend == nil {
		var err error
		if backend, err = store.BuildBackendFromDSN(cfg.Storage.DSN); err != nil {
			return nil, errors.WrapError(err, errors.CategoryConfig, "invalid storage dsn").Fatal().Build()
		}
	}
	d.store = store.New(backend)

	if err := d.registerHandlers(o.importer); err != nil {
		return nil, err
	}
	d.dispatcher = prefs.NewDispatcher(d.registry, d.store,
		prefs.WithBus(d.bus), prefs.WithMetrics(d.recorder))

	d.machine = storagemode.NewMachine(
		storagemode.WithBuffer(cfg.StorageMode.EventBuffer),
		storagemode.WithReadiness(d.store.Ready),
		storagemode.WithBus(d.bus),
		storagemode.WithMetrics(d.recorder))

	opener := o.eraseOpener
	if opener == nil && cfg.Erase.Enabled {
		opener = erase.OpenFlagFileProvider(cfg.Erase.FlagDir)
	}
	d.eraser = erase.NewService(opener, erase.WithMetrics(d.recorder))
	return d, nil
}

// registerHandlers registers the built-in handlers plus a generic handler for every
// configured default no built-in handler owns, then seals the registry.
func (d *Daemon) registerHandlers(importer handlers.ImageImporter) error {
	d.registry = prefs.NewRegistry()

	wallOpts := []handlers.WallpaperOption{}
	if len(d.cfg.Service.TrustedOrigins) > 0 {
		wallOpts = append(wallOpts, handlers.WithTrustedOrigins(d.cfg.Service.TrustedOrigins...))
	}
	if importer != nil {
		wallOpts = append(wallOpts, handlers.WithImageImporter(importer))
	}
	d.wallpaper = handlers.NewWallpaperHandler(d.cfg.Restore.WallpaperDir, d.store, wallOpts...)

	builtins := []prefs.Handler{
		handlers.NewRingtoneHandler(d.store),
		d.wallpaper,
	}
	if d.cfg.Restore.BuildInfoFile != "" {
		builtins = append(builtins, handlers.NewBuildInfoHandler(handlers.EnvFileReader{Path: d.cfg.Restore.BuildInfoFile}))
	}

	owned := sets.New[string]()
	for _, h := range builtins {
		for _, key := range h.Keys() {
			owned.Add(key)
		}
	}
	var specs []handlers.KeySpec
	for _, key := range slices.Sorted(maps.Keys(d.cfg.Defaults)) {
		if !owned.Has(key) {
			specs = append(specs, handlers.KeySpec{Key: key})
		}
	}
	if len(specs) > 0 {
		builtins = append(builtins, handlers.NewSchemaHandler("general", d.store, specs...))
	}

	if err := d.registry.RegisterAll(builtins...); err != nil {
		return err
	}
	d.registry.Seal()
	return nil
}

// RecoverableTargets lists the keys the restore engine repairs.
func RecoverableTargets() []restore.Target {
	return []restore.Target{
		{Key: handlers.KeyRingtone, PathField: "fullPath", CopyToMedia: true},
		{Key: handlers.KeyWallpaper, PathField: "wallpaperFile", CopyToMedia: true},
	}
}

func (d *Daemon) defaultsSource() restore.DefaultsSource {
	if d.cfg.Restore.DefaultsFile == "" {
		return restore.StaticSource("{}")
	}
	return restore.FileSource{Path: d.cfg.Restore.DefaultsFile}
}

// Start loads persisted state, then starts the engine, the storage-mode machine, the
// background workers and the HTTP server. It returns once everything is running.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.GetStatus() != StatusStopped {
		return errors.RuntimeError(fmt.Sprintf("daemon is not in stopped state: %s", d.GetStatus())).Build()
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	d.workers.reset()
	slog.Info("Starting prefsd daemon")

	if err := d.start(ctx); err != nil {
		d.status.Store(StatusError)
		_ = d.shutdown(context.Background())
		return err
	}
	d.status.Store(StatusRunning)
	slog.Info("prefsd daemon started",
		slog.String("listen", d.cfg.Service.Listen),
		slog.Int("keys", len(d.registry.Keys())),
		logfields.Mode(d.machine.Mode().String()))
	return nil
}

func (d *Daemon) start(ctx context.Context) error {
	// Persisted state must be loaded before anything may read or restore values.
	if err := d.store.Load(ctx); err != nil {
		return err
	}
	defaults, err := d.cfg.DefaultValues()
	if err != nil {
		return err
	}
	d.store.LoadDefaults(defaults)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel

	engine, err := restore.NewEngine(runCtx, d.dispatcher, d.defaultsSource(), RecoverableTargets(),
		restore.WithMediaDir(d.cfg.Restore.MediaDir),
		restore.WithSpecialDirectories(d.cfg.Restore.RingtoneDir, d.cfg.Restore.WallpaperDir, d.cfg.Restore.MediaDir),
		restore.WithGate(func() bool { return d.machine.Mode() != storagemode.Brick }),
		restore.WithBus(d.bus),
		restore.WithMetrics(d.recorder))
	if err != nil {
		return err
	}
	d.engine = engine

	if d.cfg.History.Enabled {
		if err := d.startJournal(runCtx); err != nil {
			return err
		}
	}

	d.workers.Go(func() {
		if err := d.machine.Run(runCtx); err != nil {
			slog.Error("Storage-mode machine stopped", logfields.Error(err))
		}
	})
	d.startModeListener(runCtx)

	if d.cfg.StorageMode.NATSURL != "" {
		d.workers.Go(func() { d.connectHardwareEvents(runCtx) })
	}

	if _, err := d.engine.StartupCheck(runCtx); err != nil {
		return err
	}

	if d.cfg.Restore.Watch {
		w, err := restore.NewDefaultsWatcher(d.cfg.Restore.DefaultsFile, d.engine, d.cfg.Restore.WatchDebounce)
		if err != nil {
			return errors.WrapError(err, errors.CategoryRuntime, "defaults watcher").Build()
		}
		w.OnReload(func(err error) {
			if err != nil {
				slog.Warn("Default specification reload failed", logfields.Error(err))
			}
		})
		if err := w.Start(runCtx); err != nil {
			return errors.WrapError(err, errors.CategoryRuntime, "defaults watcher").Build()
		}
		d.watcher = w
	}

	if interval := d.cfg.Restore.SweepInterval; interval > 0 {
		s, err := restore.NewSweepScheduler(d.engine)
		if err != nil {
			return errors.WrapError(err, errors.CategoryRuntime, "sweep scheduler").Build()
		}
		if _, err := s.Schedule(interval); err != nil {
			return errors.WrapError(err, errors.CategoryConfig, "sweep scheduler").Build()
		}
		s.Start(runCtx)
		d.scheduler = s
	}

	services := httpserver.Services{
		Preferences: d.dispatcher,
		Current:     d.dispatcher,
		Restore:     d.engine,
		StorageMode: d.machine,
		Erase:       d.eraser,
		Health:      d,
		Bus:         d.bus,
		Metrics:     d.promHandler,
		MetricsPath: d.cfg.Metrics.Path,
	}
	if d.journal != nil {
		services.History = d.journal
	}
	d.httpServer = httpserver.New(d.cfg.Service, services)
	return d.httpServer.Start(runCtx)
}

// startJournal opens the change journal and subscribes it before any event can be
// published by the startup sweep.
func (d *Daemon) startJournal(ctx context.Context) error {
	st, err := eventstore.NewSQLiteStore(d.cfg.History.Path)
	if err != nil {
		return err
	}
	d.journal = st
	j := eventstore.NewJournal(st, d.cfg.History.MaxRecords)
	ch, unsubscribe := j.Subscribe(d.bus, 256)
	d.workers.Go(func() {
		defer unsubscribe()
		j.Run(ctx, ch)
	})
	slog.Info("Change journal enabled", logfields.Path(d.cfg.History.Path))
	return nil
}

// connectHardwareEvents subscribes to NATS hardware events, retrying with backoff.
// Failing is not fatal: events can still be injected over HTTP.
func (d *Daemon) connectHardwareEvents(ctx context.Context) {
	policy := retry.FromConfig(d.cfg.StorageMode)
	var src *storagemode.NATSSource
	err := policy.Do(ctx, func() error {
		var err error
		src, err = storagemode.NewNATSSource(d.cfg.StorageMode.NATSURL, d.cfg.StorageMode.SubjectPrefix, d.machine)
		if err != nil {
			return err
		}
		if err := src.Start(ctx); err != nil {
			_ = src.Stop()
			return err
		}
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		slog.Warn("NATS connection failed, retrying",
			slog.Int("attempt", attempt), logfields.Duration(delay), logfields.Error(err))
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("NATS hardware event source unavailable", logfields.Error(err))
		}
		return
	}
	if ctx.Err() != nil {
		_ = src.Stop()
		return
	}
	d.natsSource.Store(src)
	slog.Info("Subscribed to hardware events", slog.String("subject", src.Subject()))
}

// startModeListener runs a runtime consistency check whenever the device leaves Brick.
func (d *Daemon) startModeListener(ctx context.Context) {
	watchBrickExit(ctx, &d.workers, d.bus, func(ctx context.Context) { d.engine.RuntimeCheck(ctx) })
}

// watchBrickExit calls check after Brick to Phone transitions. The subscription is drained
// without waiting on check; exits seen while a check runs collapse into one more check.
func watchBrickExit(ctx context.Context, workers *workerGroup, bus *events.Bus, check func(context.Context)) {
	changes, unsubscribe := events.Subscribe[events.ModeChanged](bus, 16)
	pending := make(chan struct{}, 1)

	started := workers.Go(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pending:
				check(ctx)
			}
		}
	})
	if !started {
		unsubscribe()
		return
	}
	workers.Go(func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-changes:
				if !ok {
					return
				}
				if evt.From != storagemode.Brick.String() || evt.To != storagemode.Phone.String() {
					continue
				}
				slog.Info("Storage returned to normal mode, checking consistency")
				select {
				case pending <- struct{}{}:
				default:
				}
			}
		}
	})
}

// Stop shuts components down in reverse start order.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.GetStatus() {
	case StatusStopped, StatusStopping:
		return nil
	}
	d.status.Store(StatusStopping)
	slog.Info("Stopping prefsd daemon")

	err := d.shutdown(ctx)
	d.status.Store(StatusStopped)
	slog.Info("prefsd daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return err
}

func (d *Daemon) shutdown(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if d.httpServer != nil {
		keep(d.httpServer.Stop(ctx))
		d.httpServer = nil
	}
	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil {
			slog.Error("Failed to stop sweep scheduler", logfields.Error(err))
		}
		d.scheduler = nil
	}
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			slog.Error("Failed to stop defaults watcher", logfields.Error(err))
		}
		d.watcher = nil
	}
	if d.cancel != nil {
		d.cancel()
	}
	keep(d.workers.stopAndWait(ctx))
	if src := d.natsSource.Swap(nil); src != nil {
		_ = src.Stop()
	}
	if d.journal != nil {
		keep(d.journal.Close())
		d.journal = nil
	}
	keep(d.store.Close())
	return firstErr
}

// GetStatus returns the current daemon status.
func (d *Daemon) GetStatus() Status {
	status, ok := d.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return status
}

func (d *Daemon) GetStartTime() time.Time { return d.startTime }

func (d *Daemon) Dispatcher() *prefs.Dispatcher { return d.dispatcher }

func (d *Daemon) Machine() *storagemode.Machine { return d.machine }

// Journal is nil unless history is enabled and the daemon is running.
func (d *Daemon) Journal() *eventstore.SQLiteStore { return d.journal }

// Engine is nil until Start has loaded the store.
func (d *Daemon) Engine() *restore.Engine { return d.engine }

func (d *Daemon) Bus() *events.Bus { return d.bus }

func (d *Daemon) Wallpapers() *handlers.WallpaperHandler { return d.wallpaper }

// Addr is the bound HTTP address while running.
func (d *Daemon) Addr() string {
	if d.httpServer == nil {
		return ""
	}
	return d.httpServer.Addr()
}
