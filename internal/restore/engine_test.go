package restore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/prefsd/internal/daemon/events"
	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/prefs"
	"git.home.luguber.info/inful/prefsd/internal/store"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

// fileHandler stores {field: path} maps and is consistent while the path exists.
type fileHandler struct {
	key    string
	field  string
	reader prefs.ValueReader
	reject bool
}

func (h *fileHandler) Name() string   { return h.key }
func (h *fileHandler) Keys() []string { return []string{h.key} }

func (h *fileHandler) Validate(_ string, v value.Value) error {
	if h.reject {
		return stderrors.New("rejected by policy")
	}
	path, ok := v.StringField(h.field)
	if !ok {
		return stderrors.New("missing path")
	}
	if _, err := os.Stat(path); err != nil {
		return stderrors.New("file does not exist")
	}
	return nil
}

func (h *fileHandler) ValueChanged(context.Context, string, value.Value) error { return nil }

func (h *fileHandler) ValuesForKey(key string) value.Value {
	v, _ := h.reader.Get(key)
	return v
}

func (h *fileHandler) IsPrefConsistent(_ context.Context, key string) bool {
	v, ok := h.reader.Get(key)
	if !ok {
		return false
	}
	path, ok := v.StringField(h.field)
	if !ok {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// restoringHandler rebuilds its default itself, naming the entry after the file. A
// non-empty redirect makes it point at another path.
type restoringHandler struct {
	*fileHandler
	calls    []prefs.Default
	redirect string
}

func (h *restoringHandler) RestoreToDefault(ctx context.Context, d prefs.Default, apply prefs.ApplyFunc) error {
	h.calls = append(h.calls, d)
	path := d.Path
	if h.redirect != "" {
		path = h.redirect
	}
	v := d.Value.With(h.field, value.String(path)).With("name", value.String(filepath.Base(path)))
	return apply(ctx, h.key, v)
}

type fixture struct {
	dir        string
	store      *store.Store
	dispatcher *prefs.Dispatcher
	wallpaper  *fileHandler
	ringtone   *fileHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{dir: t.TempDir(), store: store.New(nil)}
	require.NoError(t, f.store.Load(t.Context()))
	f.wallpaper = &fileHandler{key: "wallpaper", field: "wallpaperFile", reader: f.store}
	f.ringtone = &fileHandler{key: "ringtone", field: "fullPath", reader: f.store}
	reg := prefs.NewRegistry()
	require.NoError(t, reg.RegisterAll(f.wallpaper, f.ringtone))
	f.dispatcher = prefs.NewDispatcher(reg, f.store)
	return f
}

func (f *fixture) touch(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(name), 0o600))
	return path
}

// specDoc builds a default specification with string-encoded entries.
func specDoc(t *testing.T, entries map[string]map[string]string) string {
	t.Helper()
	outer := map[string]string{}
	for key, entry := range entries {
		inner, err := json.Marshal(entry)
		require.NoError(t, err)
		outer[key] = string(inner)
	}
	doc, err := json.Marshal(outer)
	require.NoError(t, err)
	return string(doc)
}

var testTargets = []Target{
	{Key: "ringtone", PathField: "fullPath"},
	{Key: "wallpaper", PathField: "wallpaperFile"},
}

func TestNewEngineRequiresLoadedStore(t *testing.T) {
	st := store.New(nil)
	d := prefs.NewDispatcher(prefs.NewRegistry(), st)
	_, err := NewEngine(t.Context(), d, StaticSource(`{}`), nil)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryRuntime))
}

func TestNewEngineRejectsMalformedSpecification(t *testing.T) {
	f := newFixture(t)
	_, err := NewEngine(t.Context(), f.dispatcher, StaticSource(`not json`), testTargets)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfig))
}

func TestRestoreDefaultMissingResource(t *testing.T) {
	f := newFixture(t)
	doc := specDoc(t, map[string]map[string]string{
		"wallpaper": {"wallpaperName": "gone", "wallpaperFile": filepath.Join(f.dir, "gone.png")},
	})
	e, err := NewEngine(t.Context(), f.dispatcher, StaticSource(doc), testTargets)
	require.NoError(t, err)

	err = e.RestoreDefault(t.Context(), "wallpaper")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryRestoreFailed))
	assert.Equal(t, "default resource missing", errors.MessageOf(err))
	assert.False(t, e.IsConsistent(t.Context(), "wallpaper"))
}

func TestRestoreThenConsistent(t *testing.T) {
	f := newFixture(t)
	path := f.touch(t, "defaults/flowers.png")
	doc := specDoc(t, map[string]map[string]string{
		"wallpaper": {"wallpaperName": "flowers", "wallpaperFile": path},
	})
	e, err := NewEngine(t.Context(), f.dispatcher, StaticSource(doc), testTargets)
	require.NoError(t, err)
	require.False(t, e.IsConsistent(t.Context(), "wallpaper"))

	require.NoError(t, e.RestoreDefault(t.Context(), "wallpaper"))
	assert.True(t, e.IsConsistent(t.Context(), "wallpaper"))

	// Restoring again is idempotent.
	require.NoError(t, e.RestoreDefault(t.Context(), "wallpaper"))
	assert.True(t, e.IsConsistent(t.Context(), "wallpaper"))

	stored, _ := f.store.Get("wallpaper")
	got, _ := stored.StringField("wallpaperFile")
	assert.Equal(t, path, got)
}

func TestRestoreGoesThroughValidation(t *testing.T) {
	f := newFixture(t)
	f.ringtone.reject = true
	path := f.touch(t, "chime.ogg")
	doc := specDoc(t, map[string]map[string]string{"ringtone": {"fullPath": path, "name": "chime"}})
	e, err := NewEngine(t.Context(), f.dispatcher, StaticSource(doc), testTargets)
	require.NoError(t, err)

	err = e.RestoreDefault(t.Context(), "ringtone")
	assert.True(t, errors.HasCategory(err, errors.CategoryRestoreFailed))
	assert.Equal(t, "default value rejected", errors.MessageOf(err))
	_, ok := f.store.Current("ringtone")
	assert.False(t, ok)
}

func TestRestoreUnknownAndMissingEntries(t *testing.T) {
	f := newFixture(t)
	e, err := NewEngine(t.Context(), f.dispatcher, StaticSource(`{"ringtone":"{not json"}`), testTargets)
	require.NoError(t, err)

	err = e.RestoreDefault(t.Context(), "ringtone")
	assert.Equal(t, "malformed default entry", errors.MessageOf(err))

	err = e.RestoreDefault(t.Context(), "wallpaper")
	assert.Equal(t, "no default entry", errors.MessageOf(err))

	err = e.RestoreDefault(t.Context(), "volume")
	assert.True(t, errors.HasCategory(err, errors.CategoryUnknownKey))
	assert.False(t, e.IsConsistent(t.Context(), "volume"))
}

func TestSweepContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	chime := f.touch(t, "chime.ogg")
	doc := specDoc(t, map[string]map[string]string{
		"ringtone":  {"fullPath": chime},
		"wallpaper": {"wallpaperFile": filepath.Join(f.dir, "missing.png")},
	})
	e, err := NewEngine(t.Context(), f.dispatcher, StaticSource(doc), []Target{
		{Key: "wallpaper", PathField: "wallpaperFile"},
		{Key: "ringtone", PathField: "fullPath"},
	})
	require.NoError(t, err)

	results := e.Sweep(t.Context())
	require.Len(t, results, 2)

	assert.Equal(t, "wallpaper", results[0].Key)
	assert.False(t, results[0].Consistent)
	assert.True(t, errors.HasCategory(results[0].Err, errors.CategoryRestoreFailed))
	assert.Equal(t, "default resource missing", results[0].Error)

	assert.Equal(t, "ringtone", results[1].Key)
	assert.True(t, results[1].Restored)
	assert.True(t, results[1].Consistent)
	assert.NoError(t, results[1].Err)
}

func TestSweepSkipsWhenGatedOrCanceled(t *testing.T) {
	f := newFixture(t)
	var open atomic.Bool
	e, err := NewEngine(t.Context(), f.dispatcher, StaticSource(`{}`), testTargets, WithGate(open.Load))
	require.NoError(t, err)

	for _, r := range e.Sweep(t.Context()) {
		assert.True(t, r.Skipped)
	}

	open.Store(true)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	for _, r := range e.Sweep(ctx) {
		assert.True(t, r.Skipped)
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestRefreshDefaultsInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	first := f.touch(t, "first.ogg")
	second := f.touch(t, "second.ogg")
	specPath := filepath.Join(f.dir, "defaults.json")
	write := func(path string) {
		require.NoError(t, os.WriteFile(specPath,
			[]byte(specDoc(t, map[string]map[string]string{"ringtone": {"fullPath": path}})), 0o600))
	}
	write(first)

	e, err := NewEngine(t.Context(), f.dispatcher, FileSource{Path: specPath}, testTargets)
	require.NoError(t, err)
	d, err := e.Default("ringtone")
	require.NoError(t, err)
	assert.Equal(t, first, d.Path)

	write(second)
	d, _ = e.Default("ringtone")
	assert.Equal(t, first, d.Path, "resolved entries are cached until refresh")

	require.NoError(t, e.RefreshDefaults(t.Context()))
	d, _ = e.Default("ringtone")
	assert.Equal(t, second, d.Path)

	require.NoError(t, os.Remove(specPath))
	assert.True(t, errors.HasCategory(e.RefreshDefaults(t.Context()), errors.CategoryConfig))
}

func TestRestoreCopiesToMediaPartition(t *testing.T) {
	f := newFixture(t)
	src := f.touch(t, "system/flowers.png")
	media := filepath.Join(f.dir, "media", "wallpapers")
	doc := specDoc(t, map[string]map[string]string{"wallpaper": {"wallpaperFile": src}})

	bus := events.NewBus()
	defer bus.Close()
	done, unsub := events.Subscribe[events.RestoreCompleted](bus, 1)
	defer unsub()

	e, err := NewEngine(t.Context(), f.dispatcher, StaticSource(doc),
		[]Target{{Key: "wallpaper", PathField: "wallpaperFile", CopyToMedia: true}},
		WithMediaDir(media), WithBus(bus))
	require.NoError(t, err)

	require.NoError(t, e.RestoreDefault(t.Context(), "wallpaper"))
	stored, _ := f.store.Get("wallpaper")
	got, _ := stored.StringField("wallpaperFile")
	assert.Equal(t, filepath.Join(media, "flowers.png"), got)
	assert.FileExists(t, got)

	evt := <-done
	assert.Equal(t, "wallpaper", evt.Key)
	assert.True(t, evt.Consistent)
}

func TestRestoreDelegatesToRestorer(t *testing.T) {
	st := store.New(nil)
	require.NoError(t, st.Load(t.Context()))
	h := &restoringHandler{fileHandler: &fileHandler{key: "ringtone", field: "fullPath", reader: st}}
	reg := prefs.NewRegistry()
	require.NoError(t, reg.Register(h))
	d := prefs.NewDispatcher(reg, st)

	dir := t.TempDir()
	tone := filepath.Join(dir, "chime.ogg")
	require.NoError(t, os.WriteFile(tone, []byte("ogg"), 0o600))
	doc := specDoc(t, map[string]map[string]string{"ringtone": {"fullPath": tone}})
	e, err := NewEngine(t.Context(), d, StaticSource(doc), []Target{{Key: "ringtone", PathField: "fullPath"}})
	require.NoError(t, err)

	require.NoError(t, e.RestoreDefault(t.Context(), "ringtone"))
	require.Len(t, h.calls, 1)
	assert.Equal(t, tone, h.calls[0].Path)
	stored, ok := st.Current("ringtone")
	require.True(t, ok)
	name, _ := stored.StringField("name")
	assert.Equal(t, "chime.ogg", name)

	h.redirect = filepath.Join(dir, "missing.ogg")
	err = e.RestoreDefault(t.Context(), "ringtone")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryRestoreFailed))
	assert.Len(t, h.calls, 2)
	stored, _ = st.Current("ringtone")
	path, _ := stored.StringField("fullPath")
	assert.Equal(t, tone, path)
}

func TestStartupCheckCreatesDirectories(t *testing.T) {
	f := newFixture(t)
	dirs := []string{filepath.Join(f.dir, "ringtones"), filepath.Join(f.dir, "wallpapers", "thumbs")}
	e, err := NewEngine(t.Context(), f.dispatcher, StaticSource(`{}`), nil, WithSpecialDirectories(dirs...))
	require.NoError(t, err)

	results, err := e.StartupCheck(t.Context())
	require.NoError(t, err)
	assert.Empty(t, results)
	for _, d := range dirs {
		assert.DirExists(t, d)
	}
}

func TestConcurrentRestoresOfOneKey(t *testing.T) {
	f := newFixture(t)
	path := f.touch(t, "chime.ogg")
	doc := specDoc(t, map[string]map[string]string{"ringtone": {"fullPath": path}})
	e, err := NewEngine(t.Context(), f.dispatcher, StaticSource(doc), testTargets)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.RestoreDefault(context.Background(), "ringtone"))
		}()
	}
	wg.Wait()
	assert.True(t, e.IsConsistent(t.Context(), "ringtone"))
}

type countingChecker struct{ runs atomic.Int32 }

func (c *countingChecker) RuntimeCheck(context.Context) []SweepResult {
	c.runs.Add(1)
	return nil
}

func TestSweepSchedulerRunsPeriodically(t *testing.T) {
	checker := &countingChecker{}
	s, err := NewSweepScheduler(checker)
	require.NoError(t, err)

	_, err = s.Schedule(0)
	require.Error(t, err)

	id, err := s.Schedule(20 * time.Millisecond)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	s.Start(t.Context())
	defer func() { _ = s.Stop() }()

	assert.Eventually(t, func() bool { return checker.runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

type countingRefresher struct{ calls atomic.Int32 }

func (r *countingRefresher) RefreshDefaults(context.Context) error {
	r.calls.Add(1)
	return nil
}

func TestDefaultsWatcherTriggersRefresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defaults.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	r := &countingRefresher{}
	w, err := NewDefaultsWatcher(path, r, 20*time.Millisecond)
	require.NoError(t, err)
	reloaded := make(chan error, 4)
	w.OnReload(func(err error) { reloaded <- err })
	require.NoError(t, w.Start(t.Context()))
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o600))
	require.NoError(t, os.WriteFile(path, []byte(`{"ringtone":"{}"}`), 0o600))

	select {
	case err := <-reloaded:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not refresh defaults")
	}
	assert.GreaterOrEqual(t, r.calls.Load(), int32(1))
	assert.NoError(t, w.Stop())
}

func TestParseDocumentAcceptsDecodedEntries(t *testing.T) {
	entries, err := parseDocument(`{"ringtone":"{\"fullPath\":\"/a\"}","wallpaper":{"wallpaperFile":"/b"}}`)
	require.NoError(t, err)

	d, err := resolveEntry(Target{Key: "ringtone", PathField: "fullPath"}, entries["ringtone"])
	require.NoError(t, err)
	assert.Equal(t, "/a", d.Path)

	d, err = resolveEntry(Target{Key: "wallpaper", PathField: "wallpaperFile"}, entries["wallpaper"])
	require.NoError(t, err)
	assert.Equal(t, "/b", d.Path)

	_, err = resolveEntry(Target{Key: "wallpaper", PathField: "missing"}, entries["wallpaper"])
	assert.Error(t, err)

	plain, err := resolveEntry(Target{Key: "volume"}, "7")
	require.NoError(t, err)
	assert.True(t, plain.Value.Equal(value.Int(7)))
}

func TestCheckDocument(t *testing.T) {
	doc := specDoc(t, map[string]map[string]string{
		"ringtone": {"fullPath": "/tones/a.ogg"},
	})
	missing, err := CheckDocument(doc, testTargets)
	require.NoError(t, err)
	assert.Equal(t, []string{"wallpaper"}, missing)

	bad := specDoc(t, map[string]map[string]string{"ringtone": {"other": "x"}})
	_, err = CheckDocument(bad, testTargets)
	require.Error(t, err)

	_, err = CheckDocument("not json", testTargets)
	require.Error(t, err)
}
