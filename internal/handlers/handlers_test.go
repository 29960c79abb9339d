package handlers

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/prefs"
	"git.home.luguber.info/inful/prefsd/internal/store"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

func newDispatcher(t *testing.T, build func(st *store.Store) []prefs.Handler) (*prefs.Dispatcher, *store.Store) {
	t.Helper()
	st := store.New(nil)
	require.NoError(t, st.Load(context.Background()))
	reg := prefs.NewRegistry()
	require.NoError(t, reg.RegisterAll(build(st)...))
	reg.Seal()
	return prefs.NewDispatcher(reg, st), st
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	return path
}

func TestSchemaHandler(t *testing.T) {
	var seen []value.Value
	d, _ := newDispatcher(t, func(st *store.Store) []prefs.Handler {
		return []prefs.Handler{NewSchemaHandler("general", st,
			KeySpec{
				Key:    "volume",
				Schema: prefs.MustCompileSchema("volume", `{"type":"number","minimum":0,"maximum":100}`),
				OnChange: func(_ context.Context, v value.Value) error {
					seen = append(seen, v)
					return nil
				},
			},
			KeySpec{
				Key: "locale",
				Check: func(v value.Value) error {
					if s, _ := v.AsString(); s == "" {
						return stderrors.New("locale is empty")
					}
					return nil
				},
			},
		)}
	})
	ctx := context.Background()

	require.NoError(t, d.Apply(ctx, "volume", value.Int(40), prefs.OriginLocal))
	err := d.Apply(ctx, "volume", value.Int(140), prefs.OriginLocal)
	assert.True(t, errors.HasCategory(err, errors.CategoryInvalidValue))
	err = d.Apply(ctx, "locale", value.String(""), prefs.OriginLocal)
	assert.True(t, errors.HasCategory(err, errors.CategoryInvalidValue))

	v, err := d.Get("volume")
	require.NoError(t, err)
	assert.True(t, v.Equal(value.Int(40)))
	assert.Len(t, seen, 1)
}

func TestRingtoneHandler(t *testing.T) {
	dir := t.TempDir()
	tone := touch(t, dir, "bell.ogg")
	var h *RingtoneHandler
	d, st := newDispatcher(t, func(st *store.Store) []prefs.Handler {
		h = NewRingtoneHandler(st)
		return []prefs.Handler{h}
	})
	ctx := context.Background()

	good := value.Map(map[string]value.Value{"fullPath": value.String(tone), "name": value.String("Bell")})
	require.NoError(t, d.Apply(ctx, KeyRingtone, good, prefs.OriginLocal))
	assert.True(t, h.IsPrefConsistent(ctx, KeyRingtone))

	missing := value.Map(map[string]value.Value{"fullPath": value.String(filepath.Join(dir, "nope.ogg"))})
	err := d.Apply(ctx, KeyRingtone, missing, prefs.OriginLocal)
	assert.True(t, errors.HasCategory(err, errors.CategoryInvalidValue))
	current, _ := st.Get(KeyRingtone)
	assert.True(t, current.Equal(good))

	err = d.Apply(ctx, KeyRingtone, value.String(""), prefs.OriginLocal)
	assert.True(t, errors.HasCategory(err, errors.CategoryInvalidValue))
	err = d.Apply(ctx, KeyRingtone, value.Int(3), prefs.OriginLocal)
	assert.True(t, errors.HasCategory(err, errors.CategoryInvalidValue))

	require.NoError(t, os.Remove(tone))
	assert.False(t, h.IsPrefConsistent(ctx, KeyRingtone))

	require.NoError(t, d.Apply(ctx, KeyRingtone, value.String("Classic"), prefs.OriginLocal))
	assert.True(t, h.IsPrefConsistent(ctx, KeyRingtone))
}

type failingImporter struct{ calls int }

func (f *failingImporter) Import(context.Context, string, string) error {
	f.calls++
	return stderrors.New("decoder unavailable")
}

func TestWallpaperHandlerOrigins(t *testing.T) {
	wallDir := filepath.Join(t.TempDir(), "wallpapers")
	inside := touch(t, wallDir, "sea.png")
	outside := touch(t, t.TempDir(), "elsewhere.png")

	var h *WallpaperHandler
	d, _ := newDispatcher(t, func(st *store.Store) []prefs.Handler {
		h = NewWallpaperHandler(wallDir, st)
		return []prefs.Handler{h}
	})
	ctx := context.Background()
	pick := func(file string) value.Value {
		return value.Map(map[string]value.Value{"wallpaperFile": value.String(file)})
	}

	err := d.Apply(ctx, KeyWallpaper, pick(outside), "com.example.remote")
	assert.True(t, errors.HasCategory(err, errors.CategoryInvalidValue))
	require.NoError(t, d.Apply(ctx, KeyWallpaper, pick(inside), "com.example.remote"))
	require.NoError(t, d.Apply(ctx, KeyWallpaper, pick(outside), prefs.OriginLocal))

	require.NoError(t, d.Apply(ctx, KeyWallpaper, value.String("sea.png"), "com.example.remote"))
	got, err := d.Get(KeyWallpaper)
	require.NoError(t, err)
	file, _ := got.StringField("wallpaperFile")
	assert.Equal(t, "file://"+filepath.ToSlash(inside), file)
	name, _ := got.StringField("wallpaperName")
	assert.Equal(t, "sea.png", name)
	assert.True(t, h.IsPrefConsistent(ctx, KeyWallpaper))
}

func TestWallpaperRestoreToDefault(t *testing.T) {
	wallDir := filepath.Join(t.TempDir(), "wallpapers")
	copied := touch(t, wallDir, "flowers.png")
	localThumb := touch(t, filepath.Join(wallDir, "thumbs"), "flowers.png")
	systemThumb := touch(t, t.TempDir(), "flowers-thumb.png")

	var h *WallpaperHandler
	d, st := newDispatcher(t, func(st *store.Store) []prefs.Handler {
		h = NewWallpaperHandler(wallDir, st, WithTrustedOrigins(prefs.OriginRestore))
		return []prefs.Handler{h}
	})
	ctx := context.Background()
	apply := d.ApplyFunc(prefs.OriginRestore)
	field := func(name string) string {
		stored, ok := st.Get(KeyWallpaper)
		require.True(t, ok)
		s, _ := stored.StringField(name)
		return s
	}

	def := prefs.Default{
		Key:  KeyWallpaper,
		Path: copied,
		Value: value.Map(map[string]value.Value{
			"wallpaperFile":      value.String("/system/wallpapers/flowers.png"),
			"wallpaperThumbFile": value.String(systemThumb),
		}),
	}
	require.NoError(t, h.RestoreToDefault(ctx, def, apply))
	assert.Equal(t, copied, field("wallpaperFile"))
	assert.Equal(t, "flowers.png", field("wallpaperName"))
	assert.Empty(t, field("wallpaperThumbFile"))
	assert.True(t, h.IsPrefConsistent(ctx, KeyWallpaper))

	def.Value = def.Value.With("wallpaperThumbFile", value.String(localThumb)).
		With("wallpaperName", value.String("Flowers"))
	require.NoError(t, h.RestoreToDefault(ctx, def, apply))
	assert.Equal(t, localThumb, field("wallpaperThumbFile"))
	assert.Equal(t, "Flowers", field("wallpaperName"))

	def.Path = filepath.Join(wallDir, "missing.png")
	err := h.RestoreToDefault(ctx, def, apply)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryInvalidValue))
	assert.Equal(t, copied, field("wallpaperFile"))
}

func TestWallpaperImportFailureIsApplyFailed(t *testing.T) {
	wallDir := t.TempDir()
	img := touch(t, wallDir, "a.jpg")
	imp := &failingImporter{}
	d, st := newDispatcher(t, func(st *store.Store) []prefs.Handler {
		return []prefs.Handler{NewWallpaperHandler(wallDir, st, WithImageImporter(imp))}
	})

	v := value.Map(map[string]value.Value{"wallpaperFile": value.String(img)})
	err := d.Apply(context.Background(), KeyWallpaper, v, prefs.OriginLocal)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryApplyFailed))
	assert.Equal(t, 1, imp.calls)
	stored, ok := st.Get(KeyWallpaper)
	require.True(t, ok)
	assert.True(t, stored.Equal(v))
}

func TestScanAndDeleteWallpapers(t *testing.T) {
	wallDir := t.TempDir()
	touch(t, wallDir, "b.PNG")
	a := touch(t, wallDir, "a.jpg")
	touch(t, wallDir, "notes.txt")
	require.NoError(t, os.Mkdir(filepath.Join(wallDir, "thumbs"), 0o755))

	var h *WallpaperHandler
	d, _ := newDispatcher(t, func(st *store.Store) []prefs.Handler {
		h = NewWallpaperHandler(wallDir, st)
		return []prefs.Handler{h}
	})

	names, err := h.ScanWallpapers()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.PNG"}, names)

	require.NoError(t, d.Apply(context.Background(), KeyWallpaper,
		value.Map(map[string]value.Value{"wallpaperFile": value.String(a)}), prefs.OriginLocal))

	err = h.DeleteWallpaper("a.jpg")
	assert.True(t, errors.HasCategory(err, errors.CategoryInvalidValue))
	require.NoError(t, h.DeleteWallpaper("b.PNG"))
	_, statErr := os.Stat(filepath.Join(wallDir, "b.PNG"))
	assert.True(t, os.IsNotExist(statErr))
	err = h.DeleteWallpaper("b.PNG")
	assert.True(t, errors.HasCategory(err, errors.CategoryInvalidValue))
}

type staticBacking map[string]string

func (s staticBacking) ReadBackingStore() (map[string]string, error) { return s, nil }

func TestBuildInfoIsReadOnly(t *testing.T) {
	d, _ := newDispatcher(t, func(*store.Store) []prefs.Handler {
		return []prefs.Handler{NewBuildInfoHandler(staticBacking{"BUILD_ID": "42", "CODENAME": "nimbus"})}
	})

	err := d.Apply(context.Background(), KeyBuildInfo, value.String("hacked"), prefs.OriginLocal)
	assert.True(t, errors.HasCategory(err, errors.CategoryInvalidValue))

	v, err := d.Get(KeyBuildInfo)
	require.NoError(t, err)
	id, _ := v.StringField("BUILD_ID")
	assert.Equal(t, "42", id)
}

func TestEnvFileReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build-info")
	require.NoError(t, os.WriteFile(path, []byte("BUILD_ID=7\n# comment\nBRANCH=\"main\"\n"), 0o644))

	info, err := EnvFileReader{Path: path}.ReadBackingStore()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"BUILD_ID": "7", "BRANCH": "main"}, info)

	h := NewBuildInfoHandler(EnvFileReader{Path: filepath.Join(t.TempDir(), "missing")})
	assert.True(t, h.ValuesForKey(KeyBuildInfo).IsNull())
}
