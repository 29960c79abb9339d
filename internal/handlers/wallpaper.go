package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/logfields"
	"git.home.luguber.info/inful/prefsd/internal/prefs"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

const KeyWallpaper = "wallpaper"

var wallpaperSchema = prefs.MustCompileSchema(KeyWallpaper, `{
	"oneOf": [
		{"type": "string", "minLength": 1},
		{
			"type": "object",
			"properties": {
				"wallpaperName": {"type": "string"},
				"wallpaperFile": {"type": "string", "minLength": 1},
				"wallpaperThumbFile": {"type": "string"}
			},
			"required": ["wallpaperFile"]
		}
	]
}`)

var wallpaperExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".webp"}

// ImageImporter prepares a wallpaper image (scaling, thumbnail generation) after it is
// selected.
type ImageImporter interface {
	Import(ctx context.Context, file, thumb string) error
}

// WallpaperHandler owns the wallpaper selection. Values name a file inside the wallpaper
// directory, or point anywhere when set by a trusted origin.
type WallpaperHandler struct {
	dir      string
	trusted  []string
	reader   prefs.ValueReader
	importer ImageImporter
	logger   *slog.Logger
}

// WallpaperOption configures a WallpaperHandler.
type WallpaperOption func(*WallpaperHandler)

// WithTrustedOrigins replaces the origins allowed to select files outside the directory.
func WithTrustedOrigins(origins ...string) WallpaperOption {
	return func(h *WallpaperHandler) { h.trusted = origins }
}

func WithImageImporter(imp ImageImporter) WallpaperOption {
	return func(h *WallpaperHandler) { h.importer = imp }
}

func NewWallpaperHandler(dir string, reader prefs.ValueReader, opts ...WallpaperOption) *WallpaperHandler {
	h := &WallpaperHandler{
		dir:     dir,
		trusted: []string{prefs.OriginLocal, prefs.OriginRestore, prefs.OriginSystem},
		reader:  reader,
		logger:  slog.Default().With(logfields.Handler("wallpaper")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *WallpaperHandler) Name() string   { return "wallpaper" }
func (h *WallpaperHandler) Keys() []string { return []string{KeyWallpaper} }

func (h *WallpaperHandler) Schema(string) *prefs.Schema { return wallpaperSchema }

// wallpaper is the resolved form of a stored value.
type wallpaper struct {
	Name  string
	File  string
	Thumb string
}

func (h *WallpaperHandler) resolve(v value.Value) wallpaper {
	if name, ok := v.AsString(); ok {
		return wallpaper{Name: name, File: filepath.Join(h.dir, filepath.Base(name))}
	}
	w := wallpaper{}
	w.Name, _ = v.StringField("wallpaperName")
	w.File, _ = v.StringField("wallpaperFile")
	w.Thumb, _ = v.StringField("wallpaperThumbFile")
	if w.Name == "" {
		w.Name = filepath.Base(w.File)
	}
	return w
}

func (h *WallpaperHandler) Validate(key string, v value.Value) error {
	return h.ValidateFrom(key, v, prefs.OriginSystem)
}

func (h *WallpaperHandler) ValidateFrom(_ string, v value.Value, origin string) error {
	w := h.resolve(v)
	if w.File == "" {
		return fmt.Errorf("wallpaper has no file")
	}
	if !slices.Contains(h.trusted, origin) && !h.inDir(w.File) {
		return fmt.Errorf("wallpaper must be inside %s", h.dir)
	}
	return readableFile(w.File)
}

func (h *WallpaperHandler) inDir(path string) bool {
	return h.dir != "" && within(h.dir, path)
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, filepath.Clean(path))
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (h *WallpaperHandler) ValueChanged(ctx context.Context, _ string, v value.Value) error {
	w := h.resolve(v)
	h.logger.Info("Wallpaper changed", logfields.Path(w.File))
	if h.importer == nil {
		return nil
	}
	return h.importer.Import(ctx, w.File, w.Thumb)
}

// ValuesForKey reports the selection with file:// URLs for the image and thumbnail.
func (h *WallpaperHandler) ValuesForKey(key string) value.Value {
	if key != KeyWallpaper {
		return value.Null()
	}
	stored := readValue(h.reader, key)
	if stored.IsNull() {
		return stored
	}
	w := h.resolve(stored)
	return value.Map(map[string]value.Value{
		"wallpaperName":      value.String(w.Name),
		"wallpaperFile":      value.String(fileURL(w.File)),
		"wallpaperThumbFile": value.String(fileURL(w.Thumb)),
	})
}

func fileURL(path string) string {
	if path == "" {
		return ""
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// RestoreToDefault commits the default selection in map form, pointing at the resolved
// file. A default thumbnail is kept only when it lives beside that file; otherwise it is
// cleared and the importer rebuilds it.
func (h *WallpaperHandler) RestoreToDefault(ctx context.Context, d prefs.Default, apply prefs.ApplyFunc) error {
	w := h.resolve(d.Value)
	if d.Path != "" {
		w.File = d.Path
	}
	if w.Name == "" {
		w.Name = filepath.Base(w.File)
	}
	if w.Thumb != "" && (!within(filepath.Dir(w.File), w.Thumb) || readableFile(w.Thumb) != nil) {
		h.logger.Info("Dropping default thumbnail", logfields.Path(w.Thumb))
		w.Thumb = ""
	}
	return apply(ctx, d.Key, value.Map(map[string]value.Value{
		"wallpaperName":      value.String(w.Name),
		"wallpaperFile":      value.String(w.File),
		"wallpaperThumbFile": value.String(w.Thumb),
	}))
}

func (h *WallpaperHandler) IsPrefConsistent(_ context.Context, key string) bool {
	stored := readValue(h.reader, key)
	if stored.IsNull() {
		return false
	}
	return readableFile(h.resolve(stored).File) == nil
}

// ScanWallpapers lists the image files in the wallpaper directory, sorted by name.
func (h *WallpaperHandler) ScanWallpapers() ([]string, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return nil, errors.StorageError("scan wallpaper directory").WithCause(err).
			WithContext("path", h.dir).Build()
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if slices.Contains(wallpaperExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// DeleteWallpaper removes an imported wallpaper. The current selection cannot be deleted.
func (h *WallpaperHandler) DeleteWallpaper(name string) error {
	path := filepath.Join(h.dir, filepath.Base(name))
	if name == "" || !h.inDir(path) {
		return errors.InvalidValue(KeyWallpaper, "invalid wallpaper name").Build()
	}
	if stored := readValue(h.reader, KeyWallpaper); !stored.IsNull() {
		if filepath.Clean(h.resolve(stored).File) == path {
			return errors.InvalidValue(KeyWallpaper, "wallpaper is in use").Build()
		}
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.InvalidValue(KeyWallpaper, "no such wallpaper").WithCause(err).Build()
		}
		return errors.StorageError("delete wallpaper").WithCause(err).Build()
	}
	h.logger.Info("Wallpaper deleted", logfields.Path(path))
	return nil
}
