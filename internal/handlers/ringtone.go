package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/prefsd/internal/logfields"
	"git.home.luguber.info/inful/prefsd/internal/prefs"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

const KeyRingtone = "ringtone"

var ringtoneSchema = prefs.MustCompileSchema(KeyRingtone, `{
	"oneOf": [
		{"type": "string", "minLength": 1},
		{
			"type": "object",
			"properties": {
				"fullPath": {"type": "string", "minLength": 1},
				"name": {"type": "string"}
			},
			"required": ["fullPath"]
		}
	]
}`)

// RingtoneHandler owns the ringtone selection. The value is either a bare name or an
// object {fullPath, name} pointing at an audio file.
type RingtoneHandler struct {
	reader prefs.ValueReader
	logger *slog.Logger
}

func NewRingtoneHandler(reader prefs.ValueReader) *RingtoneHandler {
	return &RingtoneHandler{reader: reader, logger: slog.Default().With(logfields.Handler("ringtone"))}
}

func (h *RingtoneHandler) Name() string   { return "ringtone" }
func (h *RingtoneHandler) Keys() []string { return []string{KeyRingtone} }

func (h *RingtoneHandler) Schema(string) *prefs.Schema { return ringtoneSchema }

// ringtonePath returns the file path of v, empty for a bare name.
func ringtonePath(v value.Value) string {
	path, _ := v.StringField("fullPath")
	return path
}

func (h *RingtoneHandler) Validate(_ string, v value.Value) error {
	if s, ok := v.AsString(); ok {
		if s == "" {
			return fmt.Errorf("ringtone name is empty")
		}
		return nil
	}
	path := ringtonePath(v)
	if path == "" {
		return fmt.Errorf("ringtone has no fullPath")
	}
	return readableFile(path)
}

func (h *RingtoneHandler) ValueChanged(_ context.Context, _ string, v value.Value) error {
	h.logger.Info("Ringtone changed", logfields.Path(ringtonePath(v)))
	return nil
}

func (h *RingtoneHandler) ValuesForKey(key string) value.Value {
	if key != KeyRingtone {
		return value.Null()
	}
	return readValue(h.reader, key)
}

// IsPrefConsistent reports whether the stored ringtone file still exists. A missing
// value or a bare name has nothing to check against.
func (h *RingtoneHandler) IsPrefConsistent(_ context.Context, key string) bool {
	v := readValue(h.reader, key)
	if v.IsNull() {
		return false
	}
	path := ringtonePath(v)
	if path == "" {
		_, ok := v.AsString()
		return ok
	}
	return readableFile(path) == nil
}

func readableFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file %s is not readable: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("file %s is not readable: %w", path, err)
	}
	return f.Close()
}
