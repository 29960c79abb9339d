package restore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"git.home.luguber.info/inful/prefsd/internal/prefs"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

// DefaultsSource yields the default specification document: a JSON object whose
// entries are themselves string-encoded JSON, one per recoverable key.
type DefaultsSource interface {
	Load(ctx context.Context) (string, error)
}

// FileSource reads the default specification from a file.
type FileSource struct {
	Path string
}

func (s FileSource) Load(context.Context) (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// StaticSource serves a fixed document.
type StaticSource string

func (s StaticSource) Load(context.Context) (string, error) {
	return string(s), nil
}

// Target names a recoverable key and how its default resolves to a backing resource.
type Target struct {
	Key string
	// PathField is the field of the default entry holding the resource path. Empty
	// means the default is a plain value with no backing file.
	PathField string
	// CopyToMedia copies the default resource into the media directory before it is
	// committed, so the stored path stays valid once the source is unmounted.
	CopyToMedia bool
}

// parseDocument performs the first parse step, keeping entries in encoded form.
func parseDocument(doc string) (map[string]string, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal([]byte(doc), &outer); err != nil {
		return nil, fmt.Errorf("parse default specification: %w", err)
	}
	entries := make(map[string]string, len(outer))
	for key, raw := range outer {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err == nil {
			entries[key] = encoded
			continue
		}
		// Tolerate entries that are already decoded objects.
		entries[key] = string(raw)
	}
	return entries, nil
}

// resolveEntry performs the second parse step for one key.
func resolveEntry(t Target, encoded string) (prefs.Default, error) {
	v, err := value.ParseString(encoded)
	if err != nil {
		return prefs.Default{}, fmt.Errorf("parse default for %s: %w", t.Key, err)
	}
	d := prefs.Default{Key: t.Key, Value: v}
	if t.PathField == "" {
		return d, nil
	}
	path, ok := v.StringField(t.PathField)
	if !ok || path == "" {
		return prefs.Default{}, fmt.Errorf("default for %s has no %q", t.Key, t.PathField)
	}
	d.Path = path
	return d, nil
}

// CheckDocument parses doc and resolves the entry of every target it contains. It
// returns the keys that have no entry.
func CheckDocument(doc string, targets []Target) ([]string, error) {
	entries, err := parseDocument(doc)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, t := range targets {
		encoded, ok := entries[t.Key]
		if !ok {
			missing = append(missing, t.Key)
			continue
		}
		if _, err := resolveEntry(t, encoded); err != nil {
			return nil, err
		}
	}
	return missing, nil
}
