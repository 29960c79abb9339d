package handlers

import (
	"context"
	"slices"

	"git.home.luguber.info/inful/prefsd/internal/prefs"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

// KeySpec describes one plain setting: its shape, an optional semantic check and an
// optional side effect.
type KeySpec struct {
	Key      string
	Schema   *prefs.Schema
	Check    func(v value.Value) error
	OnChange func(ctx context.Context, v value.Value) error
}

// SchemaHandler serves settings that need nothing beyond a schema and a callback.
type SchemaHandler struct {
	name   string
	specs  map[string]KeySpec
	keys   []string
	reader prefs.ValueReader
}

func NewSchemaHandler(name string, reader prefs.ValueReader, specs ...KeySpec) *SchemaHandler {
	h := &SchemaHandler{name: name, specs: make(map[string]KeySpec, len(specs)), reader: reader}
	for _, s := range specs {
		h.specs[s.Key] = s
		h.keys = append(h.keys, s.Key)
	}
	return h
}

func (h *SchemaHandler) Name() string { return h.name }

func (h *SchemaHandler) Keys() []string { return slices.Clone(h.keys) }

func (h *SchemaHandler) Schema(key string) *prefs.Schema {
	return h.specs[key].Schema
}

func (h *SchemaHandler) Validate(key string, v value.Value) error {
	spec, ok := h.specs[key]
	if !ok || spec.Check == nil {
		return nil
	}
	return spec.Check(v)
}

func (h *SchemaHandler) ValueChanged(ctx context.Context, key string, v value.Value) error {
	spec, ok := h.specs[key]
	if !ok || spec.OnChange == nil {
		return nil
	}
	return spec.OnChange(ctx, v)
}

func (h *SchemaHandler) ValuesForKey(key string) value.Value {
	if _, ok := h.specs[key]; !ok {
		return value.Null()
	}
	return readValue(h.reader, key)
}

func readValue(reader prefs.ValueReader, key string) value.Value {
	if reader == nil {
		return value.Null()
	}
	v, ok := reader.Get(key)
	if !ok {
		return value.Null()
	}
	return v
}
