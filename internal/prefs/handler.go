// Package prefs defines the preference handler contract, the registry that routes keys
// to their owning handler, and the dispatch pipeline that validates, commits and applies
// changes.
package prefs

import (
	"context"

	"git.home.luguber.info/inful/prefsd/internal/value"
)

// Well-known origins. Any other string is treated as an untrusted remote caller.
const (
	OriginLocal   = "local"
	OriginRestore = "restore"
	OriginSystem  = "system"
)

// Handler owns a fixed, disjoint set of keys.
//
// Validate is a pure check and returns nil when the candidate is acceptable; a non-nil
// error carries the diagnostic shown to the caller. ValueChanged runs once after the value
// is committed and must tolerate being called again with the same value. ValuesForKey
// returns value.Null() for keys the handler does not know.
type Handler interface {
	Name() string
	Keys() []string
	Validate(key string, candidate value.Value) error
	ValueChanged(ctx context.Context, key string, v value.Value) error
	ValuesForKey(key string) value.Value
}

// OriginValidator is implemented by handlers whose policy depends on who is asking.
// When present it replaces Validate in the dispatch path.
type OriginValidator interface {
	ValidateFrom(key string, candidate value.Value, origin string) error
}

// ConsistencyChecker reports whether the stored value still resolves to a usable resource.
type ConsistencyChecker interface {
	IsPrefConsistent(ctx context.Context, key string) bool
}

// Default is a resolved entry of the default specification.
type Default struct {
	Key   string
	Value value.Value
	// Path is the resolved backing resource, empty for plain values.
	Path string
}

// ApplyFunc runs the full validate, commit and notify pipeline for one key.
type ApplyFunc func(ctx context.Context, key string, v value.Value) error

// Restorer rebuilds a key from its default. Implementations must go through apply so
// restoration never bypasses validation.
type Restorer interface {
	RestoreToDefault(ctx context.Context, d Default, apply ApplyFunc) error
}

// SchemaProvider exposes a per-key shape check that runs before Validate.
type SchemaProvider interface {
	Schema(key string) *Schema
}

// ValueReader gives handlers read access to committed values.
type ValueReader interface {
	Get(key string) (value.Value, bool)
}
