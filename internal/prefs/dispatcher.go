package prefs

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"git.home.luguber.info/inful/prefsd/internal/daemon/events"
	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/logfields"
	"git.home.luguber.info/inful/prefsd/internal/metrics"
	"git.home.luguber.info/inful/prefsd/internal/observability"
	"git.home.luguber.info/inful/prefsd/internal/store"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

// Sentinels for errors.Is checks; they compare by category and message.
var (
	ErrUnknownKey = errors.UnknownKey("").Build()
)

// Change is one inbound setting-change request.
type Change struct {
	Key       string      `json:"key"`
	Value     value.Value `json:"value"`
	Origin    string      `json:"origin,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

// Reply is the structured answer to a change request. Failures never escape as errors.
type Reply struct {
	Success   bool   `json:"success"`
	ErrorText string `json:"errorText,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	// Failed lists per-key diagnostics for batch requests.
	Failed map[string]string `json:"failed,omitempty"`
}

// ReplyFor converts an Apply result into a Reply.
func ReplyFor(requestID string, err error) Reply {
	if err == nil {
		return Reply{Success: true, RequestID: requestID}
	}
	text := errors.MessageOf(err)
	if c, ok := errors.AsClassified(err); ok && c.Category() == errors.CategoryApplyFailed && c.Cause() != nil {
		text += ": " + c.Cause().Error()
	}
	return Reply{
		ErrorText: text,
		ErrorCode: string(errors.GetCategory(err)),
		RequestID: requestID,
	}
}

// Dispatcher runs the lookup, validate, commit, notify pipeline.
type Dispatcher struct {
	registry *Registry
	store    *store.Store
	bus      *events.Bus
	recorder metrics.Recorder
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithBus(bus *events.Bus) DispatcherOption {
	return func(d *Dispatcher) { d.bus = bus }
}

func WithMetrics(r metrics.Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDispatcher(registry *Registry, st *store.Store, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		store:    st,
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Registry() *Registry { return d.registry }

func (d *Dispatcher) Store() *store.Store { return d.store }

// Apply routes (key, v) to its handler, validates, commits and notifies.
//
// An UnknownKey or InvalidValue error means nothing was mutated. ApplyFailed means the
// value is committed but the handler's side effects did not complete.
func (d *Dispatcher) Apply(ctx context.Context, key string, v value.Value, origin string) error {
	start := time.Now()
	ctx = observability.WithKey(ctx, key)
	err := d.apply(ctx, key, v, origin)

	code := "ok"
	if err != nil {
		code = string(errors.GetCategory(err))
	}
	d.recorder.ObserveDispatch(key, code, time.Since(start))
	return err
}

func (d *Dispatcher) apply(ctx context.Context, key string, v value.Value, origin string) error {
	h, ok := d.registry.Lookup(key)
	if !ok {
		observability.DebugContext(ctx, "Rejected change for unknown key")
		return errors.UnknownKey(key).Build()
	}

	unlock := d.store.LockKey(key)
	defer unlock()

	if err := validate(h, key, v, origin); err != nil {
		observability.InfoContext(ctx, "Rejected invalid value",
			logfields.Handler(h.Name()), logfields.Error(err))
		return err
	}

	if err := d.store.Set(ctx, key, v); err != nil {
		// The in-memory commit stands; persistence is retried on the next commit.
		observability.WarnContext(ctx, "Committed value not persisted", logfields.Error(err))
	}

	applyErr := h.ValueChanged(ctx, key, v)
	d.bus.TryPublish(events.ValueChanged{
		Key:       key,
		Value:     v,
		Origin:    origin,
		RequestID: observability.GetContext(ctx).RequestID,
		Applied:   applyErr == nil,
		At:        time.Now().UTC(),
	})
	if applyErr != nil {
		observability.WarnContext(ctx, "Value stored but not applied",
			logfields.Handler(h.Name()), logfields.Error(applyErr))
		return errors.ApplyFailed(key, applyErr).Build()
	}

	observability.DebugContext(ctx, "Value committed", logfields.Handler(h.Name()))
	return nil
}

func validate(h Handler, key string, v value.Value, origin string) error {
	if sp, ok := h.(SchemaProvider); ok {
		if err := sp.Schema(key).Check(v); err != nil {
			return errors.InvalidValue(key, "value does not match schema").WithCause(err).Build()
		}
	}
	var err error
	if ov, ok := h.(OriginValidator); ok {
		err = ov.ValidateFrom(key, v, origin)
	} else {
		err = h.Validate(key, v)
	}
	if err == nil {
		return nil
	}
	if errors.HasCategory(err, errors.CategoryInvalidValue) {
		return err
	}
	return errors.InvalidValue(key, err.Error()).Build()
}

// Dispatch handles one change request and always answers with a Reply.
func (d *Dispatcher) Dispatch(ctx context.Context, c Change) Reply {
	ctx = observability.WithOrigin(observability.WithRequestID(ctx, c.RequestID), c.Origin)
	return ReplyFor(c.RequestID, d.Apply(ctx, c.Key, c.Value, c.Origin))
}

// DispatchMany applies every entry in key order. The reply succeeds only if all did;
// each failed key is listed in Failed and the first failure supplies the error text.
func (d *Dispatcher) DispatchMany(ctx context.Context, values map[string]value.Value, origin, requestID string) Reply {
	ctx = observability.WithOrigin(observability.WithRequestID(ctx, requestID), origin)
	reply := Reply{Success: true, RequestID: requestID}
	for _, key := range slices.Sorted(maps.Keys(values)) {
		err := d.Apply(ctx, key, values[key], origin)
		if err == nil {
			continue
		}
		if reply.Success {
			first := ReplyFor(requestID, err)
			reply.Success = false
			reply.ErrorText = first.ErrorText
			reply.ErrorCode = first.ErrorCode
			reply.Failed = make(map[string]string)
		}
		reply.Failed[key] = errors.MessageOf(err)
	}
	return reply
}

// ApplyFunc binds Apply to an origin.
func (d *Dispatcher) ApplyFunc(origin string) ApplyFunc {
	return func(ctx context.Context, key string, v value.Value) error {
		return d.Apply(ctx, key, v, origin)
	}
}

// Get returns the owning handler's view of key, bypassing validation.
func (d *Dispatcher) Get(key string) (value.Value, error) {
	h, ok := d.registry.Lookup(key)
	if !ok {
		return value.Null(), errors.UnknownKey(key).Build()
	}
	return h.ValuesForKey(key), nil
}

// GetMany reads several keys; unknown keys are returned separately.
func (d *Dispatcher) GetMany(keys []string) (map[string]value.Value, []string) {
	found := make(map[string]value.Value, len(keys))
	var unknown []string
	for _, key := range keys {
		v, err := d.Get(key)
		if err != nil {
			unknown = append(unknown, key)
			continue
		}
		found[key] = v
	}
	return found, unknown
}
