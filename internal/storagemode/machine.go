// Package storagemode tracks whether the device runs normally (Phone) or is in storage
// maintenance (Brick), driven only by hardware events.
package storagemode

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/prefsd/internal/daemon/events"
	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/logfields"
	"git.home.luguber.info/inful/prefsd/internal/metrics"
)

// Mode is the device-wide storage operating mode.
type Mode uint8

const (
	Unknown Mode = iota
	Phone
	Brick
)

func (m Mode) String() string {
	switch m {
	case Phone:
		return "Phone"
	case Brick:
		return "Brick"
	default:
		return "Unknown"
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Snapshot is the observable state, including the intermediate event markers.
type Snapshot struct {
	Mode               Mode      `json:"mode"`
	AvailabilityKnown  bool      `json:"availabilityKnown"`
	Available          bool      `json:"available"`
	Progress           float64   `json:"progress"`
	ProgressMessage    string    `json:"progressMessage,omitempty"`
	Entered            bool      `json:"entered"`
	Fscking            bool      `json:"fscking"`
	PartitionAvailable bool      `json:"partitionAvailable"`
	Partition          string    `json:"partition,omitempty"`
	Events             uint64    `json:"events"`
	LastEvent          EventKind `json:"lastEvent,omitempty"`
	ChangedAt          time.Time `json:"changedAt,omitzero"`
}

// Transition applies one event to s. It is pure; timeouts are not modeled, so only an
// event can change the mode.
func Transition(s Snapshot, evt Event) Snapshot {
	s.Events++
	s.LastEvent = evt.Kind
	switch evt.Kind {
	case KindAvailability:
		s.AvailabilityKnown = true
		s.Available = evt.Available
		if evt.Available && s.Mode == Unknown {
			s.Mode = Phone
		}
	case KindProgress:
		s.Progress = evt.Progress
		s.ProgressMessage = evt.Message
	case KindEntry:
		s.Entered = evt.Enter
		if evt.Enter {
			s.Mode = Brick
			s.PartitionAvailable = false
		}
	case KindFscking:
		s.Fscking = evt.Fscking
		if evt.Fscking {
			s.Mode = Brick
			s.PartitionAvailable = false
		}
	case KindPartitionAvailable:
		s.PartitionAvailable = evt.Available
		s.Partition = evt.Partition
		if evt.Available && s.Mode != Phone {
			s.Mode = Phone
			s.Entered = false
			s.Fscking = false
			s.Progress = 0
			s.ProgressMessage = ""
		}
	}
	return s
}

// Machine owns the storage-mode state. Events enter through a buffered channel and a
// single Run loop applies them one at a time in arrival order.
type Machine struct {
	mu    sync.RWMutex
	state Snapshot

	queue   chan Event
	ready   func() bool
	running atomic.Bool

	bus      *events.Bus
	recorder metrics.Recorder
	logger   *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithBuffer sets the event queue capacity.
func WithBuffer(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.queue = make(chan Event, n)
		}
	}
}

// WithReadiness makes Run and Deliver fail until ready reports true.
func WithReadiness(ready func() bool) Option {
	return func(m *Machine) { m.ready = ready }
}

func WithBus(bus *events.Bus) Option {
	return func(m *Machine) { m.bus = bus }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(m *Machine) {
		if r != nil {
			m.recorder = r
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		queue:    make(chan Event, 64),
		ready:    func() bool { return true },
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mode returns the current mode.
func (m *Machine) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Mode
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Deliver enqueues evt, blocking while the queue is full.
func (m *Machine) Deliver(ctx context.Context, evt Event) error {
	if !m.ready() {
		return errors.RuntimeError("storage-mode machine used before the value store is loaded").Build()
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now().UTC()
	}
	select {
	case m.queue <- evt:
		return nil
	case <-ctx.Done():
		return errors.WrapError(ctx.Err(), errors.CategoryRuntime, "hardware event not delivered").
			WithContext("event", evt.Kind.String()).Build()
	}
}

// DeliverRaw parses an opaque payload and enqueues it. Malformed payloads are logged
// and dropped without touching the state.
func (m *Machine) DeliverRaw(ctx context.Context, kind string, data []byte) error {
	k, err := ParseKind(kind)
	if err != nil {
		m.recorder.IncHardwareEvent(kind, false)
		m.logger.Warn("Dropped hardware event", logfields.Event(kind), logfields.Error(err))
		return errors.InvalidValue(kind, err.Error()).Build()
	}
	evt, err := ParseEvent(k, data)
	if err != nil {
		m.recorder.IncHardwareEvent(k.String(), false)
		m.logger.Warn("Dropped malformed hardware event", logfields.Event(k.String()), logfields.Error(err))
		return errors.InvalidValue(k.String(), err.Error()).Build()
	}
	return m.Deliver(ctx, evt)
}

// Run consumes events until ctx is done. Only one Run may be active.
func (m *Machine) Run(ctx context.Context) error {
	if !m.ready() {
		return errors.RuntimeError("storage-mode machine used before the value store is loaded").Build()
	}
	if !m.running.CompareAndSwap(false, true) {
		return errors.RuntimeError("storage-mode machine is already running").Build()
	}
	defer m.running.Store(false)

	m.recorder.SetMode(m.Mode().String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-m.queue:
			m.step(evt)
		}
	}
}

func (m *Machine) step(evt Event) {
	m.mu.Lock()
	from := m.state.Mode
	next := Transition(m.state, evt)
	if next.Mode != from {
		next.ChangedAt = evt.ReceivedAt
		if next.ChangedAt.IsZero() {
			next.ChangedAt = time.Now().UTC()
		}
	}
	m.state = next
	m.mu.Unlock()

	m.recorder.IncHardwareEvent(evt.Kind.String(), true)
	m.logger.Debug("Hardware event applied", logfields.Event(evt.Kind.String()), logfields.Mode(next.Mode.String()))
	if next.Mode == from {
		return
	}

	m.recorder.IncModeTransition(from.String(), next.Mode.String())
	m.recorder.SetMode(next.Mode.String())
	m.logger.Info("Storage mode changed",
		logfields.FromMode(from.String()),
		logfields.Mode(next.Mode.String()),
		logfields.Event(evt.Kind.String()))
	m.bus.TryPublish(events.ModeChanged{
		From:  from.String(),
		To:    next.Mode.String(),
		Cause: evt.Kind.String(),
		At:    next.ChangedAt,
	})
}
