package events

import (
	"time"

	"git.home.luguber.info/inful/prefsd/internal/value"
)

// ValueChanged is emitted after a value has been committed to the store.
type ValueChanged struct {
	Key       string      `json:"key"`
	Value     value.Value `json:"value"`
	Origin    string      `json:"origin,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
	// Applied is false when the owning handler failed to apply side effects.
	Applied bool      `json:"applied"`
	At      time.Time `json:"at"`
}

func (ValueChanged) EventName() string { return "valueChanged" }

// ModeChanged is emitted on every storage-mode transition.
type ModeChanged struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	Cause string    `json:"cause"`
	At    time.Time `json:"at"`
}

func (ModeChanged) EventName() string { return "modeChanged" }

// RestoreCompleted reports the outcome of one restore-to-default attempt.
type RestoreCompleted struct {
	Key        string    `json:"key"`
	Consistent bool      `json:"consistent"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

func (RestoreCompleted) EventName() string { return "restoreCompleted" }
