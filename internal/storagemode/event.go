package storagemode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"git.home.luguber.info/inful/prefsd/internal/foundation/normalization"
)

// EventKind tags a hardware event.
type EventKind uint8

const (
	KindAvailability EventKind = iota + 1
	KindProgress
	KindEntry
	KindFscking
	KindPartitionAvailable
)

func (k EventKind) String() string {
	switch k {
	case KindAvailability:
		return "availability"
	case KindProgress:
		return "progress"
	case KindEntry:
		return "entry"
	case KindFscking:
		return "fscking"
	case KindPartitionAvailable:
		return "partitionAvailable"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

var kindNames = normalization.New("event kind", map[string]EventKind{
	"availability":       KindAvailability,
	"avail":              KindAvailability,
	"mode-avail":         KindAvailability,
	"progress":           KindProgress,
	"entry":              KindEntry,
	"enter":              KindEntry,
	"fscking":            KindFscking,
	"fsck":               KindFscking,
	"partitionAvailable": KindPartitionAvailable,
	"partition":          KindPartitionAvailable,
	"partition-avail":    KindPartitionAvailable,
}, 0)

// ParseKind accepts the canonical names and their short bus-subject forms.
func ParseKind(s string) (EventKind, error) {
	return kindNames.Parse(s)
}

// Event is one hardware callback, already decoded.
type Event struct {
	Kind EventKind `json:"kind"`
	// Available is the reachability for availability events and the partition state
	// for partitionAvailable events.
	Available bool    `json:"available,omitempty"`
	Progress  float64 `json:"progress,omitempty"`
	Message   string  `json:"message,omitempty"`
	// Enter is false for an exit request, which is recorded but changes no mode.
	Enter      bool      `json:"enter,omitempty"`
	Fscking    bool      `json:"fscking,omitempty"`
	Partition  string    `json:"partition,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func Availability(available bool) Event { return Event{Kind: KindAvailability, Available: available} }
func Progress(pct float64, msg string) Event {
	return Event{Kind: KindProgress, Progress: pct, Message: msg}
}
func Entry() Event              { return Event{Kind: KindEntry, Enter: true} }
func Exit() Event               { return Event{Kind: KindEntry} }
func Fscking(active bool) Event { return Event{Kind: KindFscking, Fscking: active} }
func PartitionAvailable(name string) Event {
	return Event{Kind: KindPartitionAvailable, Partition: name, Available: true}
}

type payload struct {
	ModeAvail *bool    `json:"mode-avail"`
	Progress  *float64 `json:"progress"`
	Message   string   `json:"message"`
	EnterMSM  *bool    `json:"enterMSM"`
	Fscking   *bool    `json:"fscking"`
	Partition string   `json:"partition"`
	Available *bool    `json:"available"`
}

// ParseEvent decodes a JSON payload for kind. Entry, fscking and partitionAvailable
// accept an empty payload, meaning "true"; availability and progress require their field.
func ParseEvent(kind EventKind, data []byte) (Event, error) {
	var p payload
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("%s payload: %w", kind, err)
		}
	}
	evt := Event{Kind: kind}
	switch kind {
	case KindAvailability:
		if p.ModeAvail == nil {
			return Event{}, fmt.Errorf("availability payload: missing mode-avail")
		}
		evt.Available = *p.ModeAvail
	case KindProgress:
		if p.Progress == nil {
			return Event{}, fmt.Errorf("progress payload: missing progress")
		}
		evt.Progress = *p.Progress
		evt.Message = p.Message
	case KindEntry:
		evt.Enter = p.EnterMSM == nil || *p.EnterMSM
	case KindFscking:
		evt.Fscking = p.Fscking == nil || *p.Fscking
	case KindPartitionAvailable:
		evt.Partition = p.Partition
		evt.Available = p.Available == nil || *p.Available
	default:
		return Event{}, fmt.Errorf("unknown event kind %s", kind)
	}
	return evt, nil
}
