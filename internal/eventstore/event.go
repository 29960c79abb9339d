package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/prefsd/internal/daemon/events"
)

// SubjectStorageMode is the subject of journaled storage-mode transitions.
const SubjectStorageMode = "storage-mode"

// Record is one journaled daemon event. Subject is the setting key, or
// SubjectStorageMode for mode transitions.
type Record struct {
	ID       int64             `json:"id"`
	Subject  string            `json:"subject"`
	Type     string            `json:"type"`
	At       time.Time         `json:"at"`
	Payload  json.RawMessage   `json:"payload"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FromEvent converts a bus event into a record. Unknown event types are not journaled.
func FromEvent(evt events.Event) (Record, bool) {
	var r Record
	switch e := evt.(type) {
	case events.ValueChanged:
		r = Record{Subject: e.Key, At: e.At, Metadata: map[string]string{}}
		if e.Origin != "" {
			r.Metadata["origin"] = e.Origin
		}
		if e.RequestID != "" {
			r.Metadata["request_id"] = e.RequestID
		}
	case events.RestoreCompleted:
		r = Record{Subject: e.Key, At: e.At}
	case events.ModeChanged:
		r = Record{Subject: SubjectStorageMode, At: e.At, Metadata: map[string]string{"cause": e.Cause}}
	default:
		return Record{}, false
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Record{}, false
	}
	r.Type = evt.EventName()
	r.Payload = payload
	if r.At.IsZero() {
		r.At = time.Now()
	}
	if len(r.Metadata) == 0 {
		r.Metadata = nil
	}
	return r, true
}
