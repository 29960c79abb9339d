// Package responses defines the request and response bodies of the prefsd HTTP API.
package responses

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/prefsd/internal/eventstore"
	"git.home.luguber.info/inful/prefsd/internal/restore"
	"git.home.luguber.info/inful/prefsd/internal/storagemode"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

// SetRequest changes one key ({key, value}) or several ({values}). Value stays raw so an
// explicit null is told apart from a missing value.
type SetRequest struct {
	Key    string                 `json:"key,omitempty"`
	Value  json.RawMessage        `json:"value,omitempty"`
	Values map[string]value.Value `json:"values,omitempty"`
	Origin string                 `json:"origin,omitempty"`
}

// GetResponse answers a single-key read.
type GetResponse struct {
	Success bool        `json:"success"`
	Key     string      `json:"key"`
	Value   value.Value `json:"value"`
}

// GetManyResponse answers a batch read. Unknown keys are listed, not fatal.
type GetManyResponse struct {
	Success bool                   `json:"success"`
	Values  map[string]value.Value `json:"values"`
	Unknown []string               `json:"unknown,omitempty"`
}

// RestoreResponse answers a restore request.
type RestoreResponse struct {
	Success    bool   `json:"success"`
	Key        string `json:"key"`
	Consistent bool   `json:"consistent"`
}

// KeyConsistency is the consistency of one recoverable key.
type KeyConsistency struct {
	Key        string `json:"key"`
	Consistent bool   `json:"consistent"`
}

// ConsistencyResponse lists every recoverable key.
type ConsistencyResponse struct {
	Success bool             `json:"success"`
	Keys    []KeyConsistency `json:"keys"`
}

// SweepResponse answers a forced runtime sweep.
type SweepResponse struct {
	Success bool                  `json:"success"`
	Results []restore.SweepResult `json:"results"`
}

// StorageModeResponse reports the storage-mode state.
type StorageModeResponse struct {
	Success bool `json:"success"`
	storagemode.Snapshot
}

// HistoryResponse lists journal records, oldest first.
type HistoryResponse struct {
	Success bool                `json:"success"`
	Records []eventstore.Record `json:"records"`
}

// SuccessResponse is the bare acknowledgement.
type SuccessResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"requestId,omitempty"`
}

// StreamMessage is one frame on the subscription websocket.
type StreamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// HealthCheck is a single component check.
type HealthCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check API response.
type HealthResponse struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version"`
	Uptime    float64       `json:"uptime"`
	Checks    []HealthCheck `json:"checks,omitempty"`
}
