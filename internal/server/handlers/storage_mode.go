package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/observability"
	"git.home.luguber.info/inful/prefsd/internal/server/responses"
	"git.home.luguber.info/inful/prefsd/internal/storagemode"
)

// StorageModeService is the storage-mode machine as seen by the transport.
type StorageModeService interface {
	Snapshot() storagemode.Snapshot
	DeliverRaw(ctx context.Context, kind string, data []byte) error
}

// StorageModeHandlers serves /v1/storage-mode.
type StorageModeHandlers struct {
	svc          StorageModeService
	errorAdapter *errors.HTTPErrorAdapter
}

func NewStorageModeHandlers(svc StorageModeService, adapter *errors.HTTPErrorAdapter) *StorageModeHandlers {
	return &StorageModeHandlers{svc: svc, errorAdapter: adapter}
}

func (h *StorageModeHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	_ = writeJSONPretty(w, r, http.StatusOK, responses.StorageModeResponse{Success: true, Snapshot: h.svc.Snapshot()})
}

// HandleEvent injects a hardware event. The event is queued, so the reply only confirms
// acceptance; the resulting mode is visible through HandleStatus or the subscription.
func (h *StorageModeHandlers) HandleEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.ValidationError("failed to read request body").WithCause(err).Build())
		return
	}
	if err := h.svc.DeliverRaw(r.Context(), chi.URLParam(r, "kind"), payload); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusAccepted, responses.SuccessResponse{
		Success:   true,
		RequestID: observability.GetContext(r.Context()).RequestID,
	})
}
