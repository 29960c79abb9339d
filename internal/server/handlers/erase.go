package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/observability"
	"git.home.luguber.info/inful/prefsd/internal/server/responses"
)

// EraseService is the partition erase service as seen by the transport.
type EraseService interface {
	EraseNamed(ctx context.Context, name string) error
}

type EraseHandlers struct {
	svc          EraseService
	errorAdapter *errors.HTTPErrorAdapter
}

func NewEraseHandlers(svc EraseService, adapter *errors.HTTPErrorAdapter) *EraseHandlers {
	return &EraseHandlers{svc: svc, errorAdapter: adapter}
}

func (h *EraseHandlers) HandleErase(w http.ResponseWriter, r *http.Request) {
	ctx := observability.WithOperation(r.Context(), "erase")
	if err := h.svc.EraseNamed(ctx, chi.URLParam(r, "type")); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, responses.SuccessResponse{
		Success:   true,
		RequestID: observability.GetContext(ctx).RequestID,
	})
}
