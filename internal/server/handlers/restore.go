package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/restore"
	"git.home.luguber.info/inful/prefsd/internal/server/responses"
)

// RestoreService is the consistency/restore engine as seen by the transport.
type RestoreService interface {
	Targets() []restore.Target
	IsConsistent(ctx context.Context, key string) bool
	RestoreDefault(ctx context.Context, key string) error
	RuntimeCheck(ctx context.Context) []restore.SweepResult
}

// RestoreHandlers serves /v1/restore and /v1/consistency.
type RestoreHandlers struct {
	svc          RestoreService
	errorAdapter *errors.HTTPErrorAdapter
}

func NewRestoreHandlers(svc RestoreService, adapter *errors.HTTPErrorAdapter) *RestoreHandlers {
	return &RestoreHandlers{svc: svc, errorAdapter: adapter}
}

func (h *RestoreHandlers) HandleRestore(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.svc.RestoreDefault(r.Context(), key); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, responses.RestoreResponse{Success: true, Key: key, Consistent: true})
}

func (h *RestoreHandlers) HandleConsistency(w http.ResponseWriter, r *http.Request) {
	targets := h.svc.Targets()
	resp := responses.ConsistencyResponse{Success: true, Keys: make([]responses.KeyConsistency, 0, len(targets))}
	for _, t := range targets {
		resp.Keys = append(resp.Keys, responses.KeyConsistency{
			Key:        t.Key,
			Consistent: h.svc.IsConsistent(r.Context(), t.Key),
		})
	}
	_ = writeJSONPretty(w, r, http.StatusOK, resp)
}

func (h *RestoreHandlers) HandleSweep(w http.ResponseWriter, r *http.Request) {
	results := h.svc.RuntimeCheck(r.Context())
	success := true
	for _, res := range results {
		if res.Err != nil {
			success = false
		}
	}
	_ = writeJSONPretty(w, r, http.StatusOK, responses.SweepResponse{Success: success, Results: results})
}
