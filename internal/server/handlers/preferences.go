package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/observability"
	"git.home.luguber.info/inful/prefsd/internal/prefs"
	"git.home.luguber.info/inful/prefsd/internal/server/responses"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

// PreferenceService is the dispatch pipeline as seen by the transport.
type PreferenceService interface {
	Dispatch(ctx context.Context, c prefs.Change) prefs.Reply
	DispatchMany(ctx context.Context, values map[string]value.Value, origin, requestID string) prefs.Reply
	Get(key string) (value.Value, error)
	GetMany(keys []string) (map[string]value.Value, []string)
}

// PreferenceHandlers serves /v1/preferences.
type PreferenceHandlers struct {
	svc          PreferenceService
	errorAdapter *errors.HTTPErrorAdapter
}

func NewPreferenceHandlers(svc PreferenceService, adapter *errors.HTTPErrorAdapter) *PreferenceHandlers {
	return &PreferenceHandlers{svc: svc, errorAdapter: adapter}
}

// HandleSet applies {key, value} or {values} and answers with the dispatch reply.
func (h *PreferenceHandlers) HandleSet(w http.ResponseWriter, r *http.Request) {
	var req responses.SetRequest
	if err := decodeJSON(r, &req); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	requestID := observability.GetContext(r.Context()).RequestID
	origin := originFrom(r, req.Origin)

	var reply prefs.Reply
	switch {
	case len(req.Values) > 0:
		reply = h.svc.DispatchMany(r.Context(), req.Values, origin, requestID)
	case req.Key == "":
		h.errorAdapter.WriteErrorResponse(w, r, errors.ValidationError("key is required").Build())
		return
	case len(req.Value) == 0:
		h.errorAdapter.WriteErrorResponse(w, r,
			errors.ValidationError("value is required").WithContext("key", req.Key).Build())
		return
	default:
		v, err := value.Parse(req.Value)
		if err != nil {
			h.errorAdapter.WriteErrorResponse(w, r,
				errors.ValidationError("malformed value").WithContext("key", req.Key).WithCause(err).Build())
			return
		}
		reply = h.svc.Dispatch(r.Context(), prefs.Change{
			Key:       req.Key,
			Value:     v,
			Origin:    origin,
			RequestID: requestID,
		})
	}
	_ = writeJSON(w, h.statusFor(reply), reply)
}

func (h *PreferenceHandlers) statusFor(reply prefs.Reply) int {
	if reply.Success {
		return http.StatusOK
	}
	return h.errorAdapter.StatusCodeFor(
		errors.NewError(errors.ErrorCategory(reply.ErrorCode), reply.ErrorText).Build())
}

// HandleGet answers GET /v1/preferences/{key}.
func (h *PreferenceHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	v, err := h.svc.Get(key)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSONPretty(w, r, http.StatusOK, responses.GetResponse{Success: true, Key: key, Value: v})
}

// HandleGetMany answers GET /v1/preferences?keys=a,b.
func (h *PreferenceHandlers) HandleGetMany(w http.ResponseWriter, r *http.Request) {
	keys := splitList(r.URL.Query().Get("keys"))
	if len(keys) == 0 {
		h.errorAdapter.WriteErrorResponse(w, r, errors.ValidationError("keys query parameter is required").Build())
		return
	}
	found, unknown := h.svc.GetMany(keys)
	_ = writeJSONPretty(w, r, http.StatusOK, responses.GetManyResponse{
		Success: len(unknown) == 0,
		Values:  found,
		Unknown: unknown,
	})
}
