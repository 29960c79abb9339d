package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/prefsd/internal/eventstore"
	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/server/responses"
)

const defaultHistoryLimit = 50

// HistoryReader is the change journal as seen by the transport.
type HistoryReader interface {
	BySubject(ctx context.Context, subject string, limit int) ([]eventstore.Record, error)
	Range(ctx context.Context, start, end time.Time) ([]eventstore.Record, error)
}

// HistoryHandlers serves /v1/history.
type HistoryHandlers struct {
	journal      HistoryReader
	errorAdapter *errors.HTTPErrorAdapter
}

func NewHistoryHandlers(journal HistoryReader, adapter *errors.HTTPErrorAdapter) *HistoryHandlers {
	return &HistoryHandlers{journal: journal, errorAdapter: adapter}
}

// HandleSubject returns the newest records of one key (?limit=n, default 50).
func (h *HistoryHandlers) HandleSubject(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.errorAdapter.WriteErrorResponse(w, r,
				errors.ValidationError("limit must be a non-negative integer").WithContext("limit", raw).Build())
			return
		}
		limit = n
	}
	subject := chi.URLParam(r, "subject")
	records, err := h.journal.BySubject(r.Context(), subject, limit)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSONPretty(w, r, http.StatusOK, responses.HistoryResponse{Success: true, Records: nonNil(records)})
}

// HandleRange returns records between ?since and ?until (RFC 3339). until defaults to now.
func (h *HistoryHandlers) HandleRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := parseTime(q.Get("since"), time.Time{})
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.ValidationError("invalid since").WithCause(err).Build())
		return
	}
	until, err := parseTime(q.Get("until"), time.Now())
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.ValidationError("invalid until").WithCause(err).Build())
		return
	}
	records, err := h.journal.Range(r.Context(), since, until)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSONPretty(w, r, http.StatusOK, responses.HistoryResponse{Success: true, Records: nonNil(records)})
}

func parseTime(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func nonNil(records []eventstore.Record) []eventstore.Record {
	if records == nil {
		return []eventstore.Record{}
	}
	return records
}
