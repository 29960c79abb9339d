package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/logfields"
	"git.home.luguber.info/inful/prefsd/internal/server/middleware"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// OriginHeader names the caller when the body does not.
const OriginHeader = "X-Prefs-Origin"

// OriginRemote is assumed for callers that do not identify themselves, and for every
// caller that is not connected over loopback.
const OriginRemote = "remote"

// writeJSON serializes v into a buffer first so a failed encode never sends a partial body.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(v); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("failed writing JSON response body", logfields.Error(err))
		return err
	}
	return nil
}

// writeJSONPretty pretty prints when ?pretty=1 or ?pretty=true.
func writeJSONPretty(w http.ResponseWriter, r *http.Request, status int, v any) error {
	if r != nil {
		if p := r.URL.Query().Get("pretty"); p == "1" || p == "true" {
			b, err := json.MarshalIndent(v, "", "  ")
			if err == nil {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(status)
				if _, werr := w.Write(append(b, '\n')); werr != nil {
					slog.Error("failed writing pretty JSON", logfields.Error(werr))
					return werr
				}
				return nil
			}
			slog.Warn("pretty JSON marshal failed, falling back to standard encode", logfields.Error(err))
		}
	}
	return writeJSON(w, status, v)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errors.ValidationError("failed to read request body").WithCause(err).Build()
	}
	if len(body) > maxBodyBytes {
		return errors.ValidationError("request body too large").Build()
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.ValidationError("malformed request body").WithCause(err).Build()
	}
	return nil
}

// originFrom names the caller. A claimed origin is honored only from a loopback peer.
func originFrom(r *http.Request, body string) string {
	claimed := body
	if claimed == "" {
		claimed = strings.TrimSpace(r.Header.Get(OriginHeader))
	}
	if claimed == "" || !middleware.IsLoopback(middleware.PeerAddr(r)) {
		return OriginRemote
	}
	return claimed
}

// splitList parses a comma separated query parameter.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
