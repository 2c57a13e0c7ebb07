// Package api implements the local HTTP/JSON control plane: a single
// API-key-gated surface over every analysis subsystem, grounded on
// mcp_server.h's handler table and mcp_handlers_*.cpp's envelope and error-
// message conventions, routed with github.com/gorilla/mux and wrapped with
// github.com/rs/cors (the pack's web-service stack).
package api

import (
	"encoding/json"
	"net/http"

	"github.com/memcore-dev/memcore/coreerr"
)

// envelope is the {ok, data|error} reply shape spec.md §6.1 requires for
// every handler.
type envelope struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func writeData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data})
}

// writeError maps err to the {ok:false, error} reply. A *coreerr.CoreError
// surfaces its own formatted message (spec.md §7's kind-tagged strings);
// any other error surfaces its plain Error() text.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), envelope{OK: false, Error: err.Error()})
}

func statusForError(err error) int {
	ce, ok := err.(*coreerr.CoreError)
	if !ok {
		return http.StatusInternalServerError
	}
	switch ce.Kind {
	case coreerr.InvalidInput:
		return http.StatusBadRequest
	case coreerr.NotFound:
		return http.StatusNotFound
	case coreerr.Transport, coreerr.Fatal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return coreerr.Wrap(coreerr.InvalidInput, "api.decodeBody", "body", err)
	}
	return nil
}
