package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tealdrake/mantle/internal/store"
)

// envelope is the uniform JSON response body for the API.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// respond writes a success envelope with the given payload.
func respond(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Success: true, Data: data})
}

// respondMsg writes a success envelope carrying only a message.
func respondMsg(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, envelope{Success: true, Message: msg})
}

// fail writes a failure envelope with the given message.
func fail(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, envelope{Success: false, Message: msg})
}

// storeError maps store sentinel errors onto HTTP statuses. Unknown errors
// become 500s with a generic message so internals do not leak to clients.
func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		fail(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrDuplicateName):
		fail(w, http.StatusConflict, "name already in use")
	default:
		slog.Error("store operation failed", "err", err)
		fail(w, http.StatusInternalServerError, "internal error")
	}
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("encode response", "err", err)
	}
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
