package functioncall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/edri2or-commits/project38-or-sub003/pkg/envelope"
)

const handlerLogPrefix = "functioncall:handler"

// maxBodyBytes bounds the size of an inbound call.
const maxBodyBytes = 1 << 20

// RequestHandler executes one decoded request envelope.
type RequestHandler interface {
	Handle(ctx context.Context, req *envelope.Request) *envelope.Response
}

// Handler serves the function endpoint on the relay side.
type Handler struct {
	relay RequestHandler
	token string
}

// NewHandler creates an http.Handler that feeds {"data"} bodies to relay. When
// token is non-empty callers must present it as a bearer token.
func NewHandler(relay RequestHandler, token string) *Handler {
	return &Handler{relay: relay, token: token}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	var in Body
	if err := json.Unmarshal(data, &in); err != nil || in.Data == "" {
		writeJSONError(w, http.StatusBadRequest, `body must be {"data": "<request>"}`)
		return
	}
	req, err := envelope.DecodeRequest([]byte(in.Data))
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - Rejected malformed request: %v", handlerLogPrefix, err))
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := h.relay.Handle(r.Context(), req)
	encoded, err := envelope.Encode(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - Failed to encode response for %s: %v", handlerLogPrefix, req.CorrelationID, err))
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Body{Result: string(encoded)})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
