package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/auth"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/handler"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/task"
)

// errorBody is the uniform JSON failure envelope. Messages stay
// generic; token material and upstream details never reach the client.
type errorBody struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// mapError translates an error into its HTTP status and safe message.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound, "task not found"
	case errors.Is(err, task.ErrRequestNotFound):
		return http.StatusNotFound, "request not found"
	case errors.Is(err, auth.ErrFlowNotFound):
		return http.StatusNotFound, "authorization flow not found"
	case errors.Is(err, task.ErrNotAuthorized):
		return http.StatusForbidden, "not authorized"
	case errors.Is(err, handler.ErrInvalidDecision):
		return http.StatusBadRequest, "decision must be approve or reject"
	case errors.Is(err, handler.ErrUpstream):
		return http.StatusBadGateway, "upstream model failure"
	case errors.Is(err, context.Canceled):
		return 499, "request canceled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, err error, requestID string) {
	status, message := mapError(err)
	if status >= 500 {
		slog.Error("request failed", "status", status, "request_id", requestID, "error", err)
	}
	writeJSON(w, status, errorBody{Status: status, Message: message, RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
