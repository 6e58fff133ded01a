package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/m0-foundation/solana-m/earn"
)

// Response is the envelope of every API reply.
type Response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ErrorCode *int   `json:"error_code,omitempty"`
	Data      any    `json:"data,omitempty"`
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondData(w http.ResponseWriter, data any) {
	respondJSON(w, Response{Success: true, Data: data}, http.StatusOK)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, Response{Success: false, Message: message}, status)
}

// respondErr maps ledger errors to a status and carries domain codes.
func respondErr(w http.ResponseWriter, err error) {
	resp := Response{Success: false, Message: err.Error()}
	if code, ok := earn.CodeOf(err); ok {
		resp.ErrorCode = &code
	}
	respondJSON(w, resp, statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, earn.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, earn.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, earn.ErrNotAuthorized):
		return http.StatusForbidden
	case earn.IsDomainError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
