// Package http exposes the submission and status endpoints.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	imerrors "github.com/imagemill/imagemill/internal/errors"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// DecodeJSON decodes a request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return imerrors.Wrap(err, imerrors.ErrCodeValidation, "invalid JSON body")
	}
	return nil
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

// WriteError maps an application error to an HTTP status and writes the
// error body. Internal details are not leaked for 5xx responses.
func WriteError(w http.ResponseWriter, err error) {
	code := imerrors.GetCode(err)
	status := statusFor(code)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	WriteJSON(w, status, ErrorResponse{Error: msg, Code: string(code)})
}

func statusFor(code imerrors.ErrorCode) int {
	switch code {
	case imerrors.ErrCodeValidation:
		return http.StatusBadRequest
	case imerrors.ErrCodeNotFound:
		return http.StatusNotFound
	case imerrors.ErrCodeConflict, imerrors.ErrCodeConsistency:
		return http.StatusConflict
	case imerrors.ErrCodeStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
