package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/auth"
)

// Envelope is the uniform response body. Waiting states are successes and
// travel in Data with code 0; only real errors carry a non-zero code.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	TraceID string `json:"trace_id,omitempty"`
}

// WriteData writes a code-0 envelope with the given payload.
func WriteData(w http.ResponseWriter, r *http.Request, data any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(Envelope{
		Code:    apperrors.CodeOK,
		Message: "ok",
		Data:    data,
		TraceID: auth.GetTraceID(r.Context()),
	})
}

// WriteError maps err onto the envelope and the matching HTTP status.
// Unrecognized errors surface as INTERNAL without leaking the message.
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	status := http.StatusInternalServerError
	code := apperrors.CodeInternal
	message := "internal error"
	if appErr, ok := apperrors.As(err); ok {
		status = appErr.HTTPStatus()
		code = appErr.Code
		message = appErr.Message
	} else if logger != nil {
		logger.Error("unhandled error", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(Envelope{
		Code:    code,
		Message: message,
		Data:    nil,
		TraceID: auth.GetTraceID(r.Context()),
	}); encodeErr != nil && logger != nil {
		logger.Error("failed to write error response", zap.Error(encodeErr))
	}
}

// DecodeBody parses a JSON request body into dst. An empty body is allowed
// and leaves dst zeroed; malformed JSON is a VALIDATION error.
func DecodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.Validation("invalid request body")
	}
	return nil
}
