package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/allenai/infinigram-api/internal/errors"
)

// retryAfterSeconds is advertised with 503 responses.
const retryAfterSeconds = 5

// Problem is an RFC 7807 problem document.
type Problem struct {
	Type           string             `json:"type"`
	Title          string             `json:"title"`
	Status         int                `json:"status"`
	Detail         string             `json:"detail"`
	Code           string             `json:"code"`
	Instance       string             `json:"instance,omitempty"`
	RequestID      string             `json:"requestId,omitempty"`
	Details        interface{}        `json:"details,omitempty"`
	SuggestedFixes []errors.FixAction `json:"suggestedFixes,omitempty"`
}

// WriteProblem writes err as application/problem+json. Errors without an
// attribution code become INTERNAL_ERROR without leaking their text.
func WriteProblem(w http.ResponseWriter, r *http.Request, err error) {
	attrErr, ok := errors.As(err)
	if !ok {
		attrErr = errors.New(errors.InternalError, "internal server error", err)
	}
	status := MapErrorToStatus(attrErr.Code)

	problem := Problem{
		Type:           "about:blank",
		Title:          http.StatusText(status),
		Status:         status,
		Detail:         attrErr.Message,
		Code:           string(attrErr.Code),
		Instance:       r.URL.Path,
		RequestID:      GetRequestID(r.Context()),
		Details:        attrErr.Details,
		SuggestedFixes: attrErr.SuggestedFixes,
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// MapErrorToStatus maps error codes to HTTP status codes
func MapErrorToStatus(code errors.ErrorCode) int {
	switch code {
	case errors.ValidationFailed:
		return http.StatusBadRequest // 400
	case errors.Unauthorized:
		return http.StatusUnauthorized // 401
	case errors.IndexNotFound:
		return http.StatusNotFound // 404
	case errors.ServerOverloaded:
		return http.StatusServiceUnavailable // 503
	case errors.EngineError, errors.ConfigInvalid, errors.InternalError:
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeRawJSON writes an already encoded JSON body
func writeRawJSON(w http.ResponseWriter, body []byte, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
