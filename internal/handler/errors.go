package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prn-tf/crowdfund/internal/repository"
	"github.com/prn-tf/crowdfund/internal/service"
)

// APIError is the JSON error body returned by every endpoint.
type APIError struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	HTTPStatusCode int    `json:"-"`
}

// Common API errors.
var (
	ErrInvalidID = APIError{
		Code:           "InvalidID",
		Message:        "The id in the path is not a valid UUID.",
		HTTPStatusCode: http.StatusBadRequest,
	}
	ErrNotFound = APIError{
		Code:           "NotFound",
		Message:        "The requested resource does not exist.",
		HTTPStatusCode: http.StatusNotFound,
	}
	ErrBusy = APIError{
		Code:           "Busy",
		Message:        "The resource is being updated, retry later.",
		HTTPStatusCode: http.StatusConflict,
	}
	ErrInternal = APIError{
		Code:           "InternalError",
		Message:        "We encountered an internal error. Please try again.",
		HTTPStatusCode: http.StatusInternalServerError,
	}
	ErrUnavailable = APIError{
		Code:           "ServiceUnavailable",
		Message:        "A dependency is not reachable.",
		HTTPStatusCode: http.StatusServiceUnavailable,
	}
)

// mapError translates a service error into an APIError.
func mapError(err error) APIError {
	switch {
	case errors.Is(err, service.ErrProjectNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case service.IsInvalidInput(err):
		return APIError{
			Code:           "InvalidArgument",
			Message:        err.Error(),
			HTTPStatusCode: http.StatusBadRequest,
		}
	case errors.Is(err, service.ErrResourceBusy):
		return ErrBusy
	default:
		return ErrInternal
	}
}

func writeError(w http.ResponseWriter, apiErr APIError) {
	writeJSON(w, apiErr.HTTPStatusCode, struct {
		Error APIError `json:"error"`
	}{apiErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
