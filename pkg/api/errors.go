package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/params"
	"github.com/pkg/errors"
)

// statusFor maps a typed error to its HTTP status and short description
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errdefs.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, errdefs.ErrNameConflict), errors.Is(err, errdefs.ErrAttachConflict):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, errdefs.ErrInvalidArgument), errors.Is(err, errdefs.ErrHostUnknown):
		return http.StatusBadRequest, "Bad Request"
	case errors.Is(err, errdefs.ErrInsufficientHosts), errors.Is(err, errdefs.ErrNotLeader):
		return http.StatusServiceUnavailable, "Service Unavailable"
	case errors.Is(err, errdefs.ErrNoBackupTarget):
		return http.StatusPreconditionFailed, "Precondition Failed"
	default:
		return http.StatusInternalServerError, "Server error"
	}
}

func handleError(w http.ResponseWriter, err error) {
	status, short := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Logger.Error().Err(err).Msg("Unhandled API error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(params.APIErrorResponse{
		Error:   short,
		Details: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return errdefs.NewInvalidArgumentError("invalid request body: %v", err)
	}
	return nil
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	handleError(w, errdefs.NewNotFoundError("no route for %s %s", r.Method, r.URL.Path))
}
