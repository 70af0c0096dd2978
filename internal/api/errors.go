package api

import (
	"errors"
	"net/http"

	"github.com/bdobrica/ruriko-events/internal/events/errs"
)

// errorBody is the standard error envelope every non-2xx response uses.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError maps err onto an HTTP status via the errs sentinel taxonomy and
// writes the standard error envelope. Anything that doesn't match a known
// sentinel is a 500 — callers should use errs sentinels for anything a
// client is meant to act on.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	tag := "internal_error"

	switch {
	case errors.Is(err, errs.ErrNotFound):
		code, tag = http.StatusNotFound, "not_found"
	case errors.Is(err, errs.ErrInvalidInput):
		code, tag = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, errs.ErrUnauthorized):
		code, tag = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errs.ErrConflict):
		code, tag = http.StatusConflict, "conflict"
	}

	var body errorBody
	body.Error.Code = tag
	body.Error.Message = err.Error()
	writeJSON(w, code, body)
}

func badRequest(w http.ResponseWriter, message string) {
	var body errorBody
	body.Error.Code = "invalid_input"
	body.Error.Message = message
	writeJSON(w, http.StatusBadRequest, body)
}

func methodNotAllowed(w http.ResponseWriter) {
	var body errorBody
	body.Error.Code = "method_not_allowed"
	body.Error.Message = "method not allowed"
	writeJSON(w, http.StatusMethodNotAllowed, body)
}
