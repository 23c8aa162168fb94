package handler

import (
	"errors"
	"net/http"
)

// HTTPError carries a status code and a machine-readable key.
type HTTPError struct {
	Code int
	Key  string
}

func (e HTTPError) Error() string {
	return e.Key
}

var (
	ErrBadRequest   = HTTPError{Code: http.StatusBadRequest, Key: "bad_request"}
	ErrUnauthorized = HTTPError{Code: http.StatusUnauthorized, Key: "unauthorized"}
	ErrNotFound     = HTTPError{Code: http.StatusNotFound, Key: "not_found"}
	ErrInternal     = HTTPError{Code: http.StatusInternalServerError, Key: "internal_error"}

	// ErrNilResponse is reported when a handler returns no Response
	ErrNilResponse = errors.New("handler returned nil response")
)
