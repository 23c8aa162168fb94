package handler

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Response renders itself to an http.ResponseWriter.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Envelope is the body of every JSON response.
type Envelope struct {
	Data  any          `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type jsonResponse struct {
	status int
	body   Envelope
}

func (j jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSON wraps v in the data envelope with status 200 unless overridden.
func JSON(v any, status ...int) Response {
	r := jsonResponse{status: http.StatusOK, body: Envelope{Data: v}}
	if len(status) > 0 {
		r.status = status[0]
	}
	return r
}

// JSONError renders err in the error envelope. HTTPError values keep their
// status and key; anything else becomes a 500 with a generic message.
func JSONError(err error) Response {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return jsonResponse{
			status: httpErr.Code,
			body:   Envelope{Error: &ErrorDetail{Code: httpErr.Key, Message: http.StatusText(httpErr.Code)}},
		}
	}
	return jsonResponse{
		status: http.StatusInternalServerError,
		body:   Envelope{Error: &ErrorDetail{Code: ErrInternal.Key, Message: http.StatusText(http.StatusInternalServerError)}},
	}
}

type emptyResponse struct {
	status int
}

func (e emptyResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(e.status)
	return nil
}

// NoContent answers 204 with no body.
func NoContent() Response {
	return emptyResponse{status: http.StatusNoContent}
}
