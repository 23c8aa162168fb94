package session

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// cookieWriter defers the session cookie until the status code is known.
// The cookie is attached right before the header is flushed, and only for
// non-failure statuses.
type cookieWriter struct {
	http.ResponseWriter
	issue   func(http.ResponseWriter)
	written bool
	status  int
}

func (w *cookieWriter) WriteHeader(status int) {
	if w.written {
		return
	}
	// informational responses precede the real one and decide nothing
	if status >= 100 && status < 200 && status != http.StatusSwitchingProtocols {
		w.ResponseWriter.WriteHeader(status)
		return
	}
	w.status = status
	w.written = true
	if status < http.StatusInternalServerError {
		w.issue(w.ResponseWriter)
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *cookieWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// finish covers handlers that return without writing: net/http sends an implicit 200.
func (w *cookieWriter) finish() {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
}

// Status returns the HTTP status code of the response.
func (w *cookieWriter) Status() int {
	return w.status
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it.
func (w *cookieWriter) Flush() {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for websocket upgrades.
func (w *cookieWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("session: response writer does not support hijacking")
	}
	w.written = true
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *cookieWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
