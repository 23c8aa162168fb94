package httpserver

import "errors"

var (
	ErrStart      = errors.New("httpserver: failed to start")
	ErrShutdown   = errors.New("httpserver: graceful shutdown failed")
	ErrBackground = errors.New("httpserver: background task failed")
)
