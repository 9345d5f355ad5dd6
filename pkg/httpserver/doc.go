// Package httpserver wraps net/http.Server with sane timeouts, structured
// logging and graceful shutdown tied to context cancellation.
package httpserver
