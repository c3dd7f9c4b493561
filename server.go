package soundbridge

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/simonhull/soundbridge/internal/httpd"
)

// Server is an HTTP/1.1 server over raw TCP connections. Register routes
// with Get, Post and friends, then call Listen; each connection serves
// one request and closes.
type Server = httpd.Server

// Request is one parsed incoming request.
type Request = httpd.Request

// Response writes one response to the connection. The first terminal
// call (Send, JSON, SendFile, Stream) wins; later ones fail.
type Response = httpd.Response

// Handler handles one request/response cycle.
type Handler = httpd.Handler

// UploadedFile is a completed file part from a multipart upload.
type UploadedFile = httpd.UploadedFile

// Source is the set of response stream payloads accepted by
// Response.Stream: Bytes, ChunkStream or Deferred.
type Source = httpd.Source

// Bytes streams an in-memory payload.
type Bytes = httpd.Bytes

// ChunkStream streams chunks received from a channel until it closes.
type ChunkStream = httpd.ChunkStream

// Deferred streams a payload produced on demand when the response is
// written.
type Deferred = httpd.Deferred

// ServerOption configures a Server.
type ServerOption = httpd.Option

// NewServer creates a server with the default limits: a 50 MB request
// ceiling and a 30 second idle timeout.
func NewServer(opts ...ServerOption) *Server {
	return httpd.NewServer(opts...)
}

// WithLogger sets the server's logger.
func WithLogger(logger *log.Logger) ServerOption {
	return httpd.WithLogger(logger)
}

// WithMaxRequestSize sets the per-connection buffer ceiling in bytes.
func WithMaxRequestSize(n int) ServerOption {
	return httpd.WithMaxRequestSize(n)
}

// WithIdleTimeout sets how long a connection may sit without delivering
// data before it is closed. Zero disables the timeout.
func WithIdleTimeout(d time.Duration) ServerOption {
	return httpd.WithIdleTimeout(d)
}

// WithAcceptRate throttles the accept loop to perSecond connections with
// the given burst.
func WithAcceptRate(perSecond float64, burst int) ServerOption {
	return httpd.WithAcceptRate(perSecond, burst)
}
