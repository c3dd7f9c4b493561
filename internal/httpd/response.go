package httpd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

// Files below wholeFileLimit are sent in a single write; larger ones are
// streamed in streamChunkSize pieces to bound peak memory.
const (
	wholeFileLimit  = 1 << 20
	streamChunkSize = 64 * 1024
)

var errResponseSent = errors.New("httpd: response already sent")

// Source is the closed set of stream payload variants accepted by
// Response.Stream. Exactly three forms exist: an in-memory buffer, a
// channel of chunks, and a deferred producer.
type Source interface {
	isSource()
}

// Bytes streams a single in-memory buffer.
type Bytes []byte

func (Bytes) isSource() {}

// ChunkStream forwards chunks as they arrive; a closed channel signals
// completion.
type ChunkStream <-chan []byte

func (ChunkStream) isSource() {}

// Deferred resolves the full payload once, future-style.
type Deferred func() ([]byte, error)

func (Deferred) isSource() {}

type headerField struct {
	key   string
	value string
}

// Response builds and writes exactly one HTTP/1.1 response.
//
// Status and SetHeader mutate and return the response for chaining. The
// terminal methods (Send, SendString, JSON, SendFile, Stream) write to the
// connection once; any later terminal call fails with an error and is
// logged. The connection is closed after the handler returns, so a
// terminal call always ends the exchange.
type Response struct {
	w   io.Writer
	log *log.Logger

	status  int
	headers []headerField
	sent    bool
}

func newResponse(w io.Writer, logger *log.Logger) *Response {
	return &Response{
		w:      w,
		log:    logger,
		status: 200,
		headers: []headerField{
			{"Content-Type", "text/plain"},
			{"Connection", "close"},
		},
	}
}

// Status sets the response status code.
func (r *Response) Status(code int) *Response {
	r.status = code
	return r
}

// StatusCode returns the current status code.
func (r *Response) StatusCode() int {
	return r.status
}

// Sent reports whether a terminal method has already written the response.
func (r *Response) Sent() bool {
	return r.sent
}

// SetHeader sets a header, replacing any existing value for the same key.
func (r *Response) SetHeader(key, value string) *Response {
	for i, h := range r.headers {
		if strings.EqualFold(h.key, key) {
			r.headers[i].value = value
			return r
		}
	}
	r.headers = append(r.headers, headerField{key, value})
	return r
}

// Send writes the status line, headers with a computed Content-Length,
// and body as a single write, then marks the response complete.
func (r *Response) Send(body []byte) error {
	if r.sent {
		r.log.Warn("handler attempted a second terminal write", "status", r.status)
		return errResponseSent
	}
	r.sent = true

	buf := r.head(len(body))
	buf.Write(body)
	_, err := r.w.Write(buf.Bytes())
	if err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// SendString is Send for string bodies.
func (r *Response) SendString(body string) error {
	return r.Send([]byte(body))
}

// JSON serializes v and sends it with Content-Type: application/json.
func (r *Response) JSON(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		r.log.Error("response body failed to serialize", "err", err)
		return r.Status(500).Send([]byte("internal server error"))
	}
	r.SetHeader("Content-Type", "application/json")
	return r.Send(body)
}

// SendFile sends the file at path with a Content-Type resolved from its
// extension. Small files go out in one write; larger files are written as
// a header block followed by sequential 64 KB chunks.
func (r *Response) SendFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return r.Status(404).Send([]byte("not found"))
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		return r.Status(404).Send([]byte("not found"))
	}

	r.SetHeader("Content-Type", mimeByExtension(filepath.Ext(path)))

	if stat.Size() < wholeFileLimit {
		body, err := io.ReadAll(f)
		if err != nil {
			return r.Status(500).Send([]byte("internal server error"))
		}
		return r.Send(body)
	}

	if r.sent {
		r.log.Warn("handler attempted a second terminal write", "status", r.status)
		return errResponseSent
	}
	r.sent = true

	head := r.head(int(stat.Size()))
	if _, err := r.w.Write(head.Bytes()); err != nil {
		return fmt.Errorf("write response head: %w", err)
	}

	chunk := make([]byte, streamChunkSize)
	for {
		n, rerr := f.Read(chunk)
		if n > 0 {
			if _, werr := r.w.Write(chunk[:n]); werr != nil {
				return fmt.Errorf("write file chunk: %w", werr)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read file chunk: %w", rerr)
		}
	}
}

// Stream writes the headers immediately, then forwards data from src until
// it completes. No Content-Length is emitted; the connection close
// delimits the body.
func (r *Response) Stream(src Source) error {
	if r.sent {
		r.log.Warn("handler attempted a second terminal write", "status", r.status)
		return errResponseSent
	}
	r.sent = true

	head := r.headNoLength()
	if _, err := r.w.Write(head.Bytes()); err != nil {
		return fmt.Errorf("write response head: %w", err)
	}

	switch s := src.(type) {
	case Bytes:
		if _, err := r.w.Write(s); err != nil {
			return fmt.Errorf("write stream body: %w", err)
		}
		return nil
	case ChunkStream:
		for chunk := range s {
			if _, err := r.w.Write(chunk); err != nil {
				return fmt.Errorf("write stream chunk: %w", err)
			}
		}
		return nil
	case Deferred:
		body, err := s()
		if err != nil {
			return fmt.Errorf("resolve stream source: %w", err)
		}
		if _, err := r.w.Write(body); err != nil {
			return fmt.Errorf("write stream body: %w", err)
		}
		return nil
	default:
		// The Source set is sealed; this is unreachable for callers.
		return fmt.Errorf("unknown stream source %T", src)
	}
}

func (r *Response) head(contentLength int) *bytes.Buffer {
	buf := r.headNoLength()
	buf.Truncate(buf.Len() - 2) // reopen the head for one more field
	buf.WriteString("Content-Length: ")
	buf.WriteString(strconv.Itoa(contentLength))
	buf.WriteString("\r\n\r\n")
	return buf
}

func (r *Response) headNoLength() *bytes.Buffer {
	buf := &bytes.Buffer{}
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(r.status))
	buf.WriteByte(' ')
	buf.WriteString(statusText(r.status))
	buf.WriteString("\r\n")
	for _, h := range r.headers {
		buf.WriteString(h.key)
		buf.WriteString(": ")
		buf.WriteString(h.value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	return buf
}

// statusText returns the reason phrase for the codes this server emits.
func statusText(code int) string {
	if text, ok := statusPhrases[code]; ok {
		return text
	}
	return "Unknown"
}

var statusPhrases = map[int]string{
	100: "Continue",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	409: "Conflict",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	429: "Too Many Requests",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
}
