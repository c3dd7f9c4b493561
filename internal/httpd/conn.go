package httpd

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const readChunkSize = 32 * 1024

// conn owns all per-connection state: the accumulation buffer, the parse
// state and the multipart state machine. Nothing here is shared between
// connections; the only shared object is the server's read-only route
// table.
type conn struct {
	srv *Server
	rwc net.Conn
	log *log.Logger

	buf           []byte
	req           *Request
	mp            *multipartParser
	headersDone   bool
	contentLength int
	received      int
}

// serve reads socket chunks until one full request is framed, dispatches
// it, writes the response and closes the connection.
func (c *conn) serve() {
	defer c.rwc.Close()

	chunk := make([]byte, readChunkSize)
	for {
		if c.srv.idleTimeout > 0 {
			c.rwc.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))
		}

		n, err := c.rwc.Read(chunk)
		if n > 0 {
			done, herr := c.feed(chunk[:n])
			if herr != nil {
				c.reject(herr)
				return
			}
			if done {
				c.dispatch()
				return
			}
		}
		if err != nil {
			// A socket that ends mid-multipart finalizes whatever
			// parts were collected; partial uploads are tolerated.
			if c.mp != nil && c.headersDone {
				c.mp.finish()
				c.mp.install(c.req)
				c.dispatch()
				return
			}
			if err != io.EOF {
				c.log.Debug("connection ended before a full request", "err", err)
			}
			return
		}
	}
}

// feed advances parsing with one incoming chunk. It returns done=true once
// the request is fully framed, or an httpError the connection must be
// rejected with.
func (c *conn) feed(data []byte) (bool, *httpError) {
	c.received += len(data)
	if c.received > c.srv.maxRequestBytes {
		return false, &httpError{status: 413, msg: "request exceeds buffer ceiling"}
	}

	if c.headersDone {
		if c.mp != nil {
			return c.feedMultipart(data), nil
		}
		c.buf = append(c.buf, data...)
		return c.bodyComplete(), nil
	}

	// Still waiting for the end of the header block; no parsing happens
	// before the first blank line is buffered.
	c.buf = append(c.buf, data...)
	headerEnd := bytes.Index(c.buf, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return false, nil
	}

	req, herr := parseRequestHead(c.buf[:headerEnd])
	if herr != nil {
		return false, herr
	}
	c.req = req
	c.headersDone = true
	c.contentLength = parseContentLength(req.Headers["content-length"])

	body := c.buf[headerEnd+4:]

	contentType := req.Headers["content-type"]
	if strings.Contains(contentType, "multipart/form-data") {
		if boundary, ok := boundaryFrom(contentType); ok {
			c.mp = newMultipartParser(boundary)
			c.buf = nil
			return c.feedMultipart(body), nil
		}
		// No boundary attribute: the body is handed over unmodified.
	}

	c.buf = append([]byte(nil), body...)
	return c.bodyComplete(), nil
}

func (c *conn) feedMultipart(data []byte) bool {
	done := c.mp.feed(data)
	if done {
		c.mp.install(c.req)
	}
	return done
}

// bodyComplete checks whether Content-Length bytes of body have arrived
// and, once they have, classifies the body by content type.
func (c *conn) bodyComplete() bool {
	if len(c.buf) < c.contentLength {
		return false
	}
	c.req.Body = c.buf[:c.contentLength]
	c.classifyBody()
	return true
}

func (c *conn) classifyBody() {
	if len(c.req.Body) == 0 {
		return
	}
	contentType := c.req.Headers["content-type"]

	switch {
	case strings.Contains(contentType, "application/json"):
		var decoded map[string]any
		if err := json.Unmarshal(c.req.Body, &decoded); err != nil {
			// Not fatal; the raw body stays available to the handler.
			c.log.Warn("JSON body failed to decode", "err", err)
			return
		}
		c.req.JSON = decoded
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		c.req.Fields = parseURLEncoded(c.req.Body)
	}
}

// dispatch routes the framed request and runs its handler. A panicking
// handler is contained here; it can never take down the accept loop.
func (c *conn) dispatch() {
	req := c.req
	res := newResponse(c.rwc, c.log)

	handler, params, ok := c.srv.routes.match(req.Method, req.Path)
	if !ok {
		c.log.Debug("no route", "method", req.Method.String(), "path", req.Path)
		res.Status(404).Send([]byte("not found"))
		return
	}
	for k, v := range params {
		req.Params[k] = v
	}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				c.log.Error("handler panicked", "method", req.Method.String(), "path", req.Path, "panic", rec)
				if !res.Sent() {
					res.Status(500).Send([]byte("internal server error"))
				}
			}
		}()
		handler(req, res)
	}()

	if !res.Sent() {
		c.log.Warn("handler returned without responding", "path", req.Path)
		res.Send(nil)
	}
}

// reject answers a framing failure with its status and closes the
// connection. No handler runs for a rejected request.
func (c *conn) reject(herr *httpError) {
	c.log.Warn("rejecting request", "status", herr.status, "reason", herr.msg)
	newResponse(c.rwc, c.log).Status(herr.status).Send([]byte(statusText(herr.status)))
}

func parseContentLength(value string) int {
	if value == "" {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
