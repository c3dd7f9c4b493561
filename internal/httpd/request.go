package httpd

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Request is one parsed HTTP request.
//
// Header keys are lower-cased; duplicate headers keep the last value.
// Query values are stored raw, without percent-decoding. Body always holds
// the raw bytes; Fields and JSON are populated per Content-Type.
type Request struct {
	Method Method

	// Target is the raw request target including any query string.
	Target string
	Path   string

	Headers map[string]string

	// Params holds :name segment bindings populated during route match.
	Params map[string]string
	Query  map[string]string

	Body []byte

	// Fields holds url-encoded and multipart form fields.
	Fields map[string]string

	// JSON holds the decoded body of an application/json request,
	// nil when the body is not JSON or failed to decode.
	JSON map[string]any

	// Files lists uploaded files in the order their parts completed.
	// Empty unless the request was multipart with filename-carrying parts.
	Files []*UploadedFile
}

// Header returns the value of a header, matching case-insensitively.
func (r *Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// UploadedFile describes one file received in a multipart request.
// It is immutable once appended to a Request.
type UploadedFile struct {
	Field       string
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// Persist writes the file's bytes to dir under a unique name and returns
// the written path. The client-supplied filename contributes only its
// extension, so a hostile filename cannot traverse out of dir.
func (f *UploadedFile) Persist(dir string) (string, error) {
	name := uuid.New().String() + filepath.Ext(filepath.Base(f.Filename))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		return "", fmt.Errorf("persist upload %q: %w", f.Filename, err)
	}
	return path, nil
}

// httpError is a parse or framing failure carrying the status code the
// connection should be rejected with.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.status, statusText(e.status), e.msg)
}

// parseRequestHead parses the request line and header lines of head, which
// spans everything before the first blank line.
func parseRequestHead(head []byte) (*Request, *httpError) {
	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 {
		return nil, &httpError{status: 400, msg: "empty request head"}
	}

	// Request line: METHOD SP TARGET SP VERSION.
	parts := strings.Split(lines[0], " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return nil, &httpError{status: 400, msg: "malformed request line"}
	}
	method, ok := ParseMethod(parts[0])
	if !ok {
		return nil, &httpError{status: 400, msg: "unknown method " + parts[0]}
	}
	if !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, &httpError{status: 400, msg: "malformed protocol version"}
	}

	req := &Request{
		Method:  method,
		Target:  parts[1],
		Headers: make(map[string]string, len(lines)-1),
		Params:  make(map[string]string),
	}
	req.Path, req.Query = splitTarget(parts[1])

	// Header lines: case-folded keys, last value wins.
	for _, line := range lines[1:] {
		if line == "" {
			break
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue // tolerate stray lines rather than failing the request
		}
		key := strings.ToLower(strings.TrimSpace(line[:colon]))
		req.Headers[key] = strings.TrimSpace(line[colon+1:])
	}

	return req, nil
}

// splitTarget separates the path from its query suffix and parses the
// query into a last-value-wins map. Values stay percent-encoded.
func splitTarget(target string) (string, map[string]string) {
	q := strings.IndexByte(target, '?')
	if q < 0 {
		return target, nil
	}

	query := make(map[string]string)
	for pair := range strings.SplitSeq(target[q+1:], "&") {
		if pair == "" {
			continue
		}
		if eq := strings.IndexByte(pair, '='); eq >= 0 {
			query[pair[:eq]] = pair[eq+1:]
		} else {
			query[pair] = ""
		}
	}
	return target[:q], query
}

// parseURLEncoded decodes an application/x-www-form-urlencoded body into
// a field map, with percent-decoding applied to keys and values.
func parseURLEncoded(body []byte) map[string]string {
	fields := make(map[string]string)
	for pair := range strings.SplitSeq(string(body), "&") {
		if pair == "" {
			continue
		}
		key, value := pair, ""
		if eq := strings.IndexByte(pair, '='); eq >= 0 {
			key, value = pair[:eq], pair[eq+1:]
		}
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		fields[key] = value
	}
	return fields
}
