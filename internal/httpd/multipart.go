package httpd

import (
	"bytes"
	"strings"
)

// flushThreshold bounds how much part content sits in the rolling buffer
// while no delimiter is in sight; beyond it, everything but a small
// boundary-safety tail moves into the part accumulator.
const flushThreshold = 1 << 20

type multipartState int

const (
	stateSeekBoundary multipartState = iota
	statePartHeaders
	statePartContent
)

// multipartParser is a streaming state machine over multipart/form-data
// bodies. It is fed arbitrary byte chunks as they arrive from the socket
// and reconstructs identical parts regardless of how the body was split.
//
// Each connection owns exactly one parser; no state is shared.
type multipartParser struct {
	boundary []byte // "--" + boundary token
	state    multipartState
	buf      []byte
	cur      *partAccumulator
	fields   map[string]string
	files    []*UploadedFile
	done     bool
}

type partAccumulator struct {
	field       string
	filename    string
	contentType string
	isFile      bool
	data        []byte
}

// boundaryFrom extracts the boundary token from a multipart Content-Type
// value, tolerating quoted and unquoted forms. Returns false when the
// attribute is missing, in which case the body is handled as non-multipart.
func boundaryFrom(contentType string) (string, bool) {
	const attr = "boundary="
	idx := strings.Index(contentType, attr)
	if idx < 0 {
		return "", false
	}
	b := contentType[idx+len(attr):]
	if semi := strings.IndexByte(b, ';'); semi >= 0 {
		b = b[:semi]
	}
	b = strings.TrimSpace(b)
	b = strings.Trim(b, `"`)
	if b == "" {
		return "", false
	}
	return b, true
}

func newMultipartParser(boundary string) *multipartParser {
	return &multipartParser{
		boundary: []byte("--" + boundary),
		fields:   make(map[string]string),
	}
}

// feed consumes one chunk and advances the state machine as far as the
// buffered bytes allow. Returns true once the terminal boundary was seen.
func (p *multipartParser) feed(data []byte) bool {
	if p.done {
		return true
	}
	p.buf = append(p.buf, data...)

	for {
		switch p.state {
		case stateSeekBoundary:
			idx := bytes.Index(p.buf, p.boundary)
			if idx < 0 {
				return false
			}
			p.buf = p.buf[idx+len(p.boundary):]
			p.state = statePartHeaders

		case statePartHeaders:
			idx := bytes.Index(p.buf, []byte("\r\n\r\n"))
			if idx < 0 {
				return false
			}
			p.cur = parsePartHeaders(p.buf[:idx])
			p.buf = p.buf[idx+4:]
			p.state = statePartContent

		case statePartContent:
			cut, skip, terminal, found := p.findDelimiter()
			if !found {
				p.flushContent()
				return false
			}
			if cut < 0 {
				// Boundary seen but not enough bytes after it to
				// classify; wait for more data.
				return false
			}

			p.cur.data = append(p.cur.data, p.buf[:cut]...)
			p.finalizePart()
			p.buf = p.buf[skip:]

			if terminal {
				p.done = true
				return true
			}
			p.state = statePartHeaders
		}
	}
}

// findDelimiter locates the next boundary in the buffer, tolerating CRLF,
// bare-LF and bare delimiter placements (real-world client encodings
// differ). It returns the content cut point, how many bytes to skip past
// the delimiter, and whether the delimiter was the terminal --boundary--.
// cut < 0 with found=true means the boundary needs more bytes to classify.
func (p *multipartParser) findDelimiter() (cut, skip int, terminal, found bool) {
	bi := bytes.Index(p.buf, p.boundary)
	if bi < 0 {
		return 0, 0, false, false
	}

	// Prefer the CRLF-prefixed form: the line break before a delimiter
	// belongs to the delimiter, not the content.
	cut = bi
	switch {
	case bi >= 2 && p.buf[bi-2] == '\r' && p.buf[bi-1] == '\n':
		cut = bi - 2
	case bi >= 1 && p.buf[bi-1] == '\n':
		cut = bi - 1
	}

	rest := p.buf[bi+len(p.boundary):]
	if len(rest) < 2 {
		// Cannot yet tell a mid-stream delimiter from --boundary--.
		return -1, 0, false, true
	}

	skip = bi + len(p.boundary)
	if rest[0] == '-' && rest[1] == '-' {
		return cut, skip + 2, true, true
	}
	return cut, skip, false, true
}

// flushContent bounds memory while no delimiter is visible: all but a
// boundary-safety tail moves into the part accumulator. The tail is long
// enough that a delimiter split across chunks is never missed.
func (p *multipartParser) flushContent() {
	if len(p.buf) <= flushThreshold {
		return
	}
	tail := len(p.boundary) + 4
	keep := len(p.buf) - tail
	p.cur.data = append(p.cur.data, p.buf[:keep]...)
	p.buf = append(p.buf[:0:0], p.buf[keep:]...)
}

// finalizePart moves the completed part into the field map or file list.
// A part is a file only when its Content-Disposition carried both a name
// and a filename.
func (p *multipartParser) finalizePart() {
	part := p.cur
	p.cur = nil
	if part == nil || part.field == "" {
		return
	}

	if part.isFile {
		p.files = append(p.files, &UploadedFile{
			Field:       part.field,
			Filename:    part.filename,
			ContentType: part.contentType,
			Size:        int64(len(part.data)),
			Data:        part.data,
		})
		return
	}
	p.fields[part.field] = string(part.data)
}

// finish handles a socket that ended before the terminal boundary: the
// in-flight part is finalized with whatever content was collected.
// Partial uploads are tolerated, not treated as errors.
func (p *multipartParser) finish() {
	if p.done {
		return
	}
	p.done = true
	if p.cur != nil && p.state == statePartContent {
		p.cur.data = append(p.cur.data, p.buf...)
		p.buf = nil
		p.finalizePart()
	}
}

// install moves the collected fields and files onto the request.
func (p *multipartParser) install(req *Request) {
	if req.Fields == nil {
		req.Fields = make(map[string]string, len(p.fields))
	}
	for k, v := range p.fields {
		req.Fields[k] = v
	}
	req.Files = p.files
}

// parsePartHeaders parses the header block of one part.
func parsePartHeaders(block []byte) *partAccumulator {
	part := &partAccumulator{}
	for _, line := range strings.Split(string(block), "\r\n") {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:colon]))
		value := strings.TrimSpace(line[colon+1:])

		switch key {
		case "content-disposition":
			part.field = dispositionAttr(value, "name")
			part.filename = dispositionAttr(value, "filename")
			part.isFile = strings.Contains(value, "filename=")
		case "content-type":
			part.contentType = value
		}
	}
	return part
}

// dispositionAttr extracts one attribute value from a Content-Disposition
// header, tolerating quoted and unquoted forms.
func dispositionAttr(value, attr string) string {
	marker := attr + "="
	idx := strings.Index(value, marker)
	if idx < 0 {
		return ""
	}
	// "filename=" also matches inside "name=" searches; make sure the
	// match starts the attribute.
	for idx > 0 && value[idx-1] != ' ' && value[idx-1] != ';' {
		next := strings.Index(value[idx+1:], marker)
		if next < 0 {
			return ""
		}
		idx += 1 + next
	}

	v := value[idx+len(marker):]
	if semi := strings.IndexByte(v, ';'); semi >= 0 {
		v = v[:semi]
	}
	v = strings.TrimSpace(v)
	return strings.Trim(v, `"`)
}
