// Package httpd implements an HTTP/1.1 server directly on raw TCP
// connections: request framing, routing with :param segments, a streaming
// multipart/form-data parser for uploads, and response writing.
//
// The server follows a request-per-connection discipline: every accepted
// connection serves exactly one request/response cycle and is then closed.
package httpd

// Method is the closed set of supported HTTP methods.
type Method uint8

const (
	MethodGet Method = iota
	MethodPost
	MethodPut
	MethodDelete
	MethodPatch
	MethodOptions
	MethodHead

	methodCount
)

var methodNames = [methodCount]string{
	MethodGet:     "GET",
	MethodPost:    "POST",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodPatch:   "PATCH",
	MethodOptions: "OPTIONS",
	MethodHead:    "HEAD",
}

// String returns the wire form of the method.
func (m Method) String() string {
	if m < methodCount {
		return methodNames[m]
	}
	return "UNKNOWN"
}

// ParseMethod maps a wire-form method token onto the enum.
// The comparison is case-sensitive, as required by the protocol.
func ParseMethod(s string) (Method, bool) {
	for m, name := range methodNames {
		if s == name {
			return Method(m), true
		}
	}
	return 0, false
}
