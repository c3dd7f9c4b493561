package httpd

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// startServer binds a test server on a loopback port and tears it down
// with the test.
func startServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s := NewServer(append([]Option{WithLogger(quietLogger())}, opts...)...)
	t.Cleanup(func() { s.Close() })
	return s
}

func listen(t *testing.T, s *Server) string {
	t.Helper()
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	return s.Addr().String()
}

// roundTrip dials the server, writes the raw request and reads the whole
// response. The server closes after one exchange, so reading to EOF is
// the natural frame boundary.
func roundTrip(t *testing.T, addr, raw string) []byte {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return resp
}

func TestServer_EchoRoundTrip(t *testing.T) {
	s := startServer(t)
	s.Post("/echo", func(req *Request, res *Response) {
		res.Send(req.Body)
	})
	addr := listen(t, s)

	resp := roundTrip(t, addr, "POST /echo HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")
	status, _, body := splitResponse(t, resp)
	if status != 200 {
		t.Errorf("status = %d", status)
	}
	if string(body) != "hello" {
		t.Errorf("body = %q", body)
	}
}

func TestServer_NotFound(t *testing.T) {
	s := startServer(t)
	s.Get("/health", func(_ *Request, res *Response) { res.SendString("ok") })
	addr := listen(t, s)

	resp := roundTrip(t, addr, "GET /nope HTTP/1.1\r\n\r\n")
	status, _, _ := splitResponse(t, resp)
	if status != 404 {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestServer_ParamRoute(t *testing.T) {
	s := startServer(t)
	s.Get("/tracks/:name", func(req *Request, res *Response) {
		res.SendString(req.Params["name"])
	})
	addr := listen(t, s)

	resp := roundTrip(t, addr, "GET /tracks/harvest.mp3 HTTP/1.1\r\n\r\n")
	status, _, body := splitResponse(t, resp)
	if status != 200 || string(body) != "harvest.mp3" {
		t.Errorf("status=%d body=%q", status, body)
	}
}

func TestServer_BufferCeiling413(t *testing.T) {
	var invoked atomic.Bool
	s := startServer(t, WithMaxRequestSize(1024))
	s.Post("/upload", func(*Request, *Response) { invoked.Store(true) })
	addr := listen(t, s)

	// 4 KB body against a 1 KB ceiling. The whole request goes out in a
	// single write so the response can be read before any reset arrives.
	body := strings.Repeat("x", 4096)
	raw := "POST /upload HTTP/1.1\r\nContent-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body

	resp := roundTrip(t, addr, raw)
	status, _, _ := splitResponse(t, resp)
	if status != 413 {
		t.Errorf("status = %d, want 413", status)
	}
	if invoked.Load() {
		t.Error("handler must not run for an oversized request")
	}
}

func TestServer_HandlerPanicYields500(t *testing.T) {
	s := startServer(t)
	s.Get("/boom", func(*Request, *Response) { panic("kaboom") })
	s.Get("/ok", func(_ *Request, res *Response) { res.SendString("fine") })
	addr := listen(t, s)

	resp := roundTrip(t, addr, "GET /boom HTTP/1.1\r\n\r\n")
	status, _, _ := splitResponse(t, resp)
	if status != 500 {
		t.Errorf("status = %d, want 500", status)
	}

	// The panic must not take the accept loop with it.
	resp = roundTrip(t, addr, "GET /ok HTTP/1.1\r\n\r\n")
	status, _, body := splitResponse(t, resp)
	if status != 200 || string(body) != "fine" {
		t.Errorf("server unhealthy after panic: status=%d body=%q", status, body)
	}
}

func TestServer_SilentHandlerGetsEmptyResponse(t *testing.T) {
	s := startServer(t)
	s.Get("/quiet", func(*Request, *Response) {})
	addr := listen(t, s)

	resp := roundTrip(t, addr, "GET /quiet HTTP/1.1\r\n\r\n")
	status, headers, body := splitResponse(t, resp)
	if status != 200 {
		t.Errorf("status = %d", status)
	}
	if headers["content-length"] != "0" || len(body) != 0 {
		t.Errorf("expected empty fallback body, got %q", body)
	}
}

func TestServer_JSONBodyClassified(t *testing.T) {
	s := startServer(t)
	s.Post("/tags", func(req *Request, res *Response) {
		if req.JSON == nil {
			res.Status(400).SendString("no json")
			return
		}
		res.SendString(req.JSON["title"].(string))
	})
	addr := listen(t, s)

	payload := `{"title":"Harvest Moon"}`
	raw := "POST /tags HTTP/1.1\r\nContent-Type: application/json\r\nContent-Length: " +
		strconv.Itoa(len(payload)) + "\r\n\r\n" + payload

	resp := roundTrip(t, addr, raw)
	status, _, body := splitResponse(t, resp)
	if status != 200 || string(body) != "Harvest Moon" {
		t.Errorf("status=%d body=%q", status, body)
	}
}

func TestServer_URLEncodedBodyClassified(t *testing.T) {
	s := startServer(t)
	s.Post("/form", func(req *Request, res *Response) {
		res.SendString(req.Fields["artist"])
	})
	addr := listen(t, s)

	payload := "artist=Neil+Young&album=Harvest"
	raw := "POST /form HTTP/1.1\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: " +
		strconv.Itoa(len(payload)) + "\r\n\r\n" + payload

	resp := roundTrip(t, addr, raw)
	_, _, body := splitResponse(t, resp)
	if string(body) != "Neil Young" {
		t.Errorf("body = %q", body)
	}
}

func TestServer_MultipartUpload(t *testing.T) {
	fileBytes := []byte{0xFF, 0xFB, 0x90, 0x00, 0x01, 0x02}
	payload := buildMultipartBody([]testPart{
		{name: "title", data: []byte("Harvest Moon")},
		{name: "file1", filename: "track.mp3", data: fileBytes},
	})

	s := startServer(t)
	s.Post("/upload", func(req *Request, res *Response) {
		if len(req.Files) != 1 {
			res.Status(400).SendString("no file")
			return
		}
		f := req.Files[0]
		if !bytes.Equal(f.Data, fileBytes) {
			res.Status(400).SendString("file corrupted")
			return
		}
		res.SendString(req.Fields["title"] + "/" + f.Filename)
	})
	addr := listen(t, s)

	raw := "POST /upload HTTP/1.1\r\n" +
		"Content-Type: multipart/form-data; boundary=" + testBoundary + "\r\n" +
		"Content-Length: " + strconv.Itoa(len(payload)) + "\r\n\r\n" +
		string(payload)

	resp := roundTrip(t, addr, raw)
	status, _, body := splitResponse(t, resp)
	if status != 200 {
		t.Errorf("status = %d, body = %q", status, body)
	}
	if string(body) != "Harvest Moon/track.mp3" {
		t.Errorf("body = %q", body)
	}
}

func TestServer_MultipartPartialUploadDispatches(t *testing.T) {
	payload := buildMultipartBody([]testPart{
		{name: "k", data: []byte("v")},
		{name: "f", filename: "cut.bin", data: []byte("truncated bytes")},
	})
	// Drop the terminal boundary and close the socket; the handler must
	// still run with everything collected so far.
	cut := bytes.LastIndex(payload, []byte("\r\n--"+testBoundary+"--"))

	s := startServer(t)
	s.Post("/upload", func(req *Request, res *Response) {
		res.SendString(req.Fields["k"] + ":" + strconv.Itoa(len(req.Files)))
	})
	addr := listen(t, s)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	raw := "POST /upload HTTP/1.1\r\n" +
		"Content-Type: multipart/form-data; boundary=" + testBoundary + "\r\n" +
		"Content-Length: " + strconv.Itoa(len(payload)) + "\r\n\r\n" +
		string(payload[:cut])
	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	// Half-close signals end of upload while keeping the read side open.
	conn.(*net.TCPConn).CloseWrite()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := io.ReadAll(conn)
	conn.Close()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	status, _, body := splitResponse(t, resp)
	if status != 200 {
		t.Errorf("status = %d", status)
	}
	if string(body) != "v:1" {
		t.Errorf("body = %q", body)
	}
}

func TestServer_MalformedRequestLine400(t *testing.T) {
	s := startServer(t)
	addr := listen(t, s)

	resp := roundTrip(t, addr, "BREW /pot HTTP/1.1\r\n\r\n")
	status, _, _ := splitResponse(t, resp)
	if status != 400 {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestServer_IdleConnectionClosed(t *testing.T) {
	s := startServer(t, WithIdleTimeout(100*time.Millisecond))
	addr := listen(t, s)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Send nothing. The server should give up and close its end.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected the idle connection to be closed by the server")
	}
}

func TestServer_RegistrationAfterListenIgnored(t *testing.T) {
	s := startServer(t)
	addr := listen(t, s)

	s.Get("/late", func(_ *Request, res *Response) { res.SendString("late") })

	resp := roundTrip(t, addr, "GET /late HTTP/1.1\r\n\r\n")
	status, _, _ := splitResponse(t, resp)
	if status != 404 {
		t.Errorf("late registration must be ignored, status = %d", status)
	}
}

func TestServer_ConnectionCloseHeader(t *testing.T) {
	s := startServer(t)
	s.Get("/", func(_ *Request, res *Response) { res.SendString("home") })
	addr := listen(t, s)

	resp := roundTrip(t, addr, "GET / HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	_, headers, _ := splitResponse(t, resp)
	// Keep-alive is never honored; every response announces the close.
	if headers["connection"] != "close" {
		t.Errorf("connection = %q", headers["connection"])
	}
}
