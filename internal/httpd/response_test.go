package httpd

import (
	"bytes"
	"crypto/sha256"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// splitResponse separates a raw response into status code, headers and body.
func splitResponse(t *testing.T, raw []byte) (int, map[string]string, []byte) {
	t.Helper()
	idx := bytes.Index(raw, []byte("\r\n\r\n"))
	if idx < 0 {
		t.Fatalf("response has no header terminator: %q", raw)
	}
	head := strings.Split(string(raw[:idx]), "\r\n")

	parts := strings.SplitN(head[0], " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/1.1") {
		t.Fatalf("malformed status line: %q", head[0])
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		t.Fatalf("bad status code in %q", head[0])
	}

	headers := make(map[string]string)
	for _, line := range head[1:] {
		if colon := strings.IndexByte(line, ':'); colon > 0 {
			headers[strings.ToLower(line[:colon])] = strings.TrimSpace(line[colon+1:])
		}
	}
	return status, headers, raw[idx+4:]
}

func TestResponse_SendDefaults(t *testing.T) {
	var buf bytes.Buffer
	res := newResponse(&buf, quietLogger())
	if err := res.Send([]byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	status, headers, body := splitResponse(t, buf.Bytes())
	if status != 200 {
		t.Errorf("status = %d", status)
	}
	if headers["content-type"] != "text/plain" {
		t.Errorf("default content type = %q", headers["content-type"])
	}
	if headers["connection"] != "close" {
		t.Errorf("connection = %q", headers["connection"])
	}
	if headers["content-length"] != "5" {
		t.Errorf("content-length = %q", headers["content-length"])
	}
	if string(body) != "hello" {
		t.Errorf("body = %q", body)
	}
}

func TestResponse_StatusAndHeaderChaining(t *testing.T) {
	var buf bytes.Buffer
	res := newResponse(&buf, quietLogger())
	err := res.Status(201).SetHeader("X-Track-ID", "42").SetHeader("content-type", "audio/mpeg").Send(nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	status, headers, _ := splitResponse(t, buf.Bytes())
	if status != 201 {
		t.Errorf("status = %d", status)
	}
	if headers["x-track-id"] != "42" {
		t.Errorf("custom header = %q", headers["x-track-id"])
	}
	// SetHeader replaces case-insensitively rather than duplicating.
	if headers["content-type"] != "audio/mpeg" {
		t.Errorf("content-type = %q", headers["content-type"])
	}
	if strings.Count(buf.String(), "Content-Type")+strings.Count(buf.String(), "content-type") != 1 {
		t.Error("content type header duplicated")
	}
}

func TestResponse_SecondTerminalCallFails(t *testing.T) {
	var buf bytes.Buffer
	res := newResponse(&buf, quietLogger())
	if err := res.Send([]byte("first")); err != nil {
		t.Fatalf("first Send failed: %v", err)
	}
	if err := res.Send([]byte("second")); err == nil {
		t.Fatal("second terminal call must fail")
	}

	_, _, body := splitResponse(t, buf.Bytes())
	if string(body) != "first" {
		t.Errorf("second send must not reach the socket, body = %q", body)
	}
}

func TestResponse_JSON(t *testing.T) {
	var buf bytes.Buffer
	res := newResponse(&buf, quietLogger())
	if err := res.JSON(map[string]any{"title": "Harvest Moon"}); err != nil {
		t.Fatalf("JSON failed: %v", err)
	}

	status, headers, body := splitResponse(t, buf.Bytes())
	if status != 200 {
		t.Errorf("status = %d", status)
	}
	if headers["content-type"] != "application/json" {
		t.Errorf("content-type = %q", headers["content-type"])
	}
	if string(body) != `{"title":"Harvest Moon"}` {
		t.Errorf("body = %s", body)
	}
}

func TestResponse_SendFileSmall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte("<html></html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	res := newResponse(&buf, quietLogger())
	if err := res.SendFile(path); err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}

	status, headers, body := splitResponse(t, buf.Bytes())
	if status != 200 {
		t.Errorf("status = %d", status)
	}
	if headers["content-type"] != "text/html" {
		t.Errorf("content-type = %q", headers["content-type"])
	}
	if string(body) != "<html></html>" {
		t.Errorf("body = %q", body)
	}
}

func TestResponse_SendFileLargeChunked(t *testing.T) {
	// 2 MB forces the 64 KB chunked path; the response body must still be
	// byte-exact.
	content := make([]byte, 2<<20)
	rng := rand.New(rand.NewSource(99))
	rng.Read(content)

	path := filepath.Join(t.TempDir(), "track.mp3")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	res := newResponse(&buf, quietLogger())
	if err := res.SendFile(path); err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}

	_, headers, body := splitResponse(t, buf.Bytes())
	if headers["content-type"] != "audio/mpeg" {
		t.Errorf("content-type = %q", headers["content-type"])
	}
	if headers["content-length"] != strconv.Itoa(len(content)) {
		t.Errorf("content-length = %q", headers["content-length"])
	}
	if sha256.Sum256(body) != sha256.Sum256(content) {
		t.Error("chunked file body differs from the file contents")
	}
}

func TestResponse_SendFileMissing(t *testing.T) {
	var buf bytes.Buffer
	res := newResponse(&buf, quietLogger())
	res.SendFile(filepath.Join(t.TempDir(), "gone.mp3"))

	status, _, _ := splitResponse(t, buf.Bytes())
	if status != 404 {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestResponse_StreamVariants(t *testing.T) {
	t.Run("bytes", func(t *testing.T) {
		var buf bytes.Buffer
		res := newResponse(&buf, quietLogger())
		if err := res.Stream(Bytes("in-memory")); err != nil {
			t.Fatalf("Stream failed: %v", err)
		}
		_, _, body := splitResponse(t, buf.Bytes())
		if string(body) != "in-memory" {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("chunk stream", func(t *testing.T) {
		ch := make(chan []byte, 3)
		ch <- []byte("one ")
		ch <- []byte("two ")
		ch <- []byte("three")
		close(ch)

		var buf bytes.Buffer
		res := newResponse(&buf, quietLogger())
		if err := res.Stream(ChunkStream(ch)); err != nil {
			t.Fatalf("Stream failed: %v", err)
		}
		_, _, body := splitResponse(t, buf.Bytes())
		if string(body) != "one two three" {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("deferred", func(t *testing.T) {
		var buf bytes.Buffer
		res := newResponse(&buf, quietLogger())
		src := Deferred(func() ([]byte, error) { return []byte("resolved"), nil })
		if err := res.Stream(src); err != nil {
			t.Fatalf("Stream failed: %v", err)
		}
		_, _, body := splitResponse(t, buf.Bytes())
		if string(body) != "resolved" {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("no content length", func(t *testing.T) {
		var buf bytes.Buffer
		res := newResponse(&buf, quietLogger())
		res.Stream(Bytes("x"))
		_, headers, _ := splitResponse(t, buf.Bytes())
		if _, ok := headers["content-length"]; ok {
			t.Error("streamed responses must not declare a Content-Length")
		}
	})
}

func TestMimeByExtension(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{".mp3", "audio/mpeg"},
		{".MP3", "audio/mpeg"},
		{".html", "text/html"},
		{".png", "image/png"},
		{".xyz", "application/octet-stream"},
		{"", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := mimeByExtension(tt.ext); got != tt.want {
			t.Errorf("mimeByExtension(%q) = %q, want %q", tt.ext, got, tt.want)
		}
	}
}

func TestStatusText(t *testing.T) {
	if statusText(404) != "Not Found" {
		t.Errorf("404 = %q", statusText(404))
	}
	if statusText(413) != "Payload Too Large" {
		t.Errorf("413 = %q", statusText(413))
	}
	if statusText(999) != "Unknown" {
		t.Errorf("999 = %q", statusText(999))
	}
}
