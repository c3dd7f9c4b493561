package httpd

import (
	"strings"
	"testing"
)

func TestParseRequestHead_Valid(t *testing.T) {
	head := "POST /upload?src=web&dup=1&dup=2 HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"Content-Type: text/plain\r\n" +
		"X-Mixed-Case: kept\r\n" +
		"X-Dup: first\r\n" +
		"X-Dup: second"

	req, herr := parseRequestHead([]byte(head))
	if herr != nil {
		t.Fatalf("unexpected error: %v", herr)
	}

	if req.Method != MethodPost {
		t.Errorf("Method = %v", req.Method)
	}
	if req.Path != "/upload" {
		t.Errorf("Path = %q", req.Path)
	}
	if req.Target != "/upload?src=web&dup=1&dup=2" {
		t.Errorf("Target = %q", req.Target)
	}
	if req.Query["src"] != "web" {
		t.Errorf("Query[src] = %q", req.Query["src"])
	}
	if req.Query["dup"] != "2" {
		t.Errorf("duplicate query keys should keep the last value, got %q", req.Query["dup"])
	}
	if req.Headers["host"] != "localhost" {
		t.Errorf("header keys should be case-folded, got %v", req.Headers)
	}
	if req.Header("x-mixed-case") != "kept" || req.Header("X-Mixed-Case") != "kept" {
		t.Error("Header lookup should be case-insensitive")
	}
	if req.Headers["x-dup"] != "second" {
		t.Errorf("duplicate headers should keep the last value, got %q", req.Headers["x-dup"])
	}
}

func TestParseRequestHead_QueryStaysEncoded(t *testing.T) {
	req, herr := parseRequestHead([]byte("GET /search?q=a%20b HTTP/1.1"))
	if herr != nil {
		t.Fatalf("unexpected error: %v", herr)
	}
	if req.Query["q"] != "a%20b" {
		t.Errorf("query values must stay percent-encoded, got %q", req.Query["q"])
	}
}

func TestParseRequestHead_Malformed(t *testing.T) {
	tests := []struct {
		name string
		head string
	}{
		{"empty", ""},
		{"missing target", "GET HTTP/1.1"},
		{"missing version", "GET /"},
		{"unknown method", "BREW /pot HTTP/1.1"},
		{"lowercase method", "get / HTTP/1.1"},
		{"bad version", "GET / SMTP/1.0"},
		{"too many fields", "GET / extra HTTP/1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, herr := parseRequestHead([]byte(tt.head))
			if herr == nil {
				t.Fatal("expected an error")
			}
			if herr.status != 400 {
				t.Errorf("status = %d, want 400", herr.status)
			}
		})
	}
}

func TestParseURLEncoded(t *testing.T) {
	fields := parseURLEncoded([]byte("title=Harvest%20Moon&artist=Neil+Young&flag"))
	if fields["title"] != "Harvest Moon" {
		t.Errorf("title = %q", fields["title"])
	}
	if fields["artist"] != "Neil Young" {
		t.Errorf("artist = %q", fields["artist"])
	}
	if v, ok := fields["flag"]; !ok || v != "" {
		t.Errorf("bare key should map to empty value, got %q ok=%v", v, ok)
	}
}

func TestParseContentLength(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"0", 0},
		{"1234", 1234},
		{"-5", 0},
		{"nonsense", 0},
	}
	for _, tt := range tests {
		if got := parseContentLength(tt.in); got != tt.want {
			t.Errorf("parseContentLength(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestUploadedFile_Persist(t *testing.T) {
	f := &UploadedFile{
		Field:    "file1",
		Filename: "../../evil.mp3",
		Data:     []byte("audio"),
	}

	dir := t.TempDir()
	path, err := f.Persist(dir)
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if !strings.HasPrefix(path, dir) {
		t.Errorf("persisted file escaped the target dir: %q", path)
	}
	if !strings.HasSuffix(path, ".mp3") {
		t.Errorf("extension should be kept: %q", path)
	}
}

func TestMethodString(t *testing.T) {
	for m := MethodGet; m < methodCount; m++ {
		name := m.String()
		parsed, ok := ParseMethod(name)
		if !ok || parsed != m {
			t.Errorf("method %q did not round-trip", name)
		}
	}
	if _, ok := ParseMethod("TRACE"); ok {
		t.Error("TRACE is outside the supported method set")
	}
}
