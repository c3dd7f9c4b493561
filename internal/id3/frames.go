package id3

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf16"
)

// ID3v2 text encoding markers.
const (
	encLatin1  = 0
	encUTF16   = 1 // UTF-16 with BOM
	encUTF16BE = 2
	encUTF8    = 3
)

var (
	errAPICTooShort   = errors.New("APIC frame too short")
	errAPICNoMIMETerm = errors.New("APIC MIME type not null-terminated")
	errAPICNoImage    = errors.New("APIC frame has no image data")
)

// decodeText decodes frame text per its encoding marker and strips trailing
// null padding.
func decodeText(data []byte, encoding byte) string {
	if len(data) == 0 {
		return ""
	}

	var s string
	switch encoding {
	case encLatin1:
		s = string(data)
	case encUTF16:
		s = decodeUTF16(data)
	case encUTF16BE:
		s = decodeUTF16BE(data)
	case encUTF8:
		s = string(data)
	default:
		// Unknown marker, treat as Latin-1.
		s = string(data)
	}

	return strings.TrimRight(s, "\x00")
}

// decodeComment decodes a COMM frame:
// [encoding][language(3)][short description\0][text]
// The language code and the short description are skipped.
func decodeComment(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	encoding := data[0]
	body := data[4:]

	nullIdx := findNullTerminator(body, encoding)
	if nullIdx < 0 {
		// No terminator, treat everything as the comment text.
		return decodeText(body, encoding)
	}

	return decodeText(body[nullIdx+terminatorSize(encoding):], encoding)
}

// decodeAPIC decodes an APIC frame:
// [encoding][MIME type\0][picture type][description\0][picture data]
// The MIME string is always Latin-1; the description terminator width
// depends on the encoding marker.
func decodeAPIC(data []byte) (img []byte, mime string, err error) {
	if len(data) < 4 {
		return nil, "", errAPICTooShort
	}

	encoding := data[0]
	pos := 1

	mimeEnd := bytes.IndexByte(data[pos:], 0)
	if mimeEnd < 0 {
		return nil, "", errAPICNoMIMETerm
	}
	mime = string(data[pos : pos+mimeEnd])
	pos += mimeEnd + 1

	if pos >= len(data) {
		return nil, "", errAPICNoImage
	}
	pos++ // picture type, not needed

	descEnd := findNullTerminator(data[pos:], encoding)
	if descEnd >= 0 {
		pos += descEnd + terminatorSize(encoding)
	}
	// Some encoders do not terminate the description; the remainder is
	// then treated as picture data.

	if pos >= len(data) {
		return nil, "", errAPICNoImage
	}

	// Copy so the tag does not pin the whole scanned region.
	img = append([]byte(nil), data[pos:]...)

	if mime == "" {
		mime = sniffImageMIME(img)
	}
	return img, mime, nil
}

// sniffImageMIME detects common picture formats from magic bytes.
func sniffImageMIME(data []byte) string {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case len(data) >= 4 && data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G':
		return "image/png"
	case len(data) >= 3 && data[0] == 'G' && data[1] == 'I' && data[2] == 'F':
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// findNullTerminator locates the string terminator for the given encoding.
//
// Single-byte encodings use bytes.IndexByte, which is the vectorized
// equivalent of a stride-then-pinpoint scan. Double-byte encodings scan
// aligned byte pairs.
func findNullTerminator(data []byte, encoding byte) int {
	switch encoding {
	case encUTF16, encUTF16BE:
		for i := 0; i+1 < len(data); i += 2 {
			if data[i] == 0 && data[i+1] == 0 {
				return i
			}
		}
		return -1
	default:
		return bytes.IndexByte(data, 0)
	}
}

// terminatorSize returns the width of the null terminator for the encoding.
func terminatorSize(encoding byte) int {
	if encoding == encUTF16 || encoding == encUTF16BE {
		return 2
	}
	return 1
}

// decodeUTF16 decodes UTF-16 with a BOM, assuming big-endian when absent.
func decodeUTF16(data []byte) string {
	if len(data) < 2 {
		return ""
	}
	if data[0] == 0xFF && data[1] == 0xFE {
		return decodeUTF16LE(data[2:])
	}
	if data[0] == 0xFE && data[1] == 0xFF {
		return decodeUTF16BE(data[2:])
	}
	return decodeUTF16BE(data)
}

func decodeUTF16LE(data []byte) string {
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	u16 := make([]uint16, len(data)/2)
	for i := range u16 {
		u16[i] = uint16(data[i*2]) | uint16(data[i*2+1])<<8
	}
	return string(utf16.Decode(u16))
}

func decodeUTF16BE(data []byte) string {
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	u16 := make([]uint16, len(data)/2)
	for i := range u16 {
		u16[i] = uint16(data[i*2])<<8 | uint16(data[i*2+1])
	}
	return string(utf16.Decode(u16))
}
