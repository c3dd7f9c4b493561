package id3

import (
	"os"
	"strings"

	binutil "github.com/simonhull/soundbridge/internal/binary"
)

const (
	headerSize      = 10
	frameHeaderSize = 10

	// basicReadCap bounds the tag read on the fast path, trading
	// completeness for bounded I/O on pathologically large tags.
	basicReadCap = 1_000_000

	// Picture frames larger than the threshold are not decoded during the
	// scan; the Tag records their position for LoadImage instead.
	basicImageThreshold = 100_000
	fullImageThreshold  = 1_000_000
)

// Option configures a tag read.
type Option func(*readOptions)

type readOptions struct {
	readCap        int64 // 0 = read the entire declared tag
	imageThreshold int64
	cache          *ArtCache
}

// WithReadCap bounds how many bytes of the tag block are read.
func WithReadCap(n int64) Option {
	return func(o *readOptions) {
		o.readCap = n
	}
}

// WithImageThreshold sets the frame size above which embedded pictures are
// left for lazy loading instead of being decoded during the scan.
func WithImageThreshold(n int64) Option {
	return func(o *readOptions) {
		o.imageThreshold = n
	}
}

// WithArtCache shares decoded artwork across files of the same album.
func WithArtCache(c *ArtCache) Option {
	return func(o *readOptions) {
		o.cache = c
	}
}

// Read extracts ID3v2 metadata from the file at path.
//
// The entire declared tag block is read. Pictures up to 1 MB are decoded
// inline; larger ones set Tag.HasImage for lazy loading.
//
// Returns nil when the file has no ID3v2 tag or cannot be read; a missing
// tag is an expected outcome, not an error.
func Read(path string, opts ...Option) *Tag {
	o := &readOptions{imageThreshold: fullImageThreshold}
	for _, opt := range opts {
		opt(o)
	}
	return read(path, o)
}

// ReadBasic extracts ID3v2 metadata on a bounded fast path: at most 1 MB of
// the tag block is read, and pictures above 100 KB are deferred to
// LoadImage. When cache is non-nil, decoded artwork is shared across files
// with the same artist and album.
func ReadBasic(path string, cache *ArtCache, opts ...Option) *Tag {
	o := &readOptions{
		readCap:        basicReadCap,
		imageThreshold: basicImageThreshold,
		cache:          cache,
	}
	for _, opt := range opts {
		opt(o)
	}
	return read(path, o)
}

func read(path string, o *readOptions) *Tag {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil
	}

	sr := binutil.NewSafeReader(f, stat.Size(), path)

	// The 10-byte header bounds everything else: magic, version, flags and
	// the synchsafe tag size.
	hdr := make([]byte, headerSize)
	if err := sr.ReadAt(hdr, 0, "ID3v2 header"); err != nil {
		return nil
	}
	if string(hdr[0:3]) != "ID3" {
		return nil
	}

	major := hdr[3]
	if major != 3 && major != 4 {
		return nil
	}
	flags := hdr[5]

	tagSize := int64(binutil.DecodeSynchsafe(hdr[6:10]))
	if tagSize <= 0 {
		return nil
	}

	readLen := tagSize
	if o.readCap > 0 && readLen > o.readCap {
		readLen = o.readCap
	}

	region, err := sr.Section(headerSize, readLen, "tag frames")
	if err != nil {
		return nil
	}

	pos := 0

	// Extended header: synchsafe size under v4; plain big-endian under v3,
	// where the size field itself is not included and costs 4 extra bytes.
	if flags&0x40 != 0 && len(region) >= 4 {
		if major == 4 {
			pos += int(binutil.DecodeSynchsafe(region[0:4]))
		} else {
			pos += int(binutil.BigEndianUint32(region[0:4])) + 4
		}
		if pos < 0 || pos >= len(region) {
			return nil
		}
	}

	tag := &Tag{path: path}

	// Picture frame found during the scan; resolved after text frames so
	// the artist/album cache key is complete.
	var (
		apicData []byte
		apicOff  int64
	)

	for pos+frameHeaderSize <= len(region) {
		// Null frame ID means we hit the padding area.
		if region[pos] == 0 {
			break
		}

		id := string(region[pos : pos+4])
		var frameSize int64
		if major == 4 {
			frameSize = int64(binutil.DecodeSynchsafe(region[pos+4 : pos+8]))
		} else {
			frameSize = int64(binutil.BigEndianUint32(region[pos+4 : pos+8]))
		}

		// Corrupt or truncated tags terminate the scan, never the read.
		if frameSize <= 0 || pos+frameHeaderSize+int(frameSize) > len(region) {
			break
		}

		data := region[pos+frameHeaderSize : pos+frameHeaderSize+int(frameSize)]

		switch {
		case id == "APIC":
			apicData = data
			apicOff = int64(headerSize + pos + frameHeaderSize)
		case id == "COMM":
			tag.Comment = decodeComment(data)
		case id[0] == 'T':
			setTextFrame(tag, id, data)
		}
		// Everything else is skipped by advancing past its declared size.

		pos += frameHeaderSize + int(frameSize)
	}

	if apicData != nil {
		resolveImage(tag, apicData, apicOff, o)
	}

	return tag
}

// resolveImage fills the Tag's image fields from a scanned APIC frame,
// consulting the art cache and the lazy-load threshold.
func resolveImage(tag *Tag, data []byte, off int64, o *readOptions) {
	if o.cache != nil {
		if art, ok := o.cache.lookup(tag.Artist, tag.Album); ok {
			tag.Image = art.data
			tag.ImageMIME = art.mime
			return
		}
	}

	if o.imageThreshold > 0 && int64(len(data)) > o.imageThreshold {
		tag.HasImage = true
		tag.imageOffset = off
		tag.imageLength = int64(len(data))
		return
	}

	img, mime, err := decodeAPIC(data)
	if err != nil {
		return
	}
	tag.Image = img
	tag.ImageMIME = mime

	if o.cache != nil {
		o.cache.store(tag.Artist, tag.Album, cachedArt{data: img, mime: mime})
	}
}

// setTextFrame maps a decoded T* frame onto the Tag.
func setTextFrame(tag *Tag, id string, data []byte) {
	if len(data) < 1 {
		return
	}
	if id == "TXXX" {
		// Description+value layout, not a plain text frame.
		return
	}
	text := decodeText(data[1:], data[0])
	if text == "" {
		return
	}

	switch id {
	case "TIT2":
		tag.Title = text
	case "TPE1":
		tag.Artist = text
	case "TALB":
		tag.Album = text
	case "TYER", "TDRC": // v2.3 year / v2.4 recording time
		tag.Year = yearOf(text)
	case "TCON":
		tag.Genre = text
	case "TRCK":
		tag.Track = text
	default:
		if tag.Extra == nil {
			tag.Extra = make(map[string]string)
		}
		tag.Extra[id] = text
	}
}

// yearOf reduces a TDRC timestamp ("2004-06-01T12:00:00") to its year part.
func yearOf(text string) string {
	if i := strings.IndexAny(text, "-T "); i >= 4 {
		return text[:i]
	}
	return text
}
