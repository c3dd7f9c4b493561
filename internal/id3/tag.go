// Package id3 reads ID3v2 metadata from audio files using bounded,
// positioned reads. Extraction is best-effort: a file without a valid tag,
// or any read or parse failure, yields a nil Tag rather than an error.
package id3

import (
	"errors"
	"os"
	"sync"

	binutil "github.com/simonhull/soundbridge/internal/binary"
)

var errNoImage = errors.New("id3: tag has no embedded image")

// Tag holds the metadata extracted from a file's ID3v2 block.
//
// All text fields are zero-valued when the corresponding frame is absent.
// Image and HasImage are mutually exclusive: HasImage marks an embedded
// picture that was skipped during the initial scan because of its size and
// can be fetched later with LoadImage.
type Tag struct {
	Title   string
	Artist  string
	Album   string
	Year    string
	Comment string
	Genre   string
	Track   string

	// Extra holds decoded T* text frames that have no dedicated field,
	// keyed by frame ID.
	Extra map[string]string

	// Image is the raw embedded picture, nil until decoded.
	Image     []byte
	ImageMIME string

	// HasImage marks a picture frame that exceeded the lazy-load
	// threshold and has not been decoded yet.
	HasImage bool

	path        string
	imageOffset int64 // absolute file offset of the APIC frame payload
	imageLength int64
}

// LoadImage fetches and decodes an embedded picture that was skipped during
// the initial scan. The frame payload is read with a single positioned read
// at its recorded offset; the decoded bytes are cached on the Tag.
//
// Returns an error if the tag carries no picture or the file has changed
// underneath the recorded frame position.
func (t *Tag) LoadImage() ([]byte, error) {
	if t.Image != nil {
		return t.Image, nil
	}
	if !t.HasImage || t.imageLength <= 0 {
		return nil, errNoImage
	}

	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	sr := binutil.NewSafeReader(f, stat.Size(), t.path)
	data := make([]byte, t.imageLength)
	if err := sr.ReadAt(data, t.imageOffset, "APIC frame payload"); err != nil {
		return nil, err
	}

	img, mime, err := decodeAPIC(data)
	if err != nil {
		return nil, err
	}

	t.Image = img
	t.ImageMIME = mime
	t.HasImage = false
	return img, nil
}

// ArtCache shares decoded album artwork between files of the same album,
// keyed by artist and album. Files ripped from one album usually embed the
// identical picture; the cache avoids decoding it once per track.
//
// An ArtCache is safe for concurrent use.
type ArtCache struct {
	mu      sync.RWMutex
	entries map[string]cachedArt
}

type cachedArt struct {
	data []byte
	mime string
}

// NewArtCache creates an empty artwork cache.
func NewArtCache() *ArtCache {
	return &ArtCache{entries: make(map[string]cachedArt)}
}

// Len reports the number of cached album covers.
func (c *ArtCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func artKey(artist, album string) string {
	return artist + "\x00" + album
}

func (c *ArtCache) lookup(artist, album string) (cachedArt, bool) {
	if artist == "" && album == "" {
		return cachedArt{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	art, ok := c.entries[artKey(artist, album)]
	return art, ok
}

func (c *ArtCache) store(artist, album string, art cachedArt) {
	if artist == "" && album == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[artKey(artist, album)] = art
}
