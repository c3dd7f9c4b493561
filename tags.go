package soundbridge

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/simonhull/soundbridge/internal/id3"
)

// Tag holds the ID3v2 metadata of one audio file. See the field and
// method docs on the underlying type for the lazy image semantics.
type Tag = id3.Tag

// ArtCache shares decoded album artwork between files of the same album.
// Safe for concurrent use.
type ArtCache = id3.ArtCache

// NewArtCache creates an empty artwork cache.
func NewArtCache() *ArtCache {
	return id3.NewArtCache()
}

// TagOption customizes a tag read.
type TagOption = id3.Option

// WithReadCap bounds how many bytes of the tag block are read.
func WithReadCap(n int64) TagOption { return id3.WithReadCap(n) }

// WithImageThreshold sets the frame size above which embedded pictures
// are left for Tag.LoadImage instead of being decoded during the scan.
func WithImageThreshold(n int64) TagOption { return id3.WithImageThreshold(n) }

// WithArtCache shares decoded artwork across files of the same album.
func WithArtCache(c *ArtCache) TagOption { return id3.WithArtCache(c) }

// ReadTags extracts the full ID3v2 metadata from the file at path.
//
// The entire declared tag block is read and pictures up to 1 MB are
// decoded inline. Returns nil when the file has no ID3v2 tag or cannot
// be read; a missing tag is an expected outcome, not an error.
//
// Example:
//
//	tag := soundbridge.ReadTags("song.mp3")
//	if tag == nil {
//		return // no metadata
//	}
//	fmt.Printf("%s - %s (%s)\n", tag.Artist, tag.Title, tag.Year)
func ReadTags(path string, opts ...TagOption) *Tag {
	return id3.Read(path, opts...)
}

// ReadBasicTags extracts ID3v2 metadata on a bounded fast path: at most
// 1 MB of the tag block is read and pictures above 100 KB are deferred
// to Tag.LoadImage. When cache is non-nil, decoded artwork is shared
// across files with the same artist and album.
//
// This is the right call for scanning a library, where text metadata
// matters and most covers repeat per album.
func ReadBasicTags(path string, cache *ArtCache, opts ...TagOption) *Tag {
	return id3.ReadBasic(path, cache, opts...)
}

// ReadTagsBatch reads many files concurrently on the bounded fast path,
// using up to runtime.NumCPU() goroutines and one shared art cache.
//
// Results are returned in input order. Files without a readable tag
// yield a nil entry; the batch itself only fails when the context is
// cancelled.
//
// Example:
//
//	tags, err := soundbridge.ReadTagsBatch(ctx, paths)
//	if err != nil {
//		return err
//	}
//	for i, tag := range tags {
//		if tag != nil {
//			fmt.Printf("%s: %s\n", paths[i], tag.Title)
//		}
//	}
func ReadTagsBatch(ctx context.Context, paths []string, opts ...TagOption) ([]*Tag, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	cache := NewArtCache()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	results := make([]*Tag, len(paths))

	for i, path := range paths {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			results[i] = ReadBasicTags(path, cache, opts...)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}
