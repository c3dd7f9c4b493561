// Package soundbridge serves audio files over HTTP/1.1 and reads their
// ID3v2 metadata.
//
// soundbridge speaks HTTP directly over TCP sockets. There is no
// net/http underneath: the server frames requests itself, parses
// multipart uploads as a streaming state machine, and answers every
// request with an explicit Connection: close.
//
// # Quick Start
//
// Serving a media directory:
//
//	srv := soundbridge.NewServer()
//	srv.Get("/tracks/:name", func(req *soundbridge.Request, res *soundbridge.Response) {
//		res.SendFile(filepath.Join("media", req.Params["name"]))
//	})
//	if err := srv.Listen(":8080"); err != nil {
//		log.Fatal(err)
//	}
//
// Reading tags:
//
//	tag := soundbridge.ReadTags("song.mp3")
//	if tag != nil {
//		fmt.Printf("%s - %s\n", tag.Artist, tag.Title)
//	}
//
// # Serving Model
//
// Each accepted connection carries exactly one request/response cycle.
// The connection is closed after the response regardless of what the
// client asked for, so there is no keep-alive state to manage and no
// pipelining. A 50 MB per-connection buffer ceiling and a 30 second
// idle timeout protect the server from hostile or stalled clients; both
// are configurable.
//
// # Uploads
//
// multipart/form-data bodies are parsed incrementally as socket chunks
// arrive, so a large upload never has to be re-scanned from the start.
// Completed text parts land in Request.Fields and file parts in
// Request.Files. A socket that closes mid-upload still delivers the
// parts that completed; partial uploads are tolerated, not rejected.
//
// # Metadata
//
// Tag reading is best-effort: a file without an ID3v2 tag, or one the
// reader cannot make sense of, yields nil instead of an error. Embedded
// pictures above a size threshold are skipped during the scan and
// fetched later with Tag.LoadImage, which performs a single positioned
// read at the recorded frame offset. An ArtCache shares one decoded
// cover between all tracks of the same album.
package soundbridge
