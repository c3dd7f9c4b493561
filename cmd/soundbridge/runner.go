package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/simonhull/soundbridge"
	"github.com/simonhull/soundbridge/internal/config"
)

// Serve loads the config, wires the library routes and blocks until the
// process is signalled to stop.
func (r *runner) Serve(ctx context.Context, cmd *cli.Command) error {
	cfg := r.loadConfig(cmd.String("config"))

	addr := cfg.Server.Addr()
	if override := cmd.String("addr"); override != "" {
		addr = override
	}

	mediaDir := cfg.Library.MediaDir
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}

	opts := []soundbridge.ServerOption{
		soundbridge.WithLogger(r.log),
		soundbridge.WithMaxRequestSize(cfg.Server.MaxRequestMB << 20),
		soundbridge.WithIdleTimeout(time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second),
	}
	if cfg.Server.AcceptRate > 0 {
		opts = append(opts, soundbridge.WithAcceptRate(cfg.Server.AcceptRate, cfg.Server.AcceptBurst))
	}

	srv := soundbridge.NewServer(opts...)
	cache := soundbridge.NewArtCache()

	srv.Get("/health", func(_ *soundbridge.Request, res *soundbridge.Response) {
		res.JSON(map[string]any{"status": "ok", "version": soundbridge.Version})
	})

	srv.Get("/tracks/:name", func(req *soundbridge.Request, res *soundbridge.Response) {
		res.SendFile(filepath.Join(mediaDir, filepath.Base(req.Params["name"])))
	})

	srv.Get("/tracks/:name/tags", func(req *soundbridge.Request, res *soundbridge.Response) {
		path := filepath.Join(mediaDir, filepath.Base(req.Params["name"]))
		var tag *soundbridge.Tag
		if cfg.Library.FullReads {
			tag = soundbridge.ReadTags(path)
		} else {
			tag = soundbridge.ReadBasicTags(path, cache)
		}
		if tag == nil {
			res.Status(404).SendString("no readable tag")
			return
		}
		res.JSON(tagDocument(path, tag))
	})

	srv.Get("/tracks/:name/art", func(req *soundbridge.Request, res *soundbridge.Response) {
		path := filepath.Join(mediaDir, filepath.Base(req.Params["name"]))
		tag := soundbridge.ReadBasicTags(path, cache)
		if tag == nil {
			res.Status(404).SendString("no readable tag")
			return
		}

		// Small covers arrive decoded; large ones stream from the file
		// only once the response is actually written.
		switch {
		case tag.Image != nil:
			res.SetHeader("Content-Type", tag.ImageMIME)
			res.Send(tag.Image)
		case tag.HasImage:
			res.SetHeader("Content-Type", "application/octet-stream")
			res.Stream(soundbridge.Deferred(tag.LoadImage))
		default:
			res.Status(404).SendString("no embedded art")
		}
	})

	srv.Post("/upload", func(req *soundbridge.Request, res *soundbridge.Response) {
		if len(req.Files) == 0 {
			res.Status(400).SendString("no file part in upload")
			return
		}

		saved := make([]map[string]any, 0, len(req.Files))
		for _, f := range req.Files {
			path, err := f.Persist(mediaDir)
			if err != nil {
				r.log.Error("persist upload failed", "file", f.Filename, "err", err)
				res.Status(500).SendString("failed to store upload")
				return
			}
			saved = append(saved, map[string]any{
				"field":    f.Field,
				"filename": f.Filename,
				"size":     f.Size,
				"stored":   filepath.Base(path),
			})
		}
		res.Status(201).JSON(map[string]any{"uploaded": saved})
	})

	if err := srv.Listen(addr); err != nil {
		return err
	}

	stop, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-stop.Done()

	r.log.Info("shutting down")
	return srv.Close()
}

// Tags prints the metadata of one file.
func (r *runner) Tags(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("file")
	if path == "" {
		return fmt.Errorf("usage: soundbridge tags <file>")
	}

	var tag *soundbridge.Tag
	if cmd.Bool("full") {
		tag = soundbridge.ReadTags(path)
	} else {
		tag = soundbridge.ReadBasicTags(path, nil)
	}
	if tag == nil {
		return fmt.Errorf("%s: no readable ID3v2 tag", path)
	}

	printTag(path, tag)

	if out := cmd.String("image"); out != "" {
		img := tag.Image
		if img == nil {
			var err error
			if img, err = tag.LoadImage(); err != nil {
				return fmt.Errorf("extract image: %w", err)
			}
		}
		if err := os.WriteFile(out, img, 0o644); err != nil {
			return fmt.Errorf("write image: %w", err)
		}
		r.log.Info("image written", "path", out, "bytes", len(img), "mime", tag.ImageMIME)
	}

	return nil
}

// Scan walks a directory and prints the metadata of every audio file,
// reading concurrently with one shared art cache.
func (r *runner) Scan(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.StringArg("dir")
	if dir == "" {
		dir = "."
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isAudioPath(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", dir, err)
	}
	if len(paths) == 0 {
		r.log.Info("no audio files found", "dir", dir)
		return nil
	}

	tags, err := soundbridge.ReadTagsBatch(ctx, paths)
	if err != nil {
		return err
	}

	asJSON := cmd.Bool("json")
	enc := json.NewEncoder(os.Stdout)
	tagged := 0
	for i, tag := range tags {
		if tag == nil {
			continue
		}
		tagged++
		if asJSON {
			if err := enc.Encode(tagDocument(paths[i], tag)); err != nil {
				return err
			}
			continue
		}
		printTag(paths[i], tag)
	}

	r.log.Info("scan complete", "files", len(paths), "tagged", tagged)
	return nil
}

// Init writes the embedded example config.
func (r *runner) Init(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if err := config.CreateConfigFile(path); err != nil {
		return err
	}
	r.log.Info("config written", "path", path)
	return nil
}

func isAudioPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3", ".aac", ".wav", ".aiff":
		return true
	}
	return false
}

// tagDocument shapes a Tag for JSON output.
func tagDocument(path string, tag *soundbridge.Tag) map[string]any {
	doc := map[string]any{
		"path":   path,
		"title":  tag.Title,
		"artist": tag.Artist,
		"album":  tag.Album,
	}
	if tag.Year != "" {
		doc["year"] = tag.Year
	}
	if tag.Genre != "" {
		doc["genre"] = tag.Genre
	}
	if tag.Track != "" {
		doc["track"] = tag.Track
	}
	if tag.Comment != "" {
		doc["comment"] = tag.Comment
	}
	if tag.Image != nil {
		doc["image_bytes"] = len(tag.Image)
		doc["image_mime"] = tag.ImageMIME
	} else if tag.HasImage {
		doc["image_deferred"] = true
	}
	return doc
}

func printTag(path string, tag *soundbridge.Tag) {
	fmt.Printf("%s\n", path)
	fmt.Printf("  Title:  %s\n", tag.Title)
	fmt.Printf("  Artist: %s\n", tag.Artist)
	fmt.Printf("  Album:  %s\n", tag.Album)
	if tag.Year != "" {
		fmt.Printf("  Year:   %s\n", tag.Year)
	}
	if tag.Genre != "" {
		fmt.Printf("  Genre:  %s\n", tag.Genre)
	}
	if tag.Track != "" {
		fmt.Printf("  Track:  %s\n", tag.Track)
	}
	switch {
	case tag.Image != nil:
		fmt.Printf("  Art:    %d bytes (%s)\n", len(tag.Image), tag.ImageMIME)
	case tag.HasImage:
		fmt.Printf("  Art:    embedded, not loaded\n")
	}
}
