// Command soundbridge serves an audio library over HTTP and inspects
// ID3v2 metadata from the command line.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/simonhull/soundbridge"
	"github.com/simonhull/soundbridge/internal/config"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	r := &runner{log: logger}

	app := &cli.Command{
		Name:    "soundbridge",
		Usage:   "Serve and inspect an audio library",
		Version: soundbridge.Version,
		Commands: []*cli.Command{
			serveCommand(r),
			tagsCommand(r),
			scanCommand(r),
			initCommand(r),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logger.Fatalf("application error: %v", err)
	}
}

// runner carries the state shared by all command actions.
type runner struct {
	log *log.Logger
}

// loadConfig reads the config at path, falling back to embedded defaults
// when the file does not exist.
func (r *runner) loadConfig(path string) *config.Config {
	if _, err := os.Stat(path); err == nil {
		if loaded, err := config.LoadConfig(path); err == nil {
			return loaded
		}
		r.log.Warn("config file unreadable, using defaults", "path", path)
	}
	return config.DefaultConfig()
}

func serveCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the media library over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides the config file",
			},
		},
		Action: r.Serve,
	}
}

func tagsCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "tags",
		Usage: "Print the ID3v2 metadata of one file",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "file",
			},
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "full",
				Usage: "Read the entire tag block instead of the bounded fast path",
			},
			&cli.StringFlag{
				Name:  "image",
				Usage: "Write the embedded picture to this path",
			},
		},
		Action: r.Tags,
	}
}

func scanCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Scan a directory and print the metadata of every audio file",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "dir",
			},
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output one JSON object per file",
			},
		},
		Action: r.Scan,
	}
}

func initCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write an example config.toml to the current directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to write the configuration file",
				Value:   "config.toml",
			},
		},
		Action: r.Init,
	}
}
