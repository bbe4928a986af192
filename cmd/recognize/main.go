// Package main is the recognize command: it classifies images, camera frames and
// HTTP uploads with a TensorFlow Lite or ONNX model.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nvr-ai/go-recognize/benchmark"
	"github.com/nvr-ai/go-recognize/camera"
	"github.com/nvr-ai/go-recognize/config"
	"github.com/nvr-ai/go-recognize/images"
	"github.com/nvr-ai/go-recognize/inference"
	"github.com/nvr-ai/go-recognize/logging"
	"github.com/nvr-ai/go-recognize/models/postprocess"
	"github.com/nvr-ai/go-recognize/server"
	"github.com/nvr-ai/go-recognize/util"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	// Flags.
	flagConfig  = "config"
	flagDebug   = "debug"
	flagSource  = "source"
	flagAddress = "address"
	flagCamera  = "camera"

	flagIterations  = "iterations"
	flagWarmup      = "warmup"
	flagConcurrency = "concurrency"
	flagOutput      = "output"
)

func main() {
	var (
		cfg    config.Config
		logger logging.Logger
	)

	app := &cli.App{
		Name:  "recognize",
		Usage: "recognize objects in images, camera frames and uploads",
		// Results go to Writer, logs to ErrWriter.
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			if path := c.String(flagConfig); path != "" {
				cfg, err = config.Load(path)
			} else {
				cfg = config.Default()
				err = cfg.Validate()
			}
			if err != nil {
				return err
			}
			logger, err = newLogger(cfg.Log, c.Bool(flagDebug), c.App.ErrWriter)
			return err
		},
		After: func(c *cli.Context) error {
			if logger != nil {
				_ = logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "image",
				Usage:     "recognize image files and print one JSON line per image",
				ArgsUsage: "<file|directory>...",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return errors.New("at least one image file or directory is required")
					}
					return runImages(cfg, newEngine, logger, c.Args().Slice(), c.App.Writer)
				},
			},
			{
				Name:  "camera",
				Usage: "recognize camera frames and print one JSON line per frame",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagSource,
						Usage: "override the camera device id, video file or stream URL",
					},
				},
				Action: func(c *cli.Context) error {
					if source := c.String(flagSource); source != "" {
						cfg.Camera.Source = source
					}
					return runCamera(c.Context, cfg, newEngine, logger, c.App.Writer)
				},
			},
			{
				Name:      "bench",
				Usage:     "measure recognition throughput and latency over image files",
				ArgsUsage: "<file|directory>...",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagIterations,
						Value: 100,
						Usage: "number of measured recognitions",
					},
					&cli.IntFlag{
						Name:  flagWarmup,
						Value: 5,
						Usage: "number of recognitions before measuring",
					},
					&cli.IntFlag{
						Name:  flagConcurrency,
						Usage: "concurrent callers, defaults to engine.pipelines",
					},
					&cli.StringFlag{
						Name:  flagOutput,
						Usage: "write JSON and CSV reports to `DIR`",
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return errors.New("at least one image file or directory is required")
					}
					scenario := benchmark.Scenario{
						Name:        filepath.Base(filepath.Clean(c.Args().First())),
						Iterations:  c.Int(flagIterations),
						WarmupRuns:  c.Int(flagWarmup),
						Concurrency: c.Int(flagConcurrency),
					}
					if scenario.Concurrency <= 0 {
						scenario.Concurrency = cfg.Engine.Pipelines
					}
					return runBench(c.Context, cfg, newEngine, logger, c.Args().Slice(), scenario, c.String(flagOutput), c.App.Writer)
				},
			},
			{
				Name:  "serve",
				Usage: "serve recognitions over HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagAddress,
						Usage: "override the listen address",
					},
					&cli.BoolFlag{
						Name:  flagCamera,
						Usage: "also recognize camera frames and publish them at /v1/latest",
					},
				},
				Action: func(c *cli.Context) error {
					if addr := c.String(flagAddress); addr != "" {
						cfg.Server.Address = addr
					}
					return runServer(c.Context, cfg, newEngine, logger, c.Bool(flagCamera))
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "recognize:", err)
		stop()
		os.Exit(1)
	}
}

// imageResult is the output line of one image.
type imageResult struct {
	Path    string               `json:"path"`
	Results []postprocess.Result `json:"results"`
	Error   string               `json:"error,omitempty"`
}

// frameResult is the output line of one camera frame.
type frameResult struct {
	Seq     uint64               `json:"seq"`
	Time    time.Time            `json:"time"`
	Results []postprocess.Result `json:"results"`
	Error   string               `json:"error,omitempty"`
}

// expandPaths replaces directories by the image files they contain.
func expandPaths(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", path)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		entries, err := util.LoadDirectoryImageFiles(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			files = append(files, e.Path)
		}
	}
	return files, nil
}

// recognizeImages classifies every image with r and writes one JSON line per image.
// Unreadable images are reported on their line; recognition failures stop the run.
func recognizeImages(r inference.Recognizer, paths []string, out io.Writer) error {
	files, err := expandPaths(paths)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	size := r.InputSize()
	for _, path := range files {
		line := imageResult{Path: path, Results: []postprocess.Result{}}

		img, err := util.LoadImage(path)
		if err != nil {
			line.Error = err.Error()
		} else {
			results, err := r.Classify(images.FromImage(img, size.X, size.Y))
			if err != nil {
				return errors.Wrapf(err, "recognizing %s", path)
			}
			if results != nil {
				line.Results = results
			}
		}
		if err := enc.Encode(line); err != nil {
			return errors.Wrap(err, "writing results")
		}
	}
	return nil
}

func runImages(cfg config.Config, open engineFactory, logger logging.Logger, paths []string, out io.Writer) (err error) {
	r, err := newRecognizer(cfg, open, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, r.Close()) }()

	if err := recognizeImages(r, paths, out); err != nil {
		return err
	}
	if s := r.statString(); s != "" {
		logger.Infow("timing", "stats", s)
	}
	return nil
}

// streamCamera feeds camera frames to a runner until ctx is done.
func streamCamera(ctx context.Context, cfg config.Config, r inference.Recognizer, handler inference.Handler, logger logging.Logger) error {
	cam, err := camera.Open(cfg.Camera.Source, r.InputSize(), logger.Named("camera"))
	if err != nil {
		return err
	}
	defer cam.Close()

	runner := inference.NewRunner(r, handler, logger.Named("runner"))
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(ctx) })
	g.Go(func() error { return cam.Stream(ctx, runner.Submit) })

	err = g.Wait()
	logger.Infow("camera stopped", "dropped", runner.Dropped())
	if errors.Is(err, context.Canceled) || errors.Is(err, camera.ErrEndOfStream) {
		return nil
	}
	return err
}

func runCamera(ctx context.Context, cfg config.Config, open engineFactory, logger logging.Logger, out io.Writer) (err error) {
	r, err := newRecognizer(cfg, open, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, r.Close()) }()

	enc := json.NewEncoder(out)
	handler := func(frame inference.Frame, results []postprocess.Result, err error) {
		line := frameResult{Seq: frame.Seq, Time: frame.Time, Results: results}
		if line.Results == nil {
			line.Results = []postprocess.Result{}
		}
		if err != nil {
			line.Error = err.Error()
		}
		if err := enc.Encode(line); err != nil {
			logger.Warnw("writing results", "error", err)
		}
	}
	return streamCamera(ctx, cfg, r, handler, logger)
}

// loadFrames reads the images of paths at the recognizer's input size.
func loadFrames(paths []string, size image.Point) ([]*images.Pixels, error) {
	files, err := expandPaths(paths)
	if err != nil {
		return nil, err
	}
	frames := make([]*images.Pixels, 0, len(files))
	for _, path := range files {
		img, err := util.LoadImage(path)
		if err != nil {
			return nil, err
		}
		frames = append(frames, images.FromImage(img, size.X, size.Y))
	}
	return frames, nil
}

func runBench(ctx context.Context, cfg config.Config, open engineFactory, logger logging.Logger, paths []string, scenario benchmark.Scenario, outputDir string, out io.Writer) (err error) {
	r, err := newRecognizer(cfg, open, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, r.Close()) }()

	frames, err := loadFrames(paths, r.InputSize())
	if err != nil {
		return err
	}
	suite, err := benchmark.NewSuite(r, frames, outputDir)
	if err != nil {
		return err
	}
	suite.AddScenario(scenario)
	if err := suite.RunAllScenarios(ctx); err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(suite.GetResults()); err != nil {
		return errors.Wrap(err, "writing results")
	}
	if outputDir != "" {
		saved, err := suite.SaveResults()
		if err != nil {
			return err
		}
		logger.Infow("benchmark reports written", "files", saved)
	}
	if s := r.statString(); s != "" {
		logger.Infow("timing", "stats", s)
	}
	return nil
}

func runServer(ctx context.Context, cfg config.Config, open engineFactory, logger logging.Logger, withCamera bool) (err error) {
	r, err := newRecognizer(cfg, open, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, r.Close()) }()

	srv := server.New(r, server.Options{
		Stats:     r.statString,
		StaticDir: cfg.Server.StaticDir,
		Logger:    logger.Named("http"),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx, cfg.Server.Address) })
	if withCamera {
		g.Go(func() error { return streamCamera(ctx, cfg, r, srv.Publish, logger) })
	}
	return g.Wait()
}
