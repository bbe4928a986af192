// Package server - Serves recognition results over HTTP with gin.
package server

import (
	"context"
	"image"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/nvr-ai/go-recognize/images"
	"github.com/nvr-ai/go-recognize/inference"
	"github.com/nvr-ai/go-recognize/logging"
	"github.com/nvr-ai/go-recognize/models/postprocess"
	"github.com/nvr-ai/go-recognize/util"
	"github.com/pkg/errors"
)

// DefaultMaxUploadBytes bounds the size of an uploaded image.
const DefaultMaxUploadBytes = 10 << 20

// Recognizer classifies frames of a fixed input size.
type Recognizer interface {
	Classify(px *images.Pixels) ([]postprocess.Result, error)
	InputSize() image.Point
}

// contextRecognizer is implemented by recognizers that can give up waiting for a
// free pipeline, such as inference.Pool.
type contextRecognizer interface {
	ClassifyContext(ctx context.Context, px *images.Pixels) ([]postprocess.Result, error)
}

// Options configures the server.
type Options struct {
	// Stats renders the timing statistics served at /v1/stats. Nil serves nothing.
	Stats func() string
	// StaticDir is served at the root when set.
	StaticDir string
	// MaxUploadBytes bounds uploads. Zero means DefaultMaxUploadBytes.
	MaxUploadBytes int64
	// Logger receives request logs. Nil disables logging.
	Logger logging.Logger
}

// Response is the body of a recognition.
type Response struct {
	Results   []postprocess.Result `json:"results"`
	ElapsedMS float64              `json:"elapsed_ms"`
}

// Snapshot is the latest result published by a frame runner.
type Snapshot struct {
	Seq     uint64               `json:"seq"`
	Time    time.Time            `json:"time"`
	Results []postprocess.Result `json:"results"`
	Error   string               `json:"error,omitempty"`
}

// Server routes recognition requests to a recognizer.
type Server struct {
	recognizer Recognizer
	opts       Options
	engine     *gin.Engine
	logger     logging.Logger

	mu     sync.RWMutex
	latest *Snapshot
}

// New creates a server and registers its routes.
//
// Arguments:
//   - recognizer: Classifies uploaded images. Nil serves published snapshots only.
//   - opts: The server options.
//
// Returns:
//   - *Server: The server.
func New(recognizer Recognizer, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	s := &Server{
		recognizer: recognizer,
		opts:       opts,
		engine:     gin.New(),
		logger:     logger,
	}

	s.engine.Use(gin.Recovery(), s.logRequests)
	if opts.StaticDir != "" {
		s.engine.Use(static.Serve("/", static.LocalFile(opts.StaticDir, true)))
	}

	s.engine.GET("/healthz", s.health)
	v1 := s.engine.Group("/v1")
	v1.POST("/recognize", s.recognize)
	v1.GET("/stats", s.stats)
	v1.GET("/latest", s.latestSnapshot)

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Publish stores the results of a frame for /v1/latest. Its signature matches
// inference.Handler so a runner can deliver to it directly.
func (s *Server) Publish(frame inference.Frame, results []postprocess.Result, err error) {
	snap := &Snapshot{
		Seq:     frame.Seq,
		Time:    frame.Time,
		Results: nonNil(results),
	}
	if err != nil {
		snap.Error = err.Error()
	}
	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
//
// Arguments:
//   - ctx: Stops the server.
//   - addr: The listen address, such as ":8080".
//
// Returns:
//   - error: The listen error, or nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Infow("http server listening", "address", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "serving http")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down http server")
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serving http")
	}
	return nil
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debugw("http request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"latency", time.Since(start),
	)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) stats(c *gin.Context) {
	if s.opts.Stats == nil {
		c.String(http.StatusOK, "")
		return
	}
	c.String(http.StatusOK, s.opts.Stats())
}

func (s *Server) latestSnapshot(c *gin.Context) {
	s.mu.RLock()
	snap := s.latest
	s.mu.RUnlock()
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame has been recognized yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) recognize(c *gin.Context) {
	if s.recognizer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no recognizer configured"})
		return
	}

	body, err := s.upload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer body.Close()

	img, err := util.DecodeImage(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	size := s.recognizer.InputSize()
	px := images.FromImage(img, size.X, size.Y)

	var results []postprocess.Result
	if cr, ok := s.recognizer.(contextRecognizer); ok {
		results, err = cr.ClassifyContext(c.Request.Context(), px)
	} else {
		results, err = s.recognizer.Classify(px)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, inference.ErrClosedPipeline) ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Warnw("recognition failed", "error", err, "status", status)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, Response{
		Results:   nonNil(results),
		ElapsedMS: float64(time.Since(start).Microseconds()) / 1000,
	})
}

// upload returns the image of a request: the "image" part of a multipart form, or the
// raw body otherwise.
func (s *Server) upload(c *gin.Context) (io.ReadCloser, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("image")
		if err != nil {
			return nil, errors.Wrap(err, "reading the image form field")
		}
		f, err := header.Open()
		if err != nil {
			return nil, errors.Wrap(err, "opening the uploaded image")
		}
		return f, nil
	}
	if c.Request.ContentLength == 0 {
		return nil, errors.New("empty request body")
	}
	return c.Request.Body, nil
}

func nonNil(results []postprocess.Result) []postprocess.Result {
	if results == nil {
		return []postprocess.Result{}
	}
	return results
}
