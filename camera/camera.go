// Package camera - Captures frames from video devices and streams with OpenCV.
package camera

import (
	"context"
	"image"
	"strconv"
	"time"

	"github.com/nvr-ai/go-recognize/images"
	"github.com/nvr-ai/go-recognize/logging"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrNoFrame is returned when the device delivers no frame.
var ErrNoFrame = errors.New("camera delivered no frame")

// ErrEndOfStream is returned by Stream when a file or network source stops delivering
// frames.
var ErrEndOfStream = errors.New("end of stream")

// MaxEmptyReads is the number of consecutive empty reads after which a file or network
// source is considered finished. Devices are retried forever.
const MaxEmptyReads = 50

// Camera reads frames from a capture device, scaled to a fixed size.
type Camera struct {
	source  string
	live    bool
	size    image.Point
	capture *gocv.VideoCapture
	frame   gocv.Mat
	resized gocv.Mat
	logger  logging.Logger
}

// ParseSource converts a source into a capture device id or a stream address.
// Decimal sources are device ids; anything else is a file or URL.
func ParseSource(source string) interface{} {
	if id, err := strconv.Atoi(source); err == nil {
		return id
	}
	return source
}

// Open opens a capture device.
//
// Arguments:
//   - source: A device id such as "0", a video file or a stream URL.
//   - size: The frame size delivered by Read.
//   - logger: The logger. Nil disables logging.
//
// Returns:
//   - *Camera: The camera.
//   - error: When the device cannot be opened.
func Open(source string, size image.Point, logger logging.Logger) (*Camera, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid frame size %v", size)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	capture, err := gocv.OpenVideoCapture(ParseSource(source))
	if err != nil {
		return nil, errors.Wrapf(err, "opening capture device %q", source)
	}
	_, live := ParseSource(source).(int)
	logger.Infow("camera opened", "source", source, "size", size, "live", live)
	return &Camera{
		source:  source,
		live:    live,
		size:    size,
		capture: capture,
		frame:   gocv.NewMat(),
		resized: gocv.NewMat(),
		logger:  logger,
	}, nil
}

// Size returns the frame size delivered by Read.
func (c *Camera) Size() image.Point {
	return c.size
}

// Read captures the next frame into dst, which must have the camera's size.
//
// Returns:
//   - error: ErrNoFrame when the device has nothing to deliver.
func (c *Camera) Read(dst *images.Pixels) error {
	if ok := c.capture.Read(&c.frame); !ok || c.frame.Empty() {
		return ErrNoFrame
	}
	return MatToPixels(c.frame, &c.resized, dst)
}

// MatToPixels scales a BGR Mat to the size of dst and packs it.
//
// Arguments:
//   - src: A three channel 8 bit BGR image.
//   - scratch: A reusable Mat for the scaled image.
//   - dst: The frame to fill.
//
// Returns:
//   - error: When src is not 8 bit BGR.
func MatToPixels(src gocv.Mat, scratch *gocv.Mat, dst *images.Pixels) error {
	if src.Type() != gocv.MatTypeCV8UC3 {
		return errors.Errorf("expected an 8 bit BGR frame, got %v", src.Type())
	}
	size := image.Pt(dst.Width, dst.Height)
	mat := src
	if src.Cols() != size.X || src.Rows() != size.Y {
		gocv.Resize(src, scratch, size, 0, 0, gocv.InterpolationLinear)
		mat = *scratch
	}
	if !mat.IsContinuous() {
		return errors.New("frame memory is not continuous")
	}
	return dst.FillBGR(mat.ToBytes())
}

// Stream reads frames until ctx is done and hands each one to submit. The frame passed
// to submit is reused for the next read, so submit must copy it.
//
// Arguments:
//   - ctx: Stops the stream.
//   - submit: Receives every frame, reporting whether it was accepted.
//
// Returns:
//   - error: ctx.Err() once the stream stops, ErrEndOfStream when a file or network
//     source has no more frames, or the read error.
func (c *Camera) Stream(ctx context.Context, submit func(*images.Pixels) bool) error {
	return c.stream(ctx, c.Read, submit)
}

func (c *Camera) stream(ctx context.Context, readFrame func(*images.Pixels) error, submit func(*images.Pixels) bool) error {
	px := images.NewPixels(c.size.X, c.size.Y)
	var read, accepted, empty int
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := readFrame(px); err != nil {
			if !errors.Is(err, ErrNoFrame) {
				return err
			}
			empty++
			if !c.live && empty >= MaxEmptyReads {
				c.logger.Infow("stream ended", "source", c.source)
				return ErrEndOfStream
			}
			if empty == 1 {
				c.logger.Warnw("no frame", "source", c.source)
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		empty = 0
		read++
		if submit(px) {
			accepted++
		}

		if elapsed := time.Since(last); elapsed >= 5*time.Second {
			c.logger.Debugw("camera stream",
				"fps", float64(read)/elapsed.Seconds(),
				"accepted", accepted,
				"read", read,
			)
			read, accepted, last = 0, 0, time.Now()
		}
	}
}

// Close releases the device and its buffers.
func (c *Camera) Close() error {
	c.frame.Close()
	c.resized.Close()
	return c.capture.Close()
}
