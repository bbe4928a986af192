// Package images - Pixel buffers and geometry shared by the recognition pipeline.
package images

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// ErrSizeMismatch is returned when a source does not match the buffer dimensions.
var ErrSizeMismatch = errors.New("pixel buffer size mismatch")

// Pixels is a row-major frame of packed 0xAARRGGBB values.
type Pixels struct {
	// The width of the frame in pixels.
	Width int `json:"width" yaml:"width"`
	// The height of the frame in pixels.
	Height int `json:"height" yaml:"height"`
	// The packed ARGB pixel values, Width*Height long.
	Data []uint32 `json:"-" yaml:"-"`
}

// NewPixels allocates a zeroed frame of the given size.
//
// Arguments:
//   - width: The frame width.
//   - height: The frame height.
//
// Returns:
//   - *Pixels: The allocated frame.
func NewPixels(width, height int) *Pixels {
	return &Pixels{
		Width:  width,
		Height: height,
		Data:   make([]uint32, width*height),
	}
}

// PackARGB packs four 8-bit channels into a single ARGB value.
func PackARGB(a, r, g, b uint8) uint32 {
	return uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// UnpackARGB splits a packed ARGB value into its channels.
func UnpackARGB(c uint32) (a, r, g, b uint8) {
	return uint8(c >> 24), uint8(c >> 16), uint8(c >> 8), uint8(c)
}

// Len returns the number of pixels held by the frame.
func (p *Pixels) Len() int {
	return len(p.Data)
}

// Consistent reports whether the data length agrees with the declared dimensions.
func (p *Pixels) Consistent() bool {
	return p.Width >= 0 && p.Height >= 0 && len(p.Data) == p.Width*p.Height
}

// At returns the packed value at (x, y).
func (p *Pixels) At(x, y int) uint32 {
	return p.Data[y*p.Width+x]
}

// Set stores c at (x, y).
func (p *Pixels) Set(x, y int, c color.Color) {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	p.Data[y*p.Width+x] = PackARGB(n.A, n.R, n.G, n.B)
}

// Fill copies img into the frame. The image bounds must match the frame size.
//
// Arguments:
//   - img: The source image.
//
// Returns:
//   - error: ErrSizeMismatch when the image is not Width x Height.
func (p *Pixels) Fill(img image.Image) error {
	b := img.Bounds()
	if b.Dx() != p.Width || b.Dy() != p.Height || !p.Consistent() {
		return errors.Wrapf(ErrSizeMismatch, "image is %dx%d, frame is %dx%d", b.Dx(), b.Dy(), p.Width, p.Height)
	}

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < p.Height; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+p.Width*4]
			for x := 0; x < p.Width; x++ {
				o := x * 4
				p.Data[y*p.Width+x] = PackARGB(row[o+3], row[o], row[o+1], row[o+2])
			}
		}
	case *image.RGBA:
		// Alpha is premultiplied here; camera and decoded frames are opaque.
		for y := 0; y < p.Height; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+p.Width*4]
			for x := 0; x < p.Width; x++ {
				o := x * 4
				p.Data[y*p.Width+x] = PackARGB(row[o+3], row[o], row[o+1], row[o+2])
			}
		}
	default:
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				p.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
	}

	return nil
}

// FillBGR copies interleaved 8-bit BGR data (as produced by OpenCV) into the frame.
//
// Arguments:
//   - data: Width*Height*3 bytes in B,G,R order.
//
// Returns:
//   - error: ErrSizeMismatch when data has the wrong length.
func (p *Pixels) FillBGR(data []byte) error {
	if len(data) != p.Width*p.Height*3 || !p.Consistent() {
		return errors.Wrapf(ErrSizeMismatch, "got %d bytes for a %dx%d BGR frame", len(data), p.Width, p.Height)
	}
	for i := range p.Data {
		o := i * 3
		p.Data[i] = PackARGB(0xff, data[o+2], data[o+1], data[o])
	}
	return nil
}

// ToImage renders the frame into a new NRGBA image.
func (p *Pixels) ToImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, p.Width, p.Height))
	for i, c := range p.Data {
		a, r, g, b := UnpackARGB(c)
		o := i * 4
		img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = r, g, b, a
	}
	return img
}

// FromImage scales img to width x height and packs it into a new frame.
//
// Arguments:
//   - img: The source image of any size.
//   - width: The target width.
//   - height: The target height.
//
// Returns:
//   - *Pixels: The packed frame.
//
// @example
//
//	img, _ := imaging.Open("dog.jpg", imaging.AutoOrientation(true))
//	px := images.FromImage(img, 224, 224)
func FromImage(img image.Image, width, height int) *Pixels {
	px := NewPixels(width, height)
	// Fill cannot fail once the image has been scaled to the frame size.
	_ = px.Fill(Resize(img, width, height))
	return px
}

// Resize scales img to exactly width x height with bilinear interpolation.
// The image is returned unchanged when it already has the requested size.
func Resize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height && b.Min == (image.Point{}) {
		return img
	}
	return resize.Resize(uint(width), uint(height), img, resize.Bilinear)
}
