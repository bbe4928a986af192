// Package images - Pixel buffers and geometry shared by the recognition pipeline.
package images

import (
	"image"

	"github.com/chewxy/math32"
)

// Rect is an axis-aligned bounding box in pixel space.
type Rect struct {
	Left   float32 `json:"left" yaml:"left"`
	Top    float32 `json:"top" yaml:"top"`
	Right  float32 `json:"right" yaml:"right"`
	Bottom float32 `json:"bottom" yaml:"bottom"`
}

// NewRect returns the canonical rectangle spanned by the two corners.
func NewRect(left, top, right, bottom float32) Rect {
	return Rect{Left: left, Top: top, Right: right, Bottom: bottom}.Canon()
}

// Canon orders the edges so that Left <= Right and Top <= Bottom.
func (r Rect) Canon() Rect {
	return Rect{
		Left:   math32.Min(r.Left, r.Right),
		Top:    math32.Min(r.Top, r.Bottom),
		Right:  math32.Max(r.Left, r.Right),
		Bottom: math32.Max(r.Top, r.Bottom),
	}
}

// Width returns the horizontal extent.
func (r Rect) Width() float32 {
	return r.Right - r.Left
}

// Height returns the vertical extent.
func (r Rect) Height() float32 {
	return r.Bottom - r.Top
}

// Area returns Width*Height, or 0 for a degenerate rectangle.
func (r Rect) Area() float32 {
	w, h := r.Width(), r.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Clamp limits the rectangle to [0, width] x [0, height].
func (r Rect) Clamp(width, height float32) Rect {
	return Rect{
		Left:   clamp(r.Left, 0, width),
		Top:    clamp(r.Top, 0, height),
		Right:  clamp(r.Right, 0, width),
		Bottom: clamp(r.Bottom, 0, height),
	}
}

// ToRectangle rounds the rectangle to integer pixel coordinates.
func (r Rect) ToRectangle() image.Rectangle {
	return image.Rect(
		int(math32.Round(r.Left)),
		int(math32.Round(r.Top)),
		int(math32.Round(r.Right)),
		int(math32.Round(r.Bottom)),
	)
}

// IoU returns the intersection over union of r and o.
func (r Rect) IoU(o Rect) float32 {
	return CalculateIoU(r, o)
}

// CalculateIoU measures the overlap of two rectangles as
// Area(intersection) / Area(union), a value in [0, 1].
//
// See also:
//   - http://ronny.rest/tutorials/module/localization_001/iou
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle to compare against.
//
// Returns:
//   - float32: 0 when the rectangles do not overlap (touching edges included),
//     1 when they are identical.
//
// @example
//
//	a := Rect{Left: 0, Top: 0, Right: 10, Bottom: 10}
//	b := Rect{Left: 5, Top: 5, Right: 15, Bottom: 15}
//	CalculateIoU(a, b) // 25 / 175 = 0.142857
func CalculateIoU(r, o Rect) float32 {
	interW := math32.Min(r.Right, o.Right) - math32.Max(r.Left, o.Left)
	interH := math32.Min(r.Bottom, o.Bottom) - math32.Max(r.Top, o.Top)
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	// Inclusion-exclusion: the intersection is counted in both areas.
	union := r.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(v, hi))
}
