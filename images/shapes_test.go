package images

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateIoU(t *testing.T) {
	person := Rect{Left: 40, Top: 20, Right: 140, Bottom: 220}

	tests := []struct {
		name  string
		other Rect
		want  float32
	}{
		{"same box", person, 1},
		{"disjoint", Rect{Left: 300, Top: 20, Right: 400, Bottom: 220}, 0},
		{"shared right edge", Rect{Left: 140, Top: 20, Right: 240, Bottom: 220}, 0},
		// 100x100 overlap of two 100x200 boxes: 10000 / 30000.
		{"shifted down by half", Rect{Left: 40, Top: 120, Right: 140, Bottom: 320}, 0.333333},
		// 10x10 corner: 100 / 39900.
		{"corner touch", Rect{Left: 130, Top: 210, Right: 230, Bottom: 410}, 0.002506},
		{"nested", Rect{Left: 65, Top: 70, Right: 115, Bottom: 170}, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateIoU(person, tt.other)
			assert.InDelta(t, tt.want, got, 0.001)
			assert.InDelta(t, got, tt.other.IoU(person), 0.0001, "symmetric")
		})
	}
}

func TestCalculateIoU_Normalized(t *testing.T) {
	a := Rect{Right: 0.5, Bottom: 0.5}
	b := Rect{Left: 0.25, Right: 0.75, Bottom: 0.5}
	assert.InDelta(t, 0.333333, CalculateIoU(a, b), 0.001)
}

func TestCalculateIoU_MatchesIntegerRectangles(t *testing.T) {
	frame := Rect{Right: 640, Bottom: 480}
	for _, other := range []Rect{
		{Left: 700, Top: 0, Right: 800, Bottom: 100},
		{Left: 320, Top: 240, Right: 960, Bottom: 720},
		frame,
		{Left: 100, Top: 100, Right: 200, Bottom: 300},
		{Left: 0, Top: 0, Right: 1920, Bottom: 1080},
	} {
		want := imageRectangleIoU(frame.ToRectangle(), other.ToRectangle())
		assert.InDelta(t, want, CalculateIoU(frame, other), 0.0001, "%+v", other)
	}
}

func imageRectangleIoU(r1, r2 image.Rectangle) float32 {
	intersect := r1.Intersect(r2)
	if intersect.Empty() {
		return 0.0
	}

	intersectArea := intersect.Dx() * intersect.Dy()
	union := r1.Dx()*r1.Dy() + r2.Dx()*r2.Dy() - intersectArea

	return float32(intersectArea) / float32(union)
}

func TestCalculateIoU_Bounded(t *testing.T) {
	tests := []struct {
		name string
		r1   Rect
		r2   Rect
	}{
		{"Zero area rectangle 1", Rect{0, 0, 0, 0}, Rect{0, 0, 100, 100}},
		{"Zero area rectangle 2", Rect{0, 0, 100, 100}, Rect{50, 50, 50, 50}},
		{"Both zero area", Rect{0, 0, 0, 0}, Rect{10, 10, 10, 10}},
		{"Negative coordinates", Rect{-100, -100, 0, 0}, Rect{-50, -50, 50, 50}},
		{"Single pixel", Rect{0, 0, 1, 1}, Rect{0, 0, 1, 1}},
		{"Very large coordinates", Rect{0, 0, 999999, 999999}, Rect{500000, 500000, 999999, 999999}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range []float32{CalculateIoU(tt.r1, tt.r2), CalculateIoU(tt.r2, tt.r1)} {
				assert.False(t, v < 0 || v > 1, "IoU %v outside [0, 1]", v)
			}
		})
	}
}

func TestRect_Canon(t *testing.T) {
	tests := []struct {
		name     string
		in       Rect
		expected Rect
	}{
		{"already canonical", Rect{1, 2, 3, 4}, Rect{1, 2, 3, 4}},
		{"swapped horizontally", Rect{3, 2, 1, 4}, Rect{1, 2, 3, 4}},
		{"swapped vertically", Rect{1, 4, 3, 2}, Rect{1, 2, 3, 4}},
		{"fully inverted", Rect{3, 4, 1, 2}, Rect{1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Canon()
			assert.Equal(t, tt.expected, got)
			assert.LessOrEqual(t, got.Left, got.Right)
			assert.LessOrEqual(t, got.Top, got.Bottom)
			assert.Equal(t, got, NewRect(tt.in.Left, tt.in.Top, tt.in.Right, tt.in.Bottom))
		})
	}
}

func TestRect_Measurements(t *testing.T) {
	r := Rect{Left: 60, Top: 30, Right: 180, Bottom: 150}

	assert.InDelta(t, 120, r.Width(), 1e-5)
	assert.InDelta(t, 120, r.Height(), 1e-5)
	assert.InDelta(t, 14400, r.Area(), 1e-3)
	assert.Equal(t, image.Rect(60, 30, 180, 150), r.ToRectangle())
	assert.Zero(t, Rect{Left: 5, Top: 5, Right: 5, Bottom: 10}.Area(), "degenerate rectangles have no area")
}

func TestRect_Clamp(t *testing.T) {
	r := Rect{Left: -10, Top: 20, Right: 350, Bottom: 400}.Clamp(300, 300)
	assert.Equal(t, Rect{Left: 0, Top: 20, Right: 300, Bottom: 300}, r)
}
