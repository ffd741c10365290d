// Package images - Box geometry, crop transforms and image codecs.
package images

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// Rect is a float bounding box in corner form.
//
// X2,Y2 are exclusive (like image.Rectangle) once converted to pixels.
type Rect struct {
	X1, Y1, X2, Y2 float32
}

// Width returns the horizontal extent of the box, clamped to zero for inverted boxes.
func (r Rect) Width() float32 {
	return math32.Max(r.X2-r.X1, 0)
}

// Height returns the vertical extent of the box, clamped to zero for inverted boxes.
func (r Rect) Height() float32 {
	return math32.Max(r.Y2-r.Y1, 0)
}

// Area returns the area of the box. Inverted or degenerate boxes have zero area.
func (r Rect) Area() float32 {
	return r.Width() * r.Height()
}

func (r Rect) String() string {
	return fmt.Sprintf("[%.1f, %.1f, %.1f, %.1f]", r.X1, r.Y1, r.X2, r.Y2)
}

// CalculateIoU returns the Intersection over Union of two boxes.
//
// IoU = Area of Intersection / Area of Union
//
//   - 1.0 means the boxes are identical.
//   - 0.0 means the boxes don't overlap at all.
//
// The intersection width and height are clamped to zero so disjoint boxes
// contribute no area, and each box's own area is clamped to zero so an
// inverted box counts as empty rather than negative. A union of zero or less
// yields 0, which keeps the result inside [0, 1] for every input.
//
// Arguments:
//   - r: The first box.
//   - o: The other box to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0 representing the IoU score.
//
// Example Usage:
// ```go
//
//	rect1 := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	rect2 := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iouScore := CalculateIoU(rect1, rect2) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	interW := math32.Max(math32.Min(r.X2, o.X2)-math32.Max(r.X1, o.X1), 0)
	interH := math32.Max(math32.Min(r.Y2, o.Y2)-math32.Max(r.Y1, o.Y1), 0)
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0
	}

	iou := interArea / unionArea
	if iou > 1 {
		// Guards against float rounding on near-identical boxes.
		return 1
	}
	return iou
}

// ClampToPixels snaps a box to integer pixel coordinates inside an image of
// the given size.
//
// Each corner is clamped to [0, dim-1] on its axis and then rounded half away
// from zero. The returned rectangle spans [X1, X2) × [Y1, Y2).
//
// Arguments:
//   - r: The box in original-image pixel space.
//   - width: The width of the image in pixels.
//   - height: The height of the image in pixels.
//
// Returns:
//   - image.Rectangle: The clamped pixel rectangle.
//   - bool: False when the clamped box is degenerate (x2 <= x1 or y2 <= y1).
func ClampToPixels(r Rect, width, height int) (image.Rectangle, bool) {
	if width <= 0 || height <= 0 {
		return image.Rectangle{}, false
	}

	maxX := float32(width - 1)
	maxY := float32(height - 1)

	x1 := int(math32.Round(clamp(r.X1, 0, maxX)))
	y1 := int(math32.Round(clamp(r.Y1, 0, maxY)))
	x2 := int(math32.Round(clamp(r.X2, 0, maxX)))
	y2 := int(math32.Round(clamp(r.Y2, 0, maxY)))

	rect := image.Rectangle{Min: image.Pt(x1, y1), Max: image.Pt(x2, y2)}
	if x2 <= x1 || y2 <= y1 {
		return rect, false
	}
	return rect, true
}

func clamp(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(v, hi))
}
