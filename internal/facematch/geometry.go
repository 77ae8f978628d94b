package facematch

import "math"

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// BBoxCenter returns the center of a [x1, y1, x2, y2] bounding box.
// Returns false if the box is malformed.
func BBoxCenter(bbox []float64) (Point, bool) {
	if len(bbox) != 4 || bbox[2] < bbox[0] || bbox[3] < bbox[1] {
		return Point{}, false
	}
	return Point{
		X: (bbox[0] + bbox[2]) / 2,
		Y: (bbox[1] + bbox[3]) / 2,
	}, true
}

// ConvertPixelPointToRelative converts a pixel position to relative (0-1) coordinates.
// Returns the input unchanged if the frame size is unknown.
func ConvertPixelPointToRelative(p Point, width, height int) Point {
	if width <= 0 || height <= 0 {
		return p
	}
	return Point{
		X: p.X / float64(width),
		Y: p.Y / float64(height),
	}
}
