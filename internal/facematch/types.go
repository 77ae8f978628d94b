// Package facematch holds the types and vector/geometry helpers shared by the
// store, matcher, tracker and feed packages.
package facematch

import "time"

// Point is a position in normalized frame coordinates (0-1 on both axes).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is a single face observed by a camera's detector in one frame.
type Detection struct {
	CameraID  string    `json:"camera_id"`
	Timestamp time.Time `json:"timestamp"`
	Vector    []float32 `json:"vector"`
	Quality   float64   `json:"quality_score"`
	Position  Point     `json:"position"`
}
