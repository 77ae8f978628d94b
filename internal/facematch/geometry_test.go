package facematch

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name     string
		a        Point
		b        Point
		expected float64
	}{
		{"same point", Point{0.5, 0.5}, Point{0.5, 0.5}, 0},
		{"horizontal", Point{0.1, 0.5}, Point{0.4, 0.5}, 0.3},
		{"diagonal", Point{0, 0}, Point{0.3, 0.4}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Distance(tt.a, tt.b)
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("Distance(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestBBoxCenter(t *testing.T) {
	tests := []struct {
		name     string
		bbox     []float64
		expected Point
		ok       bool
	}{
		{"unit box", []float64{0, 0, 1, 1}, Point{0.5, 0.5}, true},
		{"offset box", []float64{0.2, 0.4, 0.4, 0.8}, Point{0.3, 0.6}, true},
		{"too short", []float64{0, 0, 1}, Point{}, false},
		{"inverted", []float64{1, 1, 0, 0}, Point{}, false},
		{"empty", []float64{}, Point{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := BBoxCenter(tt.bbox)
			if ok != tt.ok {
				t.Fatalf("BBoxCenter(%v) ok = %v, want %v", tt.bbox, ok, tt.ok)
			}
			if math.Abs(result.X-tt.expected.X) > 0.0001 || math.Abs(result.Y-tt.expected.Y) > 0.0001 {
				t.Errorf("BBoxCenter(%v) = %v, want %v", tt.bbox, result, tt.expected)
			}
		})
	}
}

func TestConvertPixelPointToRelative(t *testing.T) {
	tests := []struct {
		name     string
		p        Point
		width    int
		height   int
		expected Point
	}{
		{"full hd center", Point{960, 540}, 1920, 1080, Point{0.5, 0.5}},
		{"origin", Point{0, 0}, 640, 480, Point{0, 0}},
		{"unknown size", Point{100, 200}, 0, 480, Point{100, 200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertPixelPointToRelative(tt.p, tt.width, tt.height)
			if math.Abs(result.X-tt.expected.X) > 0.0001 || math.Abs(result.Y-tt.expected.Y) > 0.0001 {
				t.Errorf("ConvertPixelPointToRelative(%v) = %v, want %v", tt.p, result, tt.expected)
			}
		})
	}
}
