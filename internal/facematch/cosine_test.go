package facematch

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, -1},
		{"empty", []float32{}, []float32{}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CosineSimilarity(tt.a, tt.b)
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("CosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestCosineDistance(t *testing.T) {
	if d := CosineDistance([]float32{1, 0}, []float32{1, 0}); math.Abs(d) > 0.0001 {
		t.Errorf("expected 0 for identical vectors, got %v", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{-1, 0}); math.Abs(d-2) > 0.0001 {
		t.Errorf("expected 2 for opposite vectors, got %v", d)
	}
}

func TestHasNonFinite(t *testing.T) {
	if HasNonFinite([]float32{1, 2, 3}) {
		t.Error("finite vector reported as non-finite")
	}
	if !HasNonFinite([]float32{1, float32(math.NaN())}) {
		t.Error("NaN not detected")
	}
	if !HasNonFinite([]float32{float32(math.Inf(1))}) {
		t.Error("Inf not detected")
	}
}

func TestIsZero(t *testing.T) {
	if !IsZero([]float32{0, 0, 0}) {
		t.Error("zero vector not detected")
	}
	if IsZero([]float32{0, 0.1}) {
		t.Error("non-zero vector reported as zero")
	}
}
