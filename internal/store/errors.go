package store

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when a vector's length differs from the store dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrInvalidVector is returned for vectors that cannot take part in cosine search.
var ErrInvalidVector = errors.New("invalid embedding vector")

// ErrInvalidQuality is returned for quality scores outside [0,1].
var ErrInvalidQuality = errors.New("invalid quality score")

// ErrEmptyIdentity is returned when a record carries no identity id.
var ErrEmptyIdentity = errors.New("identity id is required")

// DimensionMismatchError reports the expected and actual vector dimension.
// It matches ErrDimensionMismatch with errors.Is.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: want %d, got %d", ErrDimensionMismatch, e.Want, e.Got)
}

// Is makes errors.Is(err, ErrDimensionMismatch) succeed.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}
