package frame

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidColor matches any InvalidColorError under errors.Is.
	ErrInvalidColor = errors.New("frame: invalid color")
	// ErrOutOfBounds matches any OutOfBoundsError under errors.Is.
	ErrOutOfBounds = errors.New("frame: coordinates out of bounds")
	// ErrSizeMismatch is returned when copying between buffers of different geometry.
	ErrSizeMismatch = errors.New("frame: buffer size mismatch")
)

// InvalidColorError reports a palette index outside the valid set.
type InvalidColorError struct {
	Color Color
}

func (e *InvalidColorError) Error() string {
	return fmt.Sprintf("frame: invalid color index %d (valid: 0, 1, 2, 3, 5, 6)", uint8(e.Color))
}

func (e *InvalidColorError) Is(target error) bool {
	return target == ErrInvalidColor
}

// OutOfBoundsError reports a pixel coordinate outside the frame.
type OutOfBoundsError struct {
	X, Y          int
	Width, Height int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("frame: coordinates (%d, %d) out of bounds for %dx%d frame",
		e.X, e.Y, e.Width, e.Height)
}

func (e *OutOfBoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}
