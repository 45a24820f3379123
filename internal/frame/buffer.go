package frame

import (
	"fmt"
	"image"
	"image/color"
)

// Panel geometry of the EL133UF1 (13.3" Spectra 6).
const (
	Width  = 1600
	Height = 1200

	// SplitColumn is the column of the rotated frame where the data for
	// controller 1 starts. Columns before it belong to controller 0.
	SplitColumn = 600
)

// Buffer is the logical frame, one palette index per pixel in row-major
// order. Every cell always holds a valid Color; new buffers start White.
//
// Buffer implements image.Image so a frame can be encoded as a preview.
type Buffer struct {
	pix    []Color
	width  int
	height int
	split  int
}

// New returns a panel-sized buffer filled with White.
func New() *Buffer {
	return NewSize(Width, Height, SplitColumn)
}

// NewSize returns a White buffer with a custom geometry. split is the column
// of the rotated (height x width) frame where payload B begins and must be
// within [0, height].
func NewSize(width, height, split int) *Buffer {
	if width <= 0 || height <= 0 {
		panic(fmt.Sprintf("frame: invalid size %dx%d", width, height))
	}
	if split < 0 || split > height {
		panic(fmt.Sprintf("frame: split column %d outside rotated width %d", split, height))
	}
	pix := make([]Color, width*height)
	for i := range pix {
		pix[i] = White
	}
	return &Buffer{pix: pix, width: width, height: height, split: split}
}

// Size returns the logical frame dimensions.
func (b *Buffer) Size() (width, height int) {
	return b.width, b.height
}

// Split returns the rotated-frame column where payload B begins.
func (b *Buffer) Split() int {
	return b.split
}

func (b *Buffer) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < b.width && y < b.height
}

// Set overwrites the pixel at (x, y). Bounds are checked before the color.
func (b *Buffer) Set(x, y int, c Color) error {
	if !b.inBounds(x, y) {
		return &OutOfBoundsError{X: x, Y: y, Width: b.width, Height: b.height}
	}
	if !c.Valid() {
		return &InvalidColorError{Color: c}
	}
	b.pix[y*b.width+x] = c
	return nil
}

// Get returns the pixel at (x, y).
func (b *Buffer) Get(x, y int) (Color, error) {
	if !b.inBounds(x, y) {
		return 0, &OutOfBoundsError{X: x, Y: y, Width: b.width, Height: b.height}
	}
	return b.pix[y*b.width+x], nil
}

// Fill overwrites every pixel with c. An invalid color leaves the buffer
// untouched.
func (b *Buffer) Fill(c Color) error {
	if !c.Valid() {
		return &InvalidColorError{Color: c}
	}
	for i := range b.pix {
		b.pix[i] = c
	}
	return nil
}

// CopyFrom replaces the contents of b with those of src. Both buffers must
// share the same geometry.
func (b *Buffer) CopyFrom(src *Buffer) error {
	if src.width != b.width || src.height != b.height || src.split != b.split {
		return fmt.Errorf("%w: %dx%d into %dx%d", ErrSizeMismatch, src.width, src.height, b.width, b.height)
	}
	copy(b.pix, src.pix)
	return nil
}

// Clone returns an independent copy of b.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{
		pix:    make([]Color, len(b.pix)),
		width:  b.width,
		height: b.height,
		split:  b.split,
	}
	copy(c.pix, b.pix)
	return c
}

// ColorModel implements image.Image.
func (b *Buffer) ColorModel() color.Model {
	return Model
}

// Bounds implements image.Image.
func (b *Buffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.width, b.height)
}

// At implements image.Image. Out-of-range points return White.
func (b *Buffer) At(x, y int) color.Color {
	if !b.inBounds(x, y) {
		return White
	}
	return b.pix[y*b.width+x]
}
