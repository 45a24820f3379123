package frame

import (
	"errors"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBufferIsWhite(t *testing.T) {
	b := New()
	w, h := b.Size()
	require.Equal(t, Width, w)
	require.Equal(t, Height, h)
	require.Equal(t, SplitColumn, b.Split())
	for i, c := range b.pix {
		if c != White {
			t.Fatalf("pixel %d = %v, want white", i, c)
		}
	}
}

func TestSplitFollowsConstruction(t *testing.T) {
	b := NewSize(8, 6, 2)
	assert.Equal(t, 2, b.Split())
	assert.Equal(t, 2, b.Clone().Split())

	la, lb := b.PayloadSizes()
	assert.Equal(t, 8*b.Split()/2, la)
	assert.Equal(t, 8*(6-b.Split())/2, lb)
}

func TestColorValid(t *testing.T) {
	for v := 0; v < 256; v++ {
		c := Color(v)
		want := v <= 3 || v == 5 || v == 6
		assert.Equal(t, want, c.Valid(), "Color(%d).Valid()", v)
	}
}

func TestSetGet(t *testing.T) {
	b := New()
	points := [][2]int{{0, 0}, {Width - 1, 0}, {0, Height - 1}, {Width - 1, Height - 1}, {800, 600}}
	for _, p := range points {
		for _, c := range Colors {
			require.NoError(t, b.Set(p[0], p[1], c))
			got, err := b.Get(p[0], p[1])
			require.NoError(t, err)
			assert.Equal(t, c, got)
		}
	}
}

func TestSetInvalidColorLeavesCellUnchanged(t *testing.T) {
	b := New()
	require.NoError(t, b.Set(10, 20, Blue))

	for _, v := range []int{4, 7, 8, 15, 16, 255} {
		err := b.Set(10, 20, Color(v))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidColor), "color %d: %v", v, err)

		var ice *InvalidColorError
		require.ErrorAs(t, err, &ice)
		assert.Equal(t, Color(v), ice.Color)

		got, _ := b.Get(10, 20)
		assert.Equal(t, Blue, got)
	}
}

func TestSetOutOfBounds(t *testing.T) {
	b := New()
	tests := []struct {
		name string
		x, y int
		c    Color
	}{
		{"x at width", Width, 0, Red},
		{"y at height", 0, Height, Red},
		{"both past", Width + 10, Height + 10, Red},
		{"negative x", -1, 0, Red},
		{"invalid color still out of bounds", Width, 5, Color(4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Set(tt.x, tt.y, tt.c)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrOutOfBounds)
			assert.NotErrorIs(t, err, ErrInvalidColor)
		})
	}

	_, err := b.Get(Width, 0)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestFill(t *testing.T) {
	b := NewSize(40, 30, 12)
	for _, c := range Colors {
		require.NoError(t, b.Fill(c))
		for y := 0; y < 30; y++ {
			for x := 0; x < 40; x++ {
				got, _ := b.Get(x, y)
				if got != c {
					t.Fatalf("(%d,%d) = %v after Fill(%v)", x, y, got, c)
				}
			}
		}
	}
}

func TestFillInvalidLeavesBufferUnchanged(t *testing.T) {
	b := NewSize(8, 6, 3)
	require.NoError(t, b.Fill(Green))
	require.NoError(t, b.Set(2, 2, Yellow))
	before := b.Clone()

	err := b.Fill(Color(4))
	assert.ErrorIs(t, err, ErrInvalidColor)
	assert.Equal(t, before.pix, b.pix)
}

func TestCopyFrom(t *testing.T) {
	src := NewSize(8, 6, 3)
	require.NoError(t, src.Set(1, 1, Red))

	dst := NewSize(8, 6, 3)
	require.NoError(t, dst.CopyFrom(src))
	got, _ := dst.Get(1, 1)
	assert.Equal(t, Red, got)

	other := NewSize(6, 8, 3)
	assert.ErrorIs(t, other.CopyFrom(src), ErrSizeMismatch)
}

func TestBufferAsImage(t *testing.T) {
	b := NewSize(4, 2, 1)
	require.NoError(t, b.Set(3, 1, Red))

	assert.Equal(t, 4, b.Bounds().Dx())
	assert.Equal(t, 2, b.Bounds().Dy())

	r, g, bl, a := b.At(3, 1).RGBA()
	assert.Equal(t, uint32(0xFFFF), r)
	assert.Equal(t, uint32(0), g)
	assert.Equal(t, uint32(0), bl)
	assert.Equal(t, uint32(0xFFFF), a)

	assert.Equal(t, White, b.At(99, 99))
}

func TestNearest(t *testing.T) {
	tests := []struct {
		r, g, b uint8
		want    Color
	}{
		{0, 0, 0, Black},
		{255, 255, 255, White},
		{250, 240, 10, Yellow},
		{200, 20, 30, Red},
		{10, 10, 220, Blue},
		{20, 200, 40, Green},
		{30, 30, 30, Black},
		{230, 230, 230, White},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Nearest(tt.r, tt.g, tt.b), "Nearest(%d,%d,%d)", tt.r, tt.g, tt.b)
	}
}

func TestModelConvert(t *testing.T) {
	assert.Equal(t, Red, Model.Convert(Red))
	assert.Equal(t, Blue, Model.Convert(color.NRGBA{R: 5, G: 5, B: 250, A: 255}))
	assert.Equal(t, White, Model.Convert(color.NRGBA{A: 10}))
}

func TestColorString(t *testing.T) {
	assert.Equal(t, "red", Red.String())
	assert.Equal(t, "Color(4)", Color(4).String())
}
