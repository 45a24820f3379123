// Package frame holds the logical pixel buffer of the 13.3" Spectra 6 panel
// and the transform that turns it into the two wire payloads expected by the
// panel's controller pair.
package frame

import (
	"fmt"
	"image/color"
)

// Color is a palette index understood by the panel. Index 4 is not a color
// on this panel and is rejected everywhere a Color is accepted.
type Color uint8

const (
	Black  Color = 0
	White  Color = 1
	Yellow Color = 2
	Red    Color = 3
	Blue   Color = 5
	Green  Color = 6
)

// Colors lists the valid palette indices in ascending order.
var Colors = []Color{Black, White, Yellow, Red, Blue, Green}

// Valid reports whether c is one of the six panel colors.
// The set is sparse, so this checks membership rather than a range.
func (c Color) Valid() bool {
	switch c {
	case Black, White, Yellow, Red, Blue, Green:
		return true
	}
	return false
}

func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case White:
		return "white"
	case Yellow:
		return "yellow"
	case Red:
		return "red"
	case Blue:
		return "blue"
	case Green:
		return "green"
	}
	return fmt.Sprintf("Color(%d)", uint8(c))
}

// rgb holds the nominal sRGB value of each valid color.
var rgb = map[Color]color.NRGBA{
	Black:  {0, 0, 0, 0xFF},
	White:  {0xFF, 0xFF, 0xFF, 0xFF},
	Yellow: {0xFF, 0xFF, 0, 0xFF},
	Red:    {0xFF, 0, 0, 0xFF},
	Blue:   {0, 0, 0xFF, 0xFF},
	Green:  {0, 0xFF, 0, 0xFF},
}

// RGBA implements color.Color so a Buffer can be rendered as an image.
// Invalid indices render as transparent.
func (c Color) RGBA() (r, g, b, a uint32) {
	return rgb[c].RGBA()
}

// Model converts arbitrary colors to the nearest panel Color.
var Model = color.ModelFunc(func(c color.Color) color.Color {
	if pc, ok := c.(Color); ok && pc.Valid() {
		return pc
	}
	nc := color.NRGBAModel.Convert(c).(color.NRGBA)
	if nc.A < 128 {
		return White
	}
	return Nearest(nc.R, nc.G, nc.B)
})

// Nearest returns the palette color closest to (r, g, b) by Manhattan
// distance in RGB space. Ties go to the entry listed first in Colors.
func Nearest(r, g, b uint8) Color {
	best := White
	bestDist := -1
	for _, c := range Colors {
		p := rgb[c]
		d := absDiff(r, p.R) + absDiff(g, p.G) + absDiff(b, p.B)
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
