package main

import (
	"fmt"

	"el133/internal/display"
	"el133/internal/frame"
)

// patternStripes is the six-color vertical stripe test card.
const patternStripes = "stripes"

// stripeWidth is the width of each stripe; the last one absorbs the
// remainder of the 1600 columns.
const stripeWidth = 266

var stripeColors = []frame.Color{
	frame.Black,
	frame.White,
	frame.Yellow,
	frame.Red,
	frame.Blue,
	frame.Green,
}

// drawPattern paints the named test pattern into d's frame.
func drawPattern(d *display.Driver, name string) error {
	switch name {
	case patternStripes:
		return drawStripes(d)
	}
	return fmt.Errorf("unknown pattern %q", name)
}

func drawStripes(d *display.Driver) error {
	for x := 0; x < frame.Width; x++ {
		c := stripeColors[min(x/stripeWidth, len(stripeColors)-1)]
		for y := 0; y < frame.Height; y++ {
			if err := d.SetPixel(x, y, c); err != nil {
				return err
			}
		}
	}
	return nil
}
