package frame

// Wire format
//
// The panel is mounted rotated relative to its controllers, and each
// controller owns one half of the rotated image:
//
//   - rotate the width x height frame by -90 degrees, so that source pixel
//     (x, y) lands on (y, width-1-x) of a height x width grid
//   - columns [0, split) of every rotated row go to payload A (controller 0),
//     columns [split, height) go to payload B (controller 1)
//   - each stream is packed two pixels per byte, first pixel in the high
//     nibble; an odd trailing pixel leaves the low nibble zero

// WirePayloads computes the two controller payloads from the current frame
// in a single pass, without materialising the rotated frame.
func (b *Buffer) WirePayloads() (payloadA, payloadB []byte) {
	rotW, rotH := b.height, b.width

	wa := newNibbleWriter(rotH * b.split)
	wb := newNibbleWriter(rotH * (rotW - b.split))

	for ny := 0; ny < rotH; ny++ {
		// Rotated row ny is source column width-1-ny, read top to bottom.
		x := b.width - 1 - ny
		for nx := 0; nx < b.split; nx++ {
			wa.put(b.pix[nx*b.width+x])
		}
		for nx := b.split; nx < rotW; nx++ {
			wb.put(b.pix[nx*b.width+x])
		}
	}
	return wa.buf, wb.buf
}

// PayloadSizes returns the byte lengths WirePayloads produces for b.
func (b *Buffer) PayloadSizes() (sizeA, sizeB int) {
	rotW, rotH := b.height, b.width
	return (rotH*b.split + 1) / 2, (rotH*(rotW-b.split) + 1) / 2
}

// PackNibbles packs pixels two per byte, high nibble first.
func PackNibbles(pixels []Color) []byte {
	w := newNibbleWriter(len(pixels))
	for _, p := range pixels {
		w.put(p)
	}
	return w.buf
}

// UnpackNibbles is the inverse of PackNibbles for a stream of n pixels.
func UnpackNibbles(packed []byte, n int) []Color {
	if limit := len(packed) * 2; n > limit {
		n = limit
	}
	out := make([]Color, n)
	for i := range out {
		v := packed[i/2]
		if i%2 == 0 {
			out[i] = Color(v >> 4)
		} else {
			out[i] = Color(v & 0x0F)
		}
	}
	return out
}

type nibbleWriter struct {
	buf []byte
	n   int
}

func newNibbleWriter(pixels int) *nibbleWriter {
	return &nibbleWriter{buf: make([]byte, (pixels+1)/2)}
}

func (w *nibbleWriter) put(c Color) {
	if w.n%2 == 0 {
		w.buf[w.n/2] = byte(c) << 4
	} else {
		w.buf[w.n/2] |= byte(c) & 0x0F
	}
	w.n++
}
