// Package convert turns ordinary images into panel frames.
package convert

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"

	"el133/internal/frame"
)

// MaxPixels bounds the declared size of images Decode accepts, so a small
// file claiming huge dimensions is refused before any pixel is allocated.
const MaxPixels = 24_000_000

var (
	// ErrTooLarge is returned when an image header declares more than
	// MaxPixels pixels.
	ErrTooLarge = errors.New("convert: image too large")
	// ErrWrongSize is returned for images that are not panel sized when
	// fitting was not requested.
	ErrWrongSize = errors.New("convert: wrong image size")
)

// Decode reads any image format imaging understands (PNG, JPEG, GIF, BMP,
// TIFF), applying the EXIF orientation when present. The header is checked
// against MaxPixels before the image is decoded.
func Decode(r io.Reader) (image.Image, error) {
	data, _, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	return decodeBytes(data)
}

// DecodeFrame decodes r straight into a frame. Without fit, an image whose
// header is not panel sized (either orientation, since EXIF may rotate it)
// is rejected before decoding.
func DecodeFrame(r io.Reader, fit bool) (*frame.Buffer, error) {
	data, cfg, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if !fit && !panelSized(cfg.Width, cfg.Height) && !panelSized(cfg.Height, cfg.Width) {
		return nil, sizeError(cfg.Width, cfg.Height)
	}
	img, err := decodeBytes(data)
	if err != nil {
		return nil, err
	}
	return ToFrame(img, fit)
}

func readHeader(r io.Reader) ([]byte, image.Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, image.Config{}, fmt.Errorf("convert: read: %w", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, image.Config{}, fmt.Errorf("convert: decode: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, image.Config{}, fmt.Errorf("%w: %s header declares %dx%d, limit is %d pixels",
			ErrTooLarge, format, cfg.Width, cfg.Height, MaxPixels)
	}
	return data, cfg, nil
}

func decodeBytes(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("convert: decode: %w", err)
	}
	return img, nil
}

func panelSized(w, h int) bool {
	return w == frame.Width && h == frame.Height
}

func sizeError(w, h int) error {
	return fmt.Errorf("%w: expected %dx%d image, got %dx%d", ErrWrongSize, frame.Width, frame.Height, w, h)
}

// Fit scales img up or down to the largest size that fits the panel keeping
// its aspect ratio, and centers it on a White canvas of exactly panel size.
func Fit(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if panelSized(b.Dx(), b.Dy()) {
		return imaging.Clone(img)
	}
	// imaging.Fit never upscales, so pick the limiting side by hand.
	scaled := imaging.Resize(img, frame.Width, 0, imaging.Lanczos)
	if scaled.Bounds().Dy() > frame.Height {
		scaled = imaging.Resize(img, 0, frame.Height, imaging.Lanczos)
	}
	canvas := imaging.New(frame.Width, frame.Height, color.White)
	return imaging.PasteCenter(canvas, scaled)
}

// ToFrame maps img onto a new frame. Images that are not exactly panel sized
// are rejected unless fit is set, in which case they go through Fit first.
//
// Pixels with alpha below 128 become White; everything else goes to the
// nearest palette color.
func ToFrame(img image.Image, fit bool) (*frame.Buffer, error) {
	b := img.Bounds()
	if !fit && !panelSized(b.Dx(), b.Dy()) {
		return nil, sizeError(b.Dx(), b.Dy())
	}

	// imaging.Clone normalizes every source type to NRGBA so the loop below
	// can index Pix directly instead of calling At.
	var src *image.NRGBA
	if fit {
		src = Fit(img)
	} else {
		src = imaging.Clone(img)
	}

	out := frame.New()
	for y := 0; y < frame.Height; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < frame.Width; x++ {
			i := x * 4
			if row[i+3] < 128 {
				continue
			}
			c := frame.Nearest(row[i], row[i+1], row[i+2])
			if c == frame.White {
				continue
			}
			if err := out.Set(x, y, c); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// Render draws f as an NRGBA image using the nominal palette colors.
func Render(f *frame.Buffer) *image.NRGBA {
	return imaging.Clone(f)
}
