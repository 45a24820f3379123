package panel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"el133/internal/capture"
	"el133/internal/config"
	"el133/internal/convert"
	"el133/internal/frame"
)

// ErrNoSource is returned by LoadSource when neither an image path nor a
// capture URL is configured.
var ErrNoSource = errors.New("panel: no frame source configured")

// CaptureFunc renders a page to PNG. capture.CapturePNG in production.
type CaptureFunc func(ctx context.Context, opts capture.Options) ([]byte, error)

// LoadSource produces a frame from the configured source. A capture URL
// takes precedence over an image path. The returned label names the source
// for Status.
func LoadSource(ctx context.Context, src config.SourceConfig, grab CaptureFunc) (*frame.Buffer, string, error) {
	switch {
	case src.CaptureURL != "":
		if grab == nil {
			grab = capture.CapturePNG
		}
		png, err := grab(ctx, capture.Options{URL: src.CaptureURL, WaitReady: src.WaitReady, NoSandbox: os.Geteuid() == 0})
		if err != nil {
			return nil, "", err
		}
		f, err := convert.DecodeFrame(bytes.NewReader(png), src.Fit)
		if err != nil {
			return nil, "", fmt.Errorf("panel: capture %s: %w", src.CaptureURL, err)
		}
		return f, src.CaptureURL, nil

	case src.ImagePath != "":
		fh, err := os.Open(src.ImagePath)
		if err != nil {
			return nil, "", fmt.Errorf("panel: open image: %w", err)
		}
		defer fh.Close()
		f, err := convert.DecodeFrame(fh, src.Fit)
		if err != nil {
			return nil, "", fmt.Errorf("panel: image %s: %w", src.ImagePath, err)
		}
		return f, src.ImagePath, nil
	}
	return nil, "", ErrNoSource
}
