// Package capture renders a web page to PNG with headless Chromium so that
// dashboards can be used as a frame source.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"

	"el133/internal/frame"
	appLog "el133/internal/log"
)

// DefaultTimeout bounds a capture when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// ReadySelector is what a page exposes once it has finished rendering when
// Options.WaitReady is set.
const ReadySelector = `[data-ready="true"]`

// Options defines parameters for a Chromium screenshot.
type Options struct {
	// URL to capture.
	URL string

	// OutputPath, when set, also receives the PNG.
	OutputPath string

	// Width and Height are the viewport size. Zero means panel size.
	Width  int
	Height int

	// WaitReady waits for ReadySelector to become visible before the
	// screenshot. Without it the page is captured once loaded.
	WaitReady bool

	// NoSandbox disables the Chromium sandbox, which is required when the
	// service runs as root.
	NoSandbox bool

	// Timeout bounds the whole capture. Zero means DefaultTimeout.
	Timeout time.Duration
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.Width <= 0 {
		o.Width = frame.Width
	}
	if o.Height <= 0 {
		o.Height = frame.Height
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// tasks returns the chromedp actions for o, writing the screenshot to png.
func (o *Options) tasks(png *[]byte) chromedp.Tasks {
	t := chromedp.Tasks{
		chromedp.EmulateViewport(int64(o.Width), int64(o.Height)),
		chromedp.Navigate(o.URL),
	}
	if o.WaitReady {
		t = append(t, chromedp.WaitVisible(ReadySelector, chromedp.ByQuery))
	}
	// Small extra delay to allow final paints.
	t = append(t,
		chromedp.Sleep(500*time.Millisecond),
		chromedp.FullScreenshot(png, 100),
	)
	return t
}

// CapturePNG launches headless Chromium, loads opts.URL at the requested
// viewport and returns a full-page PNG screenshot.
func CapturePNG(parentCtx context.Context, opts Options) ([]byte, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	allocOpts := chromedp.DefaultExecAllocatorOptions[:]
	if opts.NoSandbox {
		allocOpts = append(allocOpts[:len(allocOpts):len(allocOpts)], chromedp.NoSandbox)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	start := time.Now()
	var png []byte
	if err := chromedp.Run(ctx, opts.tasks(&png)); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	appLog.Info("capture done", "url", opts.URL, "bytes", len(png), "elapsed", time.Since(start))

	if opts.OutputPath != "" {
		if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
			return nil, fmt.Errorf("capture: failed to write PNG: %w", err)
		}
	}
	return png, nil
}
