// Package display is the public face of the panel: one frame buffer plus the
// controller protocol that commits it.
//
// A Driver is not safe for concurrent use. Callers that share a panel between
// goroutines (the HTTP server and the cron refresh, for instance) must hold a
// single lock around every call.
package display

import (
	"errors"
	"fmt"
	"time"

	"el133/internal/config"
	"el133/internal/epd"
	"el133/internal/frame"
	appLog "el133/internal/log"
)

// Driver owns the transport, the controller state machine and the frame.
type Driver struct {
	ctrl *epd.Controller
	buf  *frame.Buffer
}

// New resets and initializes the controllers behind t and allocates a White
// frame. On failure t is left open; the caller still owns it.
func New(t epd.Transport, opts ...epd.Option) (*Driver, error) {
	if t == nil {
		return nil, errors.New("display: nil transport")
	}
	d := &Driver{ctrl: epd.NewController(t, opts...)}

	if err := d.ctrl.Reset(); err != nil {
		return nil, err
	}
	if err := d.ctrl.Initialize(); err != nil {
		return nil, err
	}
	d.buf = frame.New()
	return d, nil
}

// Open acquires the transport named by cfg.Transport and returns a ready
// driver. The transport is closed again if initialization fails.
func Open(cfg *config.Config) (*Driver, error) {
	t, opts, err := OpenTransport(cfg)
	if err != nil {
		return nil, err
	}
	d, err := New(t, opts...)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	appLog.Info("display ready", "transport", cfg.Transport, "chunk", d.ctrl.ChunkSize())
	return d, nil
}

// OpenTransport builds the transport and controller options described by
// cfg without touching the panel protocol.
func OpenTransport(cfg *config.Config) (epd.Transport, []epd.Option, error) {
	if cfg == nil {
		return nil, nil, errors.New("display: nil config")
	}
	bus := epd.BusConfig{
		Port:    cfg.SPI.Port,
		SpeedHz: cfg.SPI.SpeedHz,
		Pins: epd.Pins{
			CS0:   cfg.Pins.CS0,
			CS1:   cfg.Pins.CS1,
			DC:    cfg.Pins.DC,
			Reset: cfg.Pins.Reset,
			Busy:  cfg.Pins.Busy,
		},
	}

	opts := []epd.Option{epd.WithChunkSize(cfg.SPI.ChunkSize)}
	if d := cfg.Timing.CommandDelay(); d > 0 {
		opts = append(opts, epd.WithCommandDelay(d))
	}
	if d := cfg.Timing.ResetDelay(); d > 0 {
		opts = append(opts, epd.WithResetDelay(d))
	}
	if d := cfg.Timing.PollInterval(); d > 0 {
		opts = append(opts, epd.WithPollInterval(d))
	}

	var (
		t   epd.Transport
		err error
	)
	switch cfg.Transport {
	case config.TransportPeriph:
		t, err = epd.OpenPeriph(bus)
	case config.TransportFTDI:
		t, err = epd.OpenFTDI(bus)
	case config.TransportFake:
		t = epd.NewFakeTransport()
		// Nothing is listening; do not spend the protocol delays.
		opts = append(opts, epd.WithSleep(func(time.Duration) {}))
	default:
		err = fmt.Errorf("display: unknown transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, nil, err
	}
	return t, opts, nil
}

// SetPixel sets one pixel of the frame. Nothing reaches the panel until Show.
func (d *Driver) SetPixel(x, y int, c frame.Color) error {
	return d.buf.Set(x, y, c)
}

// Fill sets every pixel of the frame to c.
func (d *Driver) Fill(c frame.Color) error {
	return d.buf.Fill(c)
}

// Draw replaces the whole frame with src.
func (d *Driver) Draw(src *frame.Buffer) error {
	return d.buf.CopyFrom(src)
}

// Frame returns a copy of the current frame.
func (d *Driver) Frame() *frame.Buffer {
	return d.buf.Clone()
}

// Payloads returns the wire payloads the next Show would send.
func (d *Driver) Payloads() (payloadA, payloadB []byte) {
	return d.buf.WirePayloads()
}

// Show commits the frame to the panel. It blocks for the whole physical
// refresh, typically more than 30 seconds, and cannot be interrupted.
func (d *Driver) Show() error {
	a, b := d.buf.WirePayloads()
	if err := d.ctrl.CommitFrame(a, b); err != nil {
		return fmt.Errorf("display: show: %w", err)
	}
	return nil
}

// Clear fills the frame with White and shows it.
func (d *Driver) Clear() error {
	if err := d.buf.Fill(frame.White); err != nil {
		return err
	}
	return d.Show()
}

// Reinitialize resets and re-runs the initialization table. It is the way
// back to a usable panel after a transport error left the bus indeterminate.
// The frame is kept.
func (d *Driver) Reinitialize() error {
	if err := d.ctrl.Reset(); err != nil {
		return fmt.Errorf("display: reset: %w", err)
	}
	if err := d.ctrl.Initialize(); err != nil {
		return fmt.Errorf("display: initialize: %w", err)
	}
	return nil
}

// State returns the controller protocol state.
func (d *Driver) State() epd.State {
	return d.ctrl.State()
}

// Close releases the transport.
func (d *Driver) Close() error {
	return d.ctrl.Close()
}
