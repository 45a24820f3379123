// Package panel serializes access to one display.Driver and keeps track of
// what was last committed, so the HTTP API and the refresh schedule can share
// the hardware.
package panel

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/disintegration/imaging"

	"el133/internal/convert"
	"el133/internal/display"
	"el133/internal/epd"
	"el133/internal/frame"
	appLog "el133/internal/log"
	"el133/internal/syncutil"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("panel: closed")

// Status is a snapshot of the panel for the status endpoint.
type Status struct {
	State       string    `json:"state"`
	Refreshing  bool      `json:"refreshing"`
	Source      string    `json:"source,omitempty"`
	Refreshes   int       `json:"refreshes"`
	LastRefresh time.Time `json:"last_refresh,omitzero"`
	// LastDurationMS is the wall time of the last commit, refresh included.
	LastDurationMS int64  `json:"last_duration_ms"`
	LastError      string `json:"last_error,omitempty"`
}

// Panel owns a driver. All driver calls go through mu; a commit holds it for
// the full physical refresh.
type Panel struct {
	mu     syncutil.Mutex
	drv    *display.Driver
	closed bool

	statusMu syncutil.RWMutex
	status   Status
	preview  []byte

	now func() time.Time
}

// New wraps d. The panel takes ownership and closes d on Close.
func New(d *display.Driver) *Panel {
	p := &Panel{drv: d, now: time.Now}
	p.status.State = d.State().String()
	return p
}

// Display commits f to the panel. source is a free-form label reported by
// Status. It blocks while another commit is in flight.
func (p *Panel) Display(f *frame.Buffer, source string) error {
	return p.commit(source, func(d *display.Driver) error {
		if err := d.Draw(f); err != nil {
			return err
		}
		return d.Show()
	})
}

// Paint lets draw mutate the driver's frame in place, then commits it.
func (p *Panel) Paint(source string, draw func(*display.Driver) error) error {
	return p.commit(source, func(d *display.Driver) error {
		if err := draw(d); err != nil {
			return err
		}
		return d.Show()
	})
}

// Clear commits an all-White frame.
func (p *Panel) Clear() error {
	return p.commit("clear", func(d *display.Driver) error {
		return d.Clear()
	})
}

func (p *Panel) commit(source string, show func(*display.Driver) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	p.setStatus(func(s *Status) {
		s.Refreshing = true
		s.Source = source
	})

	start := p.now()
	err := p.recover()
	if err == nil {
		err = show(p.drv)
	}
	elapsed := p.now().Sub(start)

	var png []byte
	if err == nil {
		png, err = encodePreview(p.drv.Frame())
		if err != nil {
			appLog.Warn("panel preview encode failed", "err", err)
			err = nil
		}
	}

	p.setStatus(func(s *Status) {
		s.Refreshing = false
		s.State = p.drv.State().String()
		s.LastDurationMS = elapsed.Milliseconds()
		if err != nil {
			s.LastError = err.Error()
			return
		}
		s.LastError = ""
		s.Refreshes++
		s.LastRefresh = start
		if png != nil {
			p.preview = png
		}
	})

	if err != nil {
		appLog.Error("panel commit failed", err, "source", source)
		return err
	}
	appLog.Info("panel committed", "source", source, "elapsed", elapsed)
	return nil
}

// recover brings a controller that dropped out of Ready after a transport
// error back through reset and initialization.
func (p *Panel) recover() error {
	if p.drv.State() == epd.StateReady {
		return nil
	}
	appLog.Warn("panel not ready; reinitializing", "state", p.drv.State())
	if err := p.drv.Reinitialize(); err != nil {
		return fmt.Errorf("panel: recover: %w", err)
	}
	return nil
}

func (p *Panel) setStatus(fn func(*Status)) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	fn(&p.status)
}

// Status returns a snapshot. It never waits on an in-flight commit.
func (p *Panel) Status() Status {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.status
}

// Preview returns the PNG of the last committed frame, or nil before the
// first commit.
func (p *Panel) Preview() []byte {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.preview
}

// Payloads returns the wire payloads of the current frame.
func (p *Panel) Payloads() (payloadA, payloadB []byte, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, ErrClosed
	}
	a, b := p.drv.Payloads()
	return a, b, nil
}

// Close waits for any in-flight commit, then releases the driver.
func (p *Panel) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.setStatus(func(s *Status) { s.State = epd.StateClosed.String() })
	return p.drv.Close()
}

func encodePreview(f *frame.Buffer) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, convert.Render(f), imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
