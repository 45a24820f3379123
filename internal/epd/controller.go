// Package epd drives the two controller chips of the EL133UF1 13.3" Spectra 6
// e-paper panel: reset, command framing per chip select, the vendor
// initialization table, and the transfer/refresh/power-down cycle that
// commits a frame.
//
// The package only talks to hardware through a Transport, so the same
// protocol code runs against periph.io SPI/GPIO, an FTDI FT232H bridge, or
// the recording FakeTransport.
package epd

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"

	appLog "el133/internal/log"
)

var (
	// ErrNotReady is returned by CommitFrame unless the controllers have
	// been reset and initialized since the last failure.
	ErrNotReady = errors.New("epd: controller not ready")
	// ErrNotReset is returned by Initialize when Reset has not run first.
	ErrNotReset = errors.New("epd: controller must be reset before initialization")
)

// State is the protocol state of the controller pair.
type State int

const (
	StateUninitialized State = iota
	StateReset
	StateInitializing
	StateReady
	StateTransferring
	StateRefreshing
	StatePoweringDown
	StateClosed
)

var stateNames = [...]string{
	"uninitialized", "reset", "initializing", "ready",
	"transferring", "refreshing", "powering-down", "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Default timing.
const (
	DefaultResetDelay   = 30 * time.Millisecond
	DefaultCommandDelay = 300 * time.Millisecond
	DefaultPollInterval = 100 * time.Millisecond
	DefaultChunkSize    = 4096
)

type options struct {
	resetDelay   time.Duration
	commandDelay time.Duration
	pollInterval time.Duration
	chunkSize    int
	initSeq      []Command
	sleep        func(time.Duration)
	now          func() time.Time
}

func defaultOptions() options {
	return options{
		resetDelay:   DefaultResetDelay,
		commandDelay: DefaultCommandDelay,
		pollInterval: DefaultPollInterval,
		chunkSize:    DefaultChunkSize,
		initSeq:      initSequence,
		sleep:        time.Sleep,
		now:          time.Now,
	}
}

// Option configures a Controller.
type Option func(*options)

// WithResetDelay sets how long the reset line is held low, and the settle
// time after releasing it.
func WithResetDelay(d time.Duration) Option {
	return func(o *options) { o.resetDelay = d }
}

// WithCommandDelay sets the settle time between entering command phase and
// writing the command byte.
func WithCommandDelay(d time.Duration) Option {
	return func(o *options) { o.commandDelay = d }
}

// WithPollInterval sets the busy line polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithChunkSize bounds the size of a single payload write. Values <= 0 are
// ignored.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithInitSequence replaces the vendor initialization table.
func WithInitSequence(seq []Command) Option {
	return func(o *options) { o.initSeq = seq }
}

// WithSleep replaces time.Sleep, mostly for tests.
func WithSleep(f func(time.Duration)) Option {
	return func(o *options) { o.sleep = f }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(f func() time.Time) Option {
	return func(o *options) { o.now = f }
}

// Controller sequences the protocol for both panel controllers over one
// Transport. It is not safe for concurrent use; callers sharing a panel must
// serialize access themselves.
type Controller struct {
	t     Transport
	opts  options
	state State
}

// NewController wraps t. No bus traffic happens until Reset.
//
// If t reports a maximum transfer size through conn.Limits, payload chunks
// are clamped to it.
func NewController(t Transport, opts ...Option) *Controller {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if l, ok := t.(conn.Limits); ok {
		if limit := l.MaxTxSize(); limit > 0 && limit < o.chunkSize {
			o.chunkSize = limit
		}
	}
	return &Controller{t: t, opts: o, state: StateUninitialized}
}

// State returns the current protocol state.
func (c *Controller) State() State {
	return c.state
}

// ChunkSize returns the effective payload chunk size.
func (c *Controller) ChunkSize() int {
	return c.opts.chunkSize
}

// Reset pulses the reset line low then high, leaving both controllers in
// their power-on state.
func (c *Controller) Reset() error {
	if c.state == StateClosed {
		return ErrClosed
	}
	c.state = StateReset

	if err := c.t.Set(LineReset, resetActive); err != nil {
		c.state = StateUninitialized
		return fmt.Errorf("epd: failed to pull reset low: %w", err)
	}
	c.opts.sleep(c.opts.resetDelay)

	if err := c.t.Set(LineReset, gpio.High); err != nil {
		c.state = StateUninitialized
		return fmt.Errorf("epd: failed to release reset: %w", err)
	}
	c.opts.sleep(c.opts.resetDelay)

	appLog.Debug("epd reset", "delay", c.opts.resetDelay)
	return nil
}

// SendCommand writes cmd to the controller(s) selected by target, followed
// by payload in data phase when it is non-empty. Chip selects and the
// data/command line are returned to idle on every path.
//
// A failure leaves the bus in an unknown state; the controller drops back to
// StateUninitialized and must be reset before the next commit.
func (c *Controller) SendCommand(target Target, cmd byte, payload []byte) (err error) {
	if c.state == StateClosed {
		return ErrClosed
	}
	lines, err := target.lines()
	if err != nil {
		return err
	}

	defer func() {
		if ierr := c.idle(); ierr != nil {
			err = errors.Join(err, ierr)
		}
		if err != nil {
			c.state = StateUninitialized
		}
	}()

	for _, l := range lines {
		if err := c.t.Set(l, csActive); err != nil {
			return fmt.Errorf("epd: select %s: %w", l, err)
		}
	}
	if err := c.t.Set(LineDC, dcCommand); err != nil {
		return fmt.Errorf("epd: command phase: %w", err)
	}
	c.opts.sleep(c.opts.commandDelay)

	if err := c.t.Write([]byte{cmd}); err != nil {
		return fmt.Errorf("epd: write command 0x%02X to %s: %w", cmd, target, err)
	}

	if len(payload) > 0 {
		if err := c.t.Set(LineDC, dcData); err != nil {
			return fmt.Errorf("epd: data phase: %w", err)
		}
		for off := 0; off < len(payload); off += c.opts.chunkSize {
			end := min(off+c.opts.chunkSize, len(payload))
			if err := c.t.Write(payload[off:end]); err != nil {
				return fmt.Errorf("epd: write payload of 0x%02X to %s at offset %d: %w", cmd, target, off, err)
			}
		}
	}

	appLog.Debug("epd command", "target", target, "cmd", fmt.Sprintf("0x%02X", cmd), "len", len(payload))
	return nil
}

// idle deasserts both chip selects and leaves the DC line in command phase.
func (c *Controller) idle() error {
	return errors.Join(
		c.t.Set(LineCS0, csIdle),
		c.t.Set(LineCS1, csIdle),
		c.t.Set(LineDC, dcCommand),
	)
}

// WaitBusy waits for the panel to report ready, for at most timeout.
//
// If the busy line is already held at entry the panel is treated as unable
// to acknowledge (typically disconnected) and WaitBusy just sleeps for the
// whole timeout. A timeout while polling is logged and otherwise ignored:
// WaitBusy never fails, so a frame commit always runs to completion.
func (c *Controller) WaitBusy(timeout time.Duration) {
	start := c.opts.now()

	level, err := c.t.Get(LineBusy)
	if err != nil {
		appLog.Warn("epd busy line unreadable; sleeping full timeout", "err", err, "timeout", timeout)
		c.opts.sleep(timeout)
		return
	}
	if level == busyLevel {
		appLog.Debug("epd busy line held at entry; sleeping full timeout", "timeout", timeout)
		c.opts.sleep(timeout)
		return
	}

	for {
		level, err = c.t.Get(LineBusy)
		if err != nil {
			appLog.Warn("epd busy line unreadable while polling", "err", err)
			return
		}
		if level != busyLevel {
			return
		}
		if c.opts.now().Sub(start) > timeout {
			appLog.Warn("epd busy wait timed out", "timeout", timeout)
			return
		}
		c.opts.sleep(c.opts.pollInterval)
	}
}

// Initialize issues the initialization table in order. Reset must have run
// since the controller was created or last failed.
func (c *Controller) Initialize() error {
	if c.state == StateClosed {
		return ErrClosed
	}
	if c.state != StateReset {
		return fmt.Errorf("%w (state %s)", ErrNotReset, c.state)
	}
	c.state = StateInitializing

	c.WaitBusy(InitBusyTimeout)

	for i, cmd := range c.opts.initSeq {
		if err := c.SendCommand(cmd.Target, cmd.ID, cmd.Payload); err != nil {
			return fmt.Errorf("epd: init step %d (%s): %w", i, cmd, err)
		}
	}

	c.state = StateReady
	appLog.Info("epd initialized", "commands", len(c.opts.initSeq))
	return nil
}

// CommitFrame transfers payloadA to controller 0 and payloadB to controller
// 1, then powers on, refreshes and powers off both. The refresh alone takes
// about 32 seconds. The first transport error aborts the sequence.
func (c *Controller) CommitFrame(payloadA, payloadB []byte) error {
	if c.state == StateClosed {
		return ErrClosed
	}
	if c.state != StateReady {
		return fmt.Errorf("%w (state %s)", ErrNotReady, c.state)
	}
	begin := c.opts.now()

	c.state = StateTransferring
	if err := c.SendCommand(Controller0, CmdDTM, payloadA); err != nil {
		return fmt.Errorf("epd: transfer to controller 0: %w", err)
	}
	if err := c.SendCommand(Controller1, CmdDTM, payloadB); err != nil {
		return fmt.Errorf("epd: transfer to controller 1: %w", err)
	}

	c.state = StateRefreshing
	if err := c.SendCommand(Both, CmdPON, nil); err != nil {
		return fmt.Errorf("epd: power on: %w", err)
	}
	c.WaitBusy(PowerOnBusyTimeout)

	if err := c.SendCommand(Both, CmdDRF, []byte{cmdRefreshPayload}); err != nil {
		return fmt.Errorf("epd: display refresh: %w", err)
	}
	c.WaitBusy(RefreshBusyTimeout)

	c.state = StatePoweringDown
	if err := c.SendCommand(Both, CmdPOF, []byte{cmdRefreshPayload}); err != nil {
		return fmt.Errorf("epd: power off: %w", err)
	}
	c.WaitBusy(PowerOffBusyTimeout)

	c.state = StateReady
	appLog.Info("epd frame committed",
		"bytes_a", len(payloadA),
		"bytes_b", len(payloadB),
		"elapsed", c.opts.now().Sub(begin),
	)
	return nil
}

// Close releases the transport. The controller cannot be used afterwards.
func (c *Controller) Close() error {
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	return c.t.Close()
}
