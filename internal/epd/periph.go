package epd

import (
	"errors"
	"fmt"
	"runtime"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// Pins names the GPIO lines wired to the panel. For the periph transport
// these are gpioreg names ("GPIO26"); for the FTDI transport they are FT232H
// header names ("FT232H.C0").
type Pins struct {
	CS0   string
	CS1   string
	DC    string
	Reset string
	Busy  string
}

// DefaultPins is the Inky Impression 13.3" wiring on a Raspberry Pi header.
var DefaultPins = Pins{
	CS0:   "GPIO26",
	CS1:   "GPIO16",
	DC:    "GPIO22",
	Reset: "GPIO27",
	Busy:  "GPIO17",
}

// DefaultSPISpeedHz is the bus clock used when none is configured.
const DefaultSPISpeedHz = 10_000_000

// BusConfig selects the SPI port and its clock.
type BusConfig struct {
	// Port is the spireg port name; empty opens the first port
	// (/dev/spidev0.0 on a Raspberry Pi).
	Port    string
	SpeedHz int64
	Pins    Pins
}

// PeriphTransport implements Transport on top of a periph.io SPI connection
// and GPIO pins.
type PeriphTransport struct {
	port    spi.PortCloser
	spiConn spi.Conn
	pins    map[Line]gpio.PinIO
}

// OpenPeriph initializes periph.io, opens the SPI port and claims the
// panel's GPIO lines. Chip selects start high, DC low, reset high, and the
// busy line is an input with pull-up so a disconnected panel reads busy.
func OpenPeriph(cfg BusConfig) (*PeriphTransport, error) {
	if err := checkPlatform(runtime.GOOS); err != nil {
		return nil, err
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}

	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("epd: failed to open SPI port %q: %w", cfg.Port, err)
	}

	resolve := func(name string) (gpio.PinIO, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("epd: gpio %s not found", name)
		}
		return p, nil
	}

	t, err := newPeriphTransport(port, cfg, resolve)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

// checkPlatform reports whether goos can provide host SPI and GPIO.
func checkPlatform(goos string) error {
	if goos != "linux" {
		return fmt.Errorf("%w (running on %s)", ErrUnsupportedPlatform, goos)
	}
	return nil
}

// OpenFTDI drives the panel through the first FT232H found on USB, using its
// MPSSE SPI port and header pins named in cfg.Pins.
func OpenFTDI(cfg BusConfig) (*PeriphTransport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}

	all := ftdi.All()
	if len(all) == 0 {
		return nil, errors.New("epd: found no FTDI device on the USB bus")
	}
	ft232h, ok := all[0].(*ftdi.FT232H)
	if !ok {
		return nil, fmt.Errorf("epd: FTDI device %s is not an FT232H", all[0])
	}

	port, err := ft232h.SPI()
	if err != nil {
		return nil, fmt.Errorf("epd: FT232H SPI: %w", err)
	}

	header := ft232h.Header()
	resolve := func(name string) (gpio.PinIO, error) {
		for _, h := range header {
			if h.Name() == name {
				return h, nil
			}
		}
		return nil, fmt.Errorf("epd: no such FT232H pin %s", name)
	}

	t, err := newPeriphTransport(port, cfg, resolve)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

func newPeriphTransport(port spi.PortCloser, cfg BusConfig, resolve func(string) (gpio.PinIO, error)) (*PeriphTransport, error) {
	speed := cfg.SpeedHz
	if speed <= 0 {
		speed = DefaultSPISpeedHz
	}
	c, err := port.Connect(physic.Frequency(speed)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("epd: failed to connect SPI: %w", err)
	}

	t := &PeriphTransport{
		port:    port,
		spiConn: c,
		pins:    make(map[Line]gpio.PinIO, 5),
	}

	outputs := []struct {
		line  Line
		name  string
		level gpio.Level
	}{
		{LineCS0, cfg.Pins.CS0, csIdle},
		{LineCS1, cfg.Pins.CS1, csIdle},
		{LineDC, cfg.Pins.DC, dcCommand},
		{LineReset, cfg.Pins.Reset, gpio.High},
	}
	for _, o := range outputs {
		p, err := resolve(o.name)
		if err != nil {
			return nil, err
		}
		if err := p.Out(o.level); err != nil {
			return nil, fmt.Errorf("epd: gpio %s (%s) Out failed: %w", o.name, o.line, err)
		}
		t.pins[o.line] = p
	}

	busy, err := resolve(cfg.Pins.Busy)
	if err != nil {
		return nil, err
	}
	if err := busy.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("epd: gpio %s (busy) In failed: %w", cfg.Pins.Busy, err)
	}
	t.pins[LineBusy] = busy

	return t, nil
}

// Write implements Transport.
func (t *PeriphTransport) Write(p []byte) error {
	if t.spiConn == nil {
		return ErrClosed
	}
	return t.spiConn.Tx(p, nil)
}

// Set implements Transport.
func (t *PeriphTransport) Set(line Line, level gpio.Level) error {
	p, ok := t.pins[line]
	if !ok || line == LineBusy {
		return fmt.Errorf("epd: %s is not an output line", line)
	}
	return p.Out(level)
}

// Get implements Transport.
func (t *PeriphTransport) Get(line Line) (gpio.Level, error) {
	p, ok := t.pins[line]
	if !ok {
		return gpio.Low, fmt.Errorf("epd: unknown line %s", line)
	}
	return p.Read(), nil
}

// MaxTxSize implements conn.Limits by forwarding the SPI driver's limit.
func (t *PeriphTransport) MaxTxSize() int {
	if l, ok := t.spiConn.(conn.Limits); ok {
		return l.MaxTxSize()
	}
	return 0
}

// Close releases the SPI port. periph pins need no explicit release.
func (t *PeriphTransport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.spiConn = nil
	return err
}
