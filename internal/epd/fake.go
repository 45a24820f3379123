package epd

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"

	"el133/internal/syncutil"
)

// ErrFakeFault is the error injected by FakeTransport fault settings.
var ErrFakeFault = errors.New("epd: injected transport fault")

// OpKind identifies a recorded FakeTransport operation.
type OpKind int

const (
	OpWrite OpKind = iota
	OpSet
	OpGet
)

// Op is one recorded transport operation.
type Op struct {
	Kind  OpKind
	Line  Line
	Level gpio.Level
	// Len is the number of bytes written by an OpWrite.
	Len int
}

func (o Op) String() string {
	switch o.Kind {
	case OpWrite:
		return fmt.Sprintf("write(%d)", o.Len)
	case OpSet:
		return fmt.Sprintf("set(%s=%s)", o.Line, o.Level)
	case OpGet:
		return fmt.Sprintf("get(%s)=%s", o.Line, o.Level)
	}
	return fmt.Sprintf("Op(%d)", int(o.Kind))
}

// FakeTransport is an in-memory Transport. It tracks line levels, records
// every operation, and decodes the bus traffic back into Commands using the
// chip select and data/command levels present at each write.
//
// The zero value is not usable; call NewFakeTransport.
type FakeTransport struct {
	mu syncutil.Mutex

	levels   map[Line]gpio.Level
	ops      []Op
	commands []Command
	writes   int
	busyRead int
	closed   bool

	// Busy scripts successive reads of LineBusy. Once exhausted the last
	// entry repeats. Empty means always ready (low).
	Busy []gpio.Level
	// BusyErr, when set, is returned by every read of LineBusy.
	BusyErr error
	// FailWriteAt makes the n-th Write (1-based) fail. Zero disables.
	FailWriteAt int
	// FailSet makes every Set on the listed lines fail.
	FailSet map[Line]bool
	// MaxTx, when positive, is reported through MaxTxSize and enforced on
	// every Write.
	MaxTx int
}

// NewFakeTransport returns a FakeTransport with all lines idle: chip selects
// high, DC low, reset high and busy low (ready).
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		levels: map[Line]gpio.Level{
			LineCS0:   csIdle,
			LineCS1:   csIdle,
			LineDC:    dcCommand,
			LineReset: gpio.High,
			LineBusy:  gpio.Low,
		},
	}
}

// Write implements Transport.
func (f *FakeTransport) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	f.writes++
	if f.FailWriteAt > 0 && f.writes == f.FailWriteAt {
		return fmt.Errorf("write %d: %w", f.writes, ErrFakeFault)
	}
	if f.MaxTx > 0 && len(p) > f.MaxTx {
		return fmt.Errorf("epd: fake write of %d bytes exceeds max %d", len(p), f.MaxTx)
	}
	f.ops = append(f.ops, Op{Kind: OpWrite, Len: len(p)})

	cs0 := f.levels[LineCS0] == csActive
	cs1 := f.levels[LineCS1] == csActive
	var target Target
	switch {
	case cs0 && cs1:
		target = Both
	case cs0:
		target = Controller0
	case cs1:
		target = Controller1
	default:
		return errors.New("epd: fake write with no chip select asserted")
	}

	if f.levels[LineDC] == dcCommand {
		if len(p) != 1 {
			return fmt.Errorf("epd: fake command phase write of %d bytes", len(p))
		}
		f.commands = append(f.commands, Command{Target: target, ID: p[0]})
		return nil
	}

	if len(f.commands) == 0 {
		return errors.New("epd: fake data phase write before any command")
	}
	last := &f.commands[len(f.commands)-1]
	if last.Target != target {
		return fmt.Errorf("epd: fake data for %s after command to %s", target, last.Target)
	}
	last.Payload = append(last.Payload, p...)
	return nil
}

// Set implements Transport.
func (f *FakeTransport) Set(line Line, level gpio.Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if f.FailSet[line] {
		return fmt.Errorf("set %s: %w", line, ErrFakeFault)
	}
	f.levels[line] = level
	f.ops = append(f.ops, Op{Kind: OpSet, Line: line, Level: level})
	return nil
}

// Get implements Transport.
func (f *FakeTransport) Get(line Line) (gpio.Level, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return gpio.Low, ErrClosed
	}
	level := f.levels[line]
	if line == LineBusy {
		if f.BusyErr != nil {
			f.busyRead++
			return gpio.Low, f.BusyErr
		}
		if len(f.Busy) > 0 {
			i := min(f.busyRead, len(f.Busy)-1)
			level = f.Busy[i]
		}
		f.busyRead++
	}
	f.ops = append(f.ops, Op{Kind: OpGet, Line: line, Level: level})
	return level, nil
}

// Close implements Transport.
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// MaxTxSize implements conn.Limits when MaxTx is set.
func (f *FakeTransport) MaxTxSize() int {
	return f.MaxTx
}

// Commands returns the decoded command stream.
func (f *FakeTransport) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.commands))
	copy(out, f.commands)
	return out
}

// Ops returns every recorded operation in order.
func (f *FakeTransport) Ops() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Op, len(f.ops))
	copy(out, f.ops)
	return out
}

// Level returns the current level of line.
func (f *FakeTransport) Level(line Line) gpio.Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[line]
}

// BusyReads returns how many times LineBusy has been sampled.
func (f *FakeTransport) BusyReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busyRead
}

// Closed reports whether Close has been called.
func (f *FakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// ResetLog forgets recorded operations and commands but keeps line levels and
// fault settings.
func (f *FakeTransport) ResetLog() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = nil
	f.commands = nil
	f.writes = 0
	f.busyRead = 0
}
