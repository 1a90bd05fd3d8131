package device

import (
	"sync"
	"time"
)

// isrBinding is one attached interrupt, keyed by pin.
type isrBinding struct {
	mode    int16
	handler int16
}

// SimBoard is an in-process Board simulator, adapted from the teacher's
// systemTimer/consoleIO device pattern (vm/devices.go). It runs no goroutine
// of its own: a pin write that matches an attached edge queues the handler
// on a small buffered channel (dropping it when the channel is full), and
// Pending polls that channel without blocking the VM's hot loop.
type SimBoard struct {
	mu sync.Mutex

	pins  [64]int16 // digital/analog level per pin
	modes [64]int16 // pinMode per pin
	isrs  map[int16]isrBinding

	startedAt time.Time
	closed    bool

	fired chan int16 // ISR handler addresses due to run
}

// NewSimBoard returns a ready SimBoard. Milliseconds reads the wall clock
// relative to construction time (or to the last Reset).
func NewSimBoard() *SimBoard {
	return &SimBoard{
		isrs:      make(map[int16]isrBinding),
		startedAt: time.Now(),
		fired:     make(chan int16, 32),
	}
}

func (b *SimBoard) PinMode(pin, mode int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modes[pin%int16(len(b.modes))] = mode
}

func (b *SimBoard) DigitalRead(pin int16) int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pins[pin%int16(len(b.pins))]
}

func (b *SimBoard) DigitalWrite(pin, value int16) {
	b.setPin(pin, value)
}

func (b *SimBoard) AnalogRead(pin int16) int16 {
	return b.DigitalRead(pin)
}

func (b *SimBoard) AnalogWrite(pin, value int16) {
	b.setPin(pin, value)
}

// setPin records the new level and, if an ISR is attached to pin and value
// crosses the bound edge, queues the handler to run.
func (b *SimBoard) setPin(pin, value int16) {
	b.mu.Lock()
	idx := pin % int16(len(b.pins))
	prev := b.pins[idx]
	b.pins[idx] = value
	bind, attached := b.isrs[pin]
	b.mu.Unlock()

	if !attached {
		return
	}
	edge := prev == 0 && value != 0
	fall := prev != 0 && value == 0
	switch bind.mode {
	case EdgeRising:
		if !edge {
			return
		}
	case EdgeFalling:
		if !fall {
			return
		}
	case EdgeChange:
		if prev == value {
			return
		}
	default:
		return
	}

	select {
	case b.fired <- bind.handler:
	default:
	}
}

func (b *SimBoard) AttachISR(pin, mode, handlerAddr int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isrs[pin] = isrBinding{mode: mode, handler: handlerAddr}
}

func (b *SimBoard) DetachISR(pin int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.isrs, pin)
}

func (b *SimBoard) Pending() (int16, bool) {
	select {
	case addr := <-b.fired:
		return addr, true
	default:
		return 0, false
	}
}

func (b *SimBoard) Milliseconds() int16 {
	return int16(time.Since(b.startedAt).Milliseconds())
}

// PulseIn measures nothing in simulation; it reports 1 as a stand-in pulse
// width when the pin's current level equals level and 0 otherwise, which is
// enough for programs that only check for a nonzero echo.
func (b *SimBoard) PulseIn(pin, level int16) int16 {
	if b.DigitalRead(pin) == level {
		return 1
	}
	return 0
}

func (b *SimBoard) I2CBegin(addr int16) {}

func (b *SimBoard) I2CWrite(byteVal int16) bool { return true }

func (b *SimBoard) ServoAttach(pin int16) {}

func (b *SimBoard) ServoWrite(pin, angle int16) {
	b.setPin(pin, angle)
}

func (b *SimBoard) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.pins {
		b.pins[i] = 0
		b.modes[i] = 0
	}
	b.isrs = make(map[int16]isrBinding)
	b.startedAt = time.Now()
}

func (b *SimBoard) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.fired)
	}
}
