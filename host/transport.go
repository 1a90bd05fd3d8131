package host

import (
	"bufio"
	"io"
	"log"

	"github.com/pkg/errors"

	"forthdev/wire"
)

// Conn owns one open connection to a device: the driver writes frames
// directly on it (writes are confined to the line processor, spec §6's
// locking discipline), while a background goroutine — the event reader —
// owns the read side and pushes decoded device frames onto Events.
//
// This mirrors the teacher's device-goroutine-plus-channel shape
// (vm/devices.go's systemTimer/consoleIO) adapted to a single long-lived
// reader instead of one goroutine per peripheral, since here there is one
// physical port, not one per device.
type Conn struct {
	rw     io.ReadWriter
	events chan wire.DeviceFrame
	done   chan struct{}
}

// Dial wraps rw as a device connection and starts the event reader.
func Dial(rw io.ReadWriter) *Conn {
	c := &Conn{
		rw:     rw,
		events: make(chan wire.DeviceFrame, 32),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Events yields decoded device frames as they arrive. It is never closed
// while the connection is open; Close stops the reader and then closes it.
func (c *Conn) Events() <-chan wire.DeviceFrame {
	return c.events
}

// SendFrame writes f to the device. Per spec §6, the driver must fully
// write (and conceptually flush) a definition frame before sending the
// paired execute frame; callers achieve that simply by calling SendFrame
// twice in order, since each call completes its Write before returning.
func (c *Conn) SendFrame(f wire.HostFrame) error {
	return wire.WriteHostFrame(c.rw, f)
}

// Close stops the event reader and closes the underlying connection if it
// implements io.Closer. Compiler state is untouched — that is the driver's
// `disconnect` directive's job, paired with this at a higher level.
func (c *Conn) Close() error {
	close(c.done)
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// readLoop is the event reader: it blocks on reads, decodes device frames,
// and resynchronizes on framing errors by discarding one byte at a time
// until a frame decodes cleanly again (spec §4.7's "discarding bytes until
// the next coherent frame start" — there are no framing markers to anchor
// on in the minimal variant, so this is the best a byte-oriented stream
// without escaping can do). It never touches compiler state (spec §6).
func (c *Conn) readLoop() {
	defer close(c.events)
	br := bufio.NewReader(c.rw)
	for {
		select {
		case <-c.done:
			return
		default:
		}

		frame, err := wire.ReadDeviceFrame(br)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			if _, discardErr := br.Discard(1); discardErr != nil {
				return
			}
			log.Printf("wire: resynchronizing after framing error: %v", err)
			continue
		}

		select {
		case c.events <- frame:
		case <-c.done:
			return
		}
	}
}
