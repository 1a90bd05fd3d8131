// Package device implements the device side of the toolchain: the VM that
// executes host-assembled byte code, and the peripheral surface (Board)
// that the pin/timing/bus primitives act on.
//
// This package stands in for the microcontroller firmware. It exists
// because the host compiler's output has nowhere else to run in this
// codebase, and because exercising it in-process is the cheapest way to
// validate an assembled program before it is ever shipped over the wire
// (spec §6, §8).
package device

// Board is the peripheral surface the device-side primitives act on,
// modeled after the teacher's HardwareDevice seam (vm/devices.go): a single
// interface covering every peripheral slot, with Reset/Close lifecycle
// hooks, so a Board can
// be swapped for a simulator in tests or a real microcontroller HAL in
// production.
type Board interface {
	PinMode(pin, mode int16)
	DigitalRead(pin int16) int16
	DigitalWrite(pin, value int16)
	AnalogRead(pin int16) int16
	AnalogWrite(pin, value int16)

	// AttachISR registers handlerAddr to be called (as if by CallFromStack)
	// when pin transitions according to mode (spec's rising/falling/change
	// constants). DetachISR removes it. Interrupts are delivered by the VM
	// polling Pending between instructions, not by preempting execution
	// mid-instruction.
	AttachISR(pin, mode, handlerAddr int16)
	DetachISR(pin int16)

	// Pending returns, and clears, the address of an ISR due to run, or ok
	// == false if none is due.
	Pending() (addr int16, ok bool)

	Milliseconds() int16
	PulseIn(pin, level int16) int16

	I2CBegin(addr int16)
	I2CWrite(b int16) (ack bool)

	ServoAttach(pin int16)
	ServoWrite(pin, angle int16)

	Reset()
	Close()
}

// Edge constants, matching the stdlib's change/falling/rising words (spec
// §4.5b): the numbering here must track lang/stdlib.go's exactly, since mode
// crosses the wire as a plain int16 operand with no further tagging.
const (
	EdgeChange  int16 = 1
	EdgeFalling int16 = 2
	EdgeRising  int16 = 3
)
