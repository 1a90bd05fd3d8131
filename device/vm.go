package device

import "github.com/pkg/errors"

var (
	ErrStackUnderflow = errors.New("stack underflow")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrMemoryBounds   = errors.New("memory access out of bounds")
	ErrHalted         = errors.New("program halted")
)

// EventSink receives the structured events a running program emits via
// the event{ / data8 / data16 / }event / event primitives. Every event
// carries an application-defined id, popped off the data stack by the
// opcode that opens it (event{ for a packed event, event itself for a
// scalar one) — the same id the wire frame eventually carries as its
// event-id byte (spec §4.6's `.` shorthand pushes an id before calling
// `event`, which only makes sense if `event` consumes one). PackStart
// opens a packed, variable-shaped event under that id; Body8/Body16
// append fields to it; PackFinish closes it. Scalar emits a single
// 16-bit value with no envelope, the cheap path used for simple
// telemetry (spec §4.7).
type EventSink interface {
	PackStart(id byte)
	Body8(b byte)
	Body16(v int16)
	PackFinish()
	Scalar(id byte, v int16)
}

// DiscardSink drops every event. Useful for programs that never call the
// event primitives, and for tests that only care about stack effects.
type DiscardSink struct{}

func (DiscardSink) PackStart(byte)     {}
func (DiscardSink) Body8(byte)         {}
func (DiscardSink) Body16(int16)       {}
func (DiscardSink) PackFinish()        {}
func (DiscardSink) Scalar(byte, int16) {}

const (
	dataStackSize = 64
	auxStackSize  = 32
	callStackSize = 32
)

// VM is the device-side interpreter (spec §4.2, §4.6): a 16-bit data
// stack, an auxiliary scratch register stack for >a/a>/a@, a call-return
// stack for subroutine threading, flat memory, and a single loop register.
// It executes the exact byte encoding lang.Encode produces, so it can run
// as both a specification of device behavior and an in-process validator
// of host-assembled programs.
type VM struct {
	Data []int16
	Aux  []int16
	call []int16

	Mem  []byte
	Here int16
	Last int16
	PC   int16

	LoopActive  bool
	LoopCounter int16
	LoopLimit   int16

	Board Board
	Sink  EventSink

	halted bool
}

// NewVM allocates a VM with memSize bytes of flat memory. board and sink
// may be nil, in which case peripheral and event primitives are no-ops.
func NewVM(memSize int, board Board, sink EventSink) *VM {
	if sink == nil {
		sink = DiscardSink{}
	}
	return &VM{
		Mem:   make([]byte, memSize),
		Board: board,
		Sink:  sink,
	}
}

func (vm *VM) push(v int16) error {
	if len(vm.Data) >= dataStackSize {
		return errors.Wrap(ErrStackOverflow, "data stack full")
	}
	vm.Data = append(vm.Data, v)
	return nil
}

func (vm *VM) pop() (int16, error) {
	if len(vm.Data) == 0 {
		return 0, errors.Wrap(ErrStackUnderflow, "data stack empty")
	}
	v := vm.Data[len(vm.Data)-1]
	vm.Data = vm.Data[:len(vm.Data)-1]
	return v, nil
}

func (vm *VM) pushAux(v int16) error {
	if len(vm.Aux) >= auxStackSize {
		return errors.Wrap(ErrStackOverflow, "aux stack full")
	}
	vm.Aux = append(vm.Aux, v)
	return nil
}

func (vm *VM) popAux() (int16, error) {
	if len(vm.Aux) == 0 {
		return 0, errors.Wrap(ErrStackUnderflow, "aux stack empty")
	}
	v := vm.Aux[len(vm.Aux)-1]
	vm.Aux = vm.Aux[:len(vm.Aux)-1]
	return v, nil
}

func (vm *VM) pushCall(addr int16) error {
	if len(vm.call) >= callStackSize {
		return errors.Wrap(ErrStackOverflow, "call stack full")
	}
	vm.call = append(vm.call, addr)
	return nil
}

func (vm *VM) popCall() (int16, bool) {
	if len(vm.call) == 0 {
		return 0, false
	}
	v := vm.call[len(vm.call)-1]
	vm.call = vm.call[:len(vm.call)-1]
	return v, true
}

// Load copies code into memory starting at addr and advances Here past it
// if needed, mirroring the device accepting a definition frame (spec §5).
func (vm *VM) Load(addr int16, code []byte) error {
	end := int(addr) + len(code)
	if end > len(vm.Mem) {
		return errors.Wrapf(ErrMemoryBounds, "load of %d bytes at %d overruns memory", len(code), addr)
	}
	copy(vm.Mem[addr:end], code)
	if int16(end) > vm.Here {
		vm.Here = int16(end)
	}
	return nil
}

// Reset clears both stacks, rewinds the loop register, wipes committed
// memory, and resets the attached board. The device's dictionary is
// transient (spec §4.2: cleared on reset), so Here and Last must rewind to
// 0 along with Mem — otherwise a host-side Reset (which always zeroes the
// compiler's Address, spec §9) falls out of lockstep with a device that
// still remembers old committed addresses.
func (vm *VM) Reset() {
	vm.Data = vm.Data[:0]
	vm.Aux = vm.Aux[:0]
	vm.call = vm.call[:0]
	vm.LoopActive = false
	vm.LoopCounter = 0
	vm.LoopLimit = 0
	vm.halted = false
	for i := range vm.Mem {
		vm.Mem[i] = 0
	}
	vm.Here = 0
	vm.Last = 0
	if vm.Board != nil {
		vm.Board.Reset()
	}
}

func boolToCell(b bool) int16 {
	if b {
		return -1
	}
	return 0
}
