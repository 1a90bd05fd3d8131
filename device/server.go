package device

import (
	"bufio"
	"io"

	"github.com/pkg/errors"

	"forthdev/lang"
	"forthdev/wire"
)

// frameSink turns a running program's events into wire.DeviceFrame writes —
// the in-process stand-in for whatever a real device's UART ISR does with
// the same event{/data8/data16/}event/event primitives.
type frameSink struct {
	w      io.Writer
	id     byte
	packed []byte
	werr   error
}

func newFrameSink(w io.Writer) *frameSink { return &frameSink{w: w} }

func (s *frameSink) PackStart(id byte) {
	s.id = id
	s.packed = s.packed[:0]
}

func (s *frameSink) Body8(b byte) { s.packed = append(s.packed, b) }

func (s *frameSink) Body16(v int16) {
	s.packed = append(s.packed, byte(v>>8), byte(v))
}

func (s *frameSink) PackFinish() {
	s.write(s.id, s.packed)
}

func (s *frameSink) Scalar(id byte, v int16) {
	s.write(id, wire.EncodeScalar(v))
}

func (s *frameSink) write(id byte, data []byte) {
	if s.werr != nil {
		return
	}
	s.werr = wire.WriteDeviceFrame(s.w, wire.DeviceFrame{EventID: id, Data: data})
}

// Serve runs vm as a device simulator over rw: it sends a boot event, then
// loops reading host frames, appending definition-frame payloads at the
// current `here` and running execute-frame payloads with `here` restored
// afterward (spec §4.7 and §8 scenario 3's frame semantics). It returns nil
// when rw's read side reaches EOF, and any other read or protocol error
// otherwise. A VM error (stack under/overflow, out-of-memory) is reported
// as an EventVMError frame and does not stop the loop, matching "device
// reported errors ... never fatal to the host" (spec §5).
func Serve(rw io.ReadWriter, vm *VM) error {
	sink := newFrameSink(rw)
	vm.Sink = sink

	if err := wire.WriteDeviceFrame(rw, wire.DeviceFrame{EventID: wire.EventBoot}); err != nil {
		return err
	}

	br := bufio.NewReader(rw)
	for {
		frame, err := wire.ReadHostFrame(br)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
		if err := vm.handleFrame(frame); err != nil {
			sink.write(wire.EventVMError, []byte{vmErrorCode(err)})
		}
		if sink.werr != nil {
			return sink.werr
		}
	}
}

// handleFrame applies one host frame's effect to vm: a definition frame sets
// `last = here` then appends to committed memory at `here` (spec §4.7); an
// execute frame loads its payload at `here`, runs it, then restores `here`
// so the transient program never occupies permanent device address space
// (spec §4.7/§8 scenario 3). A program that moved `here` below its
// pre-frame value (reset, forget) keeps the lower value.
func (vm *VM) handleFrame(f wire.HostFrame) error {
	if !f.Execute {
		vm.Last = vm.Here
		return vm.Load(vm.Here, f.Payload)
	}
	saved := vm.Here
	addr := vm.Here
	if err := vm.Load(addr, terminated(f.Payload)); err != nil {
		return err
	}
	err := vm.Run(addr)
	if vm.Here > saved {
		vm.Here = saved
	}
	return err
}

// terminated appends a return opcode to payload if it doesn't already end
// with one (spec §4.7: "An immediate payload must be terminated by a
// return byte; if the host fails to append one the device appends it
// before executing"). The driver never appends one itself (spec §8
// scenario 3: "including the trailing return the device appends"), so
// this is the only place that happens.
func terminated(payload []byte) []byte {
	retOp := lang.PrimitiveOpcode(lang.Return)
	if len(payload) > 0 && payload[len(payload)-1] == retOp {
		return payload
	}
	out := make([]byte, len(payload)+1)
	copy(out, payload)
	out[len(payload)] = retOp
	return out
}

// vmErrorCode maps an internal VM error to the one-byte code the wire
// protocol's reserved 0xFE event carries (spec §4.7). The stack-kind split
// (data vs return) the codes distinguish isn't recoverable from ErrStackXxx
// alone once it has propagated this far, so overflow/underflow on any stack
// reports as the data-stack variant; out-of-memory is the only code this
// can identify precisely.
func vmErrorCode(err error) byte {
	switch {
	case errors.Is(err, ErrMemoryBounds):
		return wire.ErrCodeOutOfMemory
	case errors.Is(err, ErrStackOverflow):
		return wire.ErrCodeDataStackOverflow
	default:
		return wire.ErrCodeDataStackUnderflow
	}
}
