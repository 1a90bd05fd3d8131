package device

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"forthdev/lang"
)

// Run executes starting at addr until a top-level Return (the call stack
// empties on a return) or an error. It checks for a pending ISR between
// every instruction, matching the teacher's style of cooperative interrupt
// delivery (vm/devices.go's response bus) rather than true preemption.
func (vm *VM) Run(addr int16) error {
	vm.PC = addr
	for {
		if err := vm.checkISR(); err != nil {
			return err
		}
		done, err := vm.Step()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (vm *VM) checkISR() error {
	if vm.Board == nil {
		return nil
	}
	handler, ok := vm.Board.Pending()
	if !ok {
		return nil
	}
	if err := vm.pushCall(vm.PC); err != nil {
		return err
	}
	vm.PC = handler
	return nil
}

// Step decodes and executes the single instruction at PC, returning done
// == true when a Return pops the last frame off the call stack (program
// complete at top level).
func (vm *VM) Step() (done bool, err error) {
	if int(vm.PC) < 0 || int(vm.PC) >= len(vm.Mem) {
		return false, errors.Wrapf(ErrMemoryBounds, "pc %d out of bounds", vm.PC)
	}
	b := vm.Mem[vm.PC]

	switch {
	case b&0x80 != 0:
		if int(vm.PC)+1 >= len(vm.Mem) {
			return false, errors.Wrap(ErrMemoryBounds, "truncated call")
		}
		target := int16(b&0x7F)<<8 | int16(vm.Mem[vm.PC+1])
		if err := vm.pushCall(vm.PC + 2); err != nil {
			return false, err
		}
		vm.PC = target
		return false, nil

	case b == lang.OpLit8:
		v := int16(int8(vm.Mem[vm.PC+1]))
		if err := vm.push(v); err != nil {
			return false, err
		}
		vm.PC += 2
		return false, nil

	case b == lang.OpLit16:
		v := int16(binary.BigEndian.Uint16(vm.Mem[vm.PC+1 : vm.PC+3]))
		if err := vm.push(v); err != nil {
			return false, err
		}
		vm.PC += 3
		return false, nil

	case b == lang.OpBranch:
		off := int8(vm.Mem[vm.PC+1])
		vm.PC += 2 + int16(off)
		return false, nil

	case b == lang.OpZeroBranch:
		flag, err := vm.pop()
		if err != nil {
			return false, err
		}
		off := int8(vm.Mem[vm.PC+1])
		vm.PC += 2
		if flag == 0 {
			vm.PC += int16(off)
		}
		return false, nil

	case b == lang.OpQuote:
		n := int16(vm.Mem[vm.PC+1])
		if err := vm.push(vm.PC + 2); err != nil {
			return false, err
		}
		vm.PC += 2 + n
		return false, nil

	default:
		prim, ok := lang.OpcodeToPrimitive(b)
		if !ok {
			return false, errors.Wrapf(ErrMemoryBounds, "unrecognized opcode 0x%02x at %d", b, vm.PC)
		}
		vm.PC++
		return vm.execPrimitive(prim)
	}
}

// execPrimitive runs one zero-operand instruction. The switch order
// follows the Primitive declaration order in lang/instr.go.
func (vm *VM) execPrimitive(p lang.Primitive) (done bool, err error) {
	switch p {
	case lang.Return:
		ret, ok := vm.popCall()
		if !ok {
			return true, nil
		}
		vm.PC = ret
		return false, nil

	case lang.EventPackStart:
		id, e := vm.pop()
		if e != nil {
			return false, e
		}
		vm.Sink.PackStart(byte(id))
	case lang.EventBody8:
		v, e := vm.pop()
		if e != nil {
			return false, e
		}
		vm.Sink.Body8(byte(v))
	case lang.EventBody16:
		v, e := vm.pop()
		if e != nil {
			return false, e
		}
		vm.Sink.Body16(v)
	case lang.EventPackFinish:
		vm.Sink.PackFinish()
	case lang.EventScalar:
		id, e := vm.pop()
		if e != nil {
			return false, e
		}
		v, e := vm.pop()
		if e != nil {
			return false, e
		}
		vm.Sink.Scalar(byte(id), v)

	case lang.Fetch8:
		addr, e := vm.pop()
		if e != nil {
			return false, e
		}
		if int(addr) < 0 || int(addr) >= len(vm.Mem) {
			return false, errors.Wrapf(ErrMemoryBounds, "@b %d", addr)
		}
		return false, vm.push(int16(vm.Mem[addr]))
	case lang.Store8:
		addr, e := vm.pop()
		if e != nil {
			return false, e
		}
		val, e := vm.pop()
		if e != nil {
			return false, e
		}
		if int(addr) < 0 || int(addr) >= len(vm.Mem) {
			return false, errors.Wrapf(ErrMemoryBounds, "!b %d", addr)
		}
		vm.Mem[addr] = byte(val)
	case lang.Fetch16:
		addr, e := vm.pop()
		if e != nil {
			return false, e
		}
		if int(addr) < 0 || int(addr)+1 >= len(vm.Mem) {
			return false, errors.Wrapf(ErrMemoryBounds, "@ %d", addr)
		}
		return false, vm.push(int16(binary.BigEndian.Uint16(vm.Mem[addr : addr+2])))
	case lang.Store16:
		addr, e := vm.pop()
		if e != nil {
			return false, e
		}
		val, e := vm.pop()
		if e != nil {
			return false, e
		}
		if int(addr) < 0 || int(addr)+1 >= len(vm.Mem) {
			return false, errors.Wrapf(ErrMemoryBounds, "! %d", addr)
		}
		binary.BigEndian.PutUint16(vm.Mem[addr:addr+2], uint16(val))

	case lang.Add:
		return false, vm.binop(func(a, b int16) int16 { return a + b })
	case lang.Sub:
		return false, vm.binop(func(a, b int16) int16 { return a - b })
	case lang.Mul:
		return false, vm.binop(func(a, b int16) int16 { return a * b })
	case lang.Div:
		return false, vm.binopErr(func(a, b int16) (int16, error) {
			if b == 0 {
				return 0, errors.New("device: division by zero")
			}
			return a / b, nil
		})
	case lang.Mod:
		return false, vm.binopErr(func(a, b int16) (int16, error) {
			if b == 0 {
				return 0, errors.New("device: division by zero")
			}
			return a % b, nil
		})
	case lang.And:
		return false, vm.binop(func(a, b int16) int16 { return a & b })
	case lang.Or:
		return false, vm.binop(func(a, b int16) int16 { return a | b })
	case lang.Xor:
		return false, vm.binop(func(a, b int16) int16 { return a ^ b })
	case lang.Shift:
		return false, vm.binop(func(a, n int16) int16 {
			if n >= 0 {
				return a << uint16(n)
			}
			return a >> uint16(-n)
		})

	case lang.Eq:
		return false, vm.binop(func(a, b int16) int16 { return boolToCell(a == b) })
	case lang.Ne:
		return false, vm.binop(func(a, b int16) int16 { return boolToCell(a != b) })
	case lang.Gt:
		return false, vm.binop(func(a, b int16) int16 { return boolToCell(a > b) })
	case lang.Ge:
		return false, vm.binop(func(a, b int16) int16 { return boolToCell(a >= b) })
	case lang.Lt:
		return false, vm.binop(func(a, b int16) int16 { return boolToCell(a < b) })
	case lang.Le:
		return false, vm.binop(func(a, b int16) int16 { return boolToCell(a <= b) })

	case lang.Not:
		v, e := vm.pop()
		if e != nil {
			return false, e
		}
		return false, vm.push(boolToCell(v == 0))
	case lang.Neg:
		v, e := vm.pop()
		if e != nil {
			return false, e
		}
		return false, vm.push(-v)
	case lang.Inc:
		v, e := vm.pop()
		if e != nil {
			return false, e
		}
		return false, vm.push(v + 1)
	case lang.Dec:
		v, e := vm.pop()
		if e != nil {
			return false, e
		}
		return false, vm.push(v - 1)

	case lang.Drop:
		_, e := vm.pop()
		return false, e
	case lang.Dup:
		v, e := vm.pop()
		if e != nil {
			return false, e
		}
		if e := vm.push(v); e != nil {
			return false, e
		}
		return false, vm.push(v)
	case lang.Swap:
		b, e := vm.pop()
		if e != nil {
			return false, e
		}
		a, e := vm.pop()
		if e != nil {
			return false, e
		}
		if e := vm.push(b); e != nil {
			return false, e
		}
		return false, vm.push(a)
	case lang.Pick:
		n, e := vm.pop()
		if e != nil {
			return false, e
		}
		idx := len(vm.Data) - 1 - int(n)
		if idx < 0 || idx >= len(vm.Data) {
			return false, errors.Wrapf(ErrStackUnderflow, "pick %d", n)
		}
		return false, vm.push(vm.Data[idx])
	case lang.Roll:
		n, e := vm.pop()
		if e != nil {
			return false, e
		}
		idx := len(vm.Data) - 1 - int(n)
		if idx < 0 || idx >= len(vm.Data) {
			return false, errors.Wrapf(ErrStackUnderflow, "roll %d", n)
		}
		v := vm.Data[idx]
		vm.Data = append(vm.Data[:idx], vm.Data[idx+1:]...)
		return false, vm.push(v)
	case lang.Clear:
		vm.Data = vm.Data[:0]

	case lang.PushAux:
		v, e := vm.pop()
		if e != nil {
			return false, e
		}
		return false, vm.pushAux(v)
	case lang.PopAux:
		v, e := vm.popAux()
		if e != nil {
			return false, e
		}
		return false, vm.push(v)
	case lang.PeekAux:
		if len(vm.Aux) == 0 {
			return false, errors.Wrap(ErrStackUnderflow, "aux stack empty")
		}
		return false, vm.push(vm.Aux[len(vm.Aux)-1])

	case lang.Forget:
		addr, e := vm.pop()
		if e != nil {
			return false, e
		}
		if addr < vm.Here {
			vm.Here = addr
		}

	case lang.CallFromStack:
		addr, e := vm.pop()
		if e != nil {
			return false, e
		}
		if e := vm.pushCall(vm.PC); e != nil {
			return false, e
		}
		vm.PC = addr

	case lang.Choice:
		elseAddr, e := vm.pop()
		if e != nil {
			return false, e
		}
		thenAddr, e := vm.pop()
		if e != nil {
			return false, e
		}
		flag, e := vm.pop()
		if e != nil {
			return false, e
		}
		if flag != 0 {
			return false, vm.push(thenAddr)
		}
		return false, vm.push(elseAddr)

	case lang.If:
		addr, e := vm.pop()
		if e != nil {
			return false, e
		}
		flag, e := vm.pop()
		if e != nil {
			return false, e
		}
		if flag != 0 {
			if e := vm.pushCall(vm.PC); e != nil {
				return false, e
			}
			vm.PC = addr
		}

	case lang.LoopTicks:
		return false, vm.push(vm.LoopCounter)
	case lang.SetLoop:
		limit, e := vm.pop()
		if e != nil {
			return false, e
		}
		vm.LoopActive = true
		vm.LoopCounter = 0
		vm.LoopLimit = limit
	case lang.StopLoop:
		vm.LoopActive = false

	case lang.Reset:
		vm.Reset()

	case lang.PinMode:
		mode, e := vm.pop()
		if e != nil {
			return false, e
		}
		pin, e := vm.pop()
		if e != nil {
			return false, e
		}
		if vm.Board != nil {
			vm.Board.PinMode(pin, mode)
		}
	case lang.DigitalRead:
		pin, e := vm.pop()
		if e != nil {
			return false, e
		}
		if vm.Board == nil {
			return false, vm.push(0)
		}
		return false, vm.push(vm.Board.DigitalRead(pin))
	case lang.DigitalWrite:
		pin, e := vm.pop()
		if e != nil {
			return false, e
		}
		val, e := vm.pop()
		if e != nil {
			return false, e
		}
		if vm.Board != nil {
			vm.Board.DigitalWrite(pin, val)
		}
	case lang.AnalogRead:
		pin, e := vm.pop()
		if e != nil {
			return false, e
		}
		if vm.Board == nil {
			return false, vm.push(0)
		}
		return false, vm.push(vm.Board.AnalogRead(pin))
	case lang.AnalogWrite:
		val, e := vm.pop()
		if e != nil {
			return false, e
		}
		pin, e := vm.pop()
		if e != nil {
			return false, e
		}
		if vm.Board != nil {
			vm.Board.AnalogWrite(pin, val)
		}
	case lang.AttachISR:
		handler, e := vm.pop()
		if e != nil {
			return false, e
		}
		mode, e := vm.pop()
		if e != nil {
			return false, e
		}
		pin, e := vm.pop()
		if e != nil {
			return false, e
		}
		if vm.Board != nil {
			vm.Board.AttachISR(pin, mode, handler)
		}
	case lang.DetachISR:
		pin, e := vm.pop()
		if e != nil {
			return false, e
		}
		if vm.Board != nil {
			vm.Board.DetachISR(pin)
		}
	case lang.Milliseconds:
		if vm.Board == nil {
			return false, vm.push(0)
		}
		return false, vm.push(vm.Board.Milliseconds())
	case lang.PulseIn:
		level, e := vm.pop()
		if e != nil {
			return false, e
		}
		pin, e := vm.pop()
		if e != nil {
			return false, e
		}
		if vm.Board == nil {
			return false, vm.push(0)
		}
		return false, vm.push(vm.Board.PulseIn(pin, level))
	case lang.I2CBegin:
		addr, e := vm.pop()
		if e != nil {
			return false, e
		}
		if vm.Board != nil {
			vm.Board.I2CBegin(addr)
		}
	case lang.I2CWrite:
		b, e := vm.pop()
		if e != nil {
			return false, e
		}
		if vm.Board == nil {
			return false, vm.push(boolToCell(true))
		}
		return false, vm.push(boolToCell(vm.Board.I2CWrite(b)))
	case lang.ServoAttach:
		pin, e := vm.pop()
		if e != nil {
			return false, e
		}
		if vm.Board != nil {
			vm.Board.ServoAttach(pin)
		}
	case lang.ServoWrite:
		angle, e := vm.pop()
		if e != nil {
			return false, e
		}
		pin, e := vm.pop()
		if e != nil {
			return false, e
		}
		if vm.Board != nil {
			vm.Board.ServoWrite(pin, angle)
		}

	default:
		return false, errors.Errorf("device: unhandled primitive %v", p)
	}
	return false, nil
}

func (vm *VM) binop(f func(a, b int16) int16) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	return vm.push(f(a, b))
}

func (vm *VM) binopErr(f func(a, b int16) (int16, error)) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	v, err := f(a, b)
	if err != nil {
		return err
	}
	return vm.push(v)
}
