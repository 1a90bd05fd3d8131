package host

import (
	"github.com/pkg/errors"

	"forthdev/lang"
	"forthdev/wire"
)

// dispatch executes the directive named name against stack, returning the
// stack with its operands consumed (spec §4.6). Each case documents the
// operand shape it requires.
func (d *Driver) dispatch(name string, stack []lang.Node) ([]lang.Node, error) {
	switch name {
	case "connect", "conn":
		return d.doConnect(stack)
	case "disconnect":
		return stack, d.doDisconnect()
	case "reset":
		return stack, d.doReset()
	case "define", "def":
		return d.doDefine(stack)
	case "instruction":
		return d.doInstruction(stack)
	case "variable", "var":
		return d.doVariable(stack)
	case "load":
		return d.doLoad(stack)
	case "trace":
		d.Trace = !d.Trace
		return stack, nil
	case "memory", "mem":
		d.doMemory()
		return stack, nil
	case "prompt":
		d.PrintEvent = !d.PrintEvent
		return stack, nil
	case "exit":
		d.Exited = true
		if d.Conn != nil {
			d.Conn.Close()
			d.Conn = nil
		}
		return stack, nil
	default:
		return stack, errors.Wrapf(ErrUnknownCommand, "%q", name)
	}
}

// doConnect pops a single-token quotation naming the port, dials it, and
// resets the freshly-opened device (spec §4.6: connect opens the port and
// puts both sides into a known state).
func (d *Driver) doConnect(stack []lang.Node) ([]lang.Node, error) {
	if d.Conn != nil {
		return stack, ErrAlreadyOpen
	}
	if d.Dial == nil {
		return stack, errors.New("host: no dialer configured")
	}
	stack, top, err := popTop(stack)
	if err != nil {
		return stack, err
	}
	port, ok := singleToken(top)
	if !ok {
		return stack, errors.Wrap(ErrBadOperand, "connect expects a single-token quotation naming the port")
	}
	rw, err := d.Dial(port)
	if err != nil {
		return stack, errors.Wrapf(err, "connecting to %q", port)
	}
	d.Conn = Dial(rw)
	go d.drainEvents(d.Conn)
	return stack, d.doReset()
}

// doDisconnect tears down the port and stops the event reader without
// touching compiler state (spec §4.6).
func (d *Driver) doDisconnect() error {
	if d.Conn == nil {
		return ErrNoConnection
	}
	err := d.Conn.Close()
	d.Conn = nil
	return err
}

// doReset emits a device reset frame and clears host compiler state in
// lockstep (spec §4.6/§9: host and device dictionaries must never diverge).
func (d *Driver) doReset() error {
	resetOp, err := lang.Encode(lang.Prim(lang.Reset), d.Compiler.Dict)
	if err != nil {
		return err
	}
	if err := d.send(wire.HostFrame{Execute: true, Payload: resetOp}); err != nil {
		return err
	}
	d.Compiler.Reset()
	return nil
}

// doDefine pops a single-token quotation (name) then a quotation (body)
// beneath it, registering a lazy definition (spec §4.6).
func (d *Driver) doDefine(stack []lang.Node) ([]lang.Node, error) {
	stack, nameNode, err := popTop(stack)
	if err != nil {
		return stack, err
	}
	name, ok := singleToken(nameNode)
	if !ok {
		return stack, errors.Wrap(ErrBadOperand, "define expects a single-token quotation naming the word")
	}
	stack, bodyNode, err := popTop(stack)
	if err != nil {
		return stack, err
	}
	if bodyNode.Kind != lang.NodeQuotation {
		return stack, errors.Wrap(ErrBadOperand, "define expects a quotation body beneath the name")
	}
	body := bodyNode.Children
	d.Compiler.Dict.Define(nil, name, func() ([]byte, error) {
		return d.Compiler.AssembleLazy(name, body).Force()
	})
	return stack, nil
}

// doInstruction pops a single-token quotation (name) then a number beneath
// it, registering a one-byte host-extension opcode (spec §4.6).
func (d *Driver) doInstruction(stack []lang.Node) ([]lang.Node, error) {
	stack, nameNode, err := popTop(stack)
	if err != nil {
		return stack, err
	}
	name, ok := singleToken(nameNode)
	if !ok {
		return stack, errors.Wrap(ErrBadOperand, "instruction expects a single-token quotation naming the word")
	}
	stack, numNode, err := popTop(stack)
	if err != nil {
		return stack, err
	}
	if numNode.Kind != lang.NodeNumber {
		return stack, errors.Wrap(ErrBadOperand, "instruction expects a number beneath the name")
	}
	if numNode.Number < 0 || numNode.Number > 0xFF {
		return stack, errors.Wrapf(ErrBadOperand, "instruction opcode %d out of byte range", numNode.Number)
	}
	raw := byte(numNode.Number)
	brief := lang.UserOp(raw)
	d.Compiler.Dict.Define(&brief, name, func() ([]byte, error) {
		return lang.Encode(lang.UserOp(raw), d.Compiler.Dict)
	})
	return stack, nil
}

// doVariable pops a single-token quotation (name) and registers a word that
// reserves a 2-byte storage cell on the device and, when called, pushes that
// cell's address (spec §4.6). Reserving the cell bypasses the normal
// inline-if-small shrink rule: a variable needs a stable address to be
// useful as storage even though pushing one literal would otherwise fit in
// the 2-byte inline threshold, so the cell itself is committed unconditionally
// and the word's own body is just the literal push of its address.
func (d *Driver) doVariable(stack []lang.Node) ([]lang.Node, error) {
	stack, nameNode, err := popTop(stack)
	if err != nil {
		return stack, err
	}
	name, ok := singleToken(nameNode)
	if !ok {
		return stack, errors.Wrap(ErrBadOperand, "variable expects a single-token quotation naming the cell")
	}
	addr, err := d.Compiler.ReserveCell()
	if err != nil {
		return stack, err
	}
	d.Compiler.Dict.Define(nil, name, func() ([]byte, error) {
		return d.Compiler.AssembleLazy(name, []lang.Node{{Kind: lang.NodeNumber, Number: addr}}).Force()
	})
	return stack, nil
}

// doLoad pops a single-token quotation giving a file path and re-enters the
// driver line-by-line on that file's contents (spec §4.6).
func (d *Driver) doLoad(stack []lang.Node) ([]lang.Node, error) {
	stack, pathNode, err := popTop(stack)
	if err != nil {
		return stack, err
	}
	path, ok := singleToken(pathNode)
	if !ok {
		return stack, errors.Wrap(ErrBadOperand, "load expects a single-token quotation naming the file")
	}
	return stack, d.RunFile(path)
}

// doMemory prints the compiler's next free device address and disassembles
// any bytes still pending a definition frame; bytes already sent to the
// device are not shown. A REPL convenience with no device-visible effect.
func (d *Driver) doMemory() {
	pending := d.Compiler.Pending
	if len(pending) == 0 {
		d.logf("memory: here=%d, nothing pending\n", d.Compiler.Address)
		return
	}
	instrs, err := lang.Disassemble(pending, d.Compiler.Dict)
	if err != nil {
		d.logf("memory: here=%d, %d bytes pending (disassembly failed: %v)\n", d.Compiler.Address, len(pending), err)
		return
	}
	d.logf("memory: here=%d, %d bytes pending:\n", d.Compiler.Address, len(pending))
	for _, ins := range instrs {
		d.logf("  %s\n", ins.String())
	}
}

// drainEvents prints decoded device frames as they arrive until conn's
// reader shuts down. Runs for the lifetime of one connection.
func (d *Driver) drainEvents(conn *Conn) {
	for frame := range conn.Events() {
		if !d.PrintEvent {
			continue
		}
		switch frame.EventID {
		case wire.EventBoot:
			d.logf("device: boot\n")
		case wire.EventVMError:
			d.logf("device: vm error code %v\n", frame.Data)
		default:
			v, err := wire.DecodeScalar(frame.Data)
			if err != nil {
				d.logf("event %d: %d bytes (undecodable: %v)\n", frame.EventID, len(frame.Data), err)
				continue
			}
			d.logf("event %d: %d\n", frame.EventID, v)
		}
	}
}
