package lang

import "github.com/pkg/errors"

// Compiler is the process-wide, single-threaded compiler state (spec §3):
// the dictionary, the next free device address, and the bytes queued to be
// flushed to the device on the next frame.
type Compiler struct {
	Dict    *Dictionary
	Address int
	Pending []byte
}

// NewCompiler builds a compiler with a freshly populated dictionary.
func NewCompiler() *Compiler {
	c := &Compiler{Dict: NewDictionary()}
	populateInitialDictionary(c)
	return c
}

// Reset zeroes the address counter, drops pending bytes, and repopulates
// the dictionary from the primitive/stdlib initializer (spec §4.2, §4.5).
// The interactive driver's `reset` directive pairs this with a device
// reset frame (spec §5).
func (c *Compiler) Reset() {
	c.Dict.Clear()
	c.Address = 0
	c.Pending = nil
	populateInitialDictionary(c)
}

// AssembleEager assembles nodes to bytes immediately, suitable for
// immediate execution (spec §4.4).
func (c *Compiler) AssembleEager(nodes []Node) ([]byte, error) {
	var out []byte
	for _, n := range nodes {
		switch n.Kind {
		case NodeToken:
			def, ok := c.Dict.FindByName(n.Token)
			if !ok {
				return nil, errors.Wrapf(ErrUnknownWord, "%q", n.Token)
			}
			code, err := def.Code.Force()
			if err != nil {
				return nil, errors.Wrapf(err, "forcing %q", n.Token)
			}
			out = append(out, code...)
		case NodeNumber:
			b, err := Encode(Lit(n.Number), c.Dict)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		case NodeAddress:
			b, err := Encode(Call(n.Address, ""), c.Dict)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		case NodeQuotation:
			b, err := c.assembleQuotation(n.Children)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		default:
			return nil, errors.Errorf("lang: unrecognized node kind %v", n.Kind)
		}
	}
	return out, nil
}

// assembleQuotation implements the single-word-quotation optimization
// (spec §4.4): a quotation whose body disassembles to exactly one call
// degenerates to a Literal push of that call's address, the shortest valid
// form for idioms like 'someWord setLoop. Any other body becomes
// Quote(len+1), the body, then a trailing return.
func (c *Compiler) assembleQuotation(children []Node) ([]byte, error) {
	q, err := c.AssembleEager(children)
	if err != nil {
		return nil, err
	}

	if instrs, err := Disassemble(q, c.Dict); err == nil && len(instrs) == 1 && instrs[0].Kind == KindWord {
		return Encode(Lit(instrs[0].Addr), c.Dict)
	}

	bodyLen := len(q) + 1
	if bodyLen > 0xFF {
		return nil, errors.Wrapf(ErrQuoteTooLarge, "quotation body is %d bytes", bodyLen)
	}

	var out []byte
	head, err := Encode(QuoteOf(uint8(bodyLen)), c.Dict)
	if err != nil {
		return nil, err
	}
	out = append(out, head...)
	out = append(out, q...)
	ret, err := Encode(Prim(Return), c.Dict)
	if err != nil {
		return nil, err
	}
	out = append(out, ret...)
	return out, nil
}

// AssembleLazy returns a suspended generator suitable for a named
// definition (spec §4.4): forcing it runs eager assembly of nodes, then
// shrinks the result against the compiler's current address.
func (c *Compiler) AssembleLazy(name string, nodes []Node) *Lazy {
	return NewLazy(func() ([]byte, error) {
		raw, err := c.AssembleEager(nodes)
		if err != nil {
			return nil, err
		}
		return c.shrink(name, raw)
	})
}

// shrink is the inline-vs-commit decision (spec §4.4): 0 or 1-2 bytes stay
// inline and consume no address; anything larger is committed to the
// device at the current address (advancing it by len(raw)+1 for the
// appended return) and replaced at the call site by a two-byte call.
func (c *Compiler) shrink(name string, raw []byte) ([]byte, error) {
	if len(raw) <= 2 {
		return raw, nil
	}

	addr := c.Address
	if addr < 0 || addr > MaxCallAddress {
		return nil, errors.Wrapf(ErrAddressOutOfRange, "commit address %d for %q", addr, name)
	}
	call, err := Encode(Call(int16(addr), name), c.Dict)
	if err != nil {
		return nil, err
	}

	ret, err := Encode(Prim(Return), c.Dict)
	if err != nil {
		return nil, err
	}
	c.Pending = append(c.Pending, raw...)
	c.Pending = append(c.Pending, ret...)
	c.Address = addr + len(raw) + len(ret)

	return call, nil
}

// ReserveCell commits two zeroed bytes of device storage at the current
// address and returns that address, for the `variable` directive (spec
// §4.6). Unlike shrink, this always commits: a variable's whole purpose is
// a stable address to read and write through @ and !, so it cannot be
// subject to the inline-if-small rule that applies to ordinary word bodies.
func (c *Compiler) ReserveCell() (int16, error) {
	addr := c.Address
	if addr < 0 || addr+2 > MaxCallAddress {
		return 0, errors.Wrapf(ErrAddressOutOfRange, "cell address %d", addr)
	}
	c.Pending = append(c.Pending, 0, 0)
	c.Address = addr + 2
	return int16(addr), nil
}

// DrainPending returns the accumulated pending bytes and clears the queue,
// for the driver to ship as a definition frame ahead of an execute frame
// (spec §4.4, §5).
func (c *Compiler) DrainPending() []byte {
	p := c.Pending
	c.Pending = nil
	return p
}
