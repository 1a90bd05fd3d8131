// Package host implements the interactive driver (spec.md §4.6): it reads
// lines, maintains a per-line stack of parsed nodes, dispatches compile-time
// directives against that stack, and frames whatever residue is left for
// the device.
package host

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pkg/errors"

	"forthdev/lang"
	"forthdev/wire"
)

var (
	ErrNoConnection   = errors.New("host: no device connection")
	ErrAlreadyOpen    = errors.New("host: connection already open")
	ErrBadOperand     = errors.New("host: directive operand has the wrong shape")
	ErrUnknownCommand = errors.New("host: unrecognized command")
)

// directiveNames is the recognized directive vocabulary (spec §4.6); any
// other token is pushed onto the line stack as a one-node chunk.
var directiveNames = map[string]bool{
	"connect": true, "conn": true,
	"disconnect": true,
	"reset":      true,
	"define":     true, "def": true,
	"instruction": true,
	"variable":    true, "var": true,
	"load":   true,
	`\`:     true,
	".":     true,
	"trace":  true,
	"memory": true, "mem": true,
	"prompt": true,
	"exit":   true,
}

// Dialer opens a named port as a byte-oriented duplex channel. Swapped out
// in tests for an in-memory pipe into a device.VM.
type Dialer func(port string) (io.ReadWriter, error)

// Driver is the interactive REPL state: the compiler, the open device
// connection (if any), and per-session toggles (spec §6's ownership rules:
// the compiler is touched only here, never by the event reader).
type Driver struct {
	Compiler *lang.Compiler
	Conn     *Conn

	Dial Dialer
	Open func(path string) (io.Reader, error)
	Out  io.Writer

	Trace      bool
	PrintEvent bool

	Exited bool
}

// NewDriver returns a driver with a fresh compiler and stdlib dictionary,
// the real serial dialer stubbed out (callers on non-simulated hardware
// must set Dial), and file loads going through os.Open.
func NewDriver(out io.Writer) *Driver {
	return &Driver{
		Compiler: lang.NewCompiler(),
		Out:      out,
		Open: func(path string) (io.Reader, error) {
			return os.Open(path)
		},
		PrintEvent: true,
	}
}

// RunFile feeds path through ProcessLine one line at a time (the `load`
// directive's implementation, and the non-interactive --load CLI path).
func (d *Driver) RunFile(path string) error {
	f, err := d.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %q", path)
	}
	if closer, ok := f.(io.Closer); ok {
		defer closer.Close()
	}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if err := d.ProcessLine(sc.Text()); err != nil {
			return err
		}
		if d.Exited {
			return nil
		}
	}
	return sc.Err()
}

// ProcessLine lexes, parses, and interprets one line: directive tokens
// consume operands off the line's local stack as they're reached;
// everything else is pushed as a one-node chunk. Whatever remains after
// the scan is concatenated left-to-right and eager-assembled, then sent as
// an execute frame (after any pending definition bytes go first) — spec
// §4.6's closing paragraph.
func (d *Driver) ProcessLine(line string) error {
	toks, err := lang.Lex(line)
	if err != nil {
		return err
	}
	nodes, err := lang.Parse(toks)
	if err != nil {
		return err
	}

	var stack []lang.Node
	for _, n := range nodes {
		name, isDirective := directiveToken(n)
		if !isDirective {
			stack = append(stack, n)
			continue
		}

		if name == `\` {
			return nil
		}
		if name == "." {
			stack = append(stack, lang.Node{Kind: lang.NodeNumber, Number: 0xF0})
			stack = append(stack, lang.Node{Kind: lang.NodeToken, Token: "event"})
			continue
		}

		var popErr error
		stack, popErr = d.dispatch(name, stack)
		if popErr != nil {
			return popErr
		}
		if d.Exited {
			return nil
		}
	}

	return d.flush(stack)
}

// directiveToken reports whether n is a bare token matching the directive
// vocabulary.
func directiveToken(n lang.Node) (string, bool) {
	if n.Kind != lang.NodeToken {
		return "", false
	}
	return n.Token, directiveNames[n.Token]
}

// flush eager-assembles the residual stack and ships it, preceded by any
// pending definition bytes, as spec §4.6/§5 require.
func (d *Driver) flush(stack []lang.Node) error {
	code, err := d.Compiler.AssembleEager(stack)
	if err != nil {
		return err
	}
	if pending := d.Compiler.DrainPending(); len(pending) > 0 {
		d.traceBytes("define", pending)
		if err := d.send(wire.HostFrame{Execute: false, Payload: pending}); err != nil {
			return err
		}
	}
	if len(code) == 0 {
		return nil
	}
	d.traceBytes("execute", code)
	return d.send(wire.HostFrame{Execute: true, Payload: code})
}

// traceBytes disassembles and prints a frame's payload when `trace` is on
// (spec §4.6 lists trace among the REPL utilities; this is its effect).
func (d *Driver) traceBytes(kind string, code []byte) {
	if !d.Trace {
		return
	}
	instrs, err := lang.Disassemble(code, d.Compiler.Dict)
	if err != nil {
		d.logf("trace %s: %d bytes (disassembly failed: %v)\n", kind, len(code), err)
		return
	}
	d.logf("trace %s:\n", kind)
	for _, ins := range instrs {
		d.logf("  %s\n", ins.String())
	}
}

// send frames payload for the device, or silently discards it while
// disconnected. flush has already drained the pending queue by then, so
// definition bytes produced offline are not resent later; connect also
// resets the compiler, so offline definitions do not survive it.
func (d *Driver) send(f wire.HostFrame) error {
	if d.Conn == nil {
		return nil
	}
	return d.Conn.SendFrame(f)
}

// singleToken reports whether n is a quotation wrapping exactly one bare
// token, returning that token (spec §4.6's recurring "single-token
// quotation" operand shape).
func singleToken(n lang.Node) (string, bool) {
	if n.Kind != lang.NodeQuotation || len(n.Children) != 1 {
		return "", false
	}
	c := n.Children[0]
	if c.Kind != lang.NodeToken {
		return "", false
	}
	return c.Token, true
}

// popTop pops and returns the top of stack.
func popTop(stack []lang.Node) ([]lang.Node, lang.Node, error) {
	if len(stack) == 0 {
		return stack, lang.Node{}, errors.Wrap(ErrBadOperand, "expected an operand, stack is empty")
	}
	n := len(stack) - 1
	return stack[:n], stack[n], nil
}

func (d *Driver) logf(format string, args ...any) {
	if d.Out != nil {
		fmt.Fprintf(d.Out, format, args...)
		return
	}
	log.Printf(format, args...)
}
