package lang

import (
	"bytes"
	"testing"
)

func compile(t *testing.T, src string) ([]Node, *Compiler) {
	t.Helper()
	c := NewCompiler()
	toks, err := Lex(src)
	if err != nil {
		t.Fatalf("lex %q: %v", src, err)
	}
	nodes, err := Parse(toks)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return nodes, c
}

// Shrink boundary (spec §8): 0, 1, 2 bytes inline; >=3 bytes commit with
// exactly one trailing return, and the inlined call at the call site is
// exactly 2 bytes.
func TestShrinkBoundary(t *testing.T) {
	c := NewCompiler()

	empty := c.AssembleLazy("empty", nil)
	code, err := empty.Force()
	if err != nil {
		t.Fatalf("force empty: %v", err)
	}
	if len(code) != 0 {
		t.Fatalf("empty: got %d bytes", len(code))
	}
	if c.Address != 0 {
		t.Fatalf("empty definition must not consume an address, got %d", c.Address)
	}

	nodes, _ := compile(t, "dup")
	tiny := c.AssembleLazy("tiny", nodes)
	code, err = tiny.Force()
	if err != nil {
		t.Fatalf("force tiny: %v", err)
	}
	if len(code) != 1 {
		t.Fatalf("tiny (dup alone): got %d bytes, want 1", len(code))
	}
	if c.Address != 0 {
		t.Fatalf("1-byte definition must not consume an address, got %d", c.Address)
	}

	nodes, _ = compile(t, "dup *")
	small := c.AssembleLazy("square2", nodes)
	code, err = small.Force()
	if err != nil {
		t.Fatalf("force square2: %v", err)
	}
	if len(code) != 2 {
		t.Fatalf("square2 (dup *): got %d bytes, want 2", len(code))
	}
	if c.Address != 0 {
		t.Fatalf("2-byte definition must not consume an address, got %d", c.Address)
	}

	nodes, _ = compile(t, "dup * dup")
	big := c.AssembleLazy("cube-ish", nodes)
	call, err := big.Force()
	if err != nil {
		t.Fatalf("force cube-ish: %v", err)
	}
	if len(call) != 2 {
		t.Fatalf("commit call site: got %d bytes, want 2", len(call))
	}
	if call[0]&0x80 == 0 {
		t.Fatalf("commit call: high bit not set in %v", call)
	}
	if c.Address != 4 { // 3-byte body + 1 trailing return
		t.Fatalf("committed definition should advance address by body+return, got %d", c.Address)
	}
	if len(c.Pending) != 4 {
		t.Fatalf("pending should hold body+return (4 bytes), got %d", len(c.Pending))
	}
	retOp, _ := Encode(Prim(Return), c.Dict)
	if !bytes.Equal(c.Pending[3:4], retOp) {
		t.Fatalf("pending should end with a return, got %v", c.Pending)
	}
}

// Shrink idempotence (spec §8): forcing twice returns the same bytes and
// does not grow address or enqueue pending a second time.
func TestShrinkIdempotence(t *testing.T) {
	c := NewCompiler()
	nodes, _ := compile(t, "dup * dup")
	lazy := c.AssembleLazy("cube-ish", nodes)

	first, err := lazy.Force()
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	addrAfterFirst := c.Address
	pendingAfterFirst := len(c.Pending)

	second, err := lazy.Force()
	if err != nil {
		t.Fatalf("force again: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("force is not idempotent: %v != %v", first, second)
	}
	if c.Address != addrAfterFirst {
		t.Fatalf("second force grew address: %d -> %d", addrAfterFirst, c.Address)
	}
	if len(c.Pending) != pendingAfterFirst {
		t.Fatalf("second force enqueued more pending bytes: %d -> %d", pendingAfterFirst, len(c.Pending))
	}
}

// Quotation single-word optimization (spec §8, §4.4): [ w ] where w
// resolves to a call produces Literal(addr), not Quote.
func TestQuotationSingleWordOptimization(t *testing.T) {
	c := NewCompiler()
	bigNodes, _ := compile(t, "dup * dup")
	committed := c.Dict.Define(nil, "payload", func() ([]byte, error) {
		return c.AssembleLazy("payload", bigNodes).Force()
	})
	if _, err := committed.Code.Force(); err != nil {
		t.Fatalf("force payload: %v", err)
	}

	nodes, _ := compile(t, "[ payload ]")
	code, err := c.AssembleEager(nodes)
	if err != nil {
		t.Fatalf("assemble quotation: %v", err)
	}

	instrs, err := Disassemble(code, c.Dict)
	if err != nil {
		t.Fatalf("disassemble: %v", err)
	}
	if len(instrs) != 1 || instrs[0].Kind != KindLiteral {
		t.Fatalf("got %+v, want a single Literal", instrs)
	}
}

func TestQuotationMultiInstructionEmitsQuote(t *testing.T) {
	c := NewCompiler()
	nodes, _ := compile(t, "[ dup * ]")
	code, err := c.AssembleEager(nodes)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	instrs, err := Disassemble(code, c.Dict)
	if err != nil {
		t.Fatalf("disassemble: %v", err)
	}
	if len(instrs) != 4 { // quote(n), dup, *, return
		t.Fatalf("got %+v", instrs)
	}
	if instrs[0].Kind != KindQuote {
		t.Fatalf("instr 0: %+v, want Quote", instrs[0])
	}
	if instrs[len(instrs)-1].Kind != KindPrimitive || instrs[len(instrs)-1].Prim != Return {
		t.Fatalf("last instr: %+v, want return", instrs[len(instrs)-1])
	}
}

// Dictionary shadowing (spec §8): after define foo A; define foo B, the
// next compilation of foo uses B.
func TestDictionaryShadowing(t *testing.T) {
	c := NewCompiler()
	nodesA, _ := compile(t, "1")
	nodesB, _ := compile(t, "2")
	c.Dict.Define(nil, "foo", func() ([]byte, error) { return c.AssembleLazy("foo", nodesA).Force() })
	c.Dict.Define(nil, "foo", func() ([]byte, error) { return c.AssembleLazy("foo", nodesB).Force() })

	def, ok := c.Dict.FindByName("foo")
	if !ok {
		t.Fatal("foo not found")
	}
	code, err := def.Code.Force()
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	want, err := Encode(Lit(2), c.Dict)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(code, want) {
		t.Fatalf("shadowing: got %v, want %v (the second definition)", code, want)
	}
}

// Spec §8 scenario 1: "11 output pinMode" with output = 1 and pinMode a
// primitive yields [lit8, 11, lit8, 1, pinMode-opcode, return]... except
// the driver only appends return for a definition, not bare execution; the
// scenario's payload already includes a trailing return for the execute
// frame itself, which is the device's job per spec §4.7 when the host
// fails to supply one. Here we check the assembled bytes up to that point.
func TestScenarioPinModeLine(t *testing.T) {
	c := NewCompiler()
	nodes, _ := compile(t, "11 output pinMode")
	code, err := c.AssembleEager(nodes)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	instrs, err := Disassemble(code, c.Dict)
	if err != nil {
		t.Fatalf("disassemble: %v", err)
	}
	if len(instrs) != 3 {
		t.Fatalf("got %+v", instrs)
	}
	if instrs[0].Kind != KindLiteral || instrs[0].Lit != 11 {
		t.Fatalf("instr 0: %+v", instrs[0])
	}
	if instrs[1].Kind != KindLiteral || instrs[1].Lit != 1 {
		t.Fatalf("instr 1: %+v", instrs[1])
	}
	if instrs[2].Kind != KindPrimitive || instrs[2].Prim != PinMode {
		t.Fatalf("instr 2: %+v", instrs[2])
	}
}

func TestUnknownWordFails(t *testing.T) {
	c := NewCompiler()
	nodes, _ := compile(t, "definitelyNotAWord")
	if _, err := c.AssembleEager(nodes); err == nil {
		t.Fatal("expected UnknownWord error")
	}
}
