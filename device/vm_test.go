package device

import (
	"bytes"
	"testing"

	"forthdev/lang"
	"forthdev/wire"
)

func assemble(t *testing.T, src string) ([]byte, *lang.Compiler) {
	t.Helper()
	c := lang.NewCompiler()
	toks, err := lang.Lex(src)
	if err != nil {
		t.Fatalf("lex %q: %v", src, err)
	}
	nodes, err := lang.Parse(toks)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	code, err := c.AssembleEager(nodes)
	if err != nil {
		t.Fatalf("assemble %q: %v", src, err)
	}
	return code, c
}

// runTop loads whatever the compiler committed to device addresses while
// assembling code (c.Pending), then loads and runs code itself. Pending
// must land first and at address 0, matching the fresh compiler's address
// counter, since code's call instructions were encoded against those
// addresses (spec §4.4, §5).
func runTop(t *testing.T, vm *VM, c *lang.Compiler, code []byte) {
	t.Helper()
	if pending := c.DrainPending(); len(pending) > 0 {
		if err := vm.Load(0, pending); err != nil {
			t.Fatalf("load pending: %v", err)
		}
		vm.Here = int16(len(pending))
	}

	start := vm.Here
	if err := vm.Load(start, code); err != nil {
		t.Fatalf("load: %v", err)
	}
	ret, err := lang.Encode(lang.Prim(lang.Return), nil)
	if err != nil {
		t.Fatalf("encode return: %v", err)
	}
	if err := vm.Load(vm.Here, ret); err != nil {
		t.Fatalf("load return: %v", err)
	}
	if err := vm.Run(start); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestArithmetic(t *testing.T) {
	code, c := assemble(t, "2 3 +")
	vm := NewVM(256, nil, nil)
	runTop(t, vm, c, code)
	if len(vm.Data) != 1 || vm.Data[0] != 5 {
		t.Fatalf("got %v, want [5]", vm.Data)
	}
}

func TestComparisonGreaterThan(t *testing.T) {
	code, c := assemble(t, "7 3 >")
	vm := NewVM(256, nil, nil)
	runTop(t, vm, c, code)
	if len(vm.Data) != 1 || vm.Data[0] != -1 {
		t.Fatalf("7 > 3 should be true, got %v", vm.Data)
	}
}

func TestStackShuffle(t *testing.T) {
	code, c := assemble(t, "1 2 swap")
	vm := NewVM(256, nil, nil)
	runTop(t, vm, c, code)
	if len(vm.Data) != 2 || vm.Data[0] != 2 || vm.Data[1] != 1 {
		t.Fatalf("swap: got %v, want [2 1]", vm.Data)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	code, c := assemble(t, "42 100 ! 100 @")
	vm := NewVM(256, nil, nil)
	runTop(t, vm, c, code)
	if len(vm.Data) != 1 || vm.Data[0] != 42 {
		t.Fatalf("store/fetch: got %v, want [42]", vm.Data)
	}
}

func TestBoardDigitalIO(t *testing.T) {
	code, c := assemble(t, "3 1 pinMode 1 3 digitalWrite 3 digitalRead")
	board := NewSimBoard()
	vm := NewVM(256, board, nil)
	runTop(t, vm, c, code)
	if len(vm.Data) != 1 || vm.Data[0] != 1 {
		t.Fatalf("digitalRead after write: got %v, want [1]", vm.Data)
	}
}

type recordedScalar struct {
	id  byte
	val int16
}

type recordingSink struct {
	scalars []recordedScalar
}

func (r *recordingSink) PackStart(byte) {}
func (r *recordingSink) Body8(byte)     {}
func (r *recordingSink) Body16(int16)   {}
func (r *recordingSink) PackFinish()    {}
func (r *recordingSink) Scalar(id byte, v int16) {
	r.scalars = append(r.scalars, recordedScalar{id, v})
}

func TestEventScalar(t *testing.T) {
	// "99 240 event": push the value, then the id 240 on top, matching the
	// `.` directive's own push-id-then-call-event shape.
	code, c := assemble(t, "99 240 event")
	sink := &recordingSink{}
	vm := NewVM(256, nil, sink)
	runTop(t, vm, c, code)
	if len(sink.scalars) != 1 || sink.scalars[0] != (recordedScalar{240, 99}) {
		t.Fatalf("scalar events: got %v, want [{240 99}]", sink.scalars)
	}
}

func TestSquareStdlibWord(t *testing.T) {
	code, c := assemble(t, "6 square")
	vm := NewVM(256, nil, nil)
	runTop(t, vm, c, code)
	if len(vm.Data) != 1 || vm.Data[0] != 36 {
		t.Fatalf("square: got %v, want [36]", vm.Data)
	}
}

func TestAbsStdlibWord(t *testing.T) {
	code, c := assemble(t, "-5 abs")
	vm := NewVM(256, nil, nil)
	runTop(t, vm, c, code)
	if len(vm.Data) != 1 || vm.Data[0] != 5 {
		t.Fatalf("abs: got %v, want [5]", vm.Data)
	}
}

func TestMinMaxStdlibWords(t *testing.T) {
	code, c := assemble(t, "3 9 min 3 9 max")
	vm := NewVM(256, nil, nil)
	runTop(t, vm, c, code)
	if len(vm.Data) != 2 || vm.Data[0] != 3 || vm.Data[1] != 9 {
		t.Fatalf("min/max: got %v, want [3 9]", vm.Data)
	}
}

func TestDipStdlibWord(t *testing.T) {
	// ( x y q -- x' y ): q runs on x with y hidden, y is restored on top.
	code, c := assemble(t, "3 5 [ 1+ ] dip")
	vm := NewVM(256, nil, nil)
	runTop(t, vm, c, code)
	if len(vm.Data) != 2 || vm.Data[0] != 4 || vm.Data[1] != 5 {
		t.Fatalf("dip: got %v, want [4 5]", vm.Data)
	}
}

func TestKeepStdlibWord(t *testing.T) {
	// ( x q -- x q(x) ): x survives alongside q's result.
	code, c := assemble(t, "5 [ 1+ ] keep")
	vm := NewVM(256, nil, nil)
	runTop(t, vm, c, code)
	if len(vm.Data) != 2 || vm.Data[0] != 5 || vm.Data[1] != 6 {
		t.Fatalf("keep: got %v, want [5 6]", vm.Data)
	}
}

func TestBiStdlibWord(t *testing.T) {
	// ( x p q -- p(x) q(x) )
	code, c := assemble(t, "5 [ 1+ ] [ 2 * ] bi")
	vm := NewVM(256, nil, nil)
	runTop(t, vm, c, code)
	if len(vm.Data) != 2 || vm.Data[0] != 6 || vm.Data[1] != 10 {
		t.Fatalf("bi: got %v, want [6 10]", vm.Data)
	}
}

func TestTriStdlibWord(t *testing.T) {
	// ( x p q r -- p(x) q(x) r(x) )
	code, c := assemble(t, "5 [ 1+ ] [ 2 * ] [ square ] tri")
	vm := NewVM(256, nil, nil)
	runTop(t, vm, c, code)
	if len(vm.Data) != 3 || vm.Data[0] != 6 || vm.Data[1] != 10 || vm.Data[2] != 25 {
		t.Fatalf("tri: got %v, want [6 10 25]", vm.Data)
	}
}

func TestBiAtStdlibWord(t *testing.T) {
	// ( x y q -- q(x) q(y) ): the same quotation applied to both operands.
	code, c := assemble(t, "3 4 [ square ] bi@")
	vm := NewVM(256, nil, nil)
	runTop(t, vm, c, code)
	if len(vm.Data) != 2 || vm.Data[0] != 9 || vm.Data[1] != 16 {
		t.Fatalf("bi@: got %v, want [9 16]", vm.Data)
	}
}

func TestBothAndEitherStdlibWords(t *testing.T) {
	both, c := assemble(t, "5 [ 0 > ] [ 10 < ] both?")
	vm := NewVM(256, nil, nil)
	runTop(t, vm, c, both)
	if len(vm.Data) != 1 || vm.Data[0] != -1 {
		t.Fatalf("both?: got %v, want [-1] (both predicates true)", vm.Data)
	}

	either, c2 := assemble(t, "5 [ 0 < ] [ 10 < ] either?")
	vm2 := NewVM(256, nil, nil)
	runTop(t, vm2, c2, either)
	if len(vm2.Data) != 1 || vm2.Data[0] != -1 {
		t.Fatalf("either?: got %v, want [-1] (one predicate true)", vm2.Data)
	}
}

func TestIncrementDecrementStoreStdlibWords(t *testing.T) {
	// mem[100]: 5, then +3 -> 8, then -(-2) -> 10.
	code, c := assemble(t, "5 100 ! 3 100 +! -2 100 -! 100 @")
	vm := NewVM(256, nil, nil)
	runTop(t, vm, c, code)
	if len(vm.Data) != 1 || vm.Data[0] != 10 {
		t.Fatalf("+!/-!: got %v, want [10]", vm.Data)
	}
}

// TestBranchTakenAdvancesPastOperand guards against a regression where the
// branch target was computed from the opcode's own address instead of from
// just past the two-byte instruction (spec.md's "after reading the opcode
// and operand byte, p advances past both; Branch(x) then adds x to p").
// Poison bytes between the branch and its target are PopAux opcodes, which
// underflow on an empty aux stack if control ever lands among them.
func TestBranchTakenAdvancesPastOperand(t *testing.T) {
	branch, err := lang.Encode(lang.Br(3), nil)
	if err != nil {
		t.Fatalf("encode branch: %v", err)
	}
	popAux, err := lang.Encode(lang.Prim(lang.PopAux), nil)
	if err != nil {
		t.Fatalf("encode popAux: %v", err)
	}
	ret, err := lang.Encode(lang.Prim(lang.Return), nil)
	if err != nil {
		t.Fatalf("encode return: %v", err)
	}
	code := append(append(append([]byte{}, branch...), bytes.Repeat(popAux, 3)...), ret...)

	vm := NewVM(32, nil, nil)
	if err := vm.Load(0, code); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := vm.Run(0); err != nil {
		t.Fatalf("branch landed short of its target and hit poison bytes: %v", err)
	}
}

// TestZeroBranchTakenAdvancesPastOperand is ZeroBranch's counterpart: the
// taken path must add its offset to PC *after* advancing past the
// instruction's own two bytes, not instead of it.
func TestZeroBranchTakenAdvancesPastOperand(t *testing.T) {
	lit0, err := lang.Encode(lang.Lit(0), nil)
	if err != nil {
		t.Fatalf("encode lit: %v", err)
	}
	zbranch, err := lang.Encode(lang.ZeroBr(3), nil)
	if err != nil {
		t.Fatalf("encode zbranch: %v", err)
	}
	popAux, err := lang.Encode(lang.Prim(lang.PopAux), nil)
	if err != nil {
		t.Fatalf("encode popAux: %v", err)
	}
	ret, err := lang.Encode(lang.Prim(lang.Return), nil)
	if err != nil {
		t.Fatalf("encode return: %v", err)
	}
	code := append(append(append(append([]byte{}, lit0...), zbranch...), bytes.Repeat(popAux, 3)...), ret...)

	vm := NewVM(32, nil, nil)
	if err := vm.Load(0, code); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := vm.Run(0); err != nil {
		t.Fatalf("zbranch (taken) landed short of its target and hit poison bytes: %v", err)
	}
}

// TestZeroBranchNotTakenAdvancesByTwo is the not-taken path's regression
// guard: it must step past only the instruction itself, landing on the very
// next instruction rather than skipping or re-reading the operand byte.
func TestZeroBranchNotTakenAdvancesByTwo(t *testing.T) {
	lit1, err := lang.Encode(lang.Lit(1), nil)
	if err != nil {
		t.Fatalf("encode lit: %v", err)
	}
	zbranch, err := lang.Encode(lang.ZeroBr(99), nil)
	if err != nil {
		t.Fatalf("encode zbranch: %v", err)
	}
	lit7, err := lang.Encode(lang.Lit(7), nil)
	if err != nil {
		t.Fatalf("encode lit7: %v", err)
	}
	ret, err := lang.Encode(lang.Prim(lang.Return), nil)
	if err != nil {
		t.Fatalf("encode return: %v", err)
	}
	code := append(append(append(append([]byte{}, lit1...), zbranch...), lit7...), ret...)

	vm := NewVM(32, nil, nil)
	if err := vm.Load(0, code); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := vm.Run(0); err != nil {
		t.Fatalf("run: %v", err)
	}
	// The zbranch consumed its predicate (1), so only the 7 remains.
	if len(vm.Data) != 1 || vm.Data[0] != 7 {
		t.Fatalf("zbranch not taken: got %v, want [7]", vm.Data)
	}
}

// TestEdgeConstantsMatchLanguageLevel confirms device.Edge* agree with the
// language-level change=1/falling=2/rising=3 constants a program actually
// passes across the wire as attachISR's mode operand (spec §4.5b).
func TestEdgeConstantsMatchLanguageLevel(t *testing.T) {
	board := NewSimBoard()
	vm := NewVM(256, board, nil)

	// rising=3: attach on pin 1 with mode 3 (operands: pin mode handler),
	// expect a fire on a low->high transition and nothing on a high->low one.
	riseCode, c := assemble(t, "0 1 digitalWrite 1 rising 0 attachISR")
	runTop(t, vm, c, riseCode)
	board.DigitalWrite(1, 1)
	if _, ok := board.Pending(); !ok {
		t.Fatal("rising attachISR should fire on a low->high transition")
	}
	board.DigitalWrite(1, 0)
	if _, ok := board.Pending(); ok {
		t.Fatal("rising attachISR should not fire on a high->low transition")
	}

	// falling=2: attach on pin 2, expect a fire only on high->low.
	fallCode, c2 := assemble(t, "1 2 digitalWrite 2 falling 0 attachISR")
	runTop(t, vm, c2, fallCode)
	board.DigitalWrite(2, 0)
	if _, ok := board.Pending(); !ok {
		t.Fatal("falling attachISR should fire on a high->low transition")
	}
}

// TestResetRewindsHereLastAndMemory guards the host/device lockstep
// invariant (spec.md: the host's Address counter always resets to 0, so
// the device's Here/Last and committed memory must rewind with it, or a
// later definition lands at an address the device thinks is already
// occupied by stale bytes).
func TestResetRewindsHereLastAndMemory(t *testing.T) {
	vm := NewVM(16, nil, nil)
	if err := vm.Load(0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("load: %v", err)
	}
	vm.Last = 1

	vm.Reset()

	if vm.Here != 0 {
		t.Fatalf("Here should rewind to 0, got %d", vm.Here)
	}
	if vm.Last != 0 {
		t.Fatalf("Last should rewind to 0, got %d", vm.Last)
	}
	for i, b := range vm.Mem {
		if b != 0 {
			t.Fatalf("Mem[%d] = %d, want 0 after reset", i, b)
		}
	}
}

// TestHandleFrameDefinitionSetsLast pins spec §4.7's definition-frame
// contract: "the payload is appended ... and last = here is updated",
// specifically that last records where *this* definition started, not
// where Here ends up after appending it.
func TestHandleFrameDefinitionSetsLast(t *testing.T) {
	vm := NewVM(16, nil, nil)

	if err := vm.handleFrame(wire.HostFrame{Execute: false, Payload: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("first definition frame: %v", err)
	}
	if vm.Last != 0 {
		t.Fatalf("Last after the first definition should be 0, got %d", vm.Last)
	}
	if vm.Here != 3 {
		t.Fatalf("Here after the first definition should be 3, got %d", vm.Here)
	}

	if err := vm.handleFrame(wire.HostFrame{Execute: false, Payload: []byte{4, 5}}); err != nil {
		t.Fatalf("second definition frame: %v", err)
	}
	if vm.Last != 3 {
		t.Fatalf("Last after the second definition should be 3 (where it started), got %d", vm.Last)
	}
	if vm.Here != 5 {
		t.Fatalf("Here after the second definition should be 5, got %d", vm.Here)
	}
}
