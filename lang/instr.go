// Package lang implements the host-side compiler for the device's
// concatenative language: the byte-code model, the dictionary, the
// lexer/parser, and the assembler/shrinker that turns parsed source into
// the byte stream the device executes.
package lang

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind tags the variant an Instruction holds.
type Kind uint8

const (
	KindPrimitive Kind = iota
	KindLiteral
	KindBranch
	KindZeroBranch
	KindQuote
	KindWord
	KindNoOperation
	KindUser
)

// Primitive enumerates every zero-operand opcode the device implements
// directly, addressable by name in the dictionary (spec §4.5). Numbering
// is an implementation detail, but must agree between host and device
// within one build (spec §9).
type Primitive uint8

const (
	Return Primitive = iota
	EventPackStart
	EventBody8
	EventBody16
	EventPackFinish
	EventScalar
	Fetch8
	Store8
	Fetch16
	Store16
	Add
	Sub
	Mul
	Div
	Mod
	And
	Or
	Xor
	Shift
	Eq
	Ne
	Gt
	Ge
	Lt
	Le
	Not
	Neg
	Inc
	Dec
	Drop
	Dup
	Swap
	Pick
	Roll
	Clear
	PushAux
	PopAux
	PeekAux
	Forget
	CallFromStack
	Choice
	If
	LoopTicks
	SetLoop
	StopLoop
	Reset
	PinMode
	DigitalRead
	DigitalWrite
	AnalogRead
	AnalogWrite
	AttachISR
	DetachISR
	Milliseconds
	PulseIn
	I2CBegin
	I2CWrite
	ServoAttach
	ServoWrite

	numPrimitives
)

var primitiveNames = [numPrimitives]string{
	Return:          "return",
	EventPackStart:  "event{",
	EventBody8:      "data8",
	EventBody16:     "data16",
	EventPackFinish: "}event",
	EventScalar:     "event",
	Fetch8:          "@b",
	Store8:          "!b",
	Fetch16:         "@",
	Store16:         "!",
	Add:             "+",
	Sub:             "-",
	Mul:             "*",
	Div:             "/",
	Mod:             "mod",
	And:             "and",
	Or:              "or",
	Xor:             "xor",
	Shift:           "shift",
	Eq:              "=",
	Ne:              "<>",
	Gt:              ">",
	Ge:              ">=",
	Lt:              "<",
	Le:              "<=",
	Not:             "not",
	Neg:             "neg",
	Inc:             "1+",
	Dec:             "1-",
	Drop:            "drop",
	Dup:             "dup",
	Swap:            "swap",
	Pick:            "pick",
	Roll:            "roll",
	Clear:           "clear",
	PushAux:         ">a",
	PopAux:          "a>",
	PeekAux:         "a@",
	Forget:          "forget",
	CallFromStack:   "call",
	Choice:          "choice",
	If:              "if",
	LoopTicks:       "i",
	SetLoop:         "setLoop",
	StopLoop:        "stopLoop",
	Reset:           "reset",
	PinMode:         "pinMode",
	DigitalRead:     "digitalRead",
	DigitalWrite:    "digitalWrite",
	AnalogRead:      "analogRead",
	AnalogWrite:     "analogWrite",
	AttachISR:       "attachISR",
	DetachISR:       "detachISR",
	Milliseconds:    "milliseconds",
	PulseIn:         "pulseIn",
	I2CBegin:        "i2cBegin",
	I2CWrite:        "i2cWrite",
	ServoAttach:     "servoAttach",
	ServoWrite:      "servoWrite",
}

func (p Primitive) String() string {
	if p >= numPrimitives {
		return fmt.Sprintf("prim(%d)", byte(p))
	}
	return primitiveNames[p]
}

// primitiveOpcode is the stable one-byte encoding for each Primitive. Index
// 0 (Return) through len-1 map to opcodes 1..numPrimitives in the low,
// high-bit-clear opcode space; opLit8..opQuote sit above them, also with the
// high bit clear, so neither collides with a call's high-bit-set first byte.
var primitiveOpcode [numPrimitives]byte

const (
	opLit8 byte = 0x70 + iota
	opLit16
	opBranch
	opZeroBranch
	opQuote
)

func init() {
	for i := Primitive(0); i < numPrimitives; i++ {
		primitiveOpcode[i] = byte(i) + 1 // leave 0x00 reserved/unused
	}
	if opLit8 <= primitiveOpcode[numPrimitives-1] {
		panic("lang: primitive opcode space collides with special opcodes")
	}
}

// Instruction is the tagged-variant representation of one instruction
// (spec §3). It is comparable so Dictionary.FindByBrief can match a
// primitive alias by equality.
type Instruction struct {
	Kind Kind

	Lit  int16  // KindLiteral
	Off  int8   // KindBranch, KindZeroBranch
	N    uint8  // KindQuote: body length including trailing return
	Addr int16  // KindWord
	Name string // KindWord: the name being called, for disassembly/printing
	Raw  byte   // KindUser

	Prim Primitive // KindPrimitive
}

func Lit(v int16) Instruction     { return Instruction{Kind: KindLiteral, Lit: v} }
func Br(off int8) Instruction     { return Instruction{Kind: KindBranch, Off: off} }
func ZeroBr(off int8) Instruction { return Instruction{Kind: KindZeroBranch, Off: off} }
func QuoteOf(n uint8) Instruction { return Instruction{Kind: KindQuote, N: n} }
func Call(addr int16, name string) Instruction {
	return Instruction{Kind: KindWord, Addr: addr, Name: name}
}
func NoOp() Instruction            { return Instruction{Kind: KindNoOperation} }
func UserOp(b byte) Instruction    { return Instruction{Kind: KindUser, Raw: b} }
func Prim(p Primitive) Instruction { return Instruction{Kind: KindPrimitive, Prim: p} }

// MaxCallAddress is the largest address a Word call can address (15 bits).
const MaxCallAddress = 0x7FFF

func (i Instruction) String() string {
	switch i.Kind {
	case KindLiteral:
		return fmt.Sprintf("lit(%d)", i.Lit)
	case KindBranch:
		return fmt.Sprintf("branch(%d)", i.Off)
	case KindZeroBranch:
		return fmt.Sprintf("0branch(%d)", i.Off)
	case KindQuote:
		return fmt.Sprintf("quote(%d)", i.N)
	case KindWord:
		if i.Name != "" {
			return fmt.Sprintf("call(%d:%s)", i.Addr, i.Name)
		}
		return fmt.Sprintf("call(%d)", i.Addr)
	case KindNoOperation:
		return "nop"
	case KindUser:
		return fmt.Sprintf("(user<%d>)", i.Raw)
	case KindPrimitive:
		return i.Prim.String()
	default:
		return "?"
	}
}

// Encode produces the byte encoding for i per the single-source-of-truth
// table in spec §4.1. A KindPrimitive value encodes straight from the
// primitiveOpcode table; dict is not consulted and may be nil.
func Encode(i Instruction, dict *Dictionary) ([]byte, error) {
	switch i.Kind {
	case KindLiteral:
		if i.Lit >= -128 && i.Lit <= 127 {
			return []byte{opLit8, byte(int8(i.Lit))}, nil
		}
		v := uint16(i.Lit)
		return []byte{opLit16, byte(v >> 8), byte(v)}, nil
	case KindBranch:
		return []byte{opBranch, byte(i.Off)}, nil
	case KindZeroBranch:
		return []byte{opZeroBranch, byte(i.Off)}, nil
	case KindQuote:
		return []byte{opQuote, i.N}, nil
	case KindWord:
		if i.Addr < 0 || i.Addr > MaxCallAddress {
			return nil, errors.Wrapf(ErrAddressOutOfRange, "call address %d", i.Addr)
		}
		hi := byte(i.Addr>>8) | 0x80
		lo := byte(i.Addr)
		return []byte{hi, lo}, nil
	case KindNoOperation:
		return nil, nil
	case KindUser:
		return []byte{i.Raw}, nil
	case KindPrimitive:
		return []byte{primitiveOpcode[i.Prim]}, nil
	default:
		return nil, errors.Wrapf(ErrEncoding, "unrecognized instruction %v", i)
	}
}

// EncodeAll concatenates the encoding of each instruction in order.
func EncodeAll(is []Instruction, dict *Dictionary) ([]byte, error) {
	var out []byte
	for _, i := range is {
		b, err := Encode(i, dict)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// opcodeToPrimitive inverts primitiveOpcode for disassembly.
func opcodeToPrimitive(b byte) (Primitive, bool) {
	for p := Primitive(0); p < numPrimitives; p++ {
		if primitiveOpcode[p] == b {
			return p, true
		}
	}
	return 0, false
}

// Exported opcode constants and lookups, so the device package's
// interpreter and the host's assembler decode the exact same byte values
// (spec §9: host and device must agree on numbering within one build).
const (
	OpLit8       = opLit8
	OpLit16      = opLit16
	OpBranch     = opBranch
	OpZeroBranch = opZeroBranch
	OpQuote      = opQuote
)

// PrimitiveOpcode returns the one-byte encoding of p.
func PrimitiveOpcode(p Primitive) byte { return primitiveOpcode[p] }

// OpcodeToPrimitive inverts PrimitiveOpcode.
func OpcodeToPrimitive(b byte) (Primitive, bool) { return opcodeToPrimitive(b) }

// Disassemble scans code and recovers the instruction sequence, resolving
// call targets (high-bit-set two-byte pairs) against dict's exact-bytes
// index. A byte that is neither a known primitive nor a resolvable call
// still disassembles successfully as a KindUser instruction (spec §4.1).
func Disassemble(code []byte, dict *Dictionary) ([]Instruction, error) {
	var out []Instruction
	for p := 0; p < len(code); {
		b := code[p]
		switch {
		case b&0x80 != 0:
			if p+1 >= len(code) {
				return nil, errors.Wrapf(ErrEncoding, "truncated call at offset %d", p)
			}
			addr := int16(b&0x7F)<<8 | int16(code[p+1])
			name := ""
			if def, ok := dict.findByCode([]byte{b, code[p+1]}); ok {
				name = def.Word
			}
			out = append(out, Call(addr, name))
			p += 2
		case b == opLit8:
			if p+1 >= len(code) {
				return nil, errors.Wrapf(ErrEncoding, "truncated lit8 at offset %d", p)
			}
			out = append(out, Lit(int16(int8(code[p+1]))))
			p += 2
		case b == opLit16:
			if p+2 >= len(code) {
				return nil, errors.Wrapf(ErrEncoding, "truncated lit16 at offset %d", p)
			}
			v := int16(uint16(code[p+1])<<8 | uint16(code[p+2]))
			out = append(out, Lit(v))
			p += 3
		case b == opBranch:
			if p+1 >= len(code) {
				return nil, errors.Wrapf(ErrEncoding, "truncated branch at offset %d", p)
			}
			out = append(out, Br(int8(code[p+1])))
			p += 2
		case b == opZeroBranch:
			if p+1 >= len(code) {
				return nil, errors.Wrapf(ErrEncoding, "truncated 0branch at offset %d", p)
			}
			out = append(out, ZeroBr(int8(code[p+1])))
			p += 2
		case b == opQuote:
			if p+1 >= len(code) {
				return nil, errors.Wrapf(ErrEncoding, "truncated quote at offset %d", p)
			}
			out = append(out, QuoteOf(code[p+1]))
			p += 2
		default:
			if prim, ok := opcodeToPrimitive(b); ok {
				out = append(out, Prim(prim))
			} else {
				out = append(out, UserOp(b))
			}
			p++
		}
	}
	return out, nil
}
