package lang

import "sync"

// Lazy is a suspended byte-code generator: on first Force it runs gen
// exactly once and memoizes the result (spec §3: "a once-cell holding
// Vec<u8>"). Forcing is idempotent and safe to call repeatedly; it is not
// safe for concurrent callers, matching the single-threaded compiler model
// of spec §5.
type Lazy struct {
	once   sync.Once
	gen    func() ([]byte, error)
	code   []byte
	err    error
	forced bool
}

// NewLazy wraps gen as a suspended computation.
func NewLazy(gen func() ([]byte, error)) *Lazy {
	return &Lazy{gen: gen}
}

// Forced reports whether Force has already run gen.
func (l *Lazy) Forced() bool {
	return l.forced
}

// Force runs the generator at most once and returns its memoized result.
func (l *Lazy) Force() ([]byte, error) {
	l.once.Do(func() {
		l.code, l.err = l.gen()
		l.forced = true
	})
	return l.code, l.err
}

// Definition is one dictionary entry (spec §3). Brief is non-empty when
// this word is a host-visible alias for a primitive instruction; Code is
// the lazily produced byte sequence backing it.
type Definition struct {
	Word  string
	Brief *Instruction
	Code  *Lazy

	// ForeignMember is an opaque token used only by the excluded
	// foreign-bytecode translator (spec §4.2); always nil here.
	ForeignMember any
}

// Dictionary is the ordered, newest-first, append-only sequence of
// definitions (spec §3, §4.2).
type Dictionary struct {
	entries []*Definition
}

// NewDictionary returns an empty dictionary. Callers typically populate it
// immediately via a Compiler's primitive/stdlib initializer (spec §4.5).
func NewDictionary() *Dictionary {
	return &Dictionary{}
}

// Define appends a new definition. Definitions are never patched in place;
// shadowing happens purely through newest-first lookup order.
func (d *Dictionary) Define(brief *Instruction, word string, gen func() ([]byte, error)) *Definition {
	def := &Definition{Word: word, Brief: brief, Code: NewLazy(gen)}
	d.entries = append(d.entries, def)
	return def
}

// FindByName returns the newest definition named word, if any.
func (d *Dictionary) FindByName(word string) (*Definition, bool) {
	for i := len(d.entries) - 1; i >= 0; i-- {
		if d.entries[i].Word == word {
			return d.entries[i], true
		}
	}
	return nil, false
}

// FindByBrief returns the newest definition whose brief equals want.
func (d *Dictionary) FindByBrief(want Instruction) (*Definition, bool) {
	for i := len(d.entries) - 1; i >= 0; i-- {
		if b := d.entries[i].Brief; b != nil && *b == want {
			return d.entries[i], true
		}
	}
	return nil, false
}

// findByCode locates the newest definition whose already-forced code
// exactly equals bytes. Used only by the disassembler (spec §4.2). A
// definition that has never been forced cannot match: disassembly only
// makes sense for committed (and therefore forced) code.
func (d *Dictionary) findByCode(bytes []byte) (*Definition, bool) {
	for i := len(d.entries) - 1; i >= 0; i-- {
		def := d.entries[i]
		if !def.Code.forced {
			continue
		}
		if string(def.Code.code) == string(bytes) {
			return def, true
		}
	}
	return nil, false
}

// IterNewestFirst calls fn for every definition, newest first, stopping
// early if fn returns false.
func (d *Dictionary) IterNewestFirst(fn func(*Definition) bool) {
	for i := len(d.entries) - 1; i >= 0; i-- {
		if !fn(d.entries[i]) {
			return
		}
	}
}

// Clear drops all entries. Repopulating with the primitive/stdlib
// initializer (spec §4.5) is the Compiler's job, since the stdlib's
// secondary definitions are lazy compilations that need a live Compiler to
// assemble and (potentially) shrink against.
func (d *Dictionary) Clear() {
	d.entries = d.entries[:0]
}
