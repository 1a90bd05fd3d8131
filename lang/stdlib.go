package lang

// populateInitialDictionary seeds a freshly cleared dictionary with one
// entry per primitive opcode, followed by the secondary stdlib words
// defined in terms of those primitives (spec §4.5). Primitive aliases
// bypass the shrink mechanism entirely: their code is always the single
// opcode byte, never a call, so defining them can never advance the
// device address or queue pending bytes.
func populateInitialDictionary(c *Compiler) {
	for p := Primitive(0); p < numPrimitives; p++ {
		prim := p
		brief := Prim(prim)
		c.Dict.Define(&brief, primitiveNames[prim], func() ([]byte, error) {
			return Encode(Prim(prim), c.Dict)
		})
	}

	for _, w := range secondaryWords {
		defineSecondary(c, w.name, w.source)
	}
}

// defineSecondary lexes and parses source, then registers the lazy
// compilation. Names in source are looked up when the word is first forced,
// not when it is defined. Lexing and parsing never depend on the
// dictionary, only AssembleEager does, so any error here is a defect in
// this file rather than something a caller could trigger.
func defineSecondary(c *Compiler, name, source string) {
	toks, err := Lex(source)
	if err != nil {
		panic("lang: stdlib word " + name + ": " + err.Error())
	}
	nodes, err := Parse(toks)
	if err != nil {
		panic("lang: stdlib word " + name + ": " + err.Error())
	}
	c.Dict.Define(nil, name, func() ([]byte, error) {
		return c.AssembleLazy(name, nodes).Force()
	})
}

// secondaryWords lists the stdlib words built from primitives and other
// secondary words (spec §4.5b). A source resolves its names newest-first at
// first force, so it may use any primitive alias or any word in this list.
var secondaryWords = []struct{ name, source string }{
	// Stack shuffling built from the primitive set. These are plain
	// instruction sequences, not quotations: a word's source is its body,
	// spliced or called at each use site by the shrink mechanism.
	{"over", "1 pick"},
	{"rot", ">a swap a> swap"},
	{"nip", "swap drop"},
	{"tuck", "swap over"},

	// Booleans and named constants (spec §4.5b gives these literal values).
	{"true", "-1"},
	{"false", "0"},
	{"high", "-1"},
	{"low", "0"},
	{"on", "-1"},
	{"off", "0"},
	{"input", "0"},
	{"output", "1"},
	{"change", "1"},
	{"falling", "2"},
	{"rising", "3"},

	// Arithmetic helpers. These use [ ... ] quotation literals only where a
	// branch needs to pick code at runtime via if or choice.
	{"square", "dup *"},
	{"abs", "dup 0 < [ neg ] if"},
	{"min", "over over < [ swap ] [ ] choice call nip"},
	{"max", "over over > [ swap ] [ ] choice call nip"},
	{"sign", "dup 0 > [ drop 1 ] [ dup 0 < [ drop -1 ] [ ] choice call ] choice call"},
	{"clamp", ">a swap a> min max"},
	// sum folds three cells into their total, e.g. three analogRead samples.
	{"sum", "+ +"},

	// Combinators over quotations passed in on the stack.
	{"dip", "swap >a call a>"},
	{"keep", ">a dup a> call"},
	{"bi", ">a over >a call a> a> call"},
	{"tri", ">a 2 pick >a bi a> a> call"},
	{"bi@", ">a swap a@ call swap a> call"},
	{"both?", "bi and"},
	{"either?", "bi or"},

	// Incrementing stores over the 16-bit memory primitives: ( n addr -- )
	// adds/subtracts n to/from the cell at addr.
	{"+!", "dup @ rot + swap !"},
	{"-!", "dup @ rot - swap !"},
}
