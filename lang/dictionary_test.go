package lang

import "testing"

func TestDictionaryFindByBriefNewestWins(t *testing.T) {
	d := NewDictionary()
	brief := Prim(Dup)
	d.Define(&brief, "dup", func() ([]byte, error) { return []byte{1}, nil })
	d.Define(&brief, "duplicate", func() ([]byte, error) { return []byte{1}, nil })

	def, ok := d.FindByBrief(brief)
	if !ok || def.Word != "duplicate" {
		t.Fatalf("got %+v, want the newest alias", def)
	}
}

func TestDictionaryIterNewestFirst(t *testing.T) {
	d := NewDictionary()
	d.Define(nil, "a", func() ([]byte, error) { return nil, nil })
	d.Define(nil, "b", func() ([]byte, error) { return nil, nil })
	d.Define(nil, "c", func() ([]byte, error) { return nil, nil })

	var order []string
	d.IterNewestFirst(func(def *Definition) bool {
		order = append(order, def.Word)
		return true
	})
	want := []string{"c", "b", "a"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestDictionaryClearAndReset(t *testing.T) {
	c := NewCompiler()
	if _, ok := c.Dict.FindByName("dup"); !ok {
		t.Fatal("fresh compiler should have primitive words")
	}
	c.Dict.Define(nil, "scratch", func() ([]byte, error) { return nil, nil })
	if _, ok := c.Dict.FindByName("scratch"); !ok {
		t.Fatal("scratch not defined")
	}

	c.Address = 42
	c.Pending = []byte{1, 2, 3}
	c.Reset()

	if c.Address != 0 {
		t.Fatalf("Reset should zero address, got %d", c.Address)
	}
	if len(c.Pending) != 0 {
		t.Fatalf("Reset should drop pending, got %v", c.Pending)
	}
	if _, ok := c.Dict.FindByName("scratch"); ok {
		t.Fatal("Reset should drop user definitions")
	}
	if _, ok := c.Dict.FindByName("dup"); !ok {
		t.Fatal("Reset should repopulate primitives")
	}
}
