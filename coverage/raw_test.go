package coverage

import (
	"strings"
	"testing"

	"github.com/chazu/magcov/diag"
)

func TestApplyRaw(t *testing.T) {
	p := NewProject()
	p.AddClass(instrumentedClass())

	mask, err := NewMask(0, 2, 3, 6)
	if err != nil {
		t.Fatal(err)
	}
	raw := &RawProject{Classes: []RawClass{
		{Name: "acme/Router", Hits: []int64{2, 1}, Mask: mask},
		{Name: "acme/Gone", Hits: []int64{1}},
		{Name: "acme/Router", Mask: []byte("not a bitmap")},
	}}

	var rep diag.Collector
	if n := ApplyRaw(p, raw, &rep); n != 1 {
		t.Errorf("ApplyRaw applied %d classes, want 1", n)
	}
	c := p.Class("acme/Router")
	if got := c.Line(10).Hits(); got != 3 {
		t.Errorf("line 10 hits = %d, want 3", got)
	}
	j := c.Line(10).Jumps()[0]
	if j.TrueHits != 1 || j.FalseHits != 1 {
		t.Errorf("jump = %d/%d, want 1/1", j.TrueHits, j.FalseHits)
	}
	if got := c.Line(11).Switches()[0].DefaultHits; got != 1 {
		t.Errorf("default hits = %d, want 1", got)
	}

	errs := rep.Errors()
	if len(errs) != 2 {
		t.Fatalf("reported %d errors, want 2: %v", len(errs), errs)
	}
	if !strings.Contains(errs[0], "acme/Gone") {
		t.Errorf("first error = %q, want the missing class", errs[0])
	}
	if !strings.Contains(errs[1], "bad hits mask") {
		t.Errorf("second error = %q, want a mask error", errs[1])
	}
}

func TestRawCBORRoundTrip(t *testing.T) {
	mask, err := MaskFromHits([]int64{0, 3, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	raw := &RawProject{Classes: []RawClass{{Name: "acme/A", Hits: []int64{0, 3, 0, 1}, Mask: mask}}}
	data, err := MarshalRaw(raw)
	if err != nil {
		t.Fatal(err)
	}
	back, err := UnmarshalRaw(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(back.Classes) != 1 || back.Classes[0].Name != "acme/A" || len(back.Classes[0].Mask) == 0 {
		t.Errorf("round trip = %+v", back)
	}
	hits, err := back.Classes[0].counters(4)
	if err != nil {
		t.Fatal(err)
	}
	if hits[1] != 4 || hits[3] != 2 || hits[0] != 0 {
		t.Errorf("counters = %v, want [0 4 0 2]", hits)
	}
}
