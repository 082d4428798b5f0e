package instrument

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/magcov/coverage"
	"github.com/chazu/magcov/insn"
)

func TestAllocator(t *testing.T) {
	a := NewAllocator(true)
	for want := 0; want < 4; want++ {
		if got := a.Next(); got != want {
			t.Fatalf("Next() = %d, want %d", got, want)
		}
	}
	a.AddInstructions(1, 3)
	a.AddInstructions(3, 2)
	a.AddInstructions(9, 5)

	if !a.Rewind(2) {
		t.Fatal("Rewind(2) = false, want true")
	}
	if a.Count() != 2 {
		t.Errorf("Count() = %d, want 2", a.Count())
	}
	if got := a.Next(); got != 2 {
		t.Errorf("Next() after rewind = %d, want 2", got)
	}
	if got := a.Instructions(2); got != 0 {
		t.Errorf("Instructions(2) after rewind = %d, want 0", got)
	}
	if got := a.Instructions(1); got != 3 {
		t.Errorf("Instructions(1) = %d, want 3", got)
	}
	if a.Rewind(7) || a.Rewind(-1) {
		t.Error("Rewind accepted an id that was never issued")
	}
}

func TestAllocatorWithoutInstructions(t *testing.T) {
	a := NewAllocator(false)
	id := a.Next()
	a.AddInstructions(id, 4)
	if got := a.Instructions(id); got != 0 {
		t.Errorf("Instructions(%d) = %d, want 0", id, got)
	}
}

func TestExpandRange(t *testing.T) {
	tests := []struct {
		name   string
		lo, hi int32
		want   []int32
	}{
		{"small", 1, 3, []int32{1, 2, 3}},
		{"single", 7, 7, []int32{7}},
		{"negative", -2, 0, []int32{-2, -1, 0}},
		{"near min", math.MinInt32 + 5, math.MinInt32 + 7, []int32{math.MinInt32 + 5, math.MinInt32 + 6, math.MinInt32 + 7}},
		{"at min", math.MinInt32, math.MinInt32 + 1, []int32{math.MinInt32, math.MinInt32 + 1}},
		{"near max", math.MaxInt32 - 1, math.MaxInt32, []int32{math.MaxInt32 - 1, math.MaxInt32}},
		{"max only", math.MaxInt32, math.MaxInt32, []int32{math.MaxInt32}},
	}
	for _, tt := range tests {
		got, err := ExpandRange(tt.lo, tt.hi)
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("%s: ExpandRange(%d, %d) mismatch (-want +got):\n%s", tt.name, tt.lo, tt.hi, diff)
		}
	}
}

func TestExpandRangeRejects(t *testing.T) {
	tests := []struct {
		name   string
		lo, hi int32
	}{
		{"inverted", 5, 4},
		{"too wide", 0, MaxSwitchArms},
		{"full range", math.MinInt32, math.MaxInt32},
	}
	for _, tt := range tests {
		if keys, err := ExpandRange(tt.lo, tt.hi); err == nil {
			t.Errorf("%s: ExpandRange(%d, %d) = %d keys, want error", tt.name, tt.lo, tt.hi, len(keys))
		}
	}
	keys, err := ExpandRange(0, MaxSwitchArms-1)
	if err != nil || len(keys) != MaxSwitchArms {
		t.Errorf("ExpandRange(0, %d) = %d keys, %v; want %d keys", MaxSwitchArms-1, len(keys), err, MaxSwitchArms)
	}
}

func enumerateClass(t *testing.T, c *insn.Class, branches bool, filters ...Filter) (*coverage.Class, *Allocator, []*Enumerated) {
	t.Helper()
	record := coverage.NewClass(c.Name, coverage.FlagBranches)
	alloc := NewAllocator(false)
	e := NewEnumerator(c, record, alloc, branches, filters...)
	var out []*Enumerated
	for _, m := range c.Methods {
		out = append(out, e.Enumerate(m))
	}
	record.IDCount = alloc.Count()
	return record, alloc, out
}

func TestEnumerateIDs(t *testing.T) {
	record, alloc, _ := enumerateClass(t, sampleClass(), true)

	if alloc.Count() != 13 {
		t.Fatalf("allocated %d ids, want 13", alloc.Count())
	}
	lines := map[int]int{10: 0, 11: 3, 12: 4, 20: 5, 21: 10, 22: 11, 23: 12}
	for n, id := range lines {
		l := record.Line(n)
		if l == nil {
			t.Errorf("line %d not registered", n)
			continue
		}
		if l.ID != id {
			t.Errorf("line %d ID = %d, want %d", n, l.ID, id)
		}
	}
	if got := record.Line(10).Method; got != "sign:(I)I" {
		t.Errorf("line 10 Method = %q, want %q", got, "sign:(I)I")
	}

	jumps := record.Line(10).Jumps()
	if len(jumps) != 1 || jumps[0].TrueID != 1 || jumps[0].FalseID != 2 {
		t.Errorf("line 10 jumps = %+v, want one jump with ids 1/2", jumps)
	}
	sw := record.Line(20).Switches()
	if len(sw) != 1 {
		t.Fatalf("line 20 has %d switches, want 1", len(sw))
	}
	if diff := cmp.Diff([]int32{1, 2, 3}, sw[0].Keys); diff != "" {
		t.Errorf("switch keys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{6, 7, 8}, sw[0].IDs); diff != "" {
		t.Errorf("switch ids mismatch (-want +got):\n%s", diff)
	}
	if sw[0].DefaultID != 9 {
		t.Errorf("switch DefaultID = %d, want 9", sw[0].DefaultID)
	}
	if record.Line(11).HasBranches() {
		t.Error("line 11 has branches")
	}
}

func TestEnumerateLookupKeys(t *testing.T) {
	c := &insn.Class{Name: "acme/Lookup", Methods: []*insn.Method{lookupMethod()}}
	record, _, _ := enumerateClass(t, c, true)
	sw := record.Line(30).Switches()[0]
	if diff := cmp.Diff([]int32{-100, 7}, sw.Keys); diff != "" {
		t.Errorf("lookup keys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2}, sw.IDs); diff != "" {
		t.Errorf("lookup ids mismatch (-want +got):\n%s", diff)
	}
}

func TestEnumerateLinesOnly(t *testing.T) {
	record, alloc, _ := enumerateClass(t, sampleClass(), false)
	if alloc.Count() != 7 {
		t.Errorf("allocated %d ids, want 7", alloc.Count())
	}
	for _, l := range record.Lines() {
		if l.HasBranches() {
			t.Errorf("line %d has branches in lines-only mode", l.Number)
		}
	}
}

func TestEnumerateRecurringLine(t *testing.T) {
	b := insn.NewBuilder("loop:", "(I)I").SetArity(1)
	top, done := b.NewLabel(), b.NewLabel()
	b.Mark(top).Line(5).PushTemp(0).PushInt(0).Jump(insn.OpJumpLT, done)
	b.Line(6).PushTemp(0).PushInt(1).Emit(insn.OpSub).StoreTemp(0)
	b.Line(5).PushTemp(0).PushInt(3).Jump(insn.OpJumpGE, top)
	b.Mark(done).Line(7).PushTemp(0).Emit(insn.OpReturnTop)
	c := &insn.Class{Name: "acme/Loop", Methods: []*insn.Method{b.Build()}}

	record, alloc, out := enumerateClass(t, c, true)
	if record.LineCount() != 3 {
		t.Errorf("LineCount() = %d, want 3", record.LineCount())
	}
	l := record.Line(5)
	if got := len(l.Jumps()); got != 2 {
		t.Errorf("line 5 has %d jumps, want 2", got)
	}
	// line 5 (0), jump (1,2), line 6 (3), jump (4,5), line 7 (6)
	if alloc.Count() != 7 {
		t.Errorf("allocated %d ids, want 7", alloc.Count())
	}
	var probes []int
	for _, a := range out[0].Code {
		if a.Op == insn.OpLine {
			probes = append(probes, a.LineID)
		}
	}
	if diff := cmp.Diff([]int{0, 3, 0, 6}, probes); diff != "" {
		t.Errorf("line probes mismatch (-want +got):\n%s", diff)
	}
}

func TestEnumerateNoLines(t *testing.T) {
	b := insn.NewBuilder("bare:", "(I)I").SetArity(1)
	neg := b.NewLabel()
	b.PushTemp(0).PushInt(0).Jump(insn.OpJumpLT, neg).PushInt(1).Emit(insn.OpReturnTop)
	b.Mark(neg).PushInt(-1).Emit(insn.OpReturnTop)
	m := b.Build()
	c := &insn.Class{Name: "acme/Bare", Methods: []*insn.Method{m}}

	record, alloc, out := enumerateClass(t, c, true)
	if record.LineCount() != 0 || alloc.Count() != 0 {
		t.Errorf("got %d lines and %d ids, want none", record.LineCount(), alloc.Count())
	}
	if diff := cmp.Diff(listing(m), listing(Inject(out[0]))); diff != "" {
		t.Errorf("method without lines was rewritten (-want +got):\n%s", diff)
	}
}

func TestEnumerateClassInitializer(t *testing.T) {
	b := insn.NewBuilder(insn.ClassInitializer, "()V")
	skip := b.NewLabel()
	b.Line(1).PushGlobal("Debug").Jump(insn.OpJumpFalse, skip)
	b.Line(2).PushInt(1).StoreGlobal("Level")
	b.Mark(skip).Line(3).Emit(insn.OpReturnNil)
	c := &insn.Class{Name: "acme/Static", Methods: []*insn.Method{b.Build()}}

	record, alloc, _ := enumerateClass(t, c, true)
	if alloc.Count() != 3 {
		t.Errorf("allocated %d ids, want 3", alloc.Count())
	}
	if record.Line(1).HasBranches() {
		t.Error("class initializer jump was registered")
	}
}

func TestEnumerateMalformedKeepsLines(t *testing.T) {
	b := insn.NewBuilder("broken:", "(I)V").SetArity(1)
	l := b.NewLabel()
	b.Line(70).PushTemp(0).PushInt(0).Jump(insn.OpJumpLT, l)
	b.Mark(l).Line(71).PushInt(1).Emit(insn.OpPOP)
	c := &insn.Class{Name: "acme/Broken", Methods: []*insn.Method{b.Build()}}

	record, alloc, out := enumerateClass(t, c, true)
	if out[0].Malformed == nil {
		t.Fatal("Malformed = nil, want verification error")
	}
	if record.LineCount() != 2 || alloc.Count() != 2 {
		t.Errorf("got %d lines and %d ids, want 2 and 2", record.LineCount(), alloc.Count())
	}
	if record.Line(70).HasBranches() {
		t.Error("jump of a malformed method was registered")
	}
}

func TestEnumerateWideSwitchSkipsAllBranches(t *testing.T) {
	b := insn.NewBuilder("wide:", "(I)I").SetArity(1)
	neg, arm, d := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Line(10).PushTemp(0).PushInt(0).Jump(insn.OpJumpLT, neg)
	arms := make([]*insn.Label, MaxSwitchArms+1)
	for i := range arms {
		arms[i] = arm
	}
	b.Line(11).PushTemp(0).TableSwitch(0, MaxSwitchArms, d, arms...)
	b.Mark(arm).Line(12).PushInt(1).Emit(insn.OpReturnTop)
	b.Mark(d).Line(13).PushInt(2).Emit(insn.OpReturnTop)
	b.Mark(neg).Line(14).PushTemp(0).PushInt(3).Jump(insn.OpJumpGE, d)
	b.PushInt(3).Emit(insn.OpReturnTop)
	m := b.Build()
	if err := insn.Verify(m); err != nil {
		t.Fatalf("Verify() = %v, want a well-formed method", err)
	}
	c := &insn.Class{Name: "acme/Wide", Methods: []*insn.Method{m}}

	record, alloc, out := enumerateClass(t, c, true)
	if out[0].Malformed == nil {
		t.Fatal("Malformed = nil, want the switch range error")
	}
	for _, l := range record.Lines() {
		if l.HasBranches() {
			t.Errorf("line %d has branches, want none in a method with an unlistable switch", l.Number)
		}
	}
	if alloc.Count() != 5 {
		t.Errorf("allocated %d ids, want 5 (lines only)", alloc.Count())
	}
	for _, a := range out[0].Code {
		if a.Jump != nil || a.Switch != nil {
			t.Errorf("instruction %s still annotated with a branch", a.Op)
		}
	}
}

func TestEnumerateInstructionCounts(t *testing.T) {
	c := sampleClass()
	record := coverage.NewClass(c.Name, coverage.FlagInstructions)
	alloc := NewAllocator(true)
	e := NewEnumerator(c, record, alloc, true)
	for _, m := range c.Methods {
		e.Enumerate(m)
	}
	want := map[int]int64{10: 3, 11: 2, 12: 2, 20: 2, 21: 2, 22: 2, 23: 2}
	for n, count := range want {
		if got := alloc.Instructions(record.Line(n).ID); got != count {
			t.Errorf("line %d instructions = %d, want %d", n, got, count)
		}
	}
}

// vetoLines retracts the listed lines and the jumps on the listed lines.
type vetoLines struct {
	lines map[int]bool
	jumps map[int]bool
}

func (v vetoLines) OnLine(s Site) Verdict {
	if v.lines[s.Line] {
		return Retract
	}
	return Keep
}

func (v vetoLines) OnJump(s Site) Verdict {
	if v.jumps[s.Line] {
		return Retract
	}
	return Keep
}

func (vetoLines) OnSwitch(Site, []int32) Verdict { return Keep }

func TestRetractLine(t *testing.T) {
	c := &insn.Class{Name: "acme/Numbers", Methods: []*insn.Method{signMethod()}}
	record, alloc, out := enumerateClass(t, c, true, vetoLines{lines: map[int]bool{11: true}})

	if record.Line(11) != nil {
		t.Error("retracted line 11 is still registered")
	}
	if got := record.Line(12).ID; got != 3 {
		t.Errorf("line 12 ID = %d, want 3", got)
	}
	if alloc.Count() != 4 {
		t.Errorf("allocated %d ids, want 4", alloc.Count())
	}
	for _, a := range out[0].Code {
		if a.Op == insn.OpLine && a.Arg == 11 && a.LineID != NoProbe {
			t.Errorf("retracted line 11 has probe %d", a.LineID)
		}
	}
}

// vetoOnce retracts a line the first time it is offered.
type vetoOnce struct {
	NopFilter
	line   int
	offers int
}

func (v *vetoOnce) OnLine(s Site) Verdict {
	if s.Line != v.line {
		return Keep
	}
	v.offers++
	if v.offers == 1 {
		return Retract
	}
	return Keep
}

func TestRetractedLineStaysRetractedAcrossMethods(t *testing.T) {
	echo := func() *insn.Method {
		b := insn.NewBuilder("one:", "()I")
		b.Line(11).PushInt(1).Emit(insn.OpReturnTop)
		return b.Build()
	}
	once := &vetoOnce{line: 11}

	for _, f := range []Filter{vetoLines{lines: map[int]bool{11: true}}, once} {
		c := &insn.Class{Name: "acme/Numbers", Methods: []*insn.Method{signMethod(), echo()}}
		record, alloc, out := enumerateClass(t, c, true, f)

		if record.Line(11) != nil {
			t.Errorf("%T: retracted line 11 is registered by a later method", f)
		}
		if alloc.Count() != 4 {
			t.Errorf("%T: allocated %d ids, want 4", f, alloc.Count())
		}
		for mi, e := range out {
			for _, a := range e.Code {
				if a.Op == insn.OpLine && a.Arg == 11 && a.LineID != NoProbe {
					t.Errorf("%T: method %d: line 11 has probe %d", f, mi, a.LineID)
				}
			}
		}
		if got, want := len(listing(Inject(out[1]))), len(listing(echo())); got != want {
			t.Errorf("%T: second method has %d instructions, want %d", f, got, want)
		}
	}
	if once.offers != 1 {
		t.Errorf("line 11 offered %d times, want 1", once.offers)
	}
}

func TestRetractJumpRewindsAllocator(t *testing.T) {
	c := &insn.Class{Name: "acme/Numbers", Methods: []*insn.Method{signMethod()}}
	record, alloc, out := enumerateClass(t, c, true, vetoLines{jumps: map[int]bool{10: true}})

	if record.Line(10).HasBranches() {
		t.Error("retracted jump is still registered")
	}
	if got := record.Line(11).ID; got != 1 {
		t.Errorf("line 11 ID = %d, want 1", got)
	}
	if alloc.Count() != 3 {
		t.Errorf("allocated %d ids, want 3", alloc.Count())
	}
	want := listing(signMethod())
	got := listing(Inject(out[0]))
	if len(got) != len(want)+3 {
		t.Errorf("rewritten method has %d instructions, want %d (line probes only)", len(got), len(want)+3)
	}
}

// lateRetractor retracts the last jump when the stream reaches a line.
type lateRetractor struct {
	NopFilter
	at      int
	results []bool
}

func (f *lateRetractor) Observe(s Site, r Retractor) {
	in := s.Instruction()
	if in.Op == insn.OpLine && int(in.Arg) == f.at {
		f.results = append(f.results, r.RetractLastJump(), r.RetractLastSwitch(f.at))
	}
}

func TestRetractLeavesGap(t *testing.T) {
	c := &insn.Class{Name: "acme/Numbers", Methods: []*insn.Method{signMethod()}}
	f := &lateRetractor{at: 11}
	record, alloc, out := enumerateClass(t, c, true, f)

	if diff := cmp.Diff([]bool{true, false}, f.results); diff != "" {
		t.Errorf("retraction results mismatch (-want +got):\n%s", diff)
	}
	if record.Line(10).HasBranches() {
		t.Error("retracted jump is still registered")
	}
	// ids 1 and 2 stay unused because line 11 already took 3
	if got := record.Line(12).ID; got != 4 {
		t.Errorf("line 12 ID = %d, want 4", got)
	}
	if alloc.Count() != 5 {
		t.Errorf("allocated %d ids, want 5", alloc.Count())
	}
	for _, a := range out[0].Code {
		if a.Jump != nil {
			t.Errorf("instruction %s still annotated with a jump", a.Instruction)
		}
	}
}

func TestRetractSwitch(t *testing.T) {
	veto := &switchVeto{}
	c := &insn.Class{Name: "acme/Numbers", Methods: []*insn.Method{classifyMethod()}}
	record, alloc, _ := enumerateClass(t, c, true, veto)

	if record.Line(20).HasBranches() {
		t.Error("retracted switch is still registered")
	}
	if diff := cmp.Diff([]int32{1, 2, 3}, veto.keys); diff != "" {
		t.Errorf("OnSwitch keys mismatch (-want +got):\n%s", diff)
	}
	// line 20 (0), 21 (1), 22 (2), 23 (3)
	if alloc.Count() != 4 {
		t.Errorf("allocated %d ids, want 4", alloc.Count())
	}
}

type switchVeto struct {
	NopFilter
	keys []int32
}

func (v *switchVeto) OnSwitch(_ Site, keys []int32) Verdict {
	v.keys = keys
	return Retract
}
