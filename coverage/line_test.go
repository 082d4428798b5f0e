package coverage

import (
	"math/rand/v2"
	"testing"
)

func TestLineStatus(t *testing.T) {
	l := NewLine(10, "run()V", 0)
	if l.Status() != None {
		t.Errorf("unhit line: Status() = %s, want NONE", l.Status())
	}
	l.Touch()
	if l.Status() != Full {
		t.Errorf("hit line without branches: Status() = %s, want FULL", l.Status())
	}
	l.AddJump(NewJump(1, 2))
	if l.Status() != Partial {
		t.Errorf("after AddJump: Status() = %s, want PARTIAL", l.Status())
	}
	l.TouchJump(0, true)
	l.TouchJump(0, false)
	if l.Status() != Full {
		t.Errorf("both outcomes hit: Status() = %s, want FULL", l.Status())
	}
}

func TestJumpTrueOnlyIsPartial(t *testing.T) {
	l := NewLine(3, "f(I)I", 0)
	l.AddJump(NewJump(1, 2))
	l.Touch()
	l.TouchJump(0, true)
	l.TouchJump(0, true)

	if got := l.Status(); got != Partial {
		t.Errorf("Status() = %s, want PARTIAL", got)
	}
	j := l.Jumps()[0]
	if j.TrueHits != 2 || j.FalseHits != 0 {
		t.Errorf("jump = {true:%d false:%d}, want {true:2 false:0}", j.TrueHits, j.FalseHits)
	}
}

func TestSwitchMissingArmIsPartial(t *testing.T) {
	l := NewLine(7, "g(I)V", 0)
	s := NewSwitch([]int32{1, 2, 3}, []int{1, 2, 3}, 4)
	l.AddSwitch(s)
	l.Touch()
	l.TouchSwitch(0, 0)
	l.TouchSwitch(0, 1)

	if got := l.Status(); got != Partial {
		t.Errorf("Status() = %s, want PARTIAL", got)
	}
	total, covered := l.BranchCount()
	if total != 4 || covered != 2 {
		t.Errorf("BranchCount() = %d/%d, want 2/4", covered, total)
	}

	l.TouchSwitch(0, 2)
	if got := l.Status(); got != Partial {
		t.Errorf("default not hit: Status() = %s, want PARTIAL", got)
	}
	l.TouchSwitch(0, -1)
	if got := l.Status(); got != Full {
		t.Errorf("all arms hit: Status() = %s, want FULL", got)
	}
}

func TestStatusInvalidatedByMerge(t *testing.T) {
	a := NewLine(10, "m()V", 0)
	a.AddJump(NewJump(1, 2))
	a.Touch()
	a.TouchJump(0, true)
	if a.Status() != Partial {
		t.Fatalf("Status() = %s, want PARTIAL", a.Status())
	}

	b := NewLine(10, "m()V", 0)
	b.AddJump(NewJump(1, 2))
	b.Touch()
	b.TouchJump(0, false)
	a.Merge(b)
	if a.Status() != Full {
		t.Errorf("after merge: Status() = %s, want FULL", a.Status())
	}
}

func TestRemoveLast(t *testing.T) {
	l := NewLine(1, "m()V", 0)
	j1, j2 := NewJump(1, 2), NewJump(3, 4)
	l.AddJump(j1)
	l.AddJump(j2)
	if got := l.RemoveLastJump(); got != j2 {
		t.Errorf("RemoveLastJump() = %v, want the second jump", got)
	}
	if got := l.RemoveLastJump(); got != j1 {
		t.Errorf("RemoveLastJump() = %v, want the first jump", got)
	}
	if l.HasBranches() || l.Branches() != nil {
		t.Error("line should have no branches left")
	}
	if l.RemoveLastJump() != nil || l.RemoveLastSwitch() != nil {
		t.Error("removing from an empty line should return nil")
	}
	if len(l.Jumps()) != 0 || len(l.Switches()) != 0 {
		t.Errorf("Jumps()/Switches() on a branchless line = %v/%v, want empty", l.Jumps(), l.Switches())
	}
}

func TestUniqueTestTracking(t *testing.T) {
	l := NewLine(1, "m()V", 0)
	l.SetTestName("TestA")
	l.SetTestName("TestA")
	if l.TestName() != "TestA" {
		t.Errorf("TestName() = %q, want TestA", l.TestName())
	}
	l.SetTestName("TestB")
	if l.TestName() != "" || !l.CoveredByMultipleTests() {
		t.Errorf("after a second test: TestName() = %q, multiple = %v", l.TestName(), l.CoveredByMultipleTests())
	}
	l.SetTestName("TestA")
	if l.TestName() != "" {
		t.Errorf("name must stay cleared, got %q", l.TestName())
	}

	a, b := NewLine(1, "m()V", 0), NewLine(1, "m()V", 0)
	b.SetTestName("TestC")
	a.Merge(b)
	if a.TestName() != "TestC" {
		t.Errorf("merged TestName() = %q, want TestC", a.TestName())
	}
	c := NewLine(1, "m()V", 0)
	c.SetTestName("TestD")
	a.Merge(c)
	if !a.CoveredByMultipleTests() {
		t.Error("merging two different tests should mark multiple tests")
	}
}

func TestSwitchMergeExtendsShorter(t *testing.T) {
	short := &Switch{Keys: []int32{1, 2}, Hits: []int64{1, 0}, DefaultHits: 1, DefaultID: NoID}
	long := &Switch{Keys: []int32{1, 2, 3}, Hits: []int64{0, 4, 5}, DefaultHits: 2, DefaultID: NoID}
	short.merge(long)
	if len(short.Keys) != 3 || short.Keys[2] != 3 {
		t.Fatalf("keys = %v, want [1 2 3]", short.Keys)
	}
	want := []int64{1, 4, 5}
	for i, h := range want {
		if short.Hits[i] != h {
			t.Errorf("Hits[%d] = %d, want %d", i, short.Hits[i], h)
		}
	}
	if short.DefaultHits != 3 {
		t.Errorf("DefaultHits = %d, want 3", short.DefaultHits)
	}

	long2 := long.clone()
	long2.merge(&Switch{Keys: []int32{1}, Hits: []int64{9}})
	if len(long2.Keys) != 3 || long2.Hits[0] != 9 || long2.Hits[2] != 5 {
		t.Errorf("merging a shorter switch dropped arms: %v %v", long2.Keys, long2.Hits)
	}
}

// randomLine builds a line with a fixed branch shape and random counters.
func randomLine(r *rand.Rand) *Line {
	l := NewLine(5, "m(I)V", 0)
	l.AddHits(r.Int64N(3))
	l.AddJump(&Jump{TrueID: 1, FalseID: 2, TrueHits: r.Int64N(3), FalseHits: r.Int64N(3)})
	s := NewSwitch([]int32{-1, 0, 1}, []int{3, 4, 5}, 6)
	for i := range s.Hits {
		s.Hits[i] = r.Int64N(2)
	}
	s.DefaultHits = r.Int64N(2)
	l.AddSwitch(s)
	if r.IntN(4) == 0 {
		l.AddHits(MaxHits)
	}
	return l
}

func merged(ls ...*Line) *Line {
	out := ls[0].Clone()
	for _, l := range ls[1:] {
		out.Merge(l)
	}
	return out
}

func TestLineMergeProperties(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		a, b, c := randomLine(r), randomLine(r), randomLine(r)

		ab, ba := merged(a, b), merged(b, a)
		if !ab.Equal(ba) {
			t.Fatalf("merge not commutative:\n%+v\n%+v", ab, ba)
		}
		left := merged(merged(a, b), c)
		right := merged(a, merged(b, c))
		if !left.Equal(right) {
			t.Fatalf("merge not associative:\n%+v\n%+v", left, right)
		}
		if ab.Status() < max(a.Status(), b.Status()) {
			t.Fatalf("status not monotone: merge(%s, %s) = %s", a.Status(), b.Status(), ab.Status())
		}
		if ab.Hits() < a.Hits() || ab.Hits() < b.Hits() || ab.Hits() > MaxHits {
			t.Fatalf("merged hits %d out of bounds (a=%d b=%d)", ab.Hits(), a.Hits(), b.Hits())
		}
	}
}
