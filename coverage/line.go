package coverage

// Line is the coverage state of one source line inside one method.
//
// Status is cached. Counters must be changed through Line's methods, or
// Invalidate must be called after changing a Jump or Switch directly.
type Line struct {
	Number       int
	Method       string // name and signature of the enclosing method
	ID           int    // counter index, NoID if unknown
	Instructions int64  // instructions attributed to the line

	hits     int64
	branches *Branches

	testName   string
	multiTests bool

	status      Status
	statusValid bool
}

// NewLine creates a line record. The method signature is interned.
func NewLine(number int, method string, id int) *Line {
	return &Line{Number: number, Method: Intern(method), ID: id}
}

// Hits returns the saturated hit count.
func (l *Line) Hits() int64 {
	return l.hits
}

// AddHits adds n hits, saturating at MaxHits. Negative n is ignored.
func (l *Line) AddHits(n int64) {
	if n <= 0 {
		return
	}
	l.hits = addHits(l.hits, n)
	l.statusValid = false
}

// Touch records a single hit.
func (l *Line) Touch() {
	l.AddHits(1)
}

// Branches returns the branch records, or nil when none are registered.
func (l *Line) Branches() *Branches {
	return l.branches
}

// Jumps returns the registered jump records. It is nil-safe.
func (l *Line) Jumps() []*Jump {
	if l.branches == nil {
		return nil
	}
	return l.branches.Jumps
}

// Switches returns the registered switch records. It is nil-safe.
func (l *Line) Switches() []*Switch {
	if l.branches == nil {
		return nil
	}
	return l.branches.Switches
}

// HasBranches reports whether at least one jump or switch is registered.
func (l *Line) HasBranches() bool {
	return !l.branches.Empty()
}

// AddJump registers a jump record on the line.
func (l *Line) AddJump(j *Jump) {
	if l.branches == nil {
		l.branches = &Branches{}
	}
	l.branches.Jumps = append(l.branches.Jumps, j)
	l.statusValid = false
}

// AddSwitch registers a switch record on the line.
func (l *Line) AddSwitch(s *Switch) {
	if l.branches == nil {
		l.branches = &Branches{}
	}
	l.branches.Switches = append(l.branches.Switches, s)
	l.statusValid = false
}

// RemoveLastJump unregisters the most recently added jump and returns it.
func (l *Line) RemoveLastJump() *Jump {
	if l.branches == nil || len(l.branches.Jumps) == 0 {
		return nil
	}
	n := len(l.branches.Jumps) - 1
	j := l.branches.Jumps[n]
	l.branches.Jumps = l.branches.Jumps[:n]
	l.dropEmptyBranches()
	return j
}

// RemoveLastSwitch unregisters the most recently added switch and returns
// it.
func (l *Line) RemoveLastSwitch() *Switch {
	if l.branches == nil || len(l.branches.Switches) == 0 {
		return nil
	}
	n := len(l.branches.Switches) - 1
	s := l.branches.Switches[n]
	l.branches.Switches = l.branches.Switches[:n]
	l.dropEmptyBranches()
	return s
}

func (l *Line) dropEmptyBranches() {
	if l.branches.Empty() {
		l.branches = nil
	}
	l.statusValid = false
}

// TouchJump records an outcome of the jump at index.
func (l *Line) TouchJump(index int, taken bool) {
	if l.branches == nil || index < 0 || index >= len(l.branches.Jumps) {
		return
	}
	l.branches.Jumps[index].Touch(taken)
	l.statusValid = false
}

// TouchSwitch records a hit on arm key of the switch at index; key -1 is
// the default arm.
func (l *Line) TouchSwitch(index, key int) {
	if l.branches == nil || index < 0 || index >= len(l.branches.Switches) {
		return
	}
	l.branches.Switches[index].TouchKey(key)
	l.statusValid = false
}

// Invalidate drops the cached status.
func (l *Line) Invalidate() {
	l.statusValid = false
}

// Status classifies the line: None when never hit, Full when hit and every
// branch outcome was observed, Partial otherwise.
func (l *Line) Status() Status {
	if l.statusValid {
		return l.status
	}
	switch {
	case l.hits == 0:
		l.status = None
	case l.branches.Covered():
		l.status = Full
	default:
		l.status = Partial
	}
	l.statusValid = true
	return l.status
}

// BranchCount returns the total and covered number of branch outcomes.
func (l *Line) BranchCount() (total, covered int) {
	return l.branches.Count()
}

// ---------------------------------------------------------------------------
// Unique test tracking
// ---------------------------------------------------------------------------

// SetTestName records the test that covered the line. The line keeps a
// name only while a single test covers it; once a second, different test
// is recorded the name is cleared for good.
func (l *Line) SetTestName(name string) {
	if name == "" || l.multiTests {
		return
	}
	switch l.testName {
	case "":
		l.testName = name
	case name:
	default:
		l.testName = ""
		l.multiTests = true
	}
}

// TestName returns the single test that covered the line, or "".
func (l *Line) TestName() string {
	return l.testName
}

// CoveredByMultipleTests reports whether more than one test covered the
// line.
func (l *Line) CoveredByMultipleTests() bool {
	return l.multiTests
}

// ---------------------------------------------------------------------------
// Merge
// ---------------------------------------------------------------------------

// Merge adds o's counters into l. Branch records are matched by position;
// records only o has are copied. The status is recomputed on next use.
func (l *Line) Merge(o *Line) {
	l.hits = addHits(l.hits, o.hits)
	if l.Method == "" {
		l.Method = o.Method
	}
	if l.ID == NoID {
		l.ID = o.ID
	}
	l.Instructions = max(l.Instructions, o.Instructions)
	if o.branches != nil {
		if l.branches == nil {
			l.branches = o.branches.clone()
		} else {
			l.branches.merge(o.branches)
		}
	}
	if o.multiTests {
		l.testName = ""
		l.multiTests = true
	} else {
		l.SetTestName(o.testName)
	}
	l.statusValid = false
}

// Clone returns a deep copy of the line.
func (l *Line) Clone() *Line {
	c := *l
	c.branches = l.branches.clone()
	return &c
}

// Equal reports whether two lines carry the same counters and shape.
// Counter ids, instruction counts and whether several tests covered the
// line are not compared.
func (l *Line) Equal(o *Line) bool {
	if l == nil || o == nil {
		return l == o
	}
	if l.Number != o.Number || l.Method != o.Method || l.hits != o.hits || l.testName != o.testName {
		return false
	}
	a, b := l.branches, o.branches
	if a.Empty() || b.Empty() {
		return a.Empty() == b.Empty()
	}
	if len(a.Jumps) != len(b.Jumps) || len(a.Switches) != len(b.Switches) {
		return false
	}
	for i, j := range a.Jumps {
		if j.TrueHits != b.Jumps[i].TrueHits || j.FalseHits != b.Jumps[i].FalseHits {
			return false
		}
	}
	for i, s := range a.Switches {
		t := b.Switches[i]
		if s.DefaultHits != t.DefaultHits || len(s.Keys) != len(t.Keys) {
			return false
		}
		for k := range s.Keys {
			if s.Keys[k] != t.Keys[k] || s.Hits[k] != t.Hits[k] {
				return false
			}
		}
	}
	return true
}
