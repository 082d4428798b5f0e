package coverage

import "sort"

// Flags describes how a class was instrumented.
type Flags uint32

const (
	FlagBranches     Flags = 1 << iota // jumps and switches carry probes
	FlagInstructions                   // lines carry instruction counts
	FlagTestTracking                   // lines track the unique covering test
)

// Has reports whether every flag in f2 is set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// Class is the coverage state of one class. Lines are indexed by source
// line number; absent lines are not executable.
type Class struct {
	Name  string
	Flags Flags

	// IDCount is the number of counter ids allocated for the class. It
	// sizes the hits mask.
	IDCount int

	lines []*Line
	count int
	mask  []int64
}

// NewClass creates an empty class record.
func NewClass(name string, flags Flags) *Class {
	return &Class{Name: name, Flags: flags}
}

// Line returns the record for a line number, or nil.
func (c *Class) Line(number int) *Line {
	if number < 0 || number >= len(c.lines) {
		return nil
	}
	return c.lines[number]
}

// AddLine registers l, replacing any record with the same number.
func (c *Class) AddLine(l *Line) {
	if l.Number >= len(c.lines) {
		grown := make([]*Line, l.Number+1, max(l.Number+1, 2*len(c.lines)))
		copy(grown, c.lines)
		c.lines = grown
	}
	if c.lines[l.Number] == nil {
		c.count++
	}
	c.lines[l.Number] = l
}

// GetOrCreateLine returns the record for number, creating it with the
// given method and id on first use.
func (c *Class) GetOrCreateLine(number int, method string, id int) *Line {
	if l := c.Line(number); l != nil {
		return l
	}
	l := NewLine(number, method, id)
	c.AddLine(l)
	return l
}

// RemoveLine drops the record for number and returns it.
func (c *Class) RemoveLine(number int) *Line {
	l := c.Line(number)
	if l != nil {
		c.lines[number] = nil
		c.count--
	}
	return l
}

// Lines returns the line records in ascending line order.
func (c *Class) Lines() []*Line {
	out := make([]*Line, 0, c.count)
	for _, l := range c.lines {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

// LineCount returns the number of executable lines.
func (c *Class) LineCount() int {
	return c.count
}

// Methods returns the distinct method signatures of the class, sorted.
func (c *Class) Methods() []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range c.lines {
		if l != nil && l.Method != "" && !seen[l.Method] {
			seen[l.Method] = true
			out = append(out, l.Method)
		}
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Hit folding
// ---------------------------------------------------------------------------

// HitsMask returns the flat counter array of the class, allocating it with
// IDCount entries on first use.
func (c *Class) HitsMask() []int64 {
	if c.mask == nil {
		c.mask = make([]int64, c.IDCount)
	}
	return c.mask
}

// FlushMask folds the hits mask into the line records and zeroes it.
func (c *Class) FlushMask() {
	if c.mask == nil {
		return
	}
	c.ApplyHits(c.mask)
	clear(c.mask)
}

// ApplyHits adds a counter array indexed by id into the line, jump and
// switch records. Ids outside hits are left untouched.
func (c *Class) ApplyHits(hits []int64) {
	at := func(id int) int64 {
		if id < 0 || id >= len(hits) {
			return 0
		}
		return hits[id]
	}
	for _, l := range c.lines {
		if l == nil {
			continue
		}
		l.AddHits(at(l.ID))
		if l.branches == nil {
			continue
		}
		for _, j := range l.branches.Jumps {
			j.TrueHits = addHits(j.TrueHits, at(j.TrueID))
			j.FalseHits = addHits(j.FalseHits, at(j.FalseID))
		}
		for _, s := range l.branches.Switches {
			for k := range s.Hits {
				if k < len(s.IDs) {
					s.Hits[k] = addHits(s.Hits[k], at(s.IDs[k]))
				}
			}
			s.DefaultHits = addHits(s.DefaultHits, at(s.DefaultID))
		}
		l.Invalidate()
	}
}

// ---------------------------------------------------------------------------
// Merge and comparison
// ---------------------------------------------------------------------------

// Merge adds o's lines into c. Lines only o has are copied.
func (c *Class) Merge(o *Class) {
	c.Flags |= o.Flags
	c.IDCount = max(c.IDCount, o.IDCount)
	for _, ol := range o.lines {
		if ol == nil {
			continue
		}
		if l := c.Line(ol.Number); l != nil {
			l.Merge(ol)
		} else {
			c.AddLine(ol.Clone())
		}
	}
}

// Clone returns a deep copy of the class without its hits mask.
func (c *Class) Clone() *Class {
	n := NewClass(c.Name, c.Flags)
	n.IDCount = c.IDCount
	for _, l := range c.lines {
		if l != nil {
			n.AddLine(l.Clone())
		}
	}
	return n
}

// Equal reports whether two classes have the same name, flags and lines.
func (c *Class) Equal(o *Class) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.Name != o.Name || c.Flags != o.Flags || c.count != o.count {
		return false
	}
	for _, l := range c.lines {
		if l != nil && !l.Equal(o.Line(l.Number)) {
			return false
		}
	}
	return true
}

// Summary aggregates the line, branch and instruction counts of the class.
func (c *Class) Summary() Summary {
	var s Summary
	for _, l := range c.lines {
		if l != nil {
			s.addLine(l)
		}
	}
	return s
}

// ApplyTestHits applies hits like ApplyHits and, when the class tracks
// tests, records test on every line whose counter is non-zero.
func (c *Class) ApplyTestHits(hits []int64, test string) {
	c.ApplyHits(hits)
	if test == "" || !c.Flags.Has(FlagTestTracking) {
		return
	}
	for _, l := range c.lines {
		if l != nil && l.ID >= 0 && l.ID < len(hits) && hits[l.ID] > 0 {
			l.SetTestName(test)
		}
	}
}
