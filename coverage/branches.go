package coverage

// NoID marks a record whose counter index is unknown, e.g. one decoded
// from the binary format, which does not carry ids.
const NoID = -1

// Jump counts the two outcomes of a conditional jump.
type Jump struct {
	TrueID, FalseID     int
	TrueHits, FalseHits int64
}

// NewJump returns a jump record for the given counter ids.
func NewJump(trueID, falseID int) *Jump {
	return &Jump{TrueID: trueID, FalseID: falseID}
}

// Touch records one outcome.
func (j *Jump) Touch(taken bool) {
	if taken {
		j.TrueHits = addHits(j.TrueHits, 1)
	} else {
		j.FalseHits = addHits(j.FalseHits, 1)
	}
}

// Covered reports whether both outcomes were observed.
func (j *Jump) Covered() bool {
	return j.TrueHits > 0 && j.FalseHits > 0
}

func (j *Jump) merge(o *Jump) {
	j.TrueHits = addHits(j.TrueHits, o.TrueHits)
	j.FalseHits = addHits(j.FalseHits, o.FalseHits)
	if j.TrueID == NoID {
		j.TrueID, j.FalseID = o.TrueID, o.FalseID
	}
}

func (j *Jump) clone() *Jump {
	c := *j
	return &c
}

// Switch counts the arms of a multi-way dispatch. Keys, Hits and IDs are
// parallel: len(Hits) == len(Keys), and IDs is either empty or the same
// length.
type Switch struct {
	Keys        []int32
	Hits        []int64
	DefaultHits int64
	IDs         []int
	DefaultID   int
}

// NewSwitch returns a switch record over keys with one counter id per key
// and one for the default arm.
func NewSwitch(keys []int32, ids []int, defaultID int) *Switch {
	return &Switch{
		Keys:      append([]int32(nil), keys...),
		Hits:      make([]int64, len(keys)),
		IDs:       append([]int(nil), ids...),
		DefaultID: defaultID,
	}
}

// TouchKey records a hit on the arm at index, or on the default arm when
// index is -1. Other indices are ignored.
func (s *Switch) TouchKey(index int) {
	switch {
	case index == -1:
		s.DefaultHits = addHits(s.DefaultHits, 1)
	case index >= 0 && index < len(s.Hits):
		s.Hits[index] = addHits(s.Hits[index], 1)
	}
}

// Covered reports whether the default arm and every keyed arm were hit.
func (s *Switch) Covered() bool {
	if s.DefaultHits == 0 {
		return false
	}
	for _, h := range s.Hits {
		if h == 0 {
			return false
		}
	}
	return true
}

// Arms returns the number of outcomes including the default arm.
func (s *Switch) Arms() int {
	return len(s.Keys) + 1
}

// CoveredArms returns the number of outcomes with at least one hit.
func (s *Switch) CoveredArms() int {
	n := 0
	if s.DefaultHits > 0 {
		n++
	}
	for _, h := range s.Hits {
		if h > 0 {
			n++
		}
	}
	return n
}

// merge adds o's counters index by index. When o has more arms, its extra
// keys and their hits are appended so no recorded hit is dropped.
func (s *Switch) merge(o *Switch) {
	n := min(len(s.Hits), len(o.Hits))
	for i := 0; i < n; i++ {
		s.Hits[i] = addHits(s.Hits[i], o.Hits[i])
	}
	if len(o.Keys) > len(s.Keys) {
		s.Keys = append(s.Keys, o.Keys[len(s.Keys):]...)
		s.Hits = append(s.Hits, o.Hits[n:]...)
		if len(o.IDs) == len(o.Keys) && len(s.IDs) == n {
			s.IDs = append(s.IDs, o.IDs[n:]...)
		}
	}
	s.DefaultHits = addHits(s.DefaultHits, o.DefaultHits)
	if len(s.IDs) == 0 && len(o.IDs) == len(s.Keys) {
		s.IDs = append([]int(nil), o.IDs...)
		s.DefaultID = o.DefaultID
	}
}

func (s *Switch) clone() *Switch {
	return &Switch{
		Keys:        append([]int32(nil), s.Keys...),
		Hits:        append([]int64(nil), s.Hits...),
		DefaultHits: s.DefaultHits,
		IDs:         append([]int(nil), s.IDs...),
		DefaultID:   s.DefaultID,
	}
}

// Branches is the jump and switch sub-structure of a line, in the order the
// records were registered.
type Branches struct {
	Jumps    []*Jump
	Switches []*Switch
}

// Empty reports whether no jump or switch is registered.
func (b *Branches) Empty() bool {
	return b == nil || len(b.Jumps) == 0 && len(b.Switches) == 0
}

// Covered reports whether every registered outcome was hit.
func (b *Branches) Covered() bool {
	if b == nil {
		return true
	}
	for _, j := range b.Jumps {
		if !j.Covered() {
			return false
		}
	}
	for _, s := range b.Switches {
		if !s.Covered() {
			return false
		}
	}
	return true
}

// Count returns the total and covered number of branch outcomes.
func (b *Branches) Count() (total, covered int) {
	if b == nil {
		return 0, 0
	}
	for _, j := range b.Jumps {
		total += 2
		if j.TrueHits > 0 {
			covered++
		}
		if j.FalseHits > 0 {
			covered++
		}
	}
	for _, s := range b.Switches {
		total += s.Arms()
		covered += s.CoveredArms()
	}
	return total, covered
}

func (b *Branches) merge(o *Branches) {
	for i, j := range o.Jumps {
		if i < len(b.Jumps) {
			b.Jumps[i].merge(j)
		} else {
			b.Jumps = append(b.Jumps, j.clone())
		}
	}
	for i, s := range o.Switches {
		if i < len(b.Switches) {
			b.Switches[i].merge(s)
		} else {
			b.Switches = append(b.Switches, s.clone())
		}
	}
}

func (b *Branches) clone() *Branches {
	if b == nil {
		return nil
	}
	c := &Branches{}
	for _, j := range b.Jumps {
		c.Jumps = append(c.Jumps, j.clone())
	}
	for _, s := range b.Switches {
		c.Switches = append(c.Switches, s.clone())
	}
	return c
}
