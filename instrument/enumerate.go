package instrument

import (
	"fmt"
	"math"

	"github.com/chazu/magcov/coverage"
	"github.com/chazu/magcov/insn"
)

// NoProbe marks a line marker that receives no probe.
const NoProbe = -1

// MaxSwitchArms bounds the keys a table switch may expand to. Larger
// dispatches keep their original form.
const MaxSwitchArms = 1 << 16

// SwitchProbe annotates a switch with its record and the explicit keys, in
// arm order, that the record counts.
type SwitchProbe struct {
	Record *coverage.Switch
	Keys   []int32
}

// Annotated is one instruction of an enumerated stream together with the
// probes the injector must attach to it.
type Annotated struct {
	insn.Instruction
	LineID int            // LINE markers: id to touch, NoProbe for none
	Jump   *coverage.Jump // conditional jumps to split
	Switch *SwitchProbe   // switches to reroute
}

// Enumerated is the annotated form of one method.
type Enumerated struct {
	Method *insn.Method
	Code   []Annotated
	// Malformed is set when the method failed verification. Only its line
	// markers are annotated then.
	Malformed error
}

// Enumerator registers the lines and branches of the methods of one class
// and annotates their streams. One Enumerator serves one class rewrite
// session; it is not safe for concurrent use.
type Enumerator struct {
	Class    *insn.Class
	Record   *coverage.Class
	Alloc    *Allocator
	Filters  []Filter
	Branches bool

	retracted map[int]bool // lines vetoed by a filter
}

// NewEnumerator creates an enumerator for a class session.
func NewEnumerator(c *insn.Class, record *coverage.Class, alloc *Allocator, branches bool, filters ...Filter) *Enumerator {
	return &Enumerator{
		Class:     c,
		Record:    record,
		Alloc:     alloc,
		Filters:   filters,
		Branches:  branches,
		retracted: make(map[int]bool),
	}
}

// registration remembers the ids of a jump or switch so it can be undone.
type registration struct {
	index       int // instruction index
	line        *coverage.Line
	first, last int // allocated id range
}

// methodPass holds the state of enumerating one method.
type methodPass struct {
	e        *Enumerator
	m        *insn.Method
	out      *Enumerated
	line     *coverage.Line
	lineNo   int
	branches bool
	jumps    []registration
	switches []registration
}

// Enumerate walks the original stream of m in order. It registers a line
// record for every line marker (reusing the record when the line recurs),
// a jump record for every conditional jump and a switch record for every
// switch that follows a line marker. Jumps in the class initializer and
// branches before the first line marker are left alone.
func (e *Enumerator) Enumerate(m *insn.Method) *Enumerated {
	if e.retracted == nil {
		e.retracted = make(map[int]bool)
	}
	out := &Enumerated{Method: m, Code: make([]Annotated, len(m.Code))}
	p := &methodPass{
		e:        e,
		m:        m,
		out:      out,
		branches: e.Branches && m.Name != insn.ClassInitializer,
	}
	if err := insn.Verify(m); err != nil {
		out.Malformed = err
		p.branches = false
	} else if err := checkSwitches(m); err != nil {
		out.Malformed = err
		p.branches = false
	}

	var observers []StreamObserver
	for _, f := range e.Filters {
		if o, ok := f.(StreamObserver); ok {
			observers = append(observers, o)
		}
	}

	for i, in := range m.Code {
		out.Code[i] = Annotated{Instruction: in, LineID: NoProbe}
		switch {
		case in.Op == insn.OpLine:
			p.visitLine(i, int(in.Arg))
		case in.Op.IsConditionalJump():
			p.visitJump(i)
		case in.Op.IsSwitch():
			p.visitSwitch(i, in.Switch)
		}
		if !in.Op.IsPseudo() && p.line != nil {
			e.Alloc.AddInstructions(p.line.ID, 1)
		}
		for _, o := range observers {
			o.Observe(p.site(i), p)
		}
	}
	return out
}

func (p *methodPass) site(i int) Site {
	return Site{Class: p.e.Class, Method: p.m, Index: i, Line: p.lineNo}
}

func (p *methodPass) visitLine(i, n int) {
	p.lineNo = n
	p.line = nil
	if p.e.retracted[n] {
		return
	}
	l := p.e.Record.Line(n)
	if l == nil {
		id := p.e.Alloc.Next()
		l = coverage.NewLine(n, p.m.Name+p.m.Signature, id)
		p.e.Record.AddLine(l)
		for _, f := range p.e.Filters {
			if f.OnLine(p.site(i)) == Retract {
				p.e.Record.RemoveLine(n)
				p.e.Alloc.Rewind(id)
				p.e.retracted[n] = true
				return
			}
		}
	}
	p.line = l
	p.out.Code[i].LineID = l.ID
}

func (p *methodPass) visitJump(i int) {
	if !p.branches || p.line == nil {
		return
	}
	t := p.e.Alloc.Next()
	f := p.e.Alloc.Next()
	j := coverage.NewJump(t, f)
	p.line.AddJump(j)
	p.out.Code[i].Jump = j
	p.jumps = append(p.jumps, registration{index: i, line: p.line, first: t, last: f})

	for _, flt := range p.e.Filters {
		if flt.OnJump(p.site(i)) == Retract {
			p.RetractLastJump()
			return
		}
	}
}

func (p *methodPass) visitSwitch(i int, sw *insn.Switch) {
	if !p.branches || p.line == nil {
		return
	}
	keys, err := switchKeys(p.m.Code[i].Op, sw)
	if err != nil {
		return
	}
	ids := make([]int, len(keys))
	for k := range keys {
		ids[k] = p.e.Alloc.Next()
	}
	dflt := p.e.Alloc.Next()
	first := dflt
	if len(ids) > 0 {
		first = ids[0]
	}
	s := coverage.NewSwitch(keys, ids, dflt)
	p.line.AddSwitch(s)
	p.out.Code[i].Switch = &SwitchProbe{Record: s, Keys: keys}
	p.switches = append(p.switches, registration{index: i, line: p.line, first: first, last: dflt})

	for _, flt := range p.e.Filters {
		if flt.OnSwitch(p.site(i), keys) == Retract {
			p.RetractLastSwitch(p.lineNo)
			return
		}
	}
}

// checkSwitches reports the first switch whose keys cannot be listed. It
// runs before any branch of the method is registered.
func checkSwitches(m *insn.Method) error {
	for i, in := range m.Code {
		if !in.Op.IsSwitch() || in.Switch == nil {
			continue
		}
		if _, err := switchKeys(in.Op, in.Switch); err != nil {
			return fmt.Errorf("%s%s: instruction %d: %w", m.Name, m.Signature, i, err)
		}
	}
	return nil
}

// switchKeys returns the explicit key list of a switch. Table ranges are
// expanded without wrapping at the integer boundaries.
func switchKeys(op insn.Opcode, sw *insn.Switch) ([]int32, error) {
	if op == insn.OpLookupSwitch {
		return append([]int32(nil), sw.Keys...), nil
	}
	return ExpandRange(sw.Min, sw.Max)
}

// ExpandRange lists the keys of the dense range [lo, hi] in ascending order.
func ExpandRange(lo, hi int32) ([]int32, error) {
	if hi < lo {
		return nil, fmt.Errorf("switch range [%d, %d] is inverted", lo, hi)
	}
	if n := int64(hi) - int64(lo) + 1; n > MaxSwitchArms {
		return nil, fmt.Errorf("switch range [%d, %d] has %d keys, more than %d", lo, hi, n, MaxSwitchArms)
	}
	keys := make([]int32, 0, int(int64(hi)-int64(lo)+1))
	for i := lo; lo <= i && i <= hi; i++ {
		keys = append(keys, i)
		if i == math.MaxInt32 {
			break
		}
	}
	return keys, nil
}

// RetractLastJump removes the most recently registered jump of the method
// from its line and from the stream annotations. The allocator is rewound
// when the jump's ids are the last ones issued.
func (p *methodPass) RetractLastJump() bool {
	if len(p.jumps) == 0 {
		return false
	}
	r := p.jumps[len(p.jumps)-1]
	p.jumps = p.jumps[:len(p.jumps)-1]
	r.line.RemoveLastJump()
	p.out.Code[r.index].Jump = nil
	p.rewind(r)
	return true
}

// RetractLastSwitch removes the most recently registered switch of the
// given line.
func (p *methodPass) RetractLastSwitch(line int) bool {
	for k := len(p.switches) - 1; k >= 0; k-- {
		r := p.switches[k]
		if r.line.Number != line {
			continue
		}
		p.switches = append(p.switches[:k], p.switches[k+1:]...)
		r.line.RemoveLastSwitch()
		p.out.Code[r.index].Switch = nil
		p.rewind(r)
		return true
	}
	return false
}

func (p *methodPass) rewind(r registration) {
	if p.e.Alloc.Count() == r.last+1 {
		p.e.Alloc.Rewind(r.first)
	}
}
