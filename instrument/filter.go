package instrument

import "github.com/chazu/magcov/insn"

// Verdict is a filter's answer for a newly registered line or branch.
type Verdict int

const (
	Keep Verdict = iota
	Retract
)

// Site identifies where in a method an event occurred.
type Site struct {
	Class  *insn.Class
	Method *insn.Method
	Index  int // instruction index in the original code
	Line   int // owning source line, 0 before the first line marker
}

// Instruction returns the instruction at the site.
func (s Site) Instruction() insn.Instruction {
	return s.Method.Code[s.Index]
}

// Previous returns the closest instruction before the site that is not a
// label or line marker.
func (s Site) Previous() (insn.Instruction, bool) {
	for i := s.Index - 1; i >= 0; i-- {
		if in := s.Method.Code[i]; !in.Op.IsPseudo() {
			return in, true
		}
	}
	return insn.Instruction{}, false
}

// Filter decides whether lines and branches deserve probes. Filters are
// consulted in order right after a record is registered; the first
// Retract wins and undoes the registration.
type Filter interface {
	OnLine(s Site) Verdict
	OnJump(s Site) Verdict
	OnSwitch(s Site, keys []int32) Verdict
}

// Retractor undoes registrations after the fact.
type Retractor interface {
	// RetractLastJump removes the most recently registered jump.
	RetractLastJump() bool
	// RetractLastSwitch removes the most recently registered switch of the
	// given line.
	RetractLastSwitch(line int) bool
}

// StreamObserver is implemented by filters that need to see the stream
// following a registration before deciding. Observe is called once per
// original instruction, after the instruction was enumerated.
type StreamObserver interface {
	Observe(s Site, r Retractor)
}

// NopFilter keeps everything. Embed it to implement only some hooks.
type NopFilter struct{}

func (NopFilter) OnLine(Site) Verdict            { return Keep }
func (NopFilter) OnJump(Site) Verdict            { return Keep }
func (NopFilter) OnSwitch(Site, []int32) Verdict { return Keep }

// FilterFactory creates the filters of one class rewrite session. Filters
// may keep per-session state.
type FilterFactory func(c *insn.Class) Filter
