package instrument

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/magcov/insn"
)

// ReportNullPrefix starts the selector of the compiler-generated helper a
// class calls when a non-null check fails.
const ReportNullPrefix = "$$reportNull$$"

// AssertionsGlobal is the global compiled assertions test against.
const AssertionsGlobal = "$assertionsDisabled"

// NullCheckFilter retracts the jump of compiler-generated null checks:
//
//	DUP
//	JUMP_NOT_NIL L
//	PUSH_GLOBAL <this class>
//	PUSH_INT <argument index>
//	SEND $$reportNull$$... 1
//
// The jump is dropped once the whole idiom has been seen.
type NullCheckFilter struct {
	NopFilter
	class string

	armed  *insn.Method
	jumpAt int
	step   int
}

// NewNullCheckFilter creates the filter for one class session.
func NewNullCheckFilter(c *insn.Class) Filter {
	return &NullCheckFilter{class: c.Name}
}

func (f *NullCheckFilter) OnJump(s Site) Verdict {
	f.armed = nil
	if s.Instruction().Op != insn.OpJumpNotNil {
		return Keep
	}
	if prev, ok := s.Previous(); ok && prev.Op == insn.OpDUP {
		f.armed, f.jumpAt, f.step = s.Method, s.Index, 0
	}
	return Keep
}

func (f *NullCheckFilter) Observe(s Site, r Retractor) {
	if f.armed != s.Method || s.Index <= f.jumpAt {
		return
	}
	in := s.Instruction()
	if in.Op == insn.OpLine {
		return
	}
	ok := false
	switch f.step {
	case 0:
		ok = in.Op == insn.OpPushGlobal && in.Name == f.class
	case 1:
		ok = in.Op == insn.OpPushInt
	case 2:
		if in.Op == insn.OpSend && strings.HasPrefix(in.Name, ReportNullPrefix) {
			r.RetractLastJump()
		}
	}
	if !ok {
		f.armed = nil
		return
	}
	f.step++
}

// AssertionsFilter retracts the jump that tests whether assertions are
// enabled:
//
//	PUSH_GLOBAL $assertionsDisabled
//	JUMP_TRUE L
type AssertionsFilter struct {
	NopFilter
}

// NewAssertionsFilter creates the filter for one class session.
func NewAssertionsFilter(*insn.Class) Filter {
	return AssertionsFilter{}
}

func (AssertionsFilter) OnJump(s Site) Verdict {
	op := s.Instruction().Op
	if op != insn.OpJumpTrue && op != insn.OpJumpFalse {
		return Keep
	}
	if prev, ok := s.Previous(); ok && prev.Op == insn.OpPushGlobal && prev.Name == AssertionsGlobal {
		return Retract
	}
	return Keep
}

var namedFilters = map[string]FilterFactory{
	"null-check": NewNullCheckFilter,
	"assertions": NewAssertionsFilter,
}

// FilterNames lists the filters FilterNamed knows, sorted.
func FilterNames() []string {
	names := make([]string, 0, len(namedFilters))
	for name := range namedFilters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FilterNamed returns the factory of a named filter.
func FilterNamed(name string) (FilterFactory, error) {
	if f, ok := namedFilters[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("instrument: unknown filter %q (known: %s)", name, strings.Join(FilterNames(), ", "))
}
