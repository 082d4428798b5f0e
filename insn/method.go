// Package insn defines the instruction stream that coverage instrumentation
// consumes and produces.
//
// A method body is a sequential list of typed operations. Branch targets are
// denoted by opaque position markers (*Label) that appear in the stream as
// LABEL pseudo instructions; source lines are denoted by LINE pseudo
// instructions that apply to everything that follows them.
//
// The package also carries the tooling that treats a stream as compiled
// code: a builder, a verifier, control-flow and stack-depth analyses, and an
// assembler that lowers the labelled form to flat byte code and back.
package insn

import "fmt"

// Label is an opaque position marker. Labels are compared by identity.
type Label struct {
	name string
}

// NewLabel creates an unplaced label. The name is only used in listings.
func NewLabel(name string) *Label {
	return &Label{name: name}
}

// String returns the label's debug name.
func (l *Label) String() string {
	if l == nil {
		return "<nil>"
	}
	if l.name == "" {
		return fmt.Sprintf("L%p", l)
	}
	return l.name
}

// Switch holds the operands of a multi-way dispatch.
//
// A TABLE_SWITCH dispatches densely over [Min, Max] and has exactly
// Max-Min+1 targets. A LOOKUP_SWITCH dispatches over Keys and has one
// target per key.
type Switch struct {
	Min, Max int32
	Keys     []int32
	Default  *Label
	Targets  []*Label
}

// Instruction is one element of a method's code.
type Instruction struct {
	Op     Opcode
	Arg    int64   // PUSH_INT value, temp slot, SEND argc, TOUCH id, LINE number
	Name   string  // SEND selector, global name
	Target *Label  // jump target, or the label placed by LABEL
	Switch *Switch // TABLE_SWITCH / LOOKUP_SWITCH operands
}

// String renders the instruction the way Disassemble lists it.
func (in Instruction) String() string {
	switch {
	case in.Op == OpLabel:
		return in.Target.String() + ":"
	case in.Op == OpLine:
		return fmt.Sprintf("LINE %d", in.Arg)
	case in.Op.IsJump():
		return fmt.Sprintf("%s %s", in.Op, in.Target)
	case in.Op == OpTableSwitch && in.Switch != nil:
		return fmt.Sprintf("%s [%d..%d] %v default %s", in.Op, in.Switch.Min, in.Switch.Max, in.Switch.Targets, in.Switch.Default)
	case in.Op == OpLookupSwitch && in.Switch != nil:
		return fmt.Sprintf("%s %v %v default %s", in.Op, in.Switch.Keys, in.Switch.Targets, in.Switch.Default)
	case in.Op == OpSend:
		return fmt.Sprintf("%s #%s argc=%d", in.Op, in.Name, in.Arg)
	case in.Op == OpPushGlobal || in.Op == OpStoreGlobal:
		return fmt.Sprintf("%s %s", in.Op, in.Name)
	case in.Op == OpPushInt || in.Op == OpPushTemp || in.Op == OpStoreTemp || in.Op == OpTouch:
		return fmt.Sprintf("%s %d", in.Op, in.Arg)
	}
	return in.Op.Name()
}

// Handler protects the instructions between Start and End (exclusive) and
// transfers thrown values to Target.
type Handler struct {
	Start, End, Target *Label
}

// Method is one compiled method body.
type Method struct {
	Name      string // selector
	Signature string // descriptor, e.g. "(II)I"
	NumTemps  int    // temporaries including arguments
	Arity     int
	Code      []Instruction
	Handlers  []Handler
}

// Clone returns a shallow copy whose Code and Handlers slices may be
// modified independently. Labels and switch operands are shared.
func (m *Method) Clone() *Method {
	c := *m
	c.Code = append([]Instruction(nil), m.Code...)
	c.Handlers = append([]Handler(nil), m.Handlers...)
	return &c
}

// HasLines reports whether the method carries at least one line marker.
func (m *Method) HasLines() bool {
	for _, in := range m.Code {
		if in.Op == OpLine {
			return true
		}
	}
	return false
}

// Class carries the structural metadata of a class together with its
// methods.
type Class struct {
	Name       string // slash-qualified, e.g. "acme/billing/Invoice"
	Interfaces []string
	Methods    []*Method
}

// Implements reports whether the class declares the named interface.
func (c *Class) Implements(iface string) bool {
	for _, i := range c.Interfaces {
		if i == iface {
			return true
		}
	}
	return false
}

// Method returns the first method with the given selector, or nil.
func (c *Class) Method(name string) *Method {
	for _, m := range c.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}
