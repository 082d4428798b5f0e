package insn

import "strconv"

// ---------------------------------------------------------------------------
// Builder: helper for constructing method bodies
// ---------------------------------------------------------------------------

// Builder helps construct instruction streams.
type Builder struct {
	m      *Method
	labels int
}

// NewBuilder creates a builder for a method with the given selector and
// signature.
func NewBuilder(name, signature string) *Builder {
	return &Builder{m: &Method{
		Name:      name,
		Signature: signature,
		Code:      make([]Instruction, 0, 32),
	}}
}

// SetArity sets the number of arguments. Arguments occupy the first temps.
func (b *Builder) SetArity(n int) *Builder {
	b.m.Arity = n
	if b.m.NumTemps < n {
		b.m.NumTemps = n
	}
	return b
}

// SetNumTemps sets the number of temporaries including arguments.
func (b *Builder) SetNumTemps(n int) *Builder {
	b.m.NumTemps = n
	return b
}

// Len returns the number of instructions emitted so far.
func (b *Builder) Len() int {
	return len(b.m.Code)
}

// Emit appends an instruction with no operands.
func (b *Builder) Emit(op Opcode) *Builder {
	b.m.Code = append(b.m.Code, Instruction{Op: op})
	return b
}

// EmitInt appends an instruction with an integer operand.
func (b *Builder) EmitInt(op Opcode, arg int64) *Builder {
	b.m.Code = append(b.m.Code, Instruction{Op: op, Arg: arg})
	return b
}

// PushInt appends PUSH_INT v.
func (b *Builder) PushInt(v int32) *Builder {
	return b.EmitInt(OpPushInt, int64(v))
}

// PushTemp appends PUSH_TEMP slot.
func (b *Builder) PushTemp(slot int) *Builder {
	return b.EmitInt(OpPushTemp, int64(slot))
}

// StoreTemp appends STORE_TEMP slot.
func (b *Builder) StoreTemp(slot int) *Builder {
	return b.EmitInt(OpStoreTemp, int64(slot))
}

// PushGlobal appends PUSH_GLOBAL name.
func (b *Builder) PushGlobal(name string) *Builder {
	b.m.Code = append(b.m.Code, Instruction{Op: OpPushGlobal, Name: name})
	return b
}

// StoreGlobal appends STORE_GLOBAL name.
func (b *Builder) StoreGlobal(name string) *Builder {
	b.m.Code = append(b.m.Code, Instruction{Op: OpStoreGlobal, Name: name})
	return b
}

// Send appends a message send popping a receiver and argc arguments.
func (b *Builder) Send(selector string, argc int) *Builder {
	b.m.Code = append(b.m.Code, Instruction{Op: OpSend, Name: selector, Arg: int64(argc)})
	return b
}

// Line appends a source line marker.
func (b *Builder) Line(n int) *Builder {
	return b.EmitInt(OpLine, int64(n))
}

// Touch appends a probe for the given counter id.
func (b *Builder) Touch(id int) *Builder {
	return b.EmitInt(OpTouch, int64(id))
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// NewLabel creates an unplaced label named after its creation order.
func (b *Builder) NewLabel() *Label {
	l := &Label{name: "L" + strconv.Itoa(b.labels)}
	b.labels++
	return l
}

// Mark places a label at the current position.
func (b *Builder) Mark(label *Label) *Builder {
	b.m.Code = append(b.m.Code, Instruction{Op: OpLabel, Target: label})
	return b
}

// Jump appends a jump instruction to label.
func (b *Builder) Jump(op Opcode, label *Label) *Builder {
	b.m.Code = append(b.m.Code, Instruction{Op: op, Target: label})
	return b
}

// TableSwitch appends a dense dispatch over [min, max].
func (b *Builder) TableSwitch(min, max int32, dflt *Label, targets ...*Label) *Builder {
	b.m.Code = append(b.m.Code, Instruction{Op: OpTableSwitch, Switch: &Switch{
		Min: min, Max: max, Default: dflt, Targets: targets,
	}})
	return b
}

// LookupSwitch appends a dispatch over explicit keys.
func (b *Builder) LookupSwitch(keys []int32, dflt *Label, targets ...*Label) *Builder {
	b.m.Code = append(b.m.Code, Instruction{Op: OpLookupSwitch, Switch: &Switch{
		Keys: keys, Default: dflt, Targets: targets,
	}})
	return b
}

// Handler registers an exception handler over [start, end).
func (b *Builder) Handler(start, end, target *Label) *Builder {
	b.m.Handlers = append(b.m.Handlers, Handler{Start: start, End: end, Target: target})
	return b
}

// Build returns the constructed method. The builder must not be reused.
func (b *Builder) Build() *Method {
	return b.m
}
