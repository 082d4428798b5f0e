package insn

// maxMethod returns the larger of its two arguments:
//
//	3: if a < b goto else
//	4: return a
//	5: else: return b
func maxMethod() *Method {
	b := NewBuilder("max:with:", "(II)I").SetArity(2)
	els := b.NewLabel()
	b.Line(3).PushTemp(0).PushTemp(1).Jump(OpJumpLT, els)
	b.Line(4).PushTemp(0).Emit(OpReturnTop)
	b.Mark(els).Line(5).PushTemp(1).Emit(OpReturnTop)
	return b.Build()
}

// dispatchMethod switches densely over its argument.
func dispatchMethod() *Method {
	b := NewBuilder("classify:", "(I)I").SetArity(1)
	one, two, other, done := b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Line(1).PushTemp(0).TableSwitch(1, 2, other, one, two)
	b.Mark(one).Line(2).PushInt(10).Jump(OpJump, done)
	b.Mark(two).Line(3).PushInt(20).Jump(OpJump, done)
	b.Mark(other).Line(4).PushInt(-1)
	b.Mark(done).Line(5).Emit(OpReturnTop)
	return b.Build()
}

// guardedMethod sends a message inside a handler range.
func guardedMethod() *Method {
	b := NewBuilder("safe", "()I")
	start, end, catch := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Mark(start).Line(1).Emit(OpPushNil).Send("boom", 0).Emit(OpReturnTop)
	b.Mark(end)
	b.Mark(catch).Line(2).Emit(OpPOP).PushInt(7).Emit(OpReturnTop)
	b.Handler(start, end, catch)
	return b.Build()
}

// shape renders the significant instructions without label identities.
func shape(m *Method) []string {
	var out []string
	for _, in := range Significant(m) {
		s := in.Op.Name()
		switch {
		case in.Op.IsJump():
		case in.Op.IsSwitch():
			s += " switch"
		default:
			s = in.String()
		}
		out = append(out, s)
	}
	return out
}
