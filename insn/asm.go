package insn

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// LineEntry maps a byte code offset to the source line starting there.
type LineEntry struct {
	Offset uint32
	Line   uint32
}

// HandlerEntry is an exception handler expressed in byte code offsets.
type HandlerEntry struct {
	Start, End, Target uint32
}

// Code is the flat, encoded form of a method body.
//
// Layout of one instruction: one opcode byte followed by its operands, all
// little-endian. Jump offsets are 16-bit and relative to the end of the
// operand. Switch offsets are 32-bit and relative to the switch opcode:
//
//	TABLE_SWITCH  default:i32 min:i32 max:i32 offset:i32*(max-min+1)
//	LOOKUP_SWITCH default:i32 count:u32 (key:i32 offset:i32)*count
type Code struct {
	Name      string
	Signature string
	Arity     int
	NumTemps  int
	Bytes     []byte
	Names     []string // selector and global name pool
	Lines     []LineEntry
	Handlers  []HandlerEntry
}

// ---------------------------------------------------------------------------
// Assembler
// ---------------------------------------------------------------------------

type labelRef struct {
	at   int  // position of the operand to patch
	base int  // position offsets are relative to
	wide bool // 32-bit switch offset
}

type labelPos struct {
	resolved bool
	position int
	refs     []labelRef
}

type assembler struct {
	m      *Method
	bytes  []byte
	labels map[*Label]*labelPos
	names  map[string]uint16
	code   *Code
}

// Assemble lowers a labelled method body to byte code.
func Assemble(m *Method) (*Code, error) {
	a := &assembler{
		m:      m,
		bytes:  make([]byte, 0, len(m.Code)*2),
		labels: make(map[*Label]*labelPos),
		names:  make(map[string]uint16),
		code: &Code{
			Name:      m.Name,
			Signature: m.Signature,
			Arity:     m.Arity,
			NumTemps:  m.NumTemps,
		},
	}
	for i, in := range m.Code {
		if err := a.emit(i, in); err != nil {
			return nil, err
		}
	}
	for l, p := range a.labels {
		if !p.resolved {
			return nil, malformed(m, -1, "label %s referenced but never placed", l)
		}
	}
	for _, h := range m.Handlers {
		start, okS := a.labels[h.Start]
		end, okE := a.labels[h.End]
		target, okT := a.labels[h.Target]
		if !okS || !okE || !okT || !start.resolved || !end.resolved || !target.resolved {
			return nil, malformed(m, -1, "handler references an unplaced label")
		}
		a.code.Handlers = append(a.code.Handlers, HandlerEntry{
			Start:  uint32(start.position),
			End:    uint32(end.position),
			Target: uint32(target.position),
		})
	}
	a.code.Bytes = a.bytes
	return a.code, nil
}

func (a *assembler) label(l *Label) *labelPos {
	p, ok := a.labels[l]
	if !ok {
		p = &labelPos{refs: make([]labelRef, 0, 2)}
		a.labels[l] = p
	}
	return p
}

func (a *assembler) name(s string) (uint16, error) {
	if idx, ok := a.names[s]; ok {
		return idx, nil
	}
	if len(a.code.Names) > math.MaxUint16 {
		return 0, fmt.Errorf("%s: name pool overflow", a.m.Name)
	}
	idx := uint16(len(a.code.Names))
	a.code.Names = append(a.code.Names, s)
	a.names[s] = idx
	return idx, nil
}

// mark resolves a label to the current position and patches every forward
// reference to it.
func (a *assembler) mark(i int, l *Label) error {
	p := a.label(l)
	if p.resolved {
		return malformed(a.m, i, "label %s placed twice", l)
	}
	p.resolved = true
	p.position = len(a.bytes)
	for _, ref := range p.refs {
		if err := a.patch(i, ref, p.position); err != nil {
			return err
		}
	}
	p.refs = nil
	return nil
}

func (a *assembler) patch(i int, ref labelRef, target int) error {
	offset := target - ref.base
	if ref.wide {
		binary.LittleEndian.PutUint32(a.bytes[ref.at:], uint32(int32(offset)))
		return nil
	}
	if offset < math.MinInt16 || offset > math.MaxInt16 {
		return malformed(a.m, i, "jump offset %d out of 16-bit range", offset)
	}
	binary.LittleEndian.PutUint16(a.bytes[ref.at:], uint16(int16(offset)))
	return nil
}

// reference emits a placeholder for a label and patches it immediately
// when the label is already placed (backward jump).
func (a *assembler) reference(i int, l *Label, base int, wide bool) error {
	ref := labelRef{at: len(a.bytes), base: base, wide: wide}
	if wide {
		a.bytes = append(a.bytes, 0, 0, 0, 0)
	} else {
		a.bytes = append(a.bytes, 0, 0)
	}
	if l == nil {
		return malformed(a.m, i, "nil jump target")
	}
	p := a.label(l)
	if p.resolved {
		return a.patch(i, ref, p.position)
	}
	p.refs = append(p.refs, ref)
	return nil
}

func (a *assembler) emit(i int, in Instruction) error {
	switch in.Op {
	case OpLabel:
		return a.mark(i, in.Target)
	case OpLine:
		a.code.Lines = append(a.code.Lines, LineEntry{Offset: uint32(len(a.bytes)), Line: uint32(in.Arg)})
		return nil
	}
	if !in.Op.Known() {
		return malformed(a.m, i, "unknown opcode 0x%02X", byte(in.Op))
	}

	start := len(a.bytes)
	a.bytes = append(a.bytes, byte(in.Op))
	switch {
	case in.Op.IsJump():
		// offset is relative to the end of the operand
		return a.reference(i, in.Target, start+3, false)
	case in.Op.IsSwitch():
		return a.emitSwitch(i, start, in)
	}

	switch in.Op {
	case OpPushInt:
		a.bytes = binary.LittleEndian.AppendUint32(a.bytes, uint32(int32(in.Arg)))
	case OpPushTemp, OpStoreTemp:
		a.bytes = append(a.bytes, byte(in.Arg))
	case OpPushGlobal, OpStoreGlobal:
		idx, err := a.name(in.Name)
		if err != nil {
			return err
		}
		a.bytes = binary.LittleEndian.AppendUint16(a.bytes, idx)
	case OpSend:
		idx, err := a.name(in.Name)
		if err != nil {
			return err
		}
		a.bytes = binary.LittleEndian.AppendUint16(a.bytes, idx)
		a.bytes = append(a.bytes, byte(in.Arg))
	case OpTouch:
		a.bytes = binary.LittleEndian.AppendUint32(a.bytes, uint32(in.Arg))
	}
	return nil
}

func (a *assembler) emitSwitch(i, start int, in Instruction) error {
	sw := in.Switch
	if sw == nil {
		return malformed(a.m, i, "%s without operands", in.Op)
	}
	if err := a.reference(i, sw.Default, start, true); err != nil {
		return err
	}
	if in.Op == OpTableSwitch {
		if n := int64(sw.Max) - int64(sw.Min) + 1; n != int64(len(sw.Targets)) {
			return malformed(a.m, i, "table range [%d, %d] needs %d targets, has %d", sw.Min, sw.Max, n, len(sw.Targets))
		}
		a.bytes = binary.LittleEndian.AppendUint32(a.bytes, uint32(sw.Min))
		a.bytes = binary.LittleEndian.AppendUint32(a.bytes, uint32(sw.Max))
		for _, t := range sw.Targets {
			if err := a.reference(i, t, start, true); err != nil {
				return err
			}
		}
		return nil
	}
	if len(sw.Keys) != len(sw.Targets) {
		return malformed(a.m, i, "lookup has %d keys but %d targets", len(sw.Keys), len(sw.Targets))
	}
	a.bytes = binary.LittleEndian.AppendUint32(a.bytes, uint32(len(sw.Keys)))
	for k, key := range sw.Keys {
		a.bytes = binary.LittleEndian.AppendUint32(a.bytes, uint32(key))
		if err := a.reference(i, sw.Targets[k], start, true); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Decoder
// ---------------------------------------------------------------------------

// decoded is one instruction read from byte code with its targets still
// expressed as absolute offsets.
type decoded struct {
	pos     int
	in      Instruction
	target  int
	dflt    int
	targets []int
}

type codeReader struct {
	c   *Code
	pos int
}

func (r *codeReader) need(n int) error {
	if r.pos+n > len(r.c.Bytes) {
		return &VerifyError{Method: r.c.Name + r.c.Signature, Index: -1,
			Reason: fmt.Sprintf("unexpected end of byte code at pos %d", r.pos)}
	}
	return nil
}

func (r *codeReader) u8() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.c.Bytes[r.pos]
	r.pos++
	return b, nil
}

func (r *codeReader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.c.Bytes[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *codeReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.c.Bytes[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *codeReader) name(idx uint16) (string, error) {
	if int(idx) >= len(r.c.Names) {
		return "", &VerifyError{Method: r.c.Name + r.c.Signature, Index: -1,
			Reason: fmt.Sprintf("name index %d out of range at pos %d", idx, r.pos)}
	}
	return r.c.Names[idx], nil
}

func (r *codeReader) next() (decoded, error) {
	d := decoded{pos: r.pos}
	b, err := r.u8()
	if err != nil {
		return d, err
	}
	op := Opcode(b)
	if !op.Known() || op.IsPseudo() {
		return d, &VerifyError{Method: r.c.Name + r.c.Signature, Index: -1,
			Reason: fmt.Sprintf("unknown opcode 0x%02X at pos %d", b, d.pos)}
	}
	d.in.Op = op

	switch {
	case op.IsJump():
		v, err := r.u16()
		if err != nil {
			return d, err
		}
		d.target = r.pos + int(int16(v))
		return d, nil
	case op.IsSwitch():
		return r.switchOperands(d)
	}

	switch op {
	case OpPushInt:
		v, err := r.u32()
		d.in.Arg = int64(int32(v))
		return d, err
	case OpPushTemp, OpStoreTemp:
		v, err := r.u8()
		d.in.Arg = int64(v)
		return d, err
	case OpPushGlobal, OpStoreGlobal:
		idx, err := r.u16()
		if err != nil {
			return d, err
		}
		d.in.Name, err = r.name(idx)
		return d, err
	case OpSend:
		idx, err := r.u16()
		if err != nil {
			return d, err
		}
		if d.in.Name, err = r.name(idx); err != nil {
			return d, err
		}
		argc, err := r.u8()
		d.in.Arg = int64(argc)
		return d, err
	case OpTouch:
		v, err := r.u32()
		d.in.Arg = int64(v)
		return d, err
	}
	return d, nil
}

func (r *codeReader) switchOperands(d decoded) (decoded, error) {
	dflt, err := r.u32()
	if err != nil {
		return d, err
	}
	d.dflt = d.pos + int(int32(dflt))
	d.in.Switch = &Switch{}

	if d.in.Op == OpTableSwitch {
		lo, err := r.u32()
		if err != nil {
			return d, err
		}
		hi, err := r.u32()
		if err != nil {
			return d, err
		}
		d.in.Switch.Min, d.in.Switch.Max = int32(lo), int32(hi)
		n := int64(int32(hi)) - int64(int32(lo)) + 1
		if n <= 0 || n*4 > int64(len(r.c.Bytes)-r.pos) {
			return d, &VerifyError{Method: r.c.Name + r.c.Signature, Index: -1,
				Reason: fmt.Sprintf("bad table range [%d, %d] at pos %d", int32(lo), int32(hi), d.pos)}
		}
		for k := int64(0); k < n; k++ {
			off, err := r.u32()
			if err != nil {
				return d, err
			}
			d.targets = append(d.targets, d.pos+int(int32(off)))
		}
		return d, nil
	}

	count, err := r.u32()
	if err != nil {
		return d, err
	}
	if int64(count)*8 > int64(len(r.c.Bytes)-r.pos) {
		return d, &VerifyError{Method: r.c.Name + r.c.Signature, Index: -1,
			Reason: fmt.Sprintf("lookup count %d exceeds byte code at pos %d", count, d.pos)}
	}
	for k := uint32(0); k < count; k++ {
		key, err := r.u32()
		if err != nil {
			return d, err
		}
		off, err := r.u32()
		if err != nil {
			return d, err
		}
		d.in.Switch.Keys = append(d.in.Switch.Keys, int32(key))
		d.targets = append(d.targets, d.pos+int(int32(off)))
	}
	return d, nil
}

// Decode rebuilds the labelled form of a method from byte code. Labels are
// created for every jump, switch and handler offset; line markers are
// placed after the labels sharing their offset.
func Decode(c *Code) (*Method, error) {
	r := &codeReader{c: c}
	var insns []decoded
	boundary := make(map[int]bool)
	for r.pos < len(c.Bytes) {
		d, err := r.next()
		if err != nil {
			return nil, err
		}
		boundary[d.pos] = true
		insns = append(insns, d)
	}
	boundary[len(c.Bytes)] = true

	offsets := make(map[int]bool)
	addTarget := func(off int) error {
		if !boundary[off] {
			return &VerifyError{Method: c.Name + c.Signature, Index: -1,
				Reason: fmt.Sprintf("target %d is not an instruction boundary", off)}
		}
		offsets[off] = true
		return nil
	}
	for _, d := range insns {
		switch {
		case d.in.Op.IsJump():
			if err := addTarget(d.target); err != nil {
				return nil, err
			}
		case d.in.Op.IsSwitch():
			for _, t := range append([]int{d.dflt}, d.targets...) {
				if err := addTarget(t); err != nil {
					return nil, err
				}
			}
		}
	}
	for _, h := range c.Handlers {
		for _, off := range []uint32{h.Start, h.End, h.Target} {
			if err := addTarget(int(off)); err != nil {
				return nil, err
			}
		}
	}

	sorted := make([]int, 0, len(offsets))
	for off := range offsets {
		sorted = append(sorted, off)
	}
	sort.Ints(sorted)
	labels := make(map[int]*Label, len(sorted))
	for i, off := range sorted {
		labels[off] = &Label{name: fmt.Sprintf("L%d", i)}
	}
	lines := make(map[int][]uint32)
	for _, le := range c.Lines {
		if !boundary[int(le.Offset)] {
			return nil, &VerifyError{Method: c.Name + c.Signature, Index: -1,
				Reason: fmt.Sprintf("line entry at %d is not an instruction boundary", le.Offset)}
		}
		lines[int(le.Offset)] = append(lines[int(le.Offset)], le.Line)
	}

	m := &Method{
		Name:      c.Name,
		Signature: c.Signature,
		Arity:     c.Arity,
		NumTemps:  c.NumTemps,
		Code:      make([]Instruction, 0, len(insns)+len(labels)+len(c.Lines)),
	}
	place := func(pos int) {
		if l, ok := labels[pos]; ok {
			m.Code = append(m.Code, Instruction{Op: OpLabel, Target: l})
		}
		for _, n := range lines[pos] {
			m.Code = append(m.Code, Instruction{Op: OpLine, Arg: int64(n)})
		}
	}
	for _, d := range insns {
		place(d.pos)
		in := d.in
		switch {
		case in.Op.IsJump():
			in.Target = labels[d.target]
		case in.Op.IsSwitch():
			in.Switch.Default = labels[d.dflt]
			for _, t := range d.targets {
				in.Switch.Targets = append(in.Switch.Targets, labels[t])
			}
		}
		m.Code = append(m.Code, in)
	}
	place(len(c.Bytes))

	for _, h := range c.Handlers {
		m.Handlers = append(m.Handlers, Handler{
			Start:  labels[int(h.Start)],
			End:    labels[int(h.End)],
			Target: labels[int(h.Target)],
		})
	}
	return m, nil
}
