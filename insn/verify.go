package insn

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformed is matched by every error Verify returns.
var ErrMalformed = errors.New("malformed method")

// VerifyError describes why a method body violates the stream invariants.
type VerifyError struct {
	Method string
	Index  int // instruction index, -1 if not tied to one instruction
	Reason string
}

func (e *VerifyError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("%s: instruction %d: %s", e.Method, e.Index, e.Reason)
}

// Is makes errors.Is(err, ErrMalformed) hold for every VerifyError.
func (e *VerifyError) Is(target error) bool {
	return target == ErrMalformed
}

func malformed(m *Method, index int, format string, args ...any) error {
	return &VerifyError{Method: m.Name + m.Signature, Index: index, Reason: fmt.Sprintf(format, args...)}
}

// labelIndex maps every placed label to the index of its LABEL instruction.
func labelIndex(m *Method) (map[*Label]int, error) {
	idx := make(map[*Label]int)
	for i, in := range m.Code {
		if in.Op != OpLabel {
			continue
		}
		if in.Target == nil {
			return nil, malformed(m, i, "LABEL without a label")
		}
		if _, dup := idx[in.Target]; dup {
			return nil, malformed(m, i, "label %s placed twice", in.Target)
		}
		idx[in.Target] = i
	}
	return idx, nil
}

// Verify checks that a method body is well formed: every opcode is known,
// every referenced label is placed exactly once, switch operands have a
// consistent shape, temp slots are in range, handler ranges are ordered, and
// control cannot fall off the end of the code.
func Verify(m *Method) error {
	labels, err := labelIndex(m)
	if err != nil {
		return err
	}
	placed := func(l *Label) bool {
		_, ok := labels[l]
		return l != nil && ok
	}

	for i, in := range m.Code {
		if !in.Op.Known() {
			return malformed(m, i, "unknown opcode 0x%02X", byte(in.Op))
		}
		switch {
		case in.Op.IsJump():
			if !placed(in.Target) {
				return malformed(m, i, "%s targets unplaced label %s", in.Op, in.Target)
			}
		case in.Op.IsSwitch():
			if err := verifySwitch(m, i, in, placed); err != nil {
				return err
			}
		}
		switch in.Op {
		case OpPushTemp, OpStoreTemp:
			if in.Arg < 0 || in.Arg >= int64(m.NumTemps) || in.Arg > math.MaxUint8 {
				return malformed(m, i, "temp slot %d out of range (%d temps)", in.Arg, m.NumTemps)
			}
		case OpPushInt:
			if in.Arg < math.MinInt32 || in.Arg > math.MaxInt32 {
				return malformed(m, i, "integer %d does not fit 32 bits", in.Arg)
			}
		case OpSend:
			if in.Arg < 0 || in.Arg > math.MaxUint8 {
				return malformed(m, i, "bad argument count %d", in.Arg)
			}
		case OpTouch:
			if in.Arg < 0 || in.Arg > math.MaxUint32 {
				return malformed(m, i, "probe id %d out of range", in.Arg)
			}
		case OpLine:
			if in.Arg <= 0 {
				return malformed(m, i, "line number %d must be positive", in.Arg)
			}
		}
	}

	for h, hd := range m.Handlers {
		if !placed(hd.Start) || !placed(hd.End) || !placed(hd.Target) {
			return malformed(m, -1, "handler %d references an unplaced label", h)
		}
		if labels[hd.Start] >= labels[hd.End] {
			return malformed(m, -1, "handler %d has an empty or inverted range", h)
		}
	}

	if len(m.Code) == 0 {
		return nil
	}
	reach, err := Reachable(m)
	if err != nil {
		return err
	}
	if reach[len(m.Code)] {
		return malformed(m, -1, "control falls off the end of the method")
	}
	return nil
}

func verifySwitch(m *Method, i int, in Instruction, placed func(*Label) bool) error {
	sw := in.Switch
	if sw == nil {
		return malformed(m, i, "%s without operands", in.Op)
	}
	if !placed(sw.Default) {
		return malformed(m, i, "%s default targets unplaced label %s", in.Op, sw.Default)
	}
	for _, t := range sw.Targets {
		if !placed(t) {
			return malformed(m, i, "%s targets unplaced label %s", in.Op, t)
		}
	}
	if in.Op == OpTableSwitch {
		if sw.Max < sw.Min {
			return malformed(m, i, "table range [%d, %d] is inverted", sw.Min, sw.Max)
		}
		if n := int64(sw.Max) - int64(sw.Min) + 1; n != int64(len(sw.Targets)) {
			return malformed(m, i, "table range [%d, %d] needs %d targets, has %d", sw.Min, sw.Max, n, len(sw.Targets))
		}
		return nil
	}
	if len(sw.Keys) != len(sw.Targets) {
		return malformed(m, i, "lookup has %d keys but %d targets", len(sw.Keys), len(sw.Targets))
	}
	seen := make(map[int32]bool, len(sw.Keys))
	for _, k := range sw.Keys {
		if seen[k] {
			return malformed(m, i, "lookup key %d repeated", k)
		}
		seen[k] = true
	}
	return nil
}
