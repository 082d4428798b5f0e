package instrument

import (
	"strconv"

	"github.com/chazu/magcov/insn"
)

// Inject rewrites an enumerated method into its instrumented form:
//
//	LINE n            ->  LINE n; TOUCH line
//	Jcc L             ->  Jcc T; JUMP F; T: TOUCH t; JUMP L; F: TOUCH f
//	SWITCH(k, D0, A0) ->  JUMP S; A: TOUCH a; JUMP A0 ...; D: TOUCH d; JUMP D0;
//	                      S: SWITCH(k, D, A)
//
// F falls through to the original successor. The rewrite adds only probes,
// markers and unconditional jumps, so stack depths, temps and handler
// coverage are those of the original.
func Inject(e *Enumerated) *insn.Method {
	out := e.Method.Clone()
	code := make([]insn.Instruction, 0, len(e.Code)+len(e.Code)/2)

	for _, a := range e.Code {
		switch {
		case a.Op == insn.OpLine && a.LineID != NoProbe:
			code = append(code, a.Instruction, touch(a.LineID))

		case a.Jump != nil:
			t := insn.NewLabel("T" + strconv.Itoa(a.Jump.TrueID))
			f := insn.NewLabel("F" + strconv.Itoa(a.Jump.FalseID))
			code = append(code,
				insn.Instruction{Op: a.Op, Target: t},
				insn.Instruction{Op: insn.OpJump, Target: f},
				insn.Instruction{Op: insn.OpLabel, Target: t},
				touch(a.Jump.TrueID),
				insn.Instruction{Op: insn.OpJump, Target: a.Target},
				insn.Instruction{Op: insn.OpLabel, Target: f},
				touch(a.Jump.FalseID),
			)

		case a.Switch != nil:
			code = appendSwitch(code, a)

		default:
			code = append(code, a.Instruction)
		}
	}
	out.Code = code
	return out
}

func touch(id int) insn.Instruction {
	return insn.Instruction{Op: insn.OpTouch, Arg: int64(id)}
}

func appendSwitch(code []insn.Instruction, a Annotated) []insn.Instruction {
	orig := a.Instruction.Switch
	rec := a.Switch.Record
	dispatch := insn.NewLabel("S" + strconv.Itoa(rec.DefaultID))
	code = append(code, insn.Instruction{Op: insn.OpJump, Target: dispatch})

	arms := make([]*insn.Label, len(orig.Targets))
	for k, target := range orig.Targets {
		arms[k] = insn.NewLabel("A" + strconv.Itoa(rec.IDs[k]))
		code = append(code,
			insn.Instruction{Op: insn.OpLabel, Target: arms[k]},
			touch(rec.IDs[k]),
			insn.Instruction{Op: insn.OpJump, Target: target},
		)
	}
	dflt := insn.NewLabel("D" + strconv.Itoa(rec.DefaultID))
	code = append(code,
		insn.Instruction{Op: insn.OpLabel, Target: dflt},
		touch(rec.DefaultID),
		insn.Instruction{Op: insn.OpJump, Target: orig.Default},
		insn.Instruction{Op: insn.OpLabel, Target: dispatch},
	)

	sw := &insn.Switch{Min: orig.Min, Max: orig.Max, Default: dflt, Targets: arms}
	if a.Op == insn.OpLookupSwitch {
		sw.Keys = append([]int32(nil), orig.Keys...)
	}
	return append(code, insn.Instruction{Op: a.Op, Switch: sw})
}
