// Package interp executes instruction streams on a small integer stack
// machine. It runs original and instrumented methods side by side so tests
// can check that probes leave observable behavior untouched.
//
// Every value is an int64. Nil and false are 0, true is 1.
package interp

import (
	"errors"
	"fmt"

	"github.com/chazu/magcov/insn"
	"github.com/chazu/magcov/probe"
)

// DefaultMaxSteps bounds the instructions a single Execute may run.
const DefaultMaxSteps = 1 << 20

// ErrStepLimit is returned when a method runs longer than MaxSteps.
var ErrStepLimit = errors.New("interp: step limit exceeded")

// MessageSender performs message sends on behalf of the VM.
type MessageSender interface {
	// SendMessage sends selector to receiver. Returning a *Thrown transfers
	// control to the innermost handler covering the send.
	SendMessage(receiver int64, selector string, args ...int64) (int64, error)
}

// Thrown carries a value raised by THROW or by a send.
type Thrown struct {
	Value int64
}

func (t *Thrown) Error() string {
	return fmt.Sprintf("uncaught throw: %d", t.Value)
}

// VM executes methods.
type VM struct {
	sender   MessageSender
	recorder probe.Recorder
	globals  map[string]int64

	// MaxSteps bounds the number of executed instructions per call.
	MaxSteps int
	// Steps is the number of instructions the last Execute ran.
	Steps int
}

// New creates a VM with no sender, no recorder and empty globals.
func New() *VM {
	return &VM{globals: make(map[string]int64), MaxSteps: DefaultMaxSteps}
}

// SetMessageSender sets the message sender for SEND.
func (vm *VM) SetMessageSender(sender MessageSender) {
	vm.sender = sender
}

// SetRecorder sets the counter array TOUCH increments. Without one TOUCH
// is a no-op.
func (vm *VM) SetRecorder(r probe.Recorder) {
	vm.recorder = r
}

// SetGlobal assigns a global variable.
func (vm *VM) SetGlobal(name string, v int64) {
	vm.globals[name] = v
}

// Global reads a global variable.
func (vm *VM) Global(name string) int64 {
	return vm.globals[name]
}

type frame struct {
	m        *insn.Method
	labels   map[*insn.Label]int
	handlers []handlerRange
	ip       int
	stack    []int64
	temps    []int64
}

type handlerRange struct {
	start, end, target int
}

func (f *frame) push(v int64) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() (int64, error) {
	if len(f.stack) == 0 {
		return 0, fmt.Errorf("interp: %s: stack underflow at %d", f.m.Name, f.ip)
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *frame) pop2() (a, b int64, err error) {
	if b, err = f.pop(); err != nil {
		return
	}
	a, err = f.pop()
	return
}

func (f *frame) jump(l *insn.Label) error {
	i, ok := f.labels[l]
	if !ok {
		return fmt.Errorf("interp: %s: jump to unplaced label %s", f.m.Name, l)
	}
	f.ip = i
	return nil
}

// raise transfers a thrown value to the innermost handler covering the
// instruction at at. It reports false when none does.
func (f *frame) raise(at int, v int64) bool {
	for _, h := range f.handlers {
		if at >= h.start && at < h.end {
			f.stack = append(f.stack[:0], v)
			f.ip = h.target
			return true
		}
	}
	return false
}

func newFrame(m *insn.Method, args []int64) (*frame, error) {
	if len(args) != m.Arity {
		return nil, fmt.Errorf("interp: %s expects %d arguments, got %d", m.Name, m.Arity, len(args))
	}
	f := &frame{
		m:      m,
		labels: make(map[*insn.Label]int),
		stack:  make([]int64, 0, 16),
		temps:  make([]int64, max(m.NumTemps, m.Arity)),
	}
	copy(f.temps, args)
	for i, in := range m.Code {
		if in.Op == insn.OpLabel {
			f.labels[in.Target] = i
		}
	}
	for _, h := range m.Handlers {
		s, okS := f.labels[h.Start]
		e, okE := f.labels[h.End]
		t, okT := f.labels[h.Target]
		if !okS || !okE || !okT {
			return nil, fmt.Errorf("interp: %s: handler references an unplaced label", m.Name)
		}
		f.handlers = append(f.handlers, handlerRange{s, e, t})
	}
	return f, nil
}

func bool64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Execute runs m with the given arguments and returns its result. The
// method is expected to pass insn.Verify.
func (vm *VM) Execute(m *insn.Method, args ...int64) (int64, error) {
	f, err := newFrame(m, args)
	if err != nil {
		return 0, err
	}
	limit := vm.MaxSteps
	if limit <= 0 {
		limit = DefaultMaxSteps
	}
	vm.Steps = 0

	for {
		if f.ip >= len(m.Code) {
			return 0, fmt.Errorf("interp: %s: fell off the end", m.Name)
		}
		if vm.Steps >= limit {
			return 0, ErrStepLimit
		}
		vm.Steps++

		at := f.ip
		in := m.Code[at]
		f.ip++

		var err error
		switch in.Op {
		case insn.OpNOP, insn.OpLabel, insn.OpLine:
			// nothing

		case insn.OpPOP:
			_, err = f.pop()
		case insn.OpDUP:
			var v int64
			if v, err = f.pop(); err == nil {
				f.push(v)
				f.push(v)
			}
		case insn.OpSWAP:
			var a, b int64
			if a, b, err = f.pop2(); err == nil {
				f.push(b)
				f.push(a)
			}

		case insn.OpPushNil, insn.OpPushFalse:
			f.push(0)
		case insn.OpPushTrue:
			f.push(1)
		case insn.OpPushInt:
			f.push(in.Arg)

		case insn.OpPushTemp:
			f.push(f.temps[in.Arg])
		case insn.OpStoreTemp:
			var v int64
			if v, err = f.pop(); err == nil {
				f.temps[in.Arg] = v
			}
		case insn.OpPushGlobal:
			f.push(vm.globals[in.Name])
		case insn.OpStoreGlobal:
			var v int64
			if v, err = f.pop(); err == nil {
				vm.globals[in.Name] = v
			}

		case insn.OpSend:
			err = vm.send(f, at, in)

		case insn.OpAdd, insn.OpSub, insn.OpMul, insn.OpDiv, insn.OpMod,
			insn.OpLT, insn.OpGT, insn.OpEQ, insn.OpNE:
			err = arith(f, in.Op)
		case insn.OpNeg:
			var v int64
			if v, err = f.pop(); err == nil {
				f.push(-v)
			}

		case insn.OpJump:
			err = f.jump(in.Target)
		case insn.OpJumpTrue, insn.OpJumpFalse, insn.OpJumpNil, insn.OpJumpNotNil:
			var v int64
			if v, err = f.pop(); err == nil && takes1(in.Op, v) {
				err = f.jump(in.Target)
			}
		case insn.OpJumpEQ, insn.OpJumpNE, insn.OpJumpLT, insn.OpJumpGE:
			var a, b int64
			if a, b, err = f.pop2(); err == nil && takes2(in.Op, a, b) {
				err = f.jump(in.Target)
			}

		case insn.OpTableSwitch, insn.OpLookupSwitch:
			var v int64
			if v, err = f.pop(); err == nil {
				err = f.jump(dispatch(in, v))
			}

		case insn.OpReturnTop:
			return f.pop()
		case insn.OpReturnNil:
			return 0, nil
		case insn.OpThrow:
			var v int64
			if v, err = f.pop(); err == nil && !f.raise(at, v) {
				return 0, &Thrown{Value: v}
			}

		case insn.OpTouch:
			if vm.recorder != nil {
				vm.recorder.Touch(int(in.Arg))
			}

		default:
			err = fmt.Errorf("interp: %s: unknown opcode %s at %d", m.Name, in.Op, at)
		}
		if err != nil {
			return 0, err
		}
	}
}

func (vm *VM) send(f *frame, at int, in insn.Instruction) error {
	argc := int(in.Arg)
	if len(f.stack) < argc+1 {
		return fmt.Errorf("interp: %s: stack underflow at %d", f.m.Name, at)
	}
	base := len(f.stack) - argc - 1
	receiver := f.stack[base]
	args := append([]int64(nil), f.stack[base+1:]...)
	f.stack = f.stack[:base]
	if vm.sender == nil {
		return fmt.Errorf("interp: %s: no message sender for #%s", f.m.Name, in.Name)
	}
	result, err := vm.sender.SendMessage(receiver, in.Name, args...)
	var thrown *Thrown
	if errors.As(err, &thrown) {
		if f.raise(at, thrown.Value) {
			return nil
		}
		return thrown
	}
	if err != nil {
		return err
	}
	f.push(result)
	return nil
}

func arith(f *frame, op insn.Opcode) error {
	a, b, err := f.pop2()
	if err != nil {
		return err
	}
	var r int64
	switch op {
	case insn.OpAdd:
		r = a + b
	case insn.OpSub:
		r = a - b
	case insn.OpMul:
		r = a * b
	case insn.OpDiv, insn.OpMod:
		if b == 0 {
			return fmt.Errorf("interp: %s: division by zero", f.m.Name)
		}
		if op == insn.OpDiv {
			r = a / b
		} else {
			r = a % b
		}
	case insn.OpLT:
		r = bool64(a < b)
	case insn.OpGT:
		r = bool64(a > b)
	case insn.OpEQ:
		r = bool64(a == b)
	case insn.OpNE:
		r = bool64(a != b)
	}
	f.push(r)
	return nil
}

func takes1(op insn.Opcode, v int64) bool {
	switch op {
	case insn.OpJumpTrue, insn.OpJumpNotNil:
		return v != 0
	default:
		return v == 0
	}
}

func takes2(op insn.Opcode, a, b int64) bool {
	switch op {
	case insn.OpJumpEQ:
		return a == b
	case insn.OpJumpNE:
		return a != b
	case insn.OpJumpLT:
		return a < b
	default:
		return a >= b
	}
}

func dispatch(in insn.Instruction, v int64) *insn.Label {
	sw := in.Switch
	if in.Op == insn.OpTableSwitch {
		if v >= int64(sw.Min) && v <= int64(sw.Max) {
			return sw.Targets[v-int64(sw.Min)]
		}
		return sw.Default
	}
	for i, k := range sw.Keys {
		if int64(k) == v {
			return sw.Targets[i]
		}
	}
	return sw.Default
}
