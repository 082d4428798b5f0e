package insn

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single instruction of a method body.
type Opcode byte

// Stack Operations
const (
	OpNOP  Opcode = 0x00 // no operation
	OpPOP  Opcode = 0x01 // discard top of stack
	OpDUP  Opcode = 0x02 // duplicate top of stack
	OpSWAP Opcode = 0x03 // swap top two elements
)

// Push Constants
const (
	OpPushNil   Opcode = 0x10 // push nil
	OpPushTrue  Opcode = 0x11 // push true
	OpPushFalse Opcode = 0x12 // push false
	OpPushInt   Opcode = 0x13 // push 32-bit signed integer
)

// Variable Operations
const (
	OpPushTemp    Opcode = 0x20 // push temporary/argument (8-bit index)
	OpStoreTemp   Opcode = 0x21 // store into temporary (8-bit index)
	OpPushGlobal  Opcode = 0x22 // push global (16-bit name index)
	OpStoreGlobal Opcode = 0x23 // store into global (16-bit name index)
)

// Message Sends
const (
	OpSend Opcode = 0x30 // send message (16-bit selector, 8-bit argc)
)

// Arithmetic and comparison
const (
	OpAdd Opcode = 0x40
	OpSub Opcode = 0x41
	OpMul Opcode = 0x42
	OpDiv Opcode = 0x43
	OpMod Opcode = 0x44
	OpNeg Opcode = 0x45
	OpLT  Opcode = 0x48
	OpGT  Opcode = 0x49
	OpEQ  Opcode = 0x4A
	OpNE  Opcode = 0x4B
)

// Control Flow
const (
	OpJump       Opcode = 0x60 // unconditional jump (16-bit offset)
	OpJumpTrue   Opcode = 0x61 // pop, jump if true
	OpJumpFalse  Opcode = 0x62 // pop, jump if false
	OpJumpNil    Opcode = 0x63 // pop, jump if nil
	OpJumpNotNil Opcode = 0x64 // pop, jump if not nil
	OpJumpEQ     Opcode = 0x65 // pop two, jump if equal
	OpJumpNE     Opcode = 0x66 // pop two, jump if not equal
	OpJumpLT     Opcode = 0x67 // pop two, jump if a < b
	OpJumpGE     Opcode = 0x68 // pop two, jump if a >= b

	OpTableSwitch  Opcode = 0x6A // pop, dense dispatch over [min, max]
	OpLookupSwitch Opcode = 0x6B // pop, dispatch over explicit keys
)

// Returns
const (
	OpReturnTop Opcode = 0x70 // return top of stack
	OpReturnNil Opcode = 0x71 // return nil
	OpThrow     Opcode = 0x72 // pop and raise to the nearest handler
)

// Coverage probes
const (
	OpTouch Opcode = 0xC0 // increment hit counter (32-bit id)
)

// Pseudo instructions. They occupy a position in a method's code but are
// never executed or encoded as opcodes.
const (
	OpLabel Opcode = 0xF0 // position marker
	OpLine  Opcode = 0xF1 // source line marker
)

// ClassInitializer is the selector of the class-side initializer. Jumps
// inside it are never instrumented.
const ClassInitializer = "<clinit>"

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // encoded operand bytes (-1 = variable)
	Pops         int    // values popped (-1 = variable)
	Pushes       int    // values pushed
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	// Stack operations
	OpNOP:  {"NOP", 0, 0, 0},
	OpPOP:  {"POP", 0, 1, 0},
	OpDUP:  {"DUP", 0, 1, 2},
	OpSWAP: {"SWAP", 0, 2, 2},

	// Push constants
	OpPushNil:   {"PUSH_NIL", 0, 0, 1},
	OpPushTrue:  {"PUSH_TRUE", 0, 0, 1},
	OpPushFalse: {"PUSH_FALSE", 0, 0, 1},
	OpPushInt:   {"PUSH_INT", 4, 0, 1},

	// Variables
	OpPushTemp:    {"PUSH_TEMP", 1, 0, 1},
	OpStoreTemp:   {"STORE_TEMP", 1, 1, 0},
	OpPushGlobal:  {"PUSH_GLOBAL", 2, 0, 1},
	OpStoreGlobal: {"STORE_GLOBAL", 2, 1, 0},

	// Sends pop receiver + argc arguments
	OpSend: {"SEND", 3, -1, 1},

	// Arithmetic
	OpAdd: {"ADD", 0, 2, 1},
	OpSub: {"SUB", 0, 2, 1},
	OpMul: {"MUL", 0, 2, 1},
	OpDiv: {"DIV", 0, 2, 1},
	OpMod: {"MOD", 0, 2, 1},
	OpNeg: {"NEG", 0, 1, 1},
	OpLT:  {"LT", 0, 2, 1},
	OpGT:  {"GT", 0, 2, 1},
	OpEQ:  {"EQ", 0, 2, 1},
	OpNE:  {"NE", 0, 2, 1},

	// Control flow
	OpJump:         {"JUMP", 2, 0, 0},
	OpJumpTrue:     {"JUMP_TRUE", 2, 1, 0},
	OpJumpFalse:    {"JUMP_FALSE", 2, 1, 0},
	OpJumpNil:      {"JUMP_NIL", 2, 1, 0},
	OpJumpNotNil:   {"JUMP_NOT_NIL", 2, 1, 0},
	OpJumpEQ:       {"JUMP_EQ", 2, 2, 0},
	OpJumpNE:       {"JUMP_NE", 2, 2, 0},
	OpJumpLT:       {"JUMP_LT", 2, 2, 0},
	OpJumpGE:       {"JUMP_GE", 2, 2, 0},
	OpTableSwitch:  {"TABLE_SWITCH", -1, 1, 0},
	OpLookupSwitch: {"LOOKUP_SWITCH", -1, 1, 0},

	// Returns
	OpReturnTop: {"RETURN_TOP", 0, 1, 0},
	OpReturnNil: {"RETURN_NIL", 0, 0, 0},
	OpThrow:     {"THROW", 0, 1, 0},

	// Probes
	OpTouch: {"TOUCH", 4, 0, 0},

	// Pseudo
	OpLabel: {"LABEL", 0, 0, 0},
	OpLine:  {"LINE", 0, 0, 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// Known reports whether op is a defined opcode.
func (op Opcode) Known() bool {
	_, ok := opcodeTable[op]
	return ok
}

// IsPseudo reports whether op is a marker that is never executed.
func (op Opcode) IsPseudo() bool {
	return op == OpLabel || op == OpLine
}

// IsJump reports whether op transfers control to a single label.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpGE
}

// IsConditionalJump reports whether op is a two-way conditional jump.
func (op Opcode) IsConditionalJump() bool {
	return op > OpJump && op <= OpJumpGE
}

// IsSwitch reports whether op is a multi-way dispatch.
func (op Opcode) IsSwitch() bool {
	return op == OpTableSwitch || op == OpLookupSwitch
}

// IsTerminator reports whether control never falls through op.
func (op Opcode) IsTerminator() bool {
	switch op {
	case OpJump, OpTableSwitch, OpLookupSwitch, OpReturnTop, OpReturnNil, OpThrow:
		return true
	}
	return false
}
