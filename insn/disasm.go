package insn

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of a method body.
func Disassemble(m *Method) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("; === %s%s ===\n", m.Name, m.Signature))
	if m.NumTemps > 0 {
		sb.WriteString(fmt.Sprintf("; Temps: %d (args %d)\n", m.NumTemps, m.Arity))
	}
	for i, h := range m.Handlers {
		sb.WriteString(fmt.Sprintf("; Handler %d: [%s, %s) -> %s\n", i, h.Start, h.End, h.Target))
	}
	for i, in := range m.Code {
		switch in.Op {
		case OpLabel:
			sb.WriteString(in.String())
		case OpLine:
			sb.WriteString(fmt.Sprintf("      ; %s", in))
		default:
			sb.WriteString(fmt.Sprintf("%04d  %s", i, in))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// DisassembleCode decodes byte code and lists it.
func DisassembleCode(c *Code) (string, error) {
	m, err := Decode(c)
	if err != nil {
		return "", err
	}
	return Disassemble(m), nil
}
