package insn

import "sort"

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// Successors returns, for every instruction index, the indices control may
// reach next. The index len(m.Code) stands for falling off the end. Thrown
// values reach the handler targets covering THROW and SEND instructions.
func Successors(m *Method) ([][]int, error) {
	normal, thrown, err := successors(m)
	if err != nil {
		return nil, err
	}
	for i := range normal {
		normal[i] = append(normal[i], thrown[i]...)
	}
	return normal, nil
}

// successors splits the control-flow edges of every instruction into
// normal ones and those taken by a thrown value.
func successors(m *Method) (normal, thrown [][]int, err error) {
	labels, err := labelIndex(m)
	if err != nil {
		return nil, nil, err
	}
	at := func(i int, l *Label) (int, error) {
		if j, ok := labels[l]; ok && l != nil {
			return j, nil
		}
		return 0, malformed(m, i, "reference to unplaced label %s", l)
	}

	normal = make([][]int, len(m.Code))
	thrown = make([][]int, len(m.Code))
	for i, in := range m.Code {
		switch {
		case in.Op == OpJump:
			j, err := at(i, in.Target)
			if err != nil {
				return nil, nil, err
			}
			normal[i] = []int{j}
		case in.Op.IsConditionalJump():
			j, err := at(i, in.Target)
			if err != nil {
				return nil, nil, err
			}
			normal[i] = []int{i + 1, j}
		case in.Op.IsSwitch():
			if in.Switch == nil {
				return nil, nil, malformed(m, i, "%s without operands", in.Op)
			}
			seen := make(map[int]bool)
			for _, l := range append([]*Label{in.Switch.Default}, in.Switch.Targets...) {
				j, err := at(i, l)
				if err != nil {
					return nil, nil, err
				}
				if !seen[j] {
					seen[j] = true
					normal[i] = append(normal[i], j)
				}
			}
		case in.Op == OpReturnTop || in.Op == OpReturnNil || in.Op == OpThrow:
			// no fall-through
		default:
			normal[i] = []int{i + 1}
		}
	}

	for _, h := range m.Handlers {
		start, err := at(-1, h.Start)
		if err != nil {
			return nil, nil, err
		}
		end, err := at(-1, h.End)
		if err != nil {
			return nil, nil, err
		}
		target, err := at(-1, h.Target)
		if err != nil {
			return nil, nil, err
		}
		for i := start; i < end && i < len(m.Code); i++ {
			if op := m.Code[i].Op; op == OpThrow || op == OpSend {
				thrown[i] = append(thrown[i], target)
			}
		}
	}
	return normal, thrown, nil
}

// Reachable reports which instruction indices are reachable from the method
// entry. The result has len(m.Code)+1 entries; the last one is true when
// control can fall off the end.
func Reachable(m *Method) ([]bool, error) {
	succ, err := Successors(m)
	if err != nil {
		return nil, err
	}
	seen := make([]bool, len(m.Code)+1)
	stack := []int{0}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[i] {
			continue
		}
		seen[i] = true
		if i == len(m.Code) {
			continue
		}
		stack = append(stack, succ[i]...)
	}
	return seen, nil
}

// ReachableLabels returns the set of labels whose position is reachable from
// the method entry.
func ReachableLabels(m *Method) (map[*Label]bool, error) {
	reach, err := Reachable(m)
	if err != nil {
		return nil, err
	}
	out := make(map[*Label]bool)
	for i, in := range m.Code {
		if in.Op == OpLabel && reach[i] {
			out[in.Target] = true
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Effective edges
// ---------------------------------------------------------------------------

// Edge connects two significant instructions, numbered by their order of
// appearance. From is -1 for the method entry; To is -1 when control falls
// off the end and -2 when it spins in a loop of transparent instructions.
type Edge struct {
	From, To int
}

// transparent reports whether an instruction only routes control or records
// coverage: markers, probes and unconditional jumps.
func transparent(op Opcode) bool {
	return op == OpLabel || op == OpLine || op == OpTouch || op == OpJump
}

// EffectiveEdges returns the control-flow graph between significant
// instructions with all transparent instructions collapsed. Two methods
// that differ only by inserted probes, markers and trampolines have equal
// effective edges.
func EffectiveEdges(m *Method) ([]Edge, error) {
	succ, err := Successors(m)
	if err != nil {
		return nil, err
	}
	ordinal := make([]int, len(m.Code))
	n := 0
	for i, in := range m.Code {
		ordinal[i] = -1
		if !transparent(in.Op) {
			ordinal[i] = n
			n++
		}
	}

	resolve := func(j int) int {
		visited := make(map[int]bool)
		for {
			if j >= len(m.Code) {
				return -1
			}
			if !transparent(m.Code[j].Op) {
				return ordinal[j]
			}
			if visited[j] {
				return -2
			}
			visited[j] = true
			j = succ[j][0]
		}
	}

	var edges []Edge
	if len(m.Code) > 0 {
		edges = append(edges, Edge{From: -1, To: resolve(0)})
	}
	seen := make(map[Edge]bool)
	for i, in := range m.Code {
		if transparent(in.Op) {
			continue
		}
		for _, j := range succ[i] {
			e := Edge{From: ordinal[i], To: resolve(j)}
			if !seen[e] {
				seen[e] = true
				edges = append(edges, e)
			}
		}
	}
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].From != edges[b].From {
			return edges[a].From < edges[b].From
		}
		return edges[a].To < edges[b].To
	})
	return edges, nil
}

// Significant returns the instructions that EffectiveEdges numbers, in
// order.
func Significant(m *Method) []Instruction {
	var out []Instruction
	for _, in := range m.Code {
		if !transparent(in.Op) {
			out = append(out, in)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Stack depth
// ---------------------------------------------------------------------------

// StackDepths computes the operand stack depth before every instruction
// (-1 for unreachable ones) and the maximum depth. Handler targets start
// with the thrown value on an otherwise empty stack.
func StackDepths(m *Method) ([]int, int, error) {
	normal, thrown, err := successors(m)
	if err != nil {
		return nil, 0, err
	}

	depth := make([]int, len(m.Code)+1)
	for i := range depth {
		depth[i] = -1
	}
	maxDepth := 0
	type item struct{ at, d int }
	work := []item{{0, 0}}
	for len(work) > 0 {
		it := work[len(work)-1]
		work = work[:len(work)-1]
		if it.at >= len(m.Code) {
			continue
		}
		if depth[it.at] >= 0 {
			if depth[it.at] != it.d {
				return nil, 0, malformed(m, it.at, "inconsistent stack depth %d vs %d", depth[it.at], it.d)
			}
			continue
		}
		depth[it.at] = it.d
		if it.d > maxDepth {
			maxDepth = it.d
		}
		in := m.Code[it.at]
		info := in.Op.Info()
		pops := info.Pops
		if in.Op == OpSend {
			pops = int(in.Arg) + 1
		}
		if it.d < pops {
			return nil, 0, malformed(m, it.at, "%s underflows the stack", in.Op)
		}
		next := it.d - pops + info.Pushes
		if next > maxDepth {
			maxDepth = next
		}
		for _, j := range normal[it.at] {
			work = append(work, item{j, next})
		}
		for _, j := range thrown[it.at] {
			work = append(work, item{j, 1})
		}
	}
	return depth[:len(m.Code)], maxDepth, nil
}
