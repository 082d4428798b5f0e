package instrument

// Allocator issues the counter ids of one class rewrite session. Ids start
// at 0 and increase strictly; lines, jump outcomes and switch arms share
// the space. When instruction counting is enabled it also keeps one
// instruction counter per id.
type Allocator struct {
	next         int
	counting     bool
	instructions []int64
}

// NewAllocator creates an allocator. countInstructions enables the
// per-id instruction counters.
func NewAllocator(countInstructions bool) *Allocator {
	return &Allocator{counting: countInstructions}
}

// Next allocates the next id.
func (a *Allocator) Next() int {
	id := a.next
	a.next++
	if a.counting {
		a.instructions = append(a.instructions, 0)
	}
	return id
}

// Count returns the number of ids allocated.
func (a *Allocator) Count() int {
	return a.next
}

// Rewind releases every id from id upward, along with their instruction
// counters. It reports false and does nothing when id was never issued.
func (a *Allocator) Rewind(id int) bool {
	if id < 0 || id > a.next {
		return false
	}
	a.next = id
	if a.counting {
		a.instructions = a.instructions[:id]
	}
	return true
}

// AddInstructions attributes n instructions to id.
func (a *Allocator) AddInstructions(id int, n int64) {
	if a.counting && id >= 0 && id < len(a.instructions) {
		a.instructions[id] += n
	}
}

// Instructions returns the instructions attributed to id.
func (a *Allocator) Instructions(id int) int64 {
	if id < 0 || id >= len(a.instructions) {
		return 0
	}
	return a.instructions[id]
}
