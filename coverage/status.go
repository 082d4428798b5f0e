// Package coverage is the durable coverage aggregate: projects of classes,
// classes of source lines, and the branch records owned by each line.
//
// Records are created while classes are instrumented or when a persisted
// aggregate is decoded. Hit arrays produced at run time are folded into
// them, aggregates from several runs are merged, and each line is
// classified as not covered, partially covered or fully covered.
//
// Records are not safe for concurrent mutation. Project serialises class
// registration; everything else assumes exclusive ownership.
package coverage

import (
	"fmt"
	"math"
)

// Status is the coverage verdict of a line. The zero value is None and the
// values are ordered None < Partial < Full.
type Status int8

const (
	None Status = iota
	Partial
	Full
)

func (s Status) String() string {
	switch s {
	case None:
		return "NONE"
	case Partial:
		return "PARTIAL"
	case Full:
		return "FULL"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MaxHits is the value every hit counter saturates at.
const MaxHits = math.MaxInt32

// addHits adds two counters, clamping the result to [0, MaxHits].
func addHits(a, b int64) int64 {
	if a < 0 {
		a = 0
	}
	if b < 0 {
		b = 0
	}
	if a >= MaxHits || b >= MaxHits-a {
		return MaxHits
	}
	return a + b
}
