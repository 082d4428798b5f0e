package coverage

import "fmt"

// Summary counts covered and total elements.
type Summary struct {
	Lines               int
	PartialLines        int
	CoveredLines        int // fully covered
	Branches            int
	CoveredBranches     int
	Instructions        int64
	CoveredInstructions int64
}

func (s *Summary) addLine(l *Line) {
	s.Lines++
	switch l.Status() {
	case Partial:
		s.PartialLines++
	case Full:
		s.CoveredLines++
	}
	total, covered := l.BranchCount()
	s.Branches += total
	s.CoveredBranches += covered
	s.Instructions += l.Instructions
	if l.Hits() > 0 {
		s.CoveredInstructions += l.Instructions
	}
}

// Add accumulates o into s.
func (s *Summary) Add(o Summary) {
	s.Lines += o.Lines
	s.PartialLines += o.PartialLines
	s.CoveredLines += o.CoveredLines
	s.Branches += o.Branches
	s.CoveredBranches += o.CoveredBranches
	s.Instructions += o.Instructions
	s.CoveredInstructions += o.CoveredInstructions
}

// LineRate returns the share of lines hit at least once.
func (s Summary) LineRate() float64 {
	return rate(int64(s.PartialLines+s.CoveredLines), int64(s.Lines))
}

// BranchRate returns the share of branch outcomes observed.
func (s Summary) BranchRate() float64 {
	return rate(int64(s.CoveredBranches), int64(s.Branches))
}

func rate(n, d int64) float64 {
	if d == 0 {
		return 1
	}
	return float64(n) / float64(d)
}

func (s Summary) String() string {
	return fmt.Sprintf("lines %d/%d (%d partial), branches %d/%d, instructions %d/%d",
		s.PartialLines+s.CoveredLines, s.Lines, s.PartialLines,
		s.CoveredBranches, s.Branches, s.CoveredInstructions, s.Instructions)
}
