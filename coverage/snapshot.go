package coverage

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// A snapshot is the CBOR form of a project. Unlike the binary format it
// keeps counter ids, instruction counts and branch records of lines that
// were never hit, so a collecting process can ship its instrumentation
// metadata to a merging process.

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("coverage: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// maxIDCount bounds the counter ids a decoded class may declare.
const maxIDCount = 1 << 22

type snapshot struct {
	Version uint16          `cbor:"1,keyasint"`
	Classes []snapshotClass `cbor:"2,keyasint,omitempty"`
}

type snapshotClass struct {
	Name    string         `cbor:"1,keyasint"`
	Flags   uint32         `cbor:"2,keyasint"`
	IDCount int            `cbor:"3,keyasint"`
	Lines   []snapshotLine `cbor:"4,keyasint,omitempty"`
}

type snapshotLine struct {
	Number       int              `cbor:"1,keyasint"`
	Method       string           `cbor:"2,keyasint,omitempty"`
	ID           int              `cbor:"3,keyasint"`
	Hits         int64            `cbor:"4,keyasint"`
	Instructions int64            `cbor:"5,keyasint,omitempty"`
	TestName     string           `cbor:"6,keyasint,omitempty"`
	MultiTests   bool             `cbor:"7,keyasint,omitempty"`
	Jumps        []snapshotJump   `cbor:"8,keyasint,omitempty"`
	Switches     []snapshotSwitch `cbor:"9,keyasint,omitempty"`
}

type snapshotJump struct {
	TrueID    int   `cbor:"1,keyasint"`
	FalseID   int   `cbor:"2,keyasint"`
	TrueHits  int64 `cbor:"3,keyasint"`
	FalseHits int64 `cbor:"4,keyasint"`
}

type snapshotSwitch struct {
	Keys        []int32 `cbor:"1,keyasint"`
	Hits        []int64 `cbor:"2,keyasint"`
	DefaultHits int64   `cbor:"3,keyasint"`
	IDs         []int   `cbor:"4,keyasint,omitempty"`
	DefaultID   int     `cbor:"5,keyasint"`
}

// MarshalSnapshot serializes a project to canonical CBOR.
func MarshalSnapshot(p *Project) ([]byte, error) {
	s := snapshot{Version: Version}
	for _, c := range p.Classes() {
		sc := snapshotClass{Name: c.Name, Flags: uint32(c.Flags), IDCount: c.IDCount}
		for _, l := range c.Lines() {
			sl := snapshotLine{
				Number:       l.Number,
				Method:       l.Method,
				ID:           l.ID,
				Hits:         l.hits,
				Instructions: l.Instructions,
				TestName:     l.testName,
				MultiTests:   l.multiTests,
			}
			if l.branches != nil {
				for _, j := range l.branches.Jumps {
					sl.Jumps = append(sl.Jumps, snapshotJump(*j))
				}
				for _, sw := range l.branches.Switches {
					sl.Switches = append(sl.Switches, snapshotSwitch{
						Keys:        sw.Keys,
						Hits:        sw.Hits,
						DefaultHits: sw.DefaultHits,
						IDs:         sw.IDs,
						DefaultID:   sw.DefaultID,
					})
				}
			}
			sc.Lines = append(sc.Lines, sl)
		}
		s.Classes = append(s.Classes, sc)
	}
	return cborEncMode.Marshal(&s)
}

// UnmarshalSnapshot deserializes a project from CBOR.
func UnmarshalSnapshot(data []byte) (*Project, error) {
	var s snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("coverage: unmarshal snapshot: %w", err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("coverage: unmarshal snapshot: %w", &DecodeError{Reason: fmt.Sprintf("unsupported version %d", s.Version)})
	}
	p := NewProject()
	for ci, sc := range s.Classes {
		if p.classes[sc.Name] != nil {
			return nil, snapshotError(ci, "class %q repeated", sc.Name)
		}
		if sc.IDCount < 0 || sc.IDCount > maxIDCount {
			return nil, snapshotError(ci, "class %q: bad id count %d", sc.Name, sc.IDCount)
		}
		validID := func(id int) bool {
			return id == NoID || id >= 0 && id < sc.IDCount
		}
		c := NewClass(sc.Name, Flags(sc.Flags))
		c.IDCount = sc.IDCount
		for _, sl := range sc.Lines {
			if sl.Number < 0 || sl.Number > maxLineNumber || c.Line(sl.Number) != nil {
				return nil, snapshotError(ci, "class %q: bad or repeated line %d", sc.Name, sl.Number)
			}
			if !validID(sl.ID) {
				return nil, snapshotError(ci, "class %q line %d: id %d out of range", sc.Name, sl.Number, sl.ID)
			}
			l := NewLine(sl.Number, sl.Method, sl.ID)
			l.Instructions = sl.Instructions
			l.testName = sl.TestName
			l.multiTests = sl.MultiTests
			if !validHits(sl.Hits) {
				return nil, snapshotError(ci, "class %q line %d: bad hit count", sc.Name, sl.Number)
			}
			l.hits = sl.Hits
			for _, sj := range sl.Jumps {
				if !validHits(sj.TrueHits) || !validHits(sj.FalseHits) {
					return nil, snapshotError(ci, "class %q line %d: bad jump hit count", sc.Name, sl.Number)
				}
				if !validID(sj.TrueID) || !validID(sj.FalseID) {
					return nil, snapshotError(ci, "class %q line %d: jump id out of range", sc.Name, sl.Number)
				}
				j := Jump(sj)
				l.AddJump(&j)
			}
			for _, ss := range sl.Switches {
				if len(ss.Hits) != len(ss.Keys) || (len(ss.IDs) != 0 && len(ss.IDs) != len(ss.Keys)) {
					return nil, snapshotError(ci, "class %q line %d: switch shape mismatch", sc.Name, sl.Number)
				}
				for _, id := range append([]int{ss.DefaultID}, ss.IDs...) {
					if !validID(id) {
						return nil, snapshotError(ci, "class %q line %d: switch id %d out of range", sc.Name, sl.Number, id)
					}
				}
				for _, h := range append([]int64{ss.DefaultHits}, ss.Hits...) {
					if !validHits(h) {
						return nil, snapshotError(ci, "class %q line %d: bad switch hit count", sc.Name, sl.Number)
					}
				}
				l.AddSwitch(&Switch{
					Keys:        ss.Keys,
					Hits:        ss.Hits,
					DefaultHits: ss.DefaultHits,
					IDs:         ss.IDs,
					DefaultID:   ss.DefaultID,
				})
			}
			c.AddLine(l)
		}
		p.classes[c.Name] = c
	}
	return p, nil
}

func validHits(h int64) bool {
	return h >= 0 && h <= MaxHits
}

func snapshotError(class int, format string, args ...any) error {
	return fmt.Errorf("coverage: unmarshal snapshot: %w",
		&DecodeError{Offset: class, Reason: fmt.Sprintf(format, args...)})
}
