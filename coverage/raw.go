package coverage

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/magcov/diag"
)

// RawProject is an externally produced set of counter arrays keyed by
// class name, applied onto an existing project.
type RawProject struct {
	Classes []RawClass `cbor:"1,keyasint,omitempty"`
}

// RawClass carries the raw hits of one class. Hits is indexed by counter
// id. Mask, when set, is a serialized roaring bitmap of ids that were hit
// at least once; each id in it counts as one hit on top of Hits.
type RawClass struct {
	Name string  `cbor:"1,keyasint"`
	Hits []int64 `cbor:"2,keyasint,omitempty"`
	Mask []byte  `cbor:"3,keyasint,omitempty"`
}

// NewMask serializes the set of touched ids as a roaring bitmap.
func NewMask(ids ...uint32) ([]byte, error) {
	bm := roaring.BitmapOf(ids...)
	bm.RunOptimize()
	return bm.ToBytes()
}

// MaskFromHits returns the bitmap of ids with a non-zero counter.
func MaskFromHits(hits []int64) ([]byte, error) {
	bm := roaring.New()
	for id, h := range hits {
		if h > 0 {
			bm.Add(uint32(id))
		}
	}
	bm.RunOptimize()
	return bm.ToBytes()
}

// counters expands the raw class into a counter array of at least n
// entries.
func (rc *RawClass) counters(n int) ([]int64, error) {
	hits := make([]int64, max(n, len(rc.Hits)))
	copy(hits, rc.Hits)
	if len(rc.Mask) == 0 {
		return hits, nil
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(rc.Mask); err != nil {
		return nil, fmt.Errorf("bad hits mask: %w", err)
	}
	it := bm.Iterator()
	for it.HasNext() {
		id := int(it.Next())
		if id >= len(hits) {
			continue
		}
		hits[id] = addHits(hits[id], 1)
	}
	return hits, nil
}

// ApplyRaw adds the raw hits onto p and returns the number of classes
// applied. Classes missing from p and undecodable masks are reported to
// rep and skipped.
func ApplyRaw(p *Project, raw *RawProject, rep diag.Reporter) int {
	if rep == nil {
		rep = diag.Nop
	}
	applied := 0
	for i := range raw.Classes {
		rc := &raw.Classes[i]
		c := p.Class(rc.Name)
		if c == nil {
			rep.Error(fmt.Sprintf("raw hits for unknown class %s", rc.Name), nil)
			continue
		}
		hits, err := rc.counters(c.IDCount)
		if err != nil {
			rep.Error(fmt.Sprintf("raw hits for class %s", rc.Name), err)
			continue
		}
		c.ApplyHits(hits)
		applied++
	}
	rep.Info(fmt.Sprintf("applied raw hits to %d of %d classes", applied, len(raw.Classes)))
	return applied
}

// MarshalRaw serializes a raw project to canonical CBOR.
func MarshalRaw(raw *RawProject) ([]byte, error) {
	return cborEncMode.Marshal(raw)
}

// UnmarshalRaw deserializes a raw project from CBOR.
func UnmarshalRaw(data []byte) (*RawProject, error) {
	var raw RawProject
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("coverage: unmarshal raw hits: %w", err)
	}
	return &raw, nil
}
