package coverage

import (
	"bytes"
	"fmt"
)

// Format names a persisted representation of a project.
type Format int

const (
	// Binary is the compact MCOV stream. It drops counter ids.
	Binary Format = iota
	// Snapshot is the CBOR form. It keeps ids, so raw hits can be applied
	// to a decoded snapshot.
	Snapshot
)

func (f Format) String() string {
	switch f {
	case Binary:
		return "binary"
	case Snapshot:
		return "snapshot"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "binary", "mcov":
		return Binary, nil
	case "snapshot", "cbor":
		return Snapshot, nil
	}
	return 0, fmt.Errorf("coverage: unknown format %q", s)
}

// DetectFormat reports the format of persisted data by its leading magic.
func DetectFormat(data []byte) Format {
	if bytes.HasPrefix(data, magic[:]) {
		return Binary
	}
	return Snapshot
}

// Unmarshal decodes data in whichever format it is in.
func Unmarshal(data []byte) (*Project, Format, error) {
	f := DetectFormat(data)
	if f == Binary {
		p := NewProject()
		if err := p.UnmarshalBinary(data); err != nil {
			return nil, f, err
		}
		return p, f, nil
	}
	p, err := UnmarshalSnapshot(data)
	return p, f, err
}

// Marshal encodes p in format f.
func Marshal(p *Project, f Format) ([]byte, error) {
	switch f {
	case Binary:
		return p.MarshalBinary()
	case Snapshot:
		return MarshalSnapshot(p)
	}
	return nil, fmt.Errorf("coverage: unknown format %s", f)
}
