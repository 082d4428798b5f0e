package coverage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Binary format of a persisted project:
//
//	magic "MCOV" | version u16 (big endian) | uvarint classCount
//	class: string name | uvarint flags | uvarint lineCount | line*
//	line:  uvarint number | string method | string testName | uvarint hits
//	       [hits > 0] uvarint jumpCount  (uvarint true, uvarint false)*
//	                  uvarint switchCount (uvarint keyCount (varint key, uvarint hits)* uvarint defaultHits)*
//	string: uvarint length | UTF-8 bytes; empty means none
//
// Counter ids are not persisted, and neither are the branch records of lines
// that were never hit.

var magic = [4]byte{'M', 'C', 'O', 'V'}

// Version is the binary format version written by Encode.
const Version uint16 = 1

// maxLineNumber bounds decoded line numbers; lines are stored densely.
const maxLineNumber = 1 << 24

// ErrCorrupt is matched by every error Decode returns for bad input.
var ErrCorrupt = errors.New("corrupt coverage data")

// DecodeError reports where and why decoding failed.
type DecodeError struct {
	Offset int // byte offset; class index for snapshots
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("coverage: decode at offset %d: %s", e.Offset, e.Reason)
}

// Is makes errors.Is(err, ErrCorrupt) hold for every DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrCorrupt
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Encode writes p to w in the binary format.
func Encode(w io.Writer, p *Project) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("coverage: write: %w", err)
	}
	return nil
}

// MarshalBinary encodes the project. Classes are written in name order so
// equal projects encode to equal bytes.
func (p *Project) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, magic[:]...)
	buf = binary.BigEndian.AppendUint16(buf, Version)

	classes := p.Classes()
	buf = binary.AppendUvarint(buf, uint64(len(classes)))
	for _, c := range classes {
		buf = appendString(buf, c.Name)
		buf = binary.AppendUvarint(buf, uint64(c.Flags))
		buf = binary.AppendUvarint(buf, uint64(c.LineCount()))
		for _, l := range c.Lines() {
			buf = appendLine(buf, l)
		}
	}
	return buf, nil
}

func appendLine(buf []byte, l *Line) []byte {
	buf = binary.AppendUvarint(buf, uint64(l.Number))
	buf = appendString(buf, l.Method)
	buf = appendString(buf, l.testName)
	buf = binary.AppendUvarint(buf, uint64(l.hits))
	if l.hits == 0 {
		return buf
	}

	var jumps []*Jump
	var switches []*Switch
	if l.branches != nil {
		jumps, switches = l.branches.Jumps, l.branches.Switches
	}
	buf = binary.AppendUvarint(buf, uint64(len(jumps)))
	for _, j := range jumps {
		buf = binary.AppendUvarint(buf, uint64(j.TrueHits))
		buf = binary.AppendUvarint(buf, uint64(j.FalseHits))
	}
	buf = binary.AppendUvarint(buf, uint64(len(switches)))
	for _, s := range switches {
		buf = binary.AppendUvarint(buf, uint64(len(s.Keys)))
		for k, key := range s.Keys {
			buf = binary.AppendVarint(buf, int64(key))
			buf = binary.AppendUvarint(buf, uint64(s.Hits[k]))
		}
		buf = binary.AppendUvarint(buf, uint64(s.DefaultHits))
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Decode reads a project in the binary format from r. On error no project
// is returned.
func Decode(r io.Reader) (*Project, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("coverage: read: %w", err)
	}
	p := NewProject()
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return p, nil
}

// UnmarshalBinary replaces the contents of p with the decoded project. On
// error p is left unchanged.
func (p *Project) UnmarshalBinary(data []byte) error {
	d := &decoder{data: data}
	classes, err := d.project()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.classes = classes
	p.mu.Unlock()
	return nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) fail(format string, args ...any) error {
	return &DecodeError{Offset: d.pos, Reason: fmt.Sprintf(format, args...)}
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.data[d.pos:])
	if n == 0 {
		return 0, d.fail("unexpected end of data")
	}
	if n < 0 {
		return 0, d.fail("varint overflows 64 bits")
	}
	d.pos += n
	return v, nil
}

func (d *decoder) varint() (int64, error) {
	v, n := binary.Varint(d.data[d.pos:])
	if n == 0 {
		return 0, d.fail("unexpected end of data")
	}
	if n < 0 {
		return 0, d.fail("varint overflows 64 bits")
	}
	d.pos += n
	return v, nil
}

// count reads a length that must leave at least minSize bytes per element
// in the remaining input.
func (d *decoder) count(what string, minSize int) (int, error) {
	v, err := d.uvarint()
	if err != nil {
		return 0, err
	}
	if v > uint64(len(d.data)-d.pos)/uint64(minSize) {
		return 0, d.fail("%s count %d exceeds remaining data", what, v)
	}
	return int(v), nil
}

func (d *decoder) hits() (int64, error) {
	v, err := d.uvarint()
	if err != nil {
		return 0, err
	}
	if v > MaxHits {
		return 0, d.fail("hit count %d exceeds %d", v, MaxHits)
	}
	return int64(v), nil
}

func (d *decoder) text() (string, error) {
	n, err := d.count("string byte", 1)
	if err != nil {
		return "", err
	}
	s := string(d.data[d.pos : d.pos+n])
	d.pos += n
	return s, nil
}

func (d *decoder) project() (map[string]*Class, error) {
	if len(d.data) < len(magic)+2 {
		return nil, d.fail("unexpected end of data")
	}
	if !bytes.Equal(d.data[:len(magic)], magic[:]) {
		return nil, d.fail("bad magic %q", d.data[:len(magic)])
	}
	d.pos = len(magic)
	if v := binary.BigEndian.Uint16(d.data[d.pos:]); v != Version {
		return nil, d.fail("unsupported version %d", v)
	}
	d.pos += 2

	n, err := d.count("class", 3)
	if err != nil {
		return nil, err
	}
	classes := make(map[string]*Class, n)
	for i := 0; i < n; i++ {
		c, err := d.class()
		if err != nil {
			return nil, err
		}
		if _, dup := classes[c.Name]; dup {
			return nil, d.fail("class %q repeated", c.Name)
		}
		classes[c.Name] = c
	}
	if d.pos != len(d.data) {
		return nil, d.fail("%d trailing bytes", len(d.data)-d.pos)
	}
	return classes, nil
}

func (d *decoder) class() (*Class, error) {
	name, err := d.text()
	if err != nil {
		return nil, err
	}
	flags, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	if flags > math.MaxUint32 {
		return nil, d.fail("class %q: flags %#x out of range", name, flags)
	}
	c := NewClass(name, Flags(flags))
	n, err := d.count("line", 4)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		l, err := d.line()
		if err != nil {
			return nil, err
		}
		if c.Line(l.Number) != nil {
			return nil, d.fail("class %q: line %d repeated", name, l.Number)
		}
		c.AddLine(l)
	}
	return c, nil
}

func (d *decoder) line() (*Line, error) {
	number, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	if number > maxLineNumber {
		return nil, d.fail("line number %d out of range", number)
	}
	method, err := d.text()
	if err != nil {
		return nil, err
	}
	test, err := d.text()
	if err != nil {
		return nil, err
	}
	l := NewLine(int(number), method, NoID)
	l.testName = test
	if l.hits, err = d.hits(); err != nil {
		return nil, err
	}
	if l.hits == 0 {
		return l, nil
	}

	nj, err := d.count("jump", 2)
	if err != nil {
		return nil, err
	}
	for i := 0; i < nj; i++ {
		j := NewJump(NoID, NoID)
		if j.TrueHits, err = d.hits(); err != nil {
			return nil, err
		}
		if j.FalseHits, err = d.hits(); err != nil {
			return nil, err
		}
		l.AddJump(j)
	}
	ns, err := d.count("switch", 2)
	if err != nil {
		return nil, err
	}
	for i := 0; i < ns; i++ {
		s, err := d.switchRecord()
		if err != nil {
			return nil, err
		}
		l.AddSwitch(s)
	}
	return l, nil
}

func (d *decoder) switchRecord() (*Switch, error) {
	nk, err := d.count("switch key", 2)
	if err != nil {
		return nil, err
	}
	s := &Switch{Keys: make([]int32, nk), Hits: make([]int64, nk), DefaultID: NoID}
	for k := 0; k < nk; k++ {
		key, err := d.varint()
		if err != nil {
			return nil, err
		}
		if key < math.MinInt32 || key > math.MaxInt32 {
			return nil, d.fail("switch key %d does not fit 32 bits", key)
		}
		s.Keys[k] = int32(key)
		if s.Hits[k], err = d.hits(); err != nil {
			return nil, err
		}
	}
	if s.DefaultHits, err = d.hits(); err != nil {
		return nil, err
	}
	return s, nil
}
