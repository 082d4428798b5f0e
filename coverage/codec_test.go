package coverage

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// sampleProject returns n classes covering lines without branch data,
// lines with jumps and switches, unhit lines and tracked tests.
func sampleProject(n int) *Project {
	p := NewProject()
	for i := 0; i < n; i++ {
		c := p.GetOrCreateClass("acme/pkg/C"+string(rune('A'+i)), FlagBranches|FlagTestTracking)
		plain := c.GetOrCreateLine(1, "<init>()V", 0)
		plain.AddHits(int64(i + 1))

		both := c.GetOrCreateLine(7, "pick(I)I", 1)
		both.AddHits(MaxHits)
		j := NewJump(2, 3)
		j.TrueHits, j.FalseHits = 5, 0
		both.AddJump(j)
		s := NewSwitch([]int32{-2147483648, 0, 2147483647}, []int{4, 5, 6}, 7)
		s.Hits = []int64{1, 0, 9}
		s.DefaultHits = 3
		both.AddSwitch(s)
		both.SetTestName("TestPick")

		c.GetOrCreateLine(300, "pick(I)I", 8) // never hit
		c.IDCount = 9
	}
	return p
}

func TestCodecRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		p := sampleProject(n)
		var buf bytes.Buffer
		if err := Encode(&buf, p); err != nil {
			t.Fatalf("Encode(%d classes): %v", n, err)
		}
		got, err := Decode(&buf)
		if err != nil {
			t.Fatalf("Decode(%d classes): %v", n, err)
		}
		if !got.Equal(p) {
			t.Errorf("%d classes: decoded project differs", n)
		}
		if got.Len() != n {
			t.Errorf("Len() = %d, want %d", got.Len(), n)
		}
	}
}

func TestCodecDeterministic(t *testing.T) {
	a, _ := sampleProject(3).MarshalBinary()
	b, _ := sampleProject(3).MarshalBinary()
	if !bytes.Equal(a, b) {
		t.Error("equal projects encoded differently")
	}
}

func TestCodecHeader(t *testing.T) {
	b, err := NewProject().MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{'M', 'C', 'O', 'V', 0, 1, 0}
	if !bytes.Equal(b, want) {
		t.Errorf("empty project = %v, want %v", b, want)
	}
}

func TestDecodedRecordsHaveNoIDs(t *testing.T) {
	b, _ := sampleProject(1).MarshalBinary()
	var p Project
	if err := p.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	l := p.Classes()[0].Line(7)
	if l.ID != NoID || l.Jumps()[0].TrueID != NoID || l.Switches()[0].DefaultID != NoID {
		t.Errorf("decoded ids = %d/%d/%d, want NoID", l.ID, l.Jumps()[0].TrueID, l.Switches()[0].DefaultID)
	}
	if l.TestName() != "TestPick" {
		t.Errorf("TestName() = %q, want TestPick", l.TestName())
	}
}

func TestDecodeTruncated(t *testing.T) {
	full, err := sampleProject(2).MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	for n := 0; n < len(full); n++ {
		p, err := Decode(bytes.NewReader(full[:n]))
		if err == nil {
			t.Fatalf("Decode of %d/%d bytes succeeded", n, len(full))
		}
		if p != nil {
			t.Fatalf("Decode of %d bytes returned a partial project", n)
		}
		var de *DecodeError
		if !errors.As(err, &de) || !errors.Is(err, ErrCorrupt) {
			t.Fatalf("Decode of %d bytes: error %v is not a DecodeError", n, err)
		}
	}
}

func TestDecodeCorrupt(t *testing.T) {
	good, _ := sampleProject(1).MarshalBinary()
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"bad magic", append([]byte("JCOV"), good[4:]...), "bad magic"},
		{"bad version", append(append([]byte("MCOV"), 0, 9), good[6:]...), "unsupported version 9"},
		{"trailing bytes", append(append([]byte(nil), good...), 0), "trailing bytes"},
		{"huge class count", []byte{'M', 'C', 'O', 'V', 0, 1, 0xFF, 0xFF, 0x03}, "exceeds remaining data"},
	}
	for _, tt := range tests {
		_, err := Decode(bytes.NewReader(tt.data))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: error = %v, want it to contain %q", tt.name, err, tt.want)
		}
	}
}

func TestUnmarshalBinaryLeavesProjectOnError(t *testing.T) {
	p := sampleProject(1)
	if err := p.UnmarshalBinary([]byte("MCOV")); err == nil {
		t.Fatal("expected error")
	}
	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}
}
