package encode

import (
	"bytes"
	"testing"
)

var (
	aud    = []byte{0, 0, 0, 1, 0x09, 0xF0}
	sps    = []byte{0, 0, 0, 1, 0x67, 0x42, 0xC0, 0x1F}
	idr    = []byte{0, 0, 1, 0x65, 0x88, 0x84, 0xAA}
	nonIDR = []byte{0, 0, 1, 0x41, 0x9A, 0xAA}
)

func accessUnit(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func TestSplitterCutsOnDelimiters(t *testing.T) {
	units := [][]byte{
		accessUnit(aud, sps, idr),
		accessUnit(aud, nonIDR),
		accessUnit(aud, nonIDR, nonIDR),
	}
	stream := bytes.Join(units, nil)

	for _, chunk := range []int{1, 3, 7, len(stream)} {
		var s auSplitter
		var got [][]byte
		for off := 0; off < len(stream); off += chunk {
			end := min(off+chunk, len(stream))
			got = append(got, s.Write(stream[off:end])...)
		}
		if tail := s.Flush(); tail != nil {
			got = append(got, tail)
		}

		if len(got) != len(units) {
			t.Fatalf("chunk %d: got %d units, want %d", chunk, len(got), len(units))
		}
		for i := range units {
			if !bytes.Equal(got[i], units[i]) {
				t.Errorf("chunk %d: unit %d = %x, want %x", chunk, i, got[i], units[i])
			}
		}
	}
}

func TestSplitterFlushEmpty(t *testing.T) {
	var s auSplitter
	if tail := s.Flush(); tail != nil {
		t.Errorf("Flush() on empty splitter = %x", tail)
	}
	s.Write([]byte{0, 0})
	if tail := s.Flush(); tail != nil {
		t.Errorf("Flush() of zero padding = %x", tail)
	}
}

func TestIsKeyframe(t *testing.T) {
	if !isKeyframe(accessUnit(aud, sps, idr)) {
		t.Error("IDR access unit not detected as keyframe")
	}
	if isKeyframe(accessUnit(aud, nonIDR)) {
		t.Error("non-IDR access unit detected as keyframe")
	}
	if isKeyframe([]byte{0xFF, 0xFF}) {
		t.Error("garbage detected as keyframe")
	}
}
