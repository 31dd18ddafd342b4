package encode

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// auSplitter cuts an Annex B byte stream into access units. Each access unit
// starts with an access unit delimiter NAL, which the encoder inserts.
type auSplitter struct {
	buf  []byte
	scan int
}

var startCode = []byte{0, 0, 1}

// Write appends stream bytes and returns the access units completed by them.
func (s *auSplitter) Write(p []byte) [][]byte {
	s.buf = append(s.buf, p...)

	var units [][]byte
	for {
		start, next, found := s.nextDelimiter()
		if !found {
			return units
		}
		if start == 0 {
			// delimiter of the current unit
			s.scan = next
			continue
		}

		unit := make([]byte, start)
		copy(unit, s.buf[:start])
		units = append(units, unit)

		s.buf = s.buf[start:]
		s.scan = 0
	}
}

// Flush returns the buffered tail as the final access unit.
func (s *auSplitter) Flush() []byte {
	if len(bytes.Trim(s.buf, "\x00")) == 0 {
		s.buf, s.scan = nil, 0
		return nil
	}
	unit := s.buf
	s.buf, s.scan = nil, 0
	return unit
}

// nextDelimiter finds the next AUD start code at or after scan. start is the
// offset of its start code (including a leading zero byte of a four byte
// start code) and next is where scanning resumes.
func (s *auSplitter) nextDelimiter() (start, next int, found bool) {
	for {
		i := bytes.Index(s.buf[s.scan:], startCode)
		if i < 0 || s.scan+i+3 >= len(s.buf) {
			// keep the last bytes in range; a start code may straddle writes
			if len(s.buf) > 3 {
				s.scan = max(s.scan, len(s.buf)-3)
			}
			return 0, 0, false
		}

		pos := s.scan + i
		naluType := h264.NALUType(s.buf[pos+3] & 0x1F)
		s.scan = pos + 3

		if naluType != h264.NALUTypeAccessUnitDelimiter {
			continue
		}

		start = pos
		if pos > 0 && s.buf[pos-1] == 0 {
			start = pos - 1
		}
		return start, pos + 4, true
	}
}

// isKeyframe reports whether an access unit contains an IDR slice.
func isKeyframe(au []byte) bool {
	var annexB h264.AnnexB
	if annexB.Unmarshal(au) != nil {
		return false
	}
	for _, nalu := range annexB {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}
