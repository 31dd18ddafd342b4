package transmit

import (
	"fmt"
	"time"

	"github.com/pion/rtp"
)

// ReassemblerStats is a snapshot of the reassembler counters.
type ReassemblerStats struct {
	Packets   uint64
	Completed uint64
	Discarded uint64 // payloads dropped because a chunk was lost
	Lost      uint64 // packets missing from the sequence
	Late      uint64 // packets older than the current sequence
}

// Reassembler rebuilds payloads from RTP framed chunks. A payload is
// complete at its marker packet. Any gap in the sequence numbers discards
// the payload being assembled; there is no retransmission.
type Reassembler struct {
	started  bool
	expected uint16

	active bool
	broken bool
	ts     uint32
	buf    []byte

	stats ReassemblerStats
}

// NewReassembler creates an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Push consumes one datagram. It returns the payload and its timestamp when
// the datagram completes one.
func (r *Reassembler) Push(datagram []byte) ([]byte, time.Duration, bool, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(datagram); err != nil {
		return nil, 0, false, fmt.Errorf("parse rtp packet: %w", err)
	}
	r.stats.Packets++

	var lost uint16
	if r.started {
		lost = pkt.SequenceNumber - r.expected
		if lost >= 0x8000 {
			r.stats.Late++
			return nil, 0, false, nil
		}
		r.stats.Lost += uint64(lost)
	}
	r.started = true
	r.expected = pkt.SequenceNumber + 1

	if r.active && pkt.Timestamp != r.ts {
		// the previous payload lost at least its marker packet; when that
		// is the only loss this payload is intact
		r.discard()
		if lost > 0 {
			lost--
		}
	}
	gap := lost > 0
	if !r.active {
		r.active = true
		r.broken = false
		r.ts = pkt.Timestamp
		r.buf = r.buf[:0]
	}
	if gap {
		r.broken = true
	}

	r.buf = append(r.buf, pkt.Payload...)

	if !pkt.Marker {
		return nil, 0, false, nil
	}
	if r.broken {
		r.discard()
		return nil, 0, false, nil
	}

	r.active = false
	r.stats.Completed++
	payload := make([]byte, len(r.buf))
	copy(payload, r.buf)
	return payload, rtpToDuration(r.ts), true, nil
}

// Stats returns the current counters.
func (r *Reassembler) Stats() ReassemblerStats {
	return r.stats
}

func (r *Reassembler) discard() {
	r.active = false
	r.broken = false
	r.buf = r.buf[:0]
	r.stats.Discarded++
}

func rtpToDuration(ts uint32) time.Duration {
	return time.Duration(uint64(ts) * uint64(time.Second) / rtpClockRate)
}
