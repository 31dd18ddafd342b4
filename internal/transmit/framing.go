package transmit

import (
	"time"

	"github.com/pion/rtp"
)

const (
	rtpHeaderSize = 12
	rtpClockRate  = 90000
	rtpMimeType   = "video/H264"
)

// rtpPacketizer splits payloads into RTP packets. Only the send goroutine
// uses it.
type rtpPacketizer struct {
	max         int
	payloadType uint8
	ssrc        uint32
	seq         uint16
}

// packetize returns one packet per chunk of payload. All packets share the
// timestamp of pts and the last one carries the marker bit.
func (p *rtpPacketizer) packetize(payload []byte, pts time.Duration) []rtp.Packet {
	chunks := Split(payload, p.max)
	ts := ptsToRTP(pts)

	packets := make([]rtp.Packet, len(chunks))
	for i, chunk := range chunks {
		packets[i] = rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(chunks)-1,
				PayloadType:    p.payloadType,
				SequenceNumber: p.seq,
				Timestamp:      ts,
				SSRC:           p.ssrc,
			},
			Payload: chunk,
		}
		p.seq++
	}
	return packets
}

// ptsToRTP converts a media timestamp to the 90 kHz RTP clock, rounding to
// the nearest tick and wrapping at 32 bits.
func ptsToRTP(pts time.Duration) uint32 {
	secs := uint64(pts / time.Second)
	rem := uint64(pts % time.Second)
	ticks := secs*rtpClockRate + (rem*rtpClockRate+uint64(time.Second)/2)/uint64(time.Second)
	return uint32(ticks)
}
