//go:build !unix

package transmit

import (
	"errors"
	"os"
	"time"
)

// writeChunk writes one datagram with a one millisecond deadline so a full
// socket buffer surfaces as ErrWouldBlock instead of blocking.
func (s *Sender) writeChunk(b []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return err
	}
	_, err := s.conn.Write(b)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrWouldBlock
	}
	return err
}
