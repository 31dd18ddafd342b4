//go:build unix

package transmit

import (
	"errors"

	"golang.org/x/sys/unix"
)

// writeChunk writes one datagram straight to the socket. It never waits for
// the socket to become writable; EAGAIN is reported as ErrWouldBlock.
func (s *Sender) writeChunk(b []byte) error {
	var werr error
	err := s.raw.Write(func(fd uintptr) bool {
		_, werr = unix.Write(int(fd), b)
		return true
	})
	if err != nil {
		return err
	}
	if errors.Is(werr, unix.EAGAIN) || errors.Is(werr, unix.EWOULDBLOCK) || errors.Is(werr, unix.ENOBUFS) {
		return ErrWouldBlock
	}
	return werr
}
