// Package transmit is the last pipeline stage. A Sender splits each payload
// into datagram-sized chunks and writes them to a connected, non-blocking UDP
// socket from its own goroutine; chunks that would block are dropped. The
// Receiver is the other end used by "screencast receive".
package transmit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultMaxChunkSize = 1500
	DefaultSendBuffer   = 10 * 1024 * 1024
	DefaultQueueSize    = 0 // unbounded
	DefaultPayloadType  = 96

	// DefaultReportInterval is how often RTP framing emits an RTCP sender
	// report.
	DefaultReportInterval = time.Second

	// maxDatagram is the largest UDP payload over IPv4.
	maxDatagram = 65507
)

// ErrWouldBlock reports a write the socket could not accept without blocking.
var ErrWouldBlock = errors.New("send would block")

// Framing selects how chunks are put on the wire.
type Framing string

const (
	// FramingRaw sends bare chunks. Payload boundaries are implicit, which
	// assumes a lossless, in-order, MTU-respecting link.
	FramingRaw Framing = "raw"
	// FramingRTP prefixes every chunk with a 12-byte RTP header carrying a
	// sequence number, a 90 kHz timestamp and a marker on the last chunk.
	FramingRTP Framing = "rtp"
)

// ParseFraming parses a framing name.
func ParseFraming(s string) (Framing, error) {
	switch Framing(strings.ToLower(s)) {
	case FramingRaw, "":
		return FramingRaw, nil
	case FramingRTP:
		return FramingRTP, nil
	}
	return "", fmt.Errorf("unknown framing %q (want raw or rtp)", s)
}

// Config configures a Sender.
type Config struct {
	Host         string
	Port         int
	MaxChunkSize int // datagram size limit, headers included
	SendBuffer   int // SO_SNDBUF request in bytes
	QueueSize    int // 0 means unbounded
	Framing      Framing
	PayloadType  uint8
	SSRC         uint32 // 0 picks a random SSRC
	// ReportInterval spaces RTCP sender reports in RTP framing. Negative
	// disables them.
	ReportInterval time.Duration
}

// DefaultConfig returns the streaming defaults.
func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         10000,
		MaxChunkSize: DefaultMaxChunkSize,
		SendBuffer:   DefaultSendBuffer,
		QueueSize:    DefaultQueueSize,
		Framing:      FramingRaw,
		PayloadType:  DefaultPayloadType,

		ReportInterval: DefaultReportInterval,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("destination host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid destination port %d", c.Port)
	}
	if c.MaxChunkSize > maxDatagram {
		return fmt.Errorf("max chunk size %d exceeds %d", c.MaxChunkSize, maxDatagram)
	}
	if _, err := ParseFraming(string(c.Framing)); err != nil {
		return err
	}
	if c.payloadSize() <= 0 {
		return fmt.Errorf("max chunk size %d leaves no room for payload", c.MaxChunkSize)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("invalid queue size %d", c.QueueSize)
	}
	return nil
}

// payloadSize is the number of payload bytes per chunk.
func (c Config) payloadSize() int {
	if c.Framing == FramingRTP {
		return c.MaxChunkSize - rtpHeaderSize
	}
	return c.MaxChunkSize
}
