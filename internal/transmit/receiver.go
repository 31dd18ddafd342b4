package transmit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/rtcp"

	"github.com/smazurov/screencast/internal/logging"
)

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	Addr          string // listen address, e.g. ":10000"
	Framing       Framing
	ReceiveBuffer int // SO_RCVBUF request in bytes; 0 keeps the system default
}

// ReceiverStats is a snapshot of the receiver counters.
type ReceiverStats struct {
	Datagrams   uint64
	Bytes       uint64
	Payloads    uint64
	ParseErrors uint64
	Reassembly  ReassemblerStats

	// SenderReports counts RTCP sender reports; LastReport is the most
	// recent one.
	SenderReports uint64
	LastReport    *rtcp.SenderReport
}

// Receiver reads datagrams and writes their content to out. With raw framing
// every datagram is written as is; with RTP framing only complete payloads
// are written.
type Receiver struct {
	cfg    ReceiverConfig
	out    io.Writer
	logger logging.Logger

	mu          sync.Mutex
	conn        *net.UDPConn
	reassembler *Reassembler

	datagrams   atomic.Uint64
	bytes       atomic.Uint64
	payloads    atomic.Uint64
	parseErrors atomic.Uint64
	reports     atomic.Uint64
	lastReport  *rtcp.SenderReport
}

// NewReceiver creates a receiver writing to out.
func NewReceiver(cfg ReceiverConfig, out io.Writer, logger logging.Logger) *Receiver {
	return &Receiver{
		cfg:         cfg,
		out:         out,
		logger:      logger,
		reassembler: NewReassembler(),
	}
}

// Listen binds the socket and returns its local address.
func (r *Receiver) Listen() (net.Addr, error) {
	if _, err := ParseFraming(string(r.cfg.Framing)); err != nil {
		return nil, err
	}

	laddr, err := net.ResolveUDPAddr("udp", r.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", r.cfg.Addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", r.cfg.Addr, err)
	}
	if r.cfg.ReceiveBuffer > 0 {
		if err := conn.SetReadBuffer(r.cfg.ReceiveBuffer); err != nil {
			r.logger.Warn("Failed to enlarge receive buffer", "bytes", r.cfg.ReceiveBuffer, "error", err)
		}
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	r.logger.Info("Receiver listening", "addr", conn.LocalAddr().String(), "framing", r.cfg.Framing)
	return conn.LocalAddr(), nil
}

// Serve reads until ctx is done. Listen must have been called.
func (r *Receiver) Serve(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("receiver not listening")
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	buf := make([]byte, 64*1024)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		r.datagrams.Add(1)
		r.bytes.Add(uint64(n))

		if err := r.handle(buf[:n]); err != nil {
			return err
		}
	}
}

// Run listens and serves until ctx is done.
func (r *Receiver) Run(ctx context.Context) error {
	if _, err := r.Listen(); err != nil {
		return err
	}
	return r.Serve(ctx)
}

func (r *Receiver) handle(datagram []byte) error {
	if r.cfg.Framing != FramingRTP {
		if _, err := r.out.Write(datagram); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		return nil
	}

	if isRTCP(datagram) {
		r.handleRTCP(datagram)
		return nil
	}

	r.mu.Lock()
	payload, _, ok, err := r.reassembler.Push(datagram)
	r.mu.Unlock()
	if err != nil {
		r.parseErrors.Add(1)
		r.logger.Debug("Dropping malformed datagram", "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	r.payloads.Add(1)
	if _, err := r.out.Write(payload); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func (r *Receiver) handleRTCP(datagram []byte) {
	pkts, err := rtcp.Unmarshal(datagram)
	if err != nil {
		r.parseErrors.Add(1)
		r.logger.Debug("Dropping malformed rtcp packet", "error", err)
		return
	}
	for _, pkt := range pkts {
		sr, ok := pkt.(*rtcp.SenderReport)
		if !ok {
			continue
		}
		r.reports.Add(1)
		r.mu.Lock()
		r.lastReport = sr
		r.mu.Unlock()
		r.logger.Debug("Sender report",
			"ssrc", sr.SSRC,
			"packets", sr.PacketCount,
			"octets", sr.OctetCount,
			"rtp_time", sr.RTPTime)
	}
}

// isRTCP reports whether a datagram on an RTP port is RTCP. RTCP packet types
// 192-223 never collide with dynamic RTP payload types once the marker bit
// is folded into the second byte.
func isRTCP(datagram []byte) bool {
	return len(datagram) >= 8 && datagram[1] >= 192 && datagram[1] <= 223
}

// Stats returns the current counters.
func (r *Receiver) Stats() ReceiverStats {
	r.mu.Lock()
	reassembly := r.reassembler.Stats()
	last := r.lastReport
	r.mu.Unlock()

	return ReceiverStats{
		Datagrams:   r.datagrams.Load(),
		Bytes:       r.bytes.Load(),
		Payloads:    r.payloads.Load(),
		ParseErrors: r.parseErrors.Load(),
		Reassembly:  reassembly,

		SenderReports: r.reports.Load(),
		LastReport:    last,
	}
}
