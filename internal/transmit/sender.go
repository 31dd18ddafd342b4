package transmit

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/smazurov/screencast/internal/logging"
	"github.com/smazurov/screencast/internal/queue"
)

// ErrNotRunning is returned when the sender has not been started.
var ErrNotRunning = errors.New("sender not running")

// Stats is a snapshot of the sender counters. Bytes counts payload bytes in
// written chunks, excluding framing headers.
type Stats struct {
	Payloads   uint64
	Chunks     uint64
	Bytes      uint64
	WouldBlock uint64
	SendErrors uint64
	QueueDrops uint64
	Queued     int
	Reports    uint64 // RTCP sender reports written
	Discarded  uint64 // payloads still queued when the sender stopped
}

type outbound struct {
	data   []byte
	pts    time.Duration
	hasPTS bool
}

// Sender transmits payloads over UDP from a dedicated goroutine.
type Sender struct {
	cfg    Config
	logger logging.Logger
	queue  *queue.Queue[outbound]
	epoch  time.Time

	// write sends one datagram without waiting for buffer space.
	write func([]byte) error

	// rtp framing only
	packetizer *rtpPacketizer
	rtpWriter  interceptor.RTPWriter
	stream     *interceptor.StreamInfo
	reporter   interceptor.Interceptor

	mu      sync.Mutex
	conn    *net.UDPConn
	raw     syscall.RawConn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	// pending counts payloads accepted but not yet written or evicted.
	pending  atomic.Int64
	progress chan struct{}

	payloads   atomic.Uint64
	chunks     atomic.Uint64
	bytes      atomic.Uint64
	wouldBlock atomic.Uint64
	sendErrors atomic.Uint64
	reports    atomic.Uint64
	discarded  atomic.Uint64
}

// NewSender creates a sender. Nothing is opened until Start.
func NewSender(cfg Config, logger logging.Logger) *Sender {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.Framing == "" {
		cfg.Framing = FramingRaw
	}
	if cfg.PayloadType == 0 {
		cfg.PayloadType = DefaultPayloadType
	}
	if cfg.ReportInterval == 0 {
		cfg.ReportInterval = DefaultReportInterval
	}

	s := &Sender{
		cfg:      cfg,
		logger:   logger,
		queue:    queue.New[outbound](cfg.QueueSize),
		epoch:    time.Now(),
		progress: make(chan struct{}, 1),
	}

	s.write = s.writeChunk

	if cfg.Framing == FramingRTP {
		// random SSRC and initial sequence number
		id := uuid.New()
		ssrc := cfg.SSRC
		if ssrc == 0 {
			ssrc = binary.BigEndian.Uint32(id[0:4])
		}
		s.packetizer = &rtpPacketizer{
			max:         cfg.payloadSize(),
			payloadType: cfg.PayloadType,
			ssrc:        ssrc,
			seq:         binary.BigEndian.Uint16(id[4:6]),
		}
	}
	return s
}

// Start opens a UDP socket connected to the destination, enlarges its send
// buffer and spawns the send goroutine. Failure to open the socket is fatal
// for the caller.
func (s *Sender) Start() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sender already running")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("open udp socket to %s: %w", addr, err)
	}
	if err := conn.SetWriteBuffer(s.cfg.SendBuffer); err != nil {
		s.logger.Warn("Failed to enlarge send buffer", "bytes", s.cfg.SendBuffer, "error", err)
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return fmt.Errorf("raw socket access: %w", err)
	}

	s.conn = conn
	s.raw = raw
	if s.packetizer != nil {
		if err := s.bindRTP(); err != nil {
			conn.Close()
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("Sender started",
		"destination", raddr.String(),
		"local", conn.LocalAddr().String(),
		"framing", s.cfg.Framing,
		"max_chunk_size", s.cfg.MaxChunkSize,
		"queue_size", s.queue.Cap())
	return nil
}

// Send copies data and queues it. It never blocks.
func (s *Sender) Send(data []byte) {
	s.enqueue(outbound{data: data})
}

// SendAt is Send with the media timestamp of the payload, used by the RTP
// framing.
func (s *Sender) SendAt(data []byte, pts time.Duration) {
	s.enqueue(outbound{data: data, pts: pts, hasPTS: true})
}

func (s *Sender) enqueue(item outbound) {
	if len(item.data) == 0 {
		return
	}
	buf := make([]byte, len(item.data))
	copy(buf, item.data)
	item.data = buf

	s.pending.Add(1)
	if _, dropped := s.queue.Push(item); dropped {
		s.pending.Add(-1)
		s.logger.Debug("Send queue full, dropped oldest payload")
	}
}

// Flush blocks until every queued payload has been written or ctx is done.
func (s *Sender) Flush(ctx context.Context) error {
	for {
		if s.pending.Load() <= 0 {
			return nil
		}

		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			return ErrNotRunning
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("flush: %d payloads pending: %w", s.pending.Load(), ctx.Err())
		case <-s.progress:
		}
	}
}

// Stop signals the send goroutine, waits for it and closes the socket.
// Payloads still queued are discarded; call Flush first to deliver them.
func (s *Sender) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.unbindRTP()
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("Closing socket failed", "error", err)
	}
	s.mu.Unlock()

	if n := s.queue.Clear(); n > 0 {
		s.pending.Add(-int64(n))
		s.discarded.Add(uint64(n))
	}
	// wake a Flush waiting on progress
	s.signalProgress()

	st := s.Stats()
	s.logger.Info("Sender stopped",
		"payloads", st.Payloads,
		"chunks", st.Chunks,
		"bytes", st.Bytes,
		"would_block", st.WouldBlock,
		"send_errors", st.SendErrors,
		"queue_drops", st.QueueDrops,
		"reports", st.Reports,
		"discarded", st.Discarded)
}

// Stats returns the current counters.
func (s *Sender) Stats() Stats {
	return Stats{
		Payloads:   s.payloads.Load(),
		Chunks:     s.chunks.Load(),
		Bytes:      s.bytes.Load(),
		WouldBlock: s.wouldBlock.Load(),
		SendErrors: s.sendErrors.Load(),
		QueueDrops: s.queue.Drops(),
		Queued:     s.queue.Len(),
		Reports:    s.reports.Load(),
		Discarded:  s.discarded.Load(),
	}
}

// bindRTP routes packets through the RTCP sender report interceptor, which
// counts them and writes a report for the stream every ReportInterval.
func (s *Sender) bindRTP() error {
	s.rtpWriter = interceptor.RTPWriterFunc(s.writeRTP)
	if s.cfg.ReportInterval <= 0 {
		return nil
	}

	factory, err := report.NewSenderInterceptor(
		report.SenderInterval(s.cfg.ReportInterval),
		report.SenderLog(logging.NewPionLogger(s.logger)),
	)
	if err != nil {
		return fmt.Errorf("sender reports: %w", err)
	}
	var registry interceptor.Registry
	registry.Add(factory)
	chain, err := registry.Build(fmt.Sprintf("%08x", s.packetizer.ssrc))
	if err != nil {
		return fmt.Errorf("sender reports: %w", err)
	}

	s.stream = &interceptor.StreamInfo{
		SSRC:        s.packetizer.ssrc,
		PayloadType: s.packetizer.payloadType,
		ClockRate:   rtpClockRate,
		MimeType:    rtpMimeType,
	}
	chain.BindRTCPWriter(interceptor.RTCPWriterFunc(s.writeRTCP))
	s.rtpWriter = chain.BindLocalStream(s.stream, interceptor.RTPWriterFunc(s.writeRTP))
	s.reporter = chain
	return nil
}

// unbindRTP stops the report loop. Must be called with the send goroutine
// stopped and before the socket closes.
func (s *Sender) unbindRTP() {
	if s.reporter == nil {
		return
	}
	s.reporter.UnbindLocalStream(s.stream)
	if err := s.reporter.Close(); err != nil {
		s.logger.Debug("Closing sender reports failed", "error", err)
	}
	s.reporter = nil
}

func (s *Sender) writeRTP(header *rtp.Header, payload []byte, _ interceptor.Attributes) (int, error) {
	pkt := rtp.Packet{Header: *header, Payload: payload}
	b, err := pkt.Marshal()
	if err != nil {
		return 0, fmt.Errorf("marshal rtp packet: %w", err)
	}
	if err := s.write(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// writeRTCP writes reports on the media socket. It runs on the interceptor's
// report goroutine.
func (s *Sender) writeRTCP(pkts []rtcp.Packet, _ interceptor.Attributes) (int, error) {
	b, err := rtcp.Marshal(pkts)
	if err != nil {
		return 0, fmt.Errorf("marshal rtcp: %w", err)
	}
	if err := s.write(b); err != nil {
		return 0, err
	}
	s.reports.Add(uint64(len(pkts)))
	return len(b), nil
}

func (s *Sender) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok := s.queue.TryPop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.queue.Ready():
			}
			continue
		}

		s.transmit(item)
		s.pending.Add(-1)
		s.signalProgress()
	}
}

func (s *Sender) transmit(item outbound) {
	s.payloads.Add(1)

	if s.packetizer == nil {
		for _, chunk := range Split(item.data, s.cfg.payloadSize()) {
			s.account(s.write(chunk), len(chunk))
		}
		return
	}

	pts := item.pts
	if !item.hasPTS {
		pts = time.Since(s.epoch)
	}
	for _, pkt := range s.packetizer.packetize(item.data, pts) {
		_, err := s.rtpWriter.Write(&pkt.Header, pkt.Payload, nil)
		s.account(err, len(pkt.Payload))
	}
}

// account records the outcome of one chunk write. n is the payload bytes
// the chunk carried, excluding framing headers.
func (s *Sender) account(err error, n int) {
	switch {
	case err == nil:
		s.chunks.Add(1)
		s.bytes.Add(uint64(n))
	case errors.Is(err, ErrWouldBlock):
		// dropped, not retried
		s.wouldBlock.Add(1)
	default:
		if s.sendErrors.Add(1) == 1 {
			s.logger.Warn("Send failed", "error", err)
		} else {
			s.logger.Debug("Send failed", "error", err)
		}
	}
}

func (s *Sender) signalProgress() {
	select {
	case s.progress <- struct{}{}:
	default:
	}
}
