package encode

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/screencast/internal/capture"
	"github.com/smazurov/screencast/internal/encoders"
	"github.com/smazurov/screencast/internal/logging"
	"github.com/smazurov/screencast/internal/queue"
)

// DefaultQueueSize is the default capacity of the packet queue. Zero keeps
// every compressed unit until the sender takes it.
const DefaultQueueSize = 0

// Stats is a snapshot of the stage counters.
type Stats struct {
	Submitted uint64
	Failed    uint64
	Units     uint64
	Bytes     uint64
	Keyframes uint64
	Dropped   uint64
	Queued    int
}

// Stage owns the codec and the packet queue. Encode is called by the
// orchestrator; the stage runs no goroutine of its own.
type Stage struct {
	opener    Opener
	cfg       Config
	logger    logging.Logger
	converter Converter
	packets   *queue.Queue[*Unit]

	mu      sync.Mutex
	codec   Codec
	encoder string
	lastPTS time.Duration
	havePTS bool
	stopped bool

	submitted atomic.Uint64
	failed    atomic.Uint64
	units     atomic.Uint64
	bytes     atomic.Uint64
	keyframes atomic.Uint64
}

// StageOption configures a Stage.
type StageOption func(*Stage)

// WithConverter replaces the default StrideConverter.
func WithConverter(c Converter) StageOption {
	return func(s *Stage) { s.converter = c }
}

// NewStage creates an encode stage. Call Initialize before Encode.
func NewStage(opener Opener, cfg Config, logger logging.Logger, opts ...StageOption) *Stage {
	s := &Stage{
		opener:    opener,
		cfg:       cfg,
		logger:    logger,
		converter: StrideConverter{},
		packets:   queue.New[*Unit](cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize opens the first working encoder among the candidates for
// preference. It returns ErrNoEncoder when none opens.
func (s *Stage) Initialize(preference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.codec != nil {
		return fmt.Errorf("encoder %s already initialized", s.encoder)
	}

	candidates := encoders.Candidates(preference)
	var errs []error
	for _, name := range candidates {
		codec, err := s.opener.Open(s.cfg, name)
		if err != nil {
			s.logger.Warn("Encoder unavailable, trying next", "encoder", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		s.codec = codec
		s.encoder = name
		s.logger.Info("Encoder opened",
			"encoder", name,
			"width", s.cfg.Width,
			"height", s.cfg.Height,
			"fps", s.cfg.FPS,
			"bitrate_kbps", s.cfg.BitrateKbps,
			"fallback", name != candidates[0])
		return nil
	}

	return fmt.Errorf("%w (tried %s): %w", ErrNoEncoder, strings.Join(candidates, ", "), errors.Join(errs...))
}

// Encoder returns the name of the opened encoder.
func (s *Stage) Encoder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encoder
}

// Encode converts and submits one frame and queues every unit the codec
// returns. A failed submission drops the frame; it is not retried.
func (s *Stage) Encode(frame *capture.Frame) error {
	s.mu.Lock()
	codec, stopped := s.codec, s.stopped
	s.mu.Unlock()

	if codec == nil || stopped {
		return ErrNotInitialized
	}

	s.submitted.Add(1)

	converted, err := s.converter.Convert(frame)
	if err != nil {
		s.failed.Add(1)
		s.logger.Debug("Frame conversion failed", "seq", frame.Seq, "error", err)
		return fmt.Errorf("convert frame %d: %w", frame.Seq, err)
	}

	units, err := codec.Submit(converted)
	s.push(units)
	if err != nil {
		s.failed.Add(1)
		s.logger.Debug("Frame encode failed", "seq", frame.Seq, "error", err)
		return fmt.Errorf("encode frame %d: %w", frame.Seq, err)
	}
	return nil
}

// GetPacket dequeues the oldest unit without blocking.
func (s *Stage) GetPacket() (*Unit, bool) {
	return s.packets.TryPop()
}

// Stop flushes the codec into the packet queue and closes it. Units left in
// the queue stay available through GetPacket.
func (s *Stage) Stop() error {
	s.mu.Lock()
	if s.stopped || s.codec == nil {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	codec := s.codec
	s.mu.Unlock()

	units, flushErr := codec.Flush()
	s.push(units)
	closeErr := codec.Close()

	s.logger.Info("Encoder stopped", "encoder", s.encoder, "flushed", len(units), "units", s.units.Load())

	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("stop encoder: %w", err)
	}
	return nil
}

// Stats returns the current counters.
func (s *Stage) Stats() Stats {
	return Stats{
		Submitted: s.submitted.Load(),
		Failed:    s.failed.Load(),
		Units:     s.units.Load(),
		Bytes:     s.bytes.Load(),
		Keyframes: s.keyframes.Load(),
		Dropped:   s.packets.Drops(),
		Queued:    s.packets.Len(),
	}
}

// push queues units, clamping PTS so it never decreases.
func (s *Stage) push(units []*Unit) {
	for _, u := range units {
		if u == nil {
			continue
		}

		s.mu.Lock()
		if s.havePTS && u.PTS < s.lastPTS {
			u.PTS = s.lastPTS
		}
		s.lastPTS, s.havePTS = u.PTS, true
		s.mu.Unlock()

		s.units.Add(1)
		s.bytes.Add(uint64(len(u.Data)))
		if u.Keyframe {
			s.keyframes.Add(1)
		}

		if evicted, dropped := s.packets.Push(u); dropped {
			s.logger.Debug("Packet queue full, dropped oldest unit", "seq", evicted.Seq)
		}
	}
}
