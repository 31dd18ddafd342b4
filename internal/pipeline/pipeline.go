// Package pipeline wires the capture, encode and transmit stages together.
//
// Run owns the orchestrator loop: it waits for a captured frame, encodes it,
// drains every compressed unit and hands the bytes to the sender. Capture and
// transmit each run their own goroutine; encode runs on the orchestrator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/screencast/internal/capture"
	"github.com/smazurov/screencast/internal/encode"
	"github.com/smazurov/screencast/internal/encoders"
	"github.com/smazurov/screencast/internal/events"
	"github.com/smazurov/screencast/internal/logging"
	"github.com/smazurov/screencast/internal/metrics"
	"github.com/smazurov/screencast/internal/transmit"
)

const (
	// DefaultStatsInterval is how often throughput is reported.
	DefaultStatsInterval = 5 * time.Second
	// DefaultFlushTimeout bounds how long shutdown waits for queued payloads.
	DefaultFlushTimeout = 2 * time.Second
)

// ErrAlreadyStarted is returned when Run is called twice.
var ErrAlreadyStarted = errors.New("pipeline already started")

// Notifier receives lifecycle notifications, e.g. for a service manager.
type Notifier interface {
	Ready()
	Stopping()
	Status(status string)
}

// Starter is implemented by grabbers that need to be started before use.
type Starter interface {
	Start() error
}

// Options configures a Pipeline.
type Options struct {
	Grabber capture.Grabber
	Opener  encode.Opener

	Capture  capture.StageConfig
	Encode   encode.Config
	Transmit transmit.Config

	// Encoder is the preferred encoder name, "auto" or "cpu".
	Encoder string

	StatsInterval time.Duration
	FlushTimeout  time.Duration

	Bus      *events.Bus
	Notifier Notifier
	Logger   logging.Logger
}

// Pipeline is a single streaming session.
type Pipeline struct {
	opts      Options
	sessionID string
	logger    logging.Logger
	bus       *events.Bus

	capture *capture.Stage
	encode  *encode.Stage
	sender  *transmit.Sender

	started atomic.Bool
	startMu sync.Mutex
	startAt time.Time

	frames   atomic.Uint64
	payloads atomic.Uint64
}

// New validates opts and builds the stages. Nothing runs until Run.
func New(opts Options) (*Pipeline, error) {
	if opts.Grabber == nil {
		return nil, errors.New("pipeline: grabber is required")
	}
	if opts.Opener == nil {
		return nil, errors.New("pipeline: encoder opener is required")
	}
	if err := opts.Transmit.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = DefaultFlushTimeout
	}
	if opts.Bus == nil {
		opts.Bus = events.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("pipeline")
	}
	if opts.Capture.FPS <= 0 {
		opts.Capture.FPS = opts.Encode.FPS
	}

	sessionID := uuid.NewString()

	return &Pipeline{
		opts:      opts,
		sessionID: sessionID,
		logger:    opts.Logger,
		bus:       opts.Bus,
		capture:   capture.NewStage(opts.Grabber, opts.Capture, logging.GetLogger("capture")),
		encode:    encode.NewStage(opts.Opener, opts.Encode, logging.GetLogger("encode")),
		sender:    transmit.NewSender(opts.Transmit, logging.GetLogger("transmit")),
	}, nil
}

// SessionID identifies this streaming session in events and metrics.
func (p *Pipeline) SessionID() string {
	return p.sessionID
}

// Encoder returns the encoder in use, empty before Run has opened one.
func (p *Pipeline) Encoder() string {
	return p.encode.Encoder()
}

// Run initialises every stage and streams until ctx is cancelled. Failing to
// open an encoder, the socket or the grabber is returned as an error; grab,
// encode and send failures are counted and absorbed.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	p.publishState(events.StateStarting, nil)

	if err := p.start(); err != nil {
		p.publishState(events.StateFailed, err)
		return err
	}

	p.startMu.Lock()
	p.startAt = time.Now()
	p.startMu.Unlock()

	p.publishState(events.StateRunning, nil)
	if p.opts.Notifier != nil {
		p.opts.Notifier.Ready()
	}

	statsCtx, stopStats := context.WithCancel(ctx)
	var statsWG sync.WaitGroup
	statsWG.Add(1)
	go func() {
		defer statsWG.Done()
		p.statsLoop(statsCtx)
	}()

	p.logger.Info("Streaming",
		"session_id", p.sessionID,
		"encoder", p.encode.Encoder(),
		"destination", fmt.Sprintf("%s:%d", p.opts.Transmit.Host, p.opts.Transmit.Port),
		"framing", p.opts.Transmit.Framing)

	for {
		frame, err := p.capture.WaitFrame(ctx)
		if err != nil {
			break
		}
		if err := p.Process(frame); err != nil {
			p.logger.Debug("Frame dropped", "seq", frame.Seq, "error", err)
		}
	}

	stopStats()
	statsWG.Wait()

	if p.opts.Notifier != nil {
		p.opts.Notifier.Stopping()
	}
	p.publishState(events.StateStopping, nil)

	err := p.shutdown()
	p.report()

	if err != nil {
		p.publishState(events.StateFailed, err)
		return err
	}
	p.publishState(events.StateStopped, nil)
	return nil
}

// Process encodes one frame and forwards every unit the encoder has ready.
// An encode failure drops the frame and is returned; units queued before the
// failure are still forwarded.
func (p *Pipeline) Process(frame *capture.Frame) error {
	p.frames.Add(1)
	err := p.encode.Encode(frame)
	p.forward()
	return err
}

// Stats returns a snapshot of the session counters.
func (p *Pipeline) Stats() events.StatsEvent {
	c := p.capture.Stats()
	e := p.encode.Stats()
	t := p.sender.Stats()

	p.startMu.Lock()
	startAt := p.startAt
	p.startMu.Unlock()

	var elapsed time.Duration
	if !startAt.IsZero() {
		elapsed = time.Since(startAt)
	}

	frames := p.frames.Load()
	s := events.StatsEvent{
		SessionID:      p.sessionID,
		Elapsed:        elapsed,
		Frames:         frames,
		CaptureFailed:  c.Failed,
		CaptureDropped: c.Dropped,
		EncodeFailed:   e.Failed,
		EncodeDropped:  e.Dropped,
		Units:          e.Units,
		Keyframes:      e.Keyframes,
		Payloads:       p.payloads.Load(),
		Chunks:         t.Chunks,
		BytesSent:      t.Bytes,
		SendFailed:     t.SendErrors,
		SendWouldBlock: t.WouldBlock,
		SendDropped:    t.QueueDrops,
		Timestamp:      events.Now(),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		s.FPS = float64(frames) / secs
		s.Mbps = float64(t.Bytes) * 8 / (1024 * 1024 * secs)
	}
	return s
}

// start brings the stages up in dependency order and unwinds on failure.
func (p *Pipeline) start() error {
	if err := p.encode.Initialize(p.opts.Encoder); err != nil {
		return fmt.Errorf("initialize encoder: %w", err)
	}

	encoder := p.encode.Encoder()
	metrics.SetEncoder(p.sessionID, encoder)
	p.bus.Publish(events.EncoderSelectedEvent{
		Encoder:   encoder,
		Requested: p.opts.Encoder,
		Fallback:  encoder != encoders.Candidates(p.opts.Encoder)[0],
		Timestamp: events.Now(),
	})

	if err := p.sender.Start(); err != nil {
		p.stopEncoder()
		return fmt.Errorf("start sender: %w", err)
	}

	if starter, ok := p.opts.Grabber.(Starter); ok {
		if err := starter.Start(); err != nil {
			p.sender.Stop()
			p.stopEncoder()
			return fmt.Errorf("start grabber: %w", err)
		}
	}

	if err := p.capture.Start(); err != nil {
		p.closeGrabber()
		p.sender.Stop()
		p.stopEncoder()
		return fmt.Errorf("start capture: %w", err)
	}
	return nil
}

// shutdown stops capture, flushes the encoder into the sender, then drains
// and stops the sender.
func (p *Pipeline) shutdown() error {
	p.capture.Stop()
	p.closeGrabber()

	encodeErr := p.encode.Stop()
	p.forward()

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.FlushTimeout)
	flushErr := p.sender.Flush(ctx)
	cancel()
	if flushErr != nil {
		p.logger.Warn("Sender flush incomplete", "error", flushErr)
	}
	p.sender.Stop()

	return encodeErr
}

func (p *Pipeline) forward() {
	for {
		unit, ok := p.encode.GetPacket()
		if !ok {
			return
		}
		p.sender.SendAt(unit.Data, unit.PTS)
		p.payloads.Add(1)
	}
}

func (p *Pipeline) stopEncoder() {
	if err := p.encode.Stop(); err != nil {
		p.logger.Warn("Encoder stop failed", "error", err)
	}
}

func (p *Pipeline) closeGrabber() {
	closer, ok := p.opts.Grabber.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		p.logger.Warn("Grabber close failed", "error", err)
	}
}

func (p *Pipeline) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.report()
		}
	}
}

func (p *Pipeline) report() {
	s := p.Stats()
	p.logger.Info("Stats",
		"frames", s.Frames,
		"fps", fmt.Sprintf("%.2f", s.FPS),
		"mbps", fmt.Sprintf("%.2f", s.Mbps),
		"units", s.Units,
		"capture_dropped", s.CaptureDropped,
		"send_would_block", s.SendWouldBlock)
	metrics.Update(s)
	p.bus.Publish(s)
	if p.opts.Notifier != nil {
		p.opts.Notifier.Status(fmt.Sprintf("%d frames, %.2f fps, %.2f Mbps", s.Frames, s.FPS, s.Mbps))
	}
}

func (p *Pipeline) publishState(state string, err error) {
	ev := events.PipelineStateEvent{
		SessionID: p.sessionID,
		State:     state,
		Timestamp: events.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	p.bus.Publish(ev)
}
