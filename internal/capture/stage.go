package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/screencast/internal/logging"
	"github.com/smazurov/screencast/internal/queue"
)

// MaxQueueSize is the default capacity of the frame queue.
const MaxQueueSize = 3

// ErrAlreadyRunning is returned by Start on a running stage.
var ErrAlreadyRunning = errors.New("capture stage already running")

// StageConfig configures a Stage.
type StageConfig struct {
	FPS int
	// QueueSize bounds the frame queue; values <= 0 use MaxQueueSize.
	QueueSize int
}

// Stats is a snapshot of the stage counters.
type Stats struct {
	Captured uint64
	Failed   uint64
	Dropped  uint64
	Queued   int
}

// Stage runs the capture loop.
type Stage struct {
	grabber  Grabber
	interval time.Duration
	logger   logging.Logger
	frames   *queue.Queue[*Frame]

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	epoch  time.Time
	lastTS time.Duration
	seq    uint64

	captured atomic.Uint64
	failed   atomic.Uint64
}

// NewStage creates a capture stage. Nothing runs until Start.
func NewStage(grabber Grabber, cfg StageConfig, logger logging.Logger) *Stage {
	fps := cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = MaxQueueSize
	}

	return &Stage{
		grabber:  grabber,
		interval: time.Second / time.Duration(fps),
		logger:   logger,
		frames:   queue.New[*Frame](size),
		epoch:    time.Now(),
	}
}

// Start spawns the capture goroutine.
func (s *Stage) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("Capture started", "interval", s.interval, "queue_size", s.frames.Cap())
	return nil
}

// Stop signals the capture goroutine and blocks until it has exited.
func (s *Stage) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Capture stopped", "captured", s.captured.Load(), "failed", s.failed.Load(), "dropped", s.frames.Drops())
}

// GetFrame dequeues the oldest frame without blocking.
func (s *Stage) GetFrame() (*Frame, bool) {
	return s.frames.TryPop()
}

// WaitFrame blocks until a frame is available or ctx is done.
func (s *Stage) WaitFrame(ctx context.Context) (*Frame, error) {
	return s.frames.Pop(ctx)
}

// Stats returns the current counters.
func (s *Stage) Stats() Stats {
	return Stats{
		Captured: s.captured.Load(),
		Failed:   s.failed.Load(),
		Dropped:  s.frames.Drops(),
		Queued:   s.frames.Len(),
	}
}

func (s *Stage) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.captureOnce()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Stage) captureOnce() {
	frame, err := s.grabber.Grab()
	if err == nil && frame == nil {
		err = ErrNoFrame
	}
	if err != nil {
		s.failed.Add(1)
		s.logger.Debug("Capture failed", "error", err)
		return
	}

	s.stamp(frame)
	s.captured.Add(1)

	if evicted, dropped := s.frames.Push(frame); dropped {
		s.logger.Debug("Capture queue full, dropped oldest frame", "seq", evicted.Seq)
	}
}

// stamp assigns a timestamp strictly greater than the previous one.
func (s *Stage) stamp(frame *Frame) {
	ts := time.Since(s.epoch)
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	s.seq++

	frame.Timestamp = ts
	frame.Seq = s.seq
}
