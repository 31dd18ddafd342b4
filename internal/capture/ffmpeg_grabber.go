package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/screencast/internal/ffmpeg"
	"github.com/smazurov/screencast/internal/logging"
	"github.com/smazurov/screencast/internal/process"
)

// ErrGrabberStopped is returned by Grab once the grab process has exited.
var ErrGrabberStopped = errors.New("grab process stopped")

// GrabberConfig configures an FFmpegGrabber.
type GrabberConfig struct {
	Source      ffmpeg.Source
	InputFormat string
	Display     string
	Width       int
	Height      int
	FPS         int
	Format      Format
	Options     []ffmpeg.OptionType
}

// grabProcess is the subset of process.Process the grabber drives.
type grabProcess interface {
	Command() string
	Start() error
	Stdout() (io.Reader, error)
	Stop() int
}

// FFmpegGrabber captures the screen with an ffmpeg process writing raw frames
// to stdout. A reader goroutine keeps only the newest frame; Grab takes it.
type FFmpegGrabber struct {
	cfg       GrabberConfig
	logger    logging.Logger
	proc      grabProcess
	pitch     int
	frameSize int

	mu     sync.Mutex
	latest *Frame
	err    error

	started     atomic.Bool
	readerDone  chan struct{}
	read        atomic.Uint64
	overwritten atomic.Uint64
}

// NewFFmpegGrabber builds the grab command. Nothing runs until Start.
func NewFFmpegGrabber(cfg GrabberConfig, logger logging.Logger) (*FFmpegGrabber, error) {
	if cfg.Format == "" {
		cfg.Format = FormatBGRA
	}
	bpp, err := cfg.Format.BytesPerPixel()
	if err != nil {
		return nil, err
	}

	command, err := ffmpeg.BuildGrabCommand(&ffmpeg.GrabParams{
		Source:      cfg.Source,
		InputFormat: cfg.InputFormat,
		Display:     cfg.Display,
		Width:       cfg.Width,
		Height:      cfg.Height,
		FPS:         cfg.FPS,
		PixelFormat: string(cfg.Format),
		Options:     cfg.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("build grab command: %w", err)
	}

	proc := process.New("grabber", command, logger)
	proc.SetLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLine)
	// the grabber ignores stdin, so go straight to SIGINT
	proc.SetTimeouts(200*time.Millisecond, time.Second)

	return &FFmpegGrabber{
		cfg:        cfg,
		logger:     logger,
		proc:       proc,
		pitch:      cfg.Width * bpp,
		frameSize:  cfg.Width * bpp * cfg.Height,
		readerDone: make(chan struct{}),
	}, nil
}

// Command returns the ffmpeg command line.
func (g *FFmpegGrabber) Command() string {
	return g.proc.Command()
}

// Start launches the grab process and its reader.
func (g *FFmpegGrabber) Start() error {
	if err := g.proc.Start(); err != nil {
		return fmt.Errorf("start grabber: %w", err)
	}
	stdout, err := g.proc.Stdout()
	if err != nil {
		g.proc.Stop()
		return fmt.Errorf("grabber stdout: %w", err)
	}

	g.started.Store(true)
	go g.readLoop(stdout)
	return nil
}

// Grab returns the newest frame not yet returned, ErrNoFrame when none has
// arrived since the last call, or ErrGrabberStopped after the process exited.
func (g *FFmpegGrabber) Grab() (*Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	frame := g.latest
	g.latest = nil
	if frame != nil {
		return frame, nil
	}
	if g.err != nil {
		return nil, g.err
	}
	return nil, ErrNoFrame
}

// Close stops the grab process and waits for the reader.
func (g *FFmpegGrabber) Close() error {
	g.proc.Stop()
	if !g.started.Load() {
		return nil
	}
	select {
	case <-g.readerDone:
	case <-time.After(time.Second):
		return fmt.Errorf("grabber reader did not exit")
	}
	g.logger.Debug("Grabber closed", "frames", g.read.Load(), "overwritten", g.overwritten.Load())
	return nil
}

func (g *FFmpegGrabber) readLoop(r io.Reader) {
	defer close(g.readerDone)

	for {
		buf := make([]byte, g.frameSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			g.mu.Lock()
			g.err = fmt.Errorf("%w: %v", ErrGrabberStopped, err)
			g.mu.Unlock()
			if !errors.Is(err, io.EOF) {
				g.logger.Debug("Grabber reader stopped", "error", err)
			}
			return
		}
		g.read.Add(1)

		frame := &Frame{
			Data:   buf,
			Width:  g.cfg.Width,
			Height: g.cfg.Height,
			Pitch:  g.pitch,
			Format: g.cfg.Format,
		}

		g.mu.Lock()
		if g.latest != nil {
			g.overwritten.Add(1)
		}
		g.latest = frame
		g.mu.Unlock()
	}
}
