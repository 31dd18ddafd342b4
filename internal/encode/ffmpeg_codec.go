package encode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/smazurov/screencast/internal/capture"
	"github.com/smazurov/screencast/internal/encoders"
	"github.com/smazurov/screencast/internal/ffmpeg"
	"github.com/smazurov/screencast/internal/logging"
	"github.com/smazurov/screencast/internal/process"
)

const (
	readChunkSize = 64 * 1024
	flushTimeout  = 5 * time.Second
)

// FFmpegOpener opens codecs backed by an ffmpeg encode process.
type FFmpegOpener struct {
	logger    logging.Logger
	validator *encoders.Validator
	options   []ffmpeg.OptionType
	gop       int
}

// OpenerOption configures an FFmpegOpener.
type OpenerOption func(*FFmpegOpener)

// WithFFmpegOptions replaces the default latency options.
func WithFFmpegOptions(options []ffmpeg.OptionType) OpenerOption {
	return func(o *FFmpegOpener) { o.options = options }
}

// WithGOP sets the keyframe interval in frames; 0 means one second.
func WithGOP(gop int) OpenerOption {
	return func(o *FFmpegOpener) { o.gop = gop }
}

// NewFFmpegOpener creates an opener. When validator is non-nil every encoder
// is probed with a one-frame test encode before the process is launched, so
// a missing device fails fast and the next candidate is tried.
func NewFFmpegOpener(logger logging.Logger, validator *encoders.Validator, opts ...OpenerOption) *FFmpegOpener {
	o := &FFmpegOpener{
		logger:    logger,
		validator: validator,
		options:   ffmpeg.GetDefaultOptions(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open launches the encode process for encoder.
func (o *FFmpegOpener) Open(cfg Config, encoder string) (Codec, error) {
	quality := encoders.Quality{BitrateKbps: cfg.BitrateKbps, FPS: cfg.FPS, GOP: o.gop}

	if o.validator != nil {
		if err := o.validator.Probe(context.Background(), encoder, quality); err != nil {
			return nil, err
		}
	}

	format := cfg.Format
	if format == "" {
		format = capture.FormatBGRA
	}
	bpp, err := format.BytesPerPixel()
	if err != nil {
		return nil, err
	}

	params := &ffmpeg.Params{
		Width:       cfg.Width,
		Height:      cfg.Height,
		FPS:         cfg.FPS,
		PixelFormat: string(format),
		Encoder:     encoder,
		Options:     o.options,
	}
	encoders.SettingsFor(encoder, quality).Apply(params)

	proc := process.New("encoder-"+encoder, ffmpeg.BuildEncodeCommand(params), o.logger)
	proc.SetLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLine)
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", encoder, err)
	}

	codec, err := newFFmpegCodec(proc, cfg.Width*cfg.Height*bpp, o.logger)
	if err != nil {
		proc.Stop()
		return nil, err
	}
	return codec, nil
}

type ffmpegCodec struct {
	proc      *process.Process
	stdin     io.Writer
	frameSize int
	logger    logging.Logger

	mu      sync.Mutex
	pending []time.Duration // timestamps of submitted frames awaiting output
	ready   []*Unit
	lastPTS time.Duration
	seq     uint64
	closed  bool

	readerDone chan struct{}
}

func newFFmpegCodec(proc *process.Process, frameSize int, logger logging.Logger) (*ffmpegCodec, error) {
	stdin, err := proc.Stdin()
	if err != nil {
		return nil, err
	}
	stdout, err := proc.Stdout()
	if err != nil {
		return nil, err
	}

	c := &ffmpegCodec{
		proc:       proc,
		stdin:      stdin,
		frameSize:  frameSize,
		logger:     logger,
		readerDone: make(chan struct{}),
	}
	go c.readLoop(stdout)
	return c, nil
}

// Submit writes one raw frame to the encoder and returns the units that
// became available since the previous call.
func (c *ffmpegCodec) Submit(frame *capture.Frame) ([]*Unit, error) {
	if len(frame.Data) != c.frameSize {
		return nil, fmt.Errorf("frame is %d bytes, encoder expects %d", len(frame.Data), c.frameSize)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCodecClosed
	}
	c.pending = append(c.pending, frame.Timestamp)
	c.mu.Unlock()

	if _, err := c.stdin.Write(frame.Data); err != nil {
		c.mu.Lock()
		c.pending = c.pending[:len(c.pending)-1]
		c.mu.Unlock()
		return nil, fmt.Errorf("write frame: %w", err)
	}

	return c.takeReady(), nil
}

// Flush signals end of stream and waits for the encoder to write out every
// buffered access unit.
func (c *ffmpegCodec) Flush() ([]*Unit, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCodecClosed
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.proc.CloseStdin(); err != nil && !errors.Is(err, process.ErrNotStarted) {
		c.logger.Debug("Closing encoder stdin failed", "error", err)
	}

	var err error
	select {
	case <-c.readerDone:
	case <-time.After(flushTimeout):
		err = fmt.Errorf("encoder flush timed out")
	}
	return c.takeReady(), err
}

// Close stops the encode process.
func (c *ffmpegCodec) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	code := c.proc.Stop()
	<-c.readerDone
	if code != 0 {
		c.logger.Debug("Encoder exited", "exit_code", code)
	}
	return nil
}

func (c *ffmpegCodec) takeReady() []*Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	units := c.ready
	c.ready = nil
	return units
}

func (c *ffmpegCodec) readLoop(r io.Reader) {
	defer close(c.readerDone)

	var splitter auSplitter
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, au := range splitter.Write(buf[:n]) {
				c.emit(au)
			}
		}
		if err != nil {
			if tail := splitter.Flush(); tail != nil {
				c.emit(tail)
			}
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("Encoder reader stopped", "error", err)
			}
			return
		}
	}
}

// emit queues an access unit with the timestamp of the oldest submitted
// frame. Output order equals input order since B-frames are disabled.
func (c *ffmpegCodec) emit(au []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pts := c.lastPTS
	if len(c.pending) > 0 {
		pts = c.pending[0]
		c.pending = c.pending[1:]
	}
	if pts < c.lastPTS {
		pts = c.lastPTS
	}
	c.lastPTS = pts
	c.seq++

	c.ready = append(c.ready, &Unit{
		Data:     au,
		PTS:      pts,
		Keyframe: isKeyframe(au),
		Seq:      c.seq,
	})
}
