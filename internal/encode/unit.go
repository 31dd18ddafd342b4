// Package encode is the second pipeline stage. It opens an H.264 codec with
// low-latency settings, falling back through the encoder catalogue, feeds it
// raw frames and queues the compressed access units it produces.
package encode

import (
	"errors"
	"time"

	"github.com/smazurov/screencast/internal/capture"
)

var (
	// ErrNoEncoder means no candidate encoder could be opened.
	ErrNoEncoder = errors.New("no usable encoder")
	// ErrNotInitialized is returned by Encode before Initialize succeeded.
	ErrNotInitialized = errors.New("encoder not initialized")
	// ErrCodecClosed is returned by a codec after Close.
	ErrCodecClosed = errors.New("codec closed")
)

// Unit is one compressed access unit.
type Unit struct {
	Data     []byte
	PTS      time.Duration
	Keyframe bool
	Seq      uint64
}

// Codec compresses raw frames. Submit may return zero or more units since the
// codec can buffer internally; Flush drains everything still buffered.
type Codec interface {
	Submit(frame *capture.Frame) ([]*Unit, error)
	Flush() ([]*Unit, error)
	Close() error
}

// Opener opens a codec for one named encoder.
type Opener interface {
	Open(cfg Config, encoder string) (Codec, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(cfg Config, encoder string) (Codec, error)

// Open calls f.
func (f OpenerFunc) Open(cfg Config, encoder string) (Codec, error) {
	return f(cfg, encoder)
}

// Config describes the stream every candidate encoder is opened with.
type Config struct {
	Width       int
	Height      int
	FPS         int
	BitrateKbps int
	Format      capture.Format
	// QueueSize bounds the packet queue; 0 means unbounded.
	QueueSize int
}
