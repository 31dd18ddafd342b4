// Package capture is the first pipeline stage. It paces a Grabber at the
// target frame rate, stamps every frame with a strictly increasing monotonic
// timestamp and keeps the most recent frames in a small drop-oldest queue.
package capture

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoFrame is returned by a Grabber when no new frame is available yet.
var ErrNoFrame = errors.New("no frame available")

// Format is the packed pixel layout of a frame.
type Format string

const (
	FormatBGRA  Format = "bgra"
	FormatBGR0  Format = "bgr0"
	FormatRGB24 Format = "rgb24"
)

// BytesPerPixel returns the packed pixel size of f.
func (f Format) BytesPerPixel() (int, error) {
	switch f {
	case FormatBGRA, FormatBGR0:
		return 4, nil
	case FormatRGB24:
		return 3, nil
	}
	return 0, fmt.Errorf("unsupported pixel format %q", f)
}

// Frame is one captured image. It is owned by whichever queue or stage
// currently holds it.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Pitch  int // bytes per row, at least Width*BytesPerPixel
	Format Format

	// Timestamp is the capture time relative to the stage start.
	Timestamp time.Duration
	Seq       uint64
}

// Grabber produces raw frames from the display.
type Grabber interface {
	Grab() (*Frame, error)
}

// GrabberFunc adapts a function to the Grabber interface.
type GrabberFunc func() (*Frame, error)

// Grab calls f.
func (f GrabberFunc) Grab() (*Frame, error) {
	return f()
}
