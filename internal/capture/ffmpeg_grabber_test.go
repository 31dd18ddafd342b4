package capture

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/smazurov/screencast/internal/ffmpeg"
)

func TestFFmpegGrabberCommand(t *testing.T) {
	g, err := NewFFmpegGrabber(GrabberConfig{Source: ffmpeg.SourceTest, Width: 320, Height: 240, FPS: 15}, testLogger())
	if err != nil {
		t.Fatalf("NewFFmpegGrabber() error = %v", err)
	}
	if !strings.Contains(g.Command(), "testsrc2=size=320x240:rate=15") {
		t.Errorf("command = %s", g.Command())
	}
	if !strings.HasSuffix(g.Command(), "-pix_fmt bgra pipe:1") {
		t.Errorf("command = %s", g.Command())
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}

	if _, err := NewFFmpegGrabber(GrabberConfig{Source: ffmpeg.SourceTest, Width: 2, Height: 2, FPS: 1, Format: "yuv420p"}, testLogger()); err == nil {
		t.Error("planar format must be rejected")
	}
}

func TestFFmpegGrabberKeepsNewestFrame(t *testing.T) {
	g, err := NewFFmpegGrabber(GrabberConfig{Source: ffmpeg.SourceTest, Width: 2, Height: 2, FPS: 30, Format: FormatRGB24}, testLogger())
	if err != nil {
		t.Fatalf("NewFFmpegGrabber() error = %v", err)
	}

	if _, err := g.Grab(); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("Grab() before any frame error = %v, want ErrNoFrame", err)
	}

	// two full 2x2 rgb24 frames followed by a truncated one
	stream := append(bytes.Repeat([]byte{1}, 12), bytes.Repeat([]byte{2}, 12)...)
	stream = append(stream, 3, 3, 3)
	g.readLoop(bytes.NewReader(stream))

	f, err := g.Grab()
	if err != nil {
		t.Fatalf("Grab() error = %v", err)
	}
	if f.Data[0] != 2 || len(f.Data) != 12 || f.Pitch != 6 || f.Format != FormatRGB24 {
		t.Errorf("frame = %+v, want the second full frame", f)
	}
	if g.overwritten.Load() != 1 {
		t.Errorf("overwritten = %d, want 1", g.overwritten.Load())
	}

	if _, err := g.Grab(); !errors.Is(err, ErrGrabberStopped) {
		t.Errorf("Grab() after reader exit error = %v, want ErrGrabberStopped", err)
	}
}

type stubProcess struct {
	stdoutErr error
	stops     int
}

func (p *stubProcess) Command() string { return "ffmpeg" }
func (p *stubProcess) Start() error    { return nil }
func (p *stubProcess) Stop() int       { p.stops++; return 0 }

func (p *stubProcess) Stdout() (io.Reader, error) {
	if p.stdoutErr != nil {
		return nil, p.stdoutErr
	}
	return bytes.NewReader(nil), nil
}

func TestFFmpegGrabberStopsProcessWhenStdoutFails(t *testing.T) {
	g, err := NewFFmpegGrabber(GrabberConfig{Source: ffmpeg.SourceTest, Width: 2, Height: 2, FPS: 30}, testLogger())
	if err != nil {
		t.Fatalf("NewFFmpegGrabber() error = %v", err)
	}
	stub := &stubProcess{stdoutErr: errors.New("no pipe")}
	g.proc = stub

	if err := g.Start(); err == nil {
		t.Fatal("Start() error = nil, want stdout failure")
	}
	if stub.stops != 1 {
		t.Errorf("process stopped %d times, want 1", stub.stops)
	}
	if g.started.Load() {
		t.Error("grabber marked started after a failed Start")
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close() after failed Start error = %v", err)
	}
}
