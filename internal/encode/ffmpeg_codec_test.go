package encode

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/smazurov/screencast/internal/capture"
	"github.com/smazurov/screencast/internal/process"
)

// paddedUnit builds an access unit of exactly size bytes.
func paddedUnit(size int, slice []byte) []byte {
	au := accessUnit(aud, slice)
	return append(au, bytes.Repeat([]byte{0xAA}, size-len(au))...)
}

// TestFFmpegCodecOverEchoProcess drives the codec against cat, which echoes
// each frame back so every frame comes out as one access unit.
func TestFFmpegCodecOverEchoProcess(t *testing.T) {
	const frameSize = 32

	proc := process.New("echo", "cat", testLogger())
	proc.SetTimeouts(100*time.Millisecond, 100*time.Millisecond)
	if err := proc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	codec, err := newFFmpegCodec(proc, frameSize, testLogger())
	if err != nil {
		t.Fatalf("newFFmpegCodec() error = %v", err)
	}
	defer codec.Close()

	var units []*Unit
	for i := 1; i <= 5; i++ {
		slice := nonIDR
		if i == 1 {
			slice = idr
		}
		frame := &capture.Frame{
			Data:      paddedUnit(frameSize, slice),
			Timestamp: time.Duration(i) * time.Second,
			Seq:       uint64(i),
		}
		out, err := codec.Submit(frame)
		if err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
		units = append(units, out...)
	}

	if _, err := codec.Submit(&capture.Frame{Data: make([]byte, 3)}); err == nil {
		t.Error("wrong frame size must be rejected")
	}

	tail, err := codec.Flush()
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	units = append(units, tail...)

	if len(units) != 5 {
		t.Fatalf("got %d units, want 5", len(units))
	}
	for i, u := range units {
		if want := time.Duration(i+1) * time.Second; u.PTS != want {
			t.Errorf("unit %d PTS = %v, want %v", i, u.PTS, want)
		}
		if u.Keyframe != (i == 0) {
			t.Errorf("unit %d keyframe = %v", i, u.Keyframe)
		}
		if len(u.Data) != frameSize {
			t.Errorf("unit %d size = %d, want %d", i, len(u.Data), frameSize)
		}
	}

	if _, err := codec.Submit(&capture.Frame{Data: make([]byte, frameSize)}); !errors.Is(err, ErrCodecClosed) {
		t.Errorf("Submit() after Flush error = %v, want ErrCodecClosed", err)
	}
}
