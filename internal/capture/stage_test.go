package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func fakeFrame() *Frame {
	return &Frame{Data: make([]byte, 16), Width: 2, Height: 2, Pitch: 8, Format: FormatBGRA}
}

func TestQueueKeepsMostRecentFrames(t *testing.T) {
	s := NewStage(GrabberFunc(func() (*Frame, error) { return fakeFrame(), nil }), StageConfig{FPS: 30}, testLogger())

	for i := 0; i < 4; i++ {
		s.captureOnce()
	}

	if got := s.Stats().Queued; got != MaxQueueSize {
		t.Fatalf("queued = %d, want %d", got, MaxQueueSize)
	}
	for _, want := range []uint64{2, 3, 4} {
		f, ok := s.GetFrame()
		if !ok {
			t.Fatalf("GetFrame() empty, want seq %d", want)
		}
		if f.Seq != want {
			t.Errorf("seq = %d, want %d", f.Seq, want)
		}
	}
	if _, ok := s.GetFrame(); ok {
		t.Error("queue should be empty")
	}
	if s.Stats().Dropped != 1 {
		t.Errorf("dropped = %d, want 1", s.Stats().Dropped)
	}
}

func TestQueueNeverExceedsCapacity(t *testing.T) {
	s := NewStage(GrabberFunc(func() (*Frame, error) { return fakeFrame(), nil }), StageConfig{FPS: 30, QueueSize: 5}, testLogger())

	for i := 0; i < 100; i++ {
		s.captureOnce()
		if q := s.Stats().Queued; q > 5 {
			t.Fatalf("queued = %d after %d pushes", q, i+1)
		}
	}

	var seqs []uint64
	for {
		f, ok := s.GetFrame()
		if !ok {
			break
		}
		seqs = append(seqs, f.Seq)
	}
	want := []uint64{96, 97, 98, 99, 100}
	if len(seqs) != len(want) {
		t.Fatalf("survivors = %v, want %v", seqs, want)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Fatalf("survivors = %v, want %v", seqs, want)
		}
	}
}

func TestFailedGrabIsSkipped(t *testing.T) {
	var calls atomic.Int32
	grabber := GrabberFunc(func() (*Frame, error) {
		n := calls.Add(1)
		switch n % 3 {
		case 1:
			return nil, errors.New("grab failed")
		case 2:
			return nil, nil
		}
		return fakeFrame(), nil
	})
	s := NewStage(grabber, StageConfig{FPS: 30}, testLogger())

	for i := 0; i < 6; i++ {
		s.captureOnce()
	}

	stats := s.Stats()
	if stats.Failed != 4 || stats.Captured != 2 {
		t.Errorf("stats = %+v, want 4 failed and 2 captured", stats)
	}
	f, ok := s.GetFrame()
	if !ok || f.Seq != 1 {
		t.Errorf("first frame = %+v, %v; want seq 1", f, ok)
	}
}

func TestTimestampsStrictlyIncrease(t *testing.T) {
	s := NewStage(GrabberFunc(func() (*Frame, error) { return fakeFrame(), nil }), StageConfig{FPS: 30, QueueSize: 1000}, testLogger())

	for i := 0; i < 500; i++ {
		s.captureOnce()
	}

	var last time.Duration = -1
	for {
		f, ok := s.GetFrame()
		if !ok {
			break
		}
		if f.Timestamp <= last {
			t.Fatalf("timestamp %v not after %v", f.Timestamp, last)
		}
		last = f.Timestamp
	}
}

func TestStartStop(t *testing.T) {
	var grabs atomic.Int32
	s := NewStage(GrabberFunc(func() (*Frame, error) {
		grabs.Add(1)
		return fakeFrame(), nil
	}), StageConfig{FPS: 100}, testLogger())

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	waitFor(t, time.Second, func() bool { return grabs.Load() >= 5 })

	done := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return")
	}

	after := grabs.Load()
	time.Sleep(50 * time.Millisecond)
	if grabs.Load() != after {
		t.Error("grabber called after Stop returned")
	}
}

func TestStopWithSlowGrabber(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	s := NewStage(GrabberFunc(func() (*Frame, error) {
		<-release
		return fakeFrame(), nil
	}), StageConfig{FPS: 30}, testLogger())

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.AfterFunc(50*time.Millisecond, func() { once.Do(func() { close(release) }) })

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return after the grab completed")
	}
}

func TestWaitFrame(t *testing.T) {
	s := NewStage(GrabberFunc(func() (*Frame, error) { return fakeFrame(), nil }), StageConfig{FPS: 50}, testLogger())
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f, err := s.WaitFrame(ctx)
	if err != nil {
		t.Fatalf("WaitFrame() error = %v", err)
	}
	if f.Seq == 0 {
		t.Error("frame was not stamped")
	}

	s.Stop()
	for {
		if _, ok := s.GetFrame(); !ok {
			break
		}
	}

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if _, err := s.WaitFrame(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitFrame() on empty stopped stage error = %v, want deadline exceeded", err)
	}
}
