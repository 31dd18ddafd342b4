package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/smazurov/screencast/internal/events"
)

func TestUpdate(t *testing.T) {
	id := "test-session-1"
	defer Delete(id)

	Update(events.StatsEvent{
		SessionID:      id,
		Frames:         150,
		FPS:            29.5,
		Mbps:           4.8,
		CaptureDropped: 2,
		Units:          150,
		Keyframes:      5,
		BytesSent:      3_000_000,
		SendWouldBlock: 1,
	})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"fps", testutil.ToFloat64(pipelineFPS.WithLabelValues(id)), 29.5},
		{"mbps", testutil.ToFloat64(pipelineMbps.WithLabelValues(id)), 4.8},
		{"frames", testutil.ToFloat64(pipelineFrames.WithLabelValues(id)), 150},
		{"capture dropped", testutil.ToFloat64(captureDropped.WithLabelValues(id)), 2},
		{"units", testutil.ToFloat64(encodeUnits.WithLabelValues(id)), 150},
		{"keyframes", testutil.ToFloat64(encodeKeyframes.WithLabelValues(id)), 5},
		{"bytes", testutil.ToFloat64(transmitBytes.WithLabelValues(id)), 3_000_000},
		{"would block", testutil.ToFloat64(transmitWouldBlock.WithLabelValues(id)), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	last, ok := Last(id)
	if !ok || last.Frames != 150 {
		t.Errorf("Last() = %+v, %v", last, ok)
	}
}

func TestDelete(t *testing.T) {
	id := "test-session-2"
	Update(events.StatsEvent{SessionID: id, FPS: 30})
	SetEncoder(id, "libx264")

	before := testutil.CollectAndCount(pipelineFPS)
	Delete(id)
	after := testutil.CollectAndCount(pipelineFPS)
	if after != before-1 {
		t.Errorf("series count %d -> %d, want one fewer", before, after)
	}
	if _, ok := Last(id); ok {
		t.Error("expected no cached stats after delete")
	}
	if n := testutil.CollectAndCount(encoderInfo); n != 0 {
		t.Errorf("encoder_info series = %d, want 0", n)
	}
}

func TestSetEncoderReplacesPrevious(t *testing.T) {
	id := "test-session-3"
	defer Delete(id)

	SetEncoder(id, "h264_nvenc")
	SetEncoder(id, "libx264")

	if n := testutil.CollectAndCount(encoderInfo); n != 1 {
		t.Fatalf("encoder_info series = %d, want 1", n)
	}
	if v := testutil.ToFloat64(encoderInfo.WithLabelValues(id, "libx264")); v != 1 {
		t.Errorf("encoder_info{libx264} = %v, want 1", v)
	}
}

func TestUpdateCountersFollowRunningTotals(t *testing.T) {
	id := "test-session-4"
	defer Delete(id)

	Update(events.StatsEvent{SessionID: id, Frames: 30, Chunks: 100, SendWouldBlock: 2})
	Update(events.StatsEvent{SessionID: id, Frames: 90, Chunks: 250, SendWouldBlock: 2})

	if v := testutil.ToFloat64(pipelineFrames.WithLabelValues(id)); v != 90 {
		t.Errorf("frames_total = %v, want 90", v)
	}
	if v := testutil.ToFloat64(transmitChunks.WithLabelValues(id)); v != 250 {
		t.Errorf("chunks_total = %v, want 250", v)
	}
	if v := testutil.ToFloat64(transmitWouldBlock.WithLabelValues(id)); v != 2 {
		t.Errorf("would_block_total = %v, want 2", v)
	}

	// A smaller total never moves a counter backwards.
	Update(events.StatsEvent{SessionID: id, Frames: 10})
	if v := testutil.ToFloat64(pipelineFrames.WithLabelValues(id)); v != 90 {
		t.Errorf("frames_total after reset = %v, want 90", v)
	}
}
