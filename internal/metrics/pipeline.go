// Package metrics provides Prometheus metrics for the streaming pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smazurov/screencast/internal/events"
)

const namespace = "screencast"

func sessionGauge(subsystem, name, help string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, []string{"session_id"})
}

func sessionCounter(subsystem, name, help string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, []string{"session_id"})
}

var (
	pipelineFPS    = sessionGauge("pipeline", "fps", "Average frames per second since the session started")
	pipelineMbps   = sessionGauge("pipeline", "mbps", "Average transmitted megabits per second since the session started")
	pipelineFrames = sessionCounter("pipeline", "frames_total", "Frames processed by the pipeline")

	captureFailed  = sessionCounter("capture", "failed_total", "Failed screen grabs")
	captureDropped = sessionCounter("capture", "dropped_total", "Frames evicted from the capture queue")

	encodeFailed    = sessionCounter("encode", "failed_total", "Frames the encoder rejected")
	encodeDropped   = sessionCounter("encode", "dropped_total", "Units evicted from the packet queue")
	encodeUnits     = sessionCounter("encode", "units_total", "Compressed units produced")
	encodeKeyframes = sessionCounter("encode", "keyframes_total", "Keyframe units produced")

	transmitPayloads   = sessionCounter("transmit", "payloads_total", "Payloads fully transmitted")
	transmitChunks     = sessionCounter("transmit", "chunks_total", "Datagrams written")
	transmitBytes      = sessionCounter("transmit", "bytes_total", "Payload bytes written")
	transmitFailed     = sessionCounter("transmit", "failed_total", "Chunks that failed to send")
	transmitWouldBlock = sessionCounter("transmit", "would_block_total", "Chunks dropped because the socket buffer was full")
	transmitDropped    = sessionCounter("transmit", "dropped_total", "Payloads evicted from the send queue")

	encoderInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encode",
		Name:      "encoder_info",
		Help:      "Encoder in use, value is always 1",
	}, []string{"session_id", "encoder"})

	sessionGauges   = []*prometheus.GaugeVec{pipelineFPS, pipelineMbps}
	sessionCounters = []*prometheus.CounterVec{
		pipelineFrames,
		captureFailed, captureDropped,
		encodeFailed, encodeDropped, encodeUnits, encodeKeyframes,
		transmitPayloads, transmitChunks, transmitBytes,
		transmitFailed, transmitWouldBlock, transmitDropped,
	}

	// Last report per session, for log lines, counter deltas and the CLI summary.
	cache   = make(map[string]events.StatsEvent)
	cacheMu sync.RWMutex
)

// advance moves a counter forward to the cumulative value cur. Stats reports
// carry running totals, so only the growth since prev is added.
func advance(c *prometheus.CounterVec, id string, prev, cur uint64) {
	counter := c.WithLabelValues(id)
	if cur > prev {
		counter.Add(float64(cur - prev))
	}
}

// Update records a stats report.
func Update(s events.StatsEvent) {
	id := s.SessionID

	cacheMu.Lock()
	defer cacheMu.Unlock()
	prev := cache[id]
	cache[id] = s

	pipelineFPS.WithLabelValues(id).Set(s.FPS)
	pipelineMbps.WithLabelValues(id).Set(s.Mbps)
	advance(pipelineFrames, id, prev.Frames, s.Frames)

	advance(captureFailed, id, prev.CaptureFailed, s.CaptureFailed)
	advance(captureDropped, id, prev.CaptureDropped, s.CaptureDropped)

	advance(encodeFailed, id, prev.EncodeFailed, s.EncodeFailed)
	advance(encodeDropped, id, prev.EncodeDropped, s.EncodeDropped)
	advance(encodeUnits, id, prev.Units, s.Units)
	advance(encodeKeyframes, id, prev.Keyframes, s.Keyframes)

	advance(transmitPayloads, id, prev.Payloads, s.Payloads)
	advance(transmitChunks, id, prev.Chunks, s.Chunks)
	advance(transmitBytes, id, prev.BytesSent, s.BytesSent)
	advance(transmitFailed, id, prev.SendFailed, s.SendFailed)
	advance(transmitWouldBlock, id, prev.SendWouldBlock, s.SendWouldBlock)
	advance(transmitDropped, id, prev.SendDropped, s.SendDropped)
}

// SetEncoder records the encoder a session selected.
func SetEncoder(sessionID, encoder string) {
	encoderInfo.DeletePartialMatch(prometheus.Labels{"session_id": sessionID})
	encoderInfo.WithLabelValues(sessionID, encoder).Set(1)
}

// Last returns the most recent report for a session.
func Last(sessionID string) (events.StatsEvent, bool) {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	s, ok := cache[sessionID]
	return s, ok
}

// Delete removes all metrics for a session.
func Delete(sessionID string) {
	for _, g := range sessionGauges {
		g.DeleteLabelValues(sessionID)
	}
	for _, c := range sessionCounters {
		c.DeleteLabelValues(sessionID)
	}
	encoderInfo.DeletePartialMatch(prometheus.Labels{"session_id": sessionID})

	cacheMu.Lock()
	delete(cache, sessionID)
	cacheMu.Unlock()
}
