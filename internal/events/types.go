package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeEncoderSelected uint32 = iota + 1
	TypePipelineState
	TypeStats
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Pipeline states reported through PipelineStateEvent.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
	StateStopped  = "stopped"
	StateFailed   = "failed"
)

// EncoderSelectedEvent is published once the encode stage has opened a codec.
// Fallback is true when the opened encoder differs from the requested one.
type EncoderSelectedEvent struct {
	Encoder   string `json:"encoder"`
	Requested string `json:"requested"`
	Fallback  bool   `json:"fallback"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for EncoderSelectedEvent.
func (e EncoderSelectedEvent) Type() uint32 { return TypeEncoderSelected }

// PipelineStateEvent represents a pipeline lifecycle transition.
type PipelineStateEvent struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for PipelineStateEvent.
func (e PipelineStateEvent) Type() uint32 { return TypePipelineState }

// StatsEvent is a periodic throughput report. Counters are cumulative and
// FPS and Mbps are averages since the pipeline started running.
type StatsEvent struct {
	SessionID string        `json:"session_id"`
	Elapsed   time.Duration `json:"elapsed"`
	Frames    uint64        `json:"frames"`
	FPS       float64       `json:"fps"`
	Mbps      float64       `json:"mbps"`

	CaptureFailed  uint64 `json:"capture_failed"`
	CaptureDropped uint64 `json:"capture_dropped"`
	EncodeFailed   uint64 `json:"encode_failed"`
	EncodeDropped  uint64 `json:"encode_dropped"`
	Units          uint64 `json:"units"`
	Keyframes      uint64 `json:"keyframes"`
	Payloads       uint64 `json:"payloads"`
	Chunks         uint64 `json:"chunks"`
	BytesSent      uint64 `json:"bytes_sent"`
	SendFailed     uint64 `json:"send_failed"`
	SendWouldBlock uint64 `json:"send_would_block"`
	SendDropped    uint64 `json:"send_dropped"`

	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for StatsEvent.
func (e StatsEvent) Type() uint32 { return TypeStats }

// Now formats the current time the way event timestamps are encoded.
func Now() string {
	return time.Now().Format(time.RFC3339)
}
