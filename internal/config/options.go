package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/smazurov/screencast/internal/logging"
)

// Options is the flat set of streaming settings. humacli turns every field
// into a persistent root flag (name, short, default and doc tags); env vars
// (SCREENCAST_ + env tag) and the TOML file map onto it through LoadConfig.
// Fields stay string, int or bool so humacli can bind them.
type Options struct {
	Config string `doc:"Path to configuration file" short:"c" default:"screencast.toml"`

	// Capture settings
	Width        int    `doc:"Capture width" short:"w" default:"1920" toml:"capture.width" env:"CAPTURE_WIDTH"`
	Height       int    `doc:"Capture height" short:"H" default:"1080" toml:"capture.height" env:"CAPTURE_HEIGHT"`
	FPS          int    `name:"fps" doc:"Target frame rate" default:"30" toml:"capture.fps" env:"CAPTURE_FPS"`
	Source       string `doc:"Capture source: screen or test" default:"screen" toml:"capture.source" env:"CAPTURE_SOURCE"`
	Display      string `doc:"Display to grab (default depends on the platform)" toml:"capture.display" env:"CAPTURE_DISPLAY"`
	InputFormat  string `name:"input-format" doc:"ffmpeg grab device (x11grab, gdigrab, avfoundation)" toml:"capture.input_format" env:"CAPTURE_INPUT_FORMAT"`
	CaptureQueue int    `name:"capture-queue" doc:"Captured frames kept before the oldest is dropped" default:"3" toml:"queues.capture" env:"QUEUES_CAPTURE"`
	EncodeQueue  int    `name:"encode-queue" doc:"Encoded units kept before the oldest is dropped (0 = unbounded)" default:"0" toml:"queues.encode" env:"QUEUES_ENCODE"`
	SendQueue    int    `name:"send-queue" doc:"Payloads kept before the oldest is dropped (0 = unbounded)" default:"0" toml:"queues.send" env:"QUEUES_SEND"`

	// Encoder settings
	Encoder         string `doc:"Preferred encoder, or auto" default:"h264_nvenc" toml:"encoder.name" env:"ENCODER_NAME"`
	CPU             bool   `name:"cpu" doc:"Force software encoding (libx264)" toml:"encoder.cpu" env:"ENCODER_CPU"`
	Bitrate         int    `doc:"Target bitrate in kbps" default:"5000" toml:"encoder.bitrate_kbps" env:"ENCODER_BITRATE_KBPS"`
	GOP             int    `name:"gop" doc:"Keyframe interval in frames (0 = one second)" toml:"encoder.gop" env:"ENCODER_GOP"`
	FFmpegOptions   string `name:"ffmpeg-options" doc:"Comma-separated ffmpeg latency options (default: nobuffer,low_delay,flush_packets)" toml:"encoder.ffmpeg_options" env:"ENCODER_FFMPEG_OPTIONS"`
	ValidationFile  string `name:"validation-file" doc:"Results of 'screencast encoders' used to pick the encoder" toml:"encoder.validation_file" env:"ENCODER_VALIDATION_FILE"`
	ValidateOnStart bool   `name:"validate" doc:"Validate encoders before streaming" toml:"encoder.validate_on_start" env:"ENCODER_VALIDATE_ON_START"`

	// Transmit settings
	Host       string `name:"ip" doc:"Destination address" default:"127.0.0.1" toml:"transmit.ip" env:"TRANSMIT_IP"`
	Port       int    `doc:"Destination UDP port" short:"p" default:"10000" toml:"transmit.port" env:"TRANSMIT_PORT"`
	MTU        int    `name:"mtu" doc:"Largest datagram to send in bytes" default:"1500" toml:"transmit.mtu" env:"TRANSMIT_MTU"`
	Framing    string `doc:"Chunk framing: raw or rtp" default:"raw" toml:"transmit.framing" env:"TRANSMIT_FRAMING"`
	SendBuffer int    `name:"send-buffer" doc:"Socket send buffer in bytes" default:"10485760" toml:"transmit.send_buffer" env:"TRANSMIT_SEND_BUFFER"`

	// Observability settings
	MetricsAddr   string `name:"metrics-addr" doc:"Serve Prometheus metrics on this address, e.g. :9100" toml:"metrics.addr" env:"METRICS_ADDR"`
	StatsInterval string `name:"stats-interval" doc:"How often to report throughput" default:"5s" toml:"metrics.stats_interval" env:"METRICS_STATS_INTERVAL"`

	// Logging settings
	LoggingLevel  string `name:"log-level" doc:"Log level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `name:"log-format" doc:"Log format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
}

// DefaultOptions returns the options with every `default` tag applied.
func DefaultOptions() Options {
	var o Options
	if err := ApplyDefaults(&o); err != nil {
		panic(err)
	}
	return o
}

// Validate rejects values no stage could run with.
func (o *Options) Validate() error {
	switch {
	case o.Width <= 0 || o.Height <= 0:
		return fmt.Errorf("invalid resolution %dx%d", o.Width, o.Height)
	case o.Width%2 != 0 || o.Height%2 != 0:
		return fmt.Errorf("resolution %dx%d must be even for yuv420p", o.Width, o.Height)
	case o.FPS <= 0:
		return fmt.Errorf("invalid fps %d", o.FPS)
	case o.Bitrate <= 0:
		return fmt.Errorf("invalid bitrate %d kbps", o.Bitrate)
	case o.EncodeQueue < 0 || o.SendQueue < 0:
		return fmt.Errorf("queue sizes must not be negative")
	}
	if d, err := time.ParseDuration(o.StatsInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid stats interval %q", o.StatsInterval)
	}
	return nil
}

// StatsPeriod returns the parsed stats interval. Call Validate first.
func (o *Options) StatsPeriod() time.Duration {
	d, _ := time.ParseDuration(o.StatsInterval)
	return d
}

// FFmpegOptionList splits the comma-separated ffmpeg options. Empty means
// the built-in defaults.
func (o *Options) FFmpegOptionList() []string {
	var out []string
	for _, opt := range strings.Split(o.FFmpegOptions, ",") {
		if opt = strings.TrimSpace(opt); opt != "" {
			out = append(out, opt)
		}
	}
	return out
}

// EncoderPreference resolves --cpu and --encoder into one preference.
func (o *Options) EncoderPreference() string {
	if o.CPU {
		return "cpu"
	}
	return o.Encoder
}

// LoggingConfig builds the logging config from the flat options. Module
// levels come from the [logging] section of the config file.
func (o *Options) LoggingConfig() logging.Config {
	cfg := logging.Config{
		Level:   o.LoggingLevel,
		Format:  o.LoggingFormat,
		Modules: make(map[string]string),
	}
	if fileCfg, err := LoadLoggingConfig(o.Config); err == nil {
		cfg.Modules = fileCfg.Modules
	}
	return cfg
}
