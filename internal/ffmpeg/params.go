package ffmpeg

// Source selects what the grab process captures.
type Source string

const (
	SourceScreen Source = "screen" // platform screen grabber
	SourceTest   Source = "test"   // lavfi testsrc2 pattern
)

// GrabParams describes a raw-frame capture process writing to stdout.
type GrabParams struct {
	Source      Source
	InputFormat string // x11grab, gdigrab, avfoundation; empty picks the platform default
	Display     string // :0.0, desktop, "Capture screen 0"
	Width       int
	Height      int
	FPS         int
	PixelFormat string // bgra, bgr0, rgb24

	Options []OptionType
}

// Params represents all parameters needed to generate an encode command.
// Raw frames arrive on stdin and Annex B H.264 leaves on stdout.
type Params struct {
	// Input
	Width       int
	Height      int
	FPS         int
	PixelFormat string // pixel format of the raw frames on stdin

	// Encoder
	Encoder string // h264_nvenc, libx264, etc.

	// Rate control
	BitrateKbps int
	GOP         int // keyframe interval; 0 uses FPS
	BFrames     int // -1 leaves the encoder default

	// Vendor settings
	GlobalArgs   []string // -vaapi_device, etc.
	VideoFilters string   // format=nv12,hwupload
	OutputParams []Param  // emitted in order as -key value

	// Frames limits the encode to n frames; 0 means unlimited.
	Frames int

	Options []OptionType
}

// Param is one encoder option emitted as "-Key Value".
type Param struct {
	Key   string
	Value string
}
