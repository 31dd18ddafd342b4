package ffmpeg

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Base returns the ffmpeg command with standard flags. Every line on stderr
// carries a [level] tag for ParseLogLine.
func Base() string {
	return "ffmpeg -hide_banner -nostats -loglevel level+info"
}

// DefaultScreenInput returns the grab format and display for goos.
func DefaultScreenInput(goos string) (format, display string) {
	switch goos {
	case "windows":
		return "gdigrab", "desktop"
	case "darwin":
		return "avfoundation", "Capture screen 0"
	default:
		display = os.Getenv("DISPLAY")
		if display == "" {
			display = ":0.0"
		}
		return "x11grab", display
	}
}

// BuildGrabCommand builds a capture process that writes fixed-size raw
// frames to stdout.
func BuildGrabCommand(p *GrabParams) (string, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return "", fmt.Errorf("invalid capture size %dx%d", p.Width, p.Height)
	}
	if p.FPS <= 0 {
		return "", fmt.Errorf("invalid frame rate %d", p.FPS)
	}

	pixFmt := p.PixelFormat
	if pixFmt == "" {
		pixFmt = "bgra"
	}

	var cmd strings.Builder
	cmd.WriteString(Base())
	cmd.WriteString(" -nostdin")

	var filters []string

	switch p.Source {
	case SourceTest:
		// -re keeps the generator at native frame rate
		cmd.WriteString(" -re -f lavfi")
		cmd.WriteString(fmt.Sprintf(" -i testsrc2=size=%dx%d:rate=%d", p.Width, p.Height, p.FPS))
	case SourceScreen, "":
		format, display := DefaultScreenInput(runtime.GOOS)
		if p.InputFormat != "" {
			format = p.InputFormat
		}
		if p.Display != "" {
			display = p.Display
		}

		applyInputOptions(p.Options, &cmd)
		cmd.WriteString(" -f " + format)
		cmd.WriteString(" -framerate " + strconv.Itoa(p.FPS))
		if format == "avfoundation" {
			// avfoundation grabs the full screen; scale to the target size
			cmd.WriteString(" -capture_cursor 1")
			filters = append(filters, fmt.Sprintf("scale=%d:%d", p.Width, p.Height))
		} else {
			cmd.WriteString(fmt.Sprintf(" -video_size %dx%d", p.Width, p.Height))
		}
		cmd.WriteString(" -i " + quote(display))
	default:
		return "", fmt.Errorf("unknown capture source %q", p.Source)
	}

	if len(filters) > 0 {
		cmd.WriteString(" -vf " + strings.Join(filters, ","))
	}

	cmd.WriteString(" -f rawvideo -pix_fmt " + pixFmt + " pipe:1")
	return cmd.String(), nil
}

// BuildEncodeCommand builds an encode process reading raw frames on stdin and
// writing Annex B H.264 with an access unit delimiter before every access unit
// to stdout.
func BuildEncodeCommand(p *Params) string {
	var cmd strings.Builder
	cmd.WriteString(Base())

	for _, arg := range p.GlobalArgs {
		cmd.WriteString(" " + arg)
	}

	applyInputOptions(p.Options, &cmd)
	cmd.WriteString(" -f rawvideo -pix_fmt " + p.PixelFormat)
	cmd.WriteString(fmt.Sprintf(" -video_size %dx%d", p.Width, p.Height))
	cmd.WriteString(" -framerate " + strconv.Itoa(p.FPS))
	cmd.WriteString(" -i pipe:0")
	// one output access unit per input frame
	cmd.WriteString(" -fps_mode passthrough")

	writeEncoderArgs(p, &cmd)
	applyOutputOptions(p.Options, &cmd)

	cmd.WriteString(" -bsf:v h264_metadata=aud=insert")
	cmd.WriteString(" -f h264 pipe:1")
	return cmd.String()
}

// BuildProbeCommand builds a one-frame test encode of a generated pattern
// using the same encoder settings as BuildEncodeCommand.
func BuildProbeCommand(p *Params) string {
	var cmd strings.Builder
	cmd.WriteString(Base())
	cmd.WriteString(" -nostdin")

	for _, arg := range p.GlobalArgs {
		cmd.WriteString(" " + arg)
	}

	cmd.WriteString(" -f lavfi")
	cmd.WriteString(fmt.Sprintf(" -i testsrc2=size=%dx%d:rate=%d", p.Width, p.Height, p.FPS))

	probe := *p
	if probe.Frames <= 0 {
		probe.Frames = 1
	}
	writeEncoderArgs(&probe, &cmd)

	cmd.WriteString(" -f null -")
	return cmd.String()
}

// BuildEncodersListCommand lists the encoders compiled into ffmpeg.
func BuildEncodersListCommand() string {
	return "ffmpeg -hide_banner -encoders"
}

func writeEncoderArgs(p *Params, cmd *strings.Builder) {
	if p.VideoFilters != "" {
		cmd.WriteString(" -vf " + p.VideoFilters)
	}

	cmd.WriteString(" -c:v " + p.Encoder)

	for _, param := range p.OutputParams {
		cmd.WriteString(" -" + param.Key + " " + quote(param.Value))
	}

	if p.BitrateKbps > 0 {
		rate := strconv.Itoa(p.BitrateKbps) + "k"
		cmd.WriteString(" -b:v " + rate + " -maxrate " + rate + " -bufsize " + rate)
	}

	gop := p.GOP
	if gop <= 0 {
		gop = p.FPS
	}
	if gop > 0 {
		cmd.WriteString(" -g " + strconv.Itoa(gop))
	}
	if p.BFrames >= 0 {
		cmd.WriteString(" -bf " + strconv.Itoa(p.BFrames))
	}
	if p.Frames > 0 {
		cmd.WriteString(" -frames:v " + strconv.Itoa(p.Frames))
	}
}

// IsHardwareEncoder reports whether codec names a hardware encoder.
func IsHardwareEncoder(codec string) bool {
	for _, hw := range []string{"nvenc", "amf", "vaapi", "qsv", "videotoolbox", "v4l2m2m"} {
		if strings.Contains(codec, hw) {
			return true
		}
	}
	return false
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t'\"") {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return s
}
