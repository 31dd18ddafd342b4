// Package encoders is the catalogue of H.264 encoders the streamer knows how
// to drive, with the low-latency ffmpeg settings for each vendor and a
// validator that test-encodes a frame to find out which ones actually work.
package encoders

import (
	"strings"

	"github.com/smazurov/screencast/internal/ffmpeg"
)

// Vendor identifies the hardware family behind an encoder.
type Vendor string

const (
	VendorNVIDIA   Vendor = "nvidia"
	VendorAMD      Vendor = "amd"
	VendorIntel    Vendor = "intel"
	VendorVAAPI    Vendor = "vaapi"
	VendorApple    Vendor = "apple"
	VendorSoftware Vendor = "software"
)

// Software is the encoder every fallback chain ends with.
const Software = "libx264"

// Profile describes one encoder.
type Profile struct {
	Name        string
	Vendor      Vendor
	Description string
	Hardware    bool

	settings func() Settings
}

// Quality holds the rate-control inputs shared by every encoder.
type Quality struct {
	BitrateKbps int
	FPS         int
	GOP         int // 0 uses FPS
}

// Settings are the vendor specific ffmpeg arguments for one encoder.
type Settings struct {
	GlobalArgs   []string
	OutputParams []ffmpeg.Param
	VideoFilters string

	BitrateKbps int
	GOP         int
	BFrames     int
}

// Apply copies the settings into encode params.
func (s Settings) Apply(p *ffmpeg.Params) {
	p.GlobalArgs = s.GlobalArgs
	p.OutputParams = s.OutputParams
	p.VideoFilters = s.VideoFilters
	p.BitrateKbps = s.BitrateKbps
	p.GOP = s.GOP
	p.BFrames = s.BFrames
}

// profiles is ordered by hardware priority; libx264 is last.
var profiles = []Profile{
	{
		Name:        "h264_nvenc",
		Vendor:      VendorNVIDIA,
		Description: "NVIDIA NVENC - Hardware acceleration on NVIDIA GPUs",
		Hardware:    true,
		settings: func() Settings {
			return Settings{OutputParams: []ffmpeg.Param{
				{Key: "preset", Value: "p1"},
				{Key: "tune", Value: "ull"},
				{Key: "rc", Value: "cbr"},
				{Key: "zerolatency", Value: "1"},
				{Key: "delay", Value: "0"},
				{Key: "pix_fmt", Value: "yuv420p"},
			}}
		},
	},
	{
		Name:        "h264_amf",
		Vendor:      VendorAMD,
		Description: "AMD AMF - Hardware acceleration on AMD GPUs",
		Hardware:    true,
		settings: func() Settings {
			return Settings{OutputParams: []ffmpeg.Param{
				{Key: "usage", Value: "ultralowlatency"},
				{Key: "quality", Value: "speed"},
				{Key: "rc", Value: "cbr"},
				{Key: "pix_fmt", Value: "yuv420p"},
			}}
		},
	},
	{
		Name:        "h264_qsv",
		Vendor:      VendorIntel,
		Description: "Intel Quick Sync Video (QSV) - Hardware acceleration on Intel CPUs/GPUs",
		Hardware:    true,
		settings: func() Settings {
			return Settings{
				GlobalArgs: []string{"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw"},
				OutputParams: []ffmpeg.Param{
					{Key: "preset", Value: "veryfast"},
					{Key: "look_ahead", Value: "0"},
					{Key: "async_depth", Value: "1"},
				},
				VideoFilters: "format=nv12,hwupload=extra_hw_frames=64,format=qsv",
			}
		},
	},
	{
		Name:        "h264_vaapi",
		Vendor:      VendorVAAPI,
		Description: "VAAPI (Video Acceleration API) - Intel/AMD hardware acceleration on Linux",
		Hardware:    true,
		settings: func() Settings {
			return Settings{
				GlobalArgs:   []string{"-vaapi_device", "/dev/dri/renderD128"},
				OutputParams: []ffmpeg.Param{{Key: "rc_mode", Value: "CBR"}},
				VideoFilters: "format=nv12,hwupload",
			}
		},
	},
	{
		Name:        "h264_videotoolbox",
		Vendor:      VendorApple,
		Description: "Apple VideoToolbox - Hardware acceleration on macOS",
		Hardware:    true,
		settings: func() Settings {
			return Settings{OutputParams: []ffmpeg.Param{
				{Key: "realtime", Value: "1"},
				{Key: "allow_sw", Value: "1"},
				{Key: "pix_fmt", Value: "yuv420p"},
			}}
		},
	},
	{
		Name:        Software,
		Vendor:      VendorSoftware,
		Description: "x264 - Software encoding on the CPU",
		settings: func() Settings {
			return Settings{OutputParams: []ffmpeg.Param{
				{Key: "preset", Value: "ultrafast"},
				{Key: "tune", Value: "zerolatency"},
				{Key: "pix_fmt", Value: "yuv420p"},
			}}
		},
	},
}

// Profiles returns the catalogue in priority order.
func Profiles() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}

// Lookup finds a profile by encoder name.
func Lookup(name string) (Profile, bool) {
	for _, p := range profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// SettingsFor returns the low-latency settings for an encoder. Every encoder
// runs without B-frames and with a keyframe interval equal to the frame
// rate. Unknown encoders get the shared rate control only.
func SettingsFor(name string, q Quality) Settings {
	var s Settings
	if p, ok := Lookup(name); ok {
		s = p.settings()
	}

	s.BitrateKbps = q.BitrateKbps
	s.GOP = q.GOP
	if s.GOP <= 0 {
		s.GOP = q.FPS
	}
	s.BFrames = 0
	return s
}

// IsSoftware reports whether the preference selects CPU encoding.
func IsSoftware(preference string) bool {
	switch strings.ToLower(preference) {
	case "cpu", "software", Software:
		return true
	}
	return false
}
