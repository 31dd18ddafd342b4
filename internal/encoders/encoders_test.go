package encoders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/smazurov/screencast/internal/ffmpeg"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCandidates(t *testing.T) {
	tests := []struct {
		preference string
		want       []string
	}{
		{"h264_nvenc", []string{"h264_nvenc", "h264_amf", "libx264"}},
		{"h264_vaapi", []string{"h264_vaapi", "libx264"}},
		{"libx264", []string{"libx264"}},
		{"cpu", []string{"libx264"}},
		{"auto", []string{"h264_nvenc", "h264_amf", "h264_qsv", "h264_vaapi", "h264_videotoolbox", "libx264"}},
		{"", []string{"h264_nvenc", "h264_amf", "h264_qsv", "h264_vaapi", "h264_videotoolbox", "libx264"}},
		{"h264_custom", []string{"h264_custom", "libx264"}},
	}

	for _, tt := range tests {
		t.Run(tt.preference, func(t *testing.T) {
			if got := Candidates(tt.preference); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Candidates(%q) = %v, want %v", tt.preference, got, tt.want)
			}
		})
	}
}

func TestSettingsForLowLatency(t *testing.T) {
	for _, p := range Profiles() {
		t.Run(p.Name, func(t *testing.T) {
			s := SettingsFor(p.Name, Quality{BitrateKbps: 5000, FPS: 30})
			if s.BFrames != 0 {
				t.Errorf("BFrames = %d, want 0", s.BFrames)
			}
			if s.GOP != 30 {
				t.Errorf("GOP = %d, want fps", s.GOP)
			}
			if s.BitrateKbps != 5000 {
				t.Errorf("BitrateKbps = %d, want 5000", s.BitrateKbps)
			}
		})
	}

	x264 := SettingsFor(Software, Quality{FPS: 60, GOP: 120})
	if x264.GOP != 120 {
		t.Errorf("explicit GOP = %d, want 120", x264.GOP)
	}
	want := []ffmpeg.Param{{Key: "preset", Value: "ultrafast"}, {Key: "tune", Value: "zerolatency"}, {Key: "pix_fmt", Value: "yuv420p"}}
	if !reflect.DeepEqual(x264.OutputParams, want) {
		t.Errorf("libx264 params = %v, want %v", x264.OutputParams, want)
	}

	vaapi := SettingsFor("h264_vaapi", Quality{FPS: 30})
	if vaapi.VideoFilters != "format=nv12,hwupload" || len(vaapi.GlobalArgs) == 0 {
		t.Errorf("vaapi settings missing device upload: %+v", vaapi)
	}

	unknown := SettingsFor("h264_unknown", Quality{BitrateKbps: 1000, FPS: 25})
	if len(unknown.OutputParams) != 0 || unknown.GOP != 25 {
		t.Errorf("unknown encoder settings = %+v", unknown)
	}
}

func TestSettingsApply(t *testing.T) {
	p := &ffmpeg.Params{Encoder: "h264_vaapi", BFrames: -1}
	SettingsFor("h264_vaapi", Quality{BitrateKbps: 3000, FPS: 30}).Apply(p)

	cmd := ffmpeg.BuildEncodeCommand(p)
	for _, want := range []string{"-vaapi_device /dev/dri/renderD128", "-vf format=nv12,hwupload", "-rc_mode CBR", "-b:v 3000k", "-g 30", "-bf 0"} {
		if !strings.Contains(cmd, want) {
			t.Errorf("command missing %q: %s", want, cmd)
		}
	}
}

const encoderList = `Encoders:
 V..... = Video
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V....D h264_vaapi           H.264/AVC (VAAPI) (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`

type fakeRunner struct {
	failing map[string]bool
	probed  []string
}

func (f *fakeRunner) run(_ context.Context, command string) ([]byte, error) {
	switch {
	case strings.HasSuffix(command, "-encoders"):
		return []byte(encoderList), nil
	case strings.HasSuffix(command, "-version"):
		return []byte("ffmpeg version 7.1.1 Copyright (c) 2000-2025\n"), nil
	}

	for _, p := range profiles {
		if strings.Contains(command, "-c:v "+p.Name+" ") {
			f.probed = append(f.probed, p.Name)
			if f.failing[p.Name] {
				return []byte("[error] No capable devices found\n"), errors.New("exit status 1")
			}
			return nil, nil
		}
	}
	return nil, errors.New("unexpected command " + command)
}

func TestParseEncoderList(t *testing.T) {
	got := parseEncoderList([]byte(encoderList))
	for _, name := range []string{"libx264", "h264_nvenc", "h264_vaapi", "aac"} {
		if !got[name] {
			t.Errorf("missing %s in %v", name, got)
		}
	}
	if got["="] || got["Video"] {
		t.Errorf("legend parsed as encoder: %v", got)
	}
}

func TestValidateAll(t *testing.T) {
	runner := &fakeRunner{failing: map[string]bool{"h264_nvenc": true}}
	v := NewValidator(testLogger(), WithRunner(runner.run), WithTestSize(320, 240, 30))

	results, err := v.ValidateAll(context.Background())
	if err != nil {
		t.Fatalf("ValidateAll() error = %v", err)
	}

	if !reflect.DeepEqual(results.Working, []string{"h264_vaapi", "libx264"}) {
		t.Errorf("Working = %v", results.Working)
	}
	if !reflect.DeepEqual(results.Failed, []string{"h264_nvenc", "h264_amf", "h264_qsv", "h264_videotoolbox"}) {
		t.Errorf("Failed = %v", results.Failed)
	}
	if !reflect.DeepEqual(runner.probed, []string{"h264_nvenc", "h264_vaapi", "libx264"}) {
		t.Errorf("probed %v, want only compiled encoders", runner.probed)
	}
	if results.FFmpegVersion != "7.1.1" {
		t.Errorf("FFmpegVersion = %q", results.FFmpegVersion)
	}
	if results.TestResolution != "320x240" {
		t.Errorf("TestResolution = %q", results.TestResolution)
	}
	if !strings.Contains(results.Errors["h264_nvenc"], "No capable devices found") {
		t.Errorf("nvenc error = %q", results.Errors["h264_nvenc"])
	}

	if got := results.Best("h264_nvenc"); got != "libx264" {
		t.Errorf("Best(h264_nvenc) = %q, want libx264", got)
	}
	if got := results.Best("auto"); got != "h264_vaapi" {
		t.Errorf("Best(auto) = %q, want h264_vaapi", got)
	}
}

func TestWriteLoadResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoders.toml")
	in := &Results{
		Timestamp:      "2026-01-01T00:00:00Z",
		FFmpegVersion:  "7.1.1",
		TestResolution: "640x480",
		Working:        []string{"libx264"},
		Failed:         []string{"h264_nvenc"},
		Errors:         map[string]string{"h264_nvenc": "not compiled"},
	}

	if err := WriteResults(path, in); err != nil {
		t.Fatalf("WriteResults() error = %v", err)
	}
	out, err := LoadResults(path)
	if err != nil {
		t.Fatalf("LoadResults() error = %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("LoadResults() = %+v, want %+v", out, in)
	}
}
