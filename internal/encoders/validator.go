package encoders

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/screencast/internal/ffmpeg"
	"github.com/smazurov/screencast/internal/logging"
	"github.com/smazurov/screencast/internal/process"
)

// RunFunc runs a command line to completion and returns its output.
type RunFunc func(ctx context.Context, command string) ([]byte, error)

// Validator test-encodes a generated pattern to find working encoders.
type Validator struct {
	run     RunFunc
	logger  logging.Logger
	width   int
	height  int
	fps     int
	timeout time.Duration
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithRunner replaces the command runner.
func WithRunner(run RunFunc) ValidatorOption {
	return func(v *Validator) { v.run = run }
}

// WithTestSize sets the resolution and frame rate of the test encode.
func WithTestSize(width, height, fps int) ValidatorOption {
	return func(v *Validator) {
		v.width, v.height, v.fps = width, height, fps
	}
}

// WithTimeout bounds a single probe.
func WithTimeout(d time.Duration) ValidatorOption {
	return func(v *Validator) { v.timeout = d }
}

// NewValidator creates a validator running ffmpeg through the process package.
func NewValidator(logger logging.Logger, opts ...ValidatorOption) *Validator {
	v := &Validator{
		run:     process.Output,
		logger:  logger,
		width:   640,
		height:  480,
		fps:     30,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Probe runs a one-frame test encode with the production settings of name.
func (v *Validator) Probe(ctx context.Context, name string, q Quality) error {
	if q.FPS <= 0 {
		q.FPS = v.fps
	}

	params := &ffmpeg.Params{
		Width:   v.width,
		Height:  v.height,
		FPS:     q.FPS,
		Encoder: name,
	}
	SettingsFor(name, q).Apply(params)
	command := ffmpeg.BuildProbeCommand(params)

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	v.logger.Debug("Probing encoder", "encoder", name, "command", command)
	out, err := v.run(ctx, command)
	if err != nil {
		return fmt.Errorf("probe %s: %w: %s", name, err, lastLine(out))
	}
	return nil
}

// Compiled returns the encoder names compiled into ffmpeg.
func (v *Validator) Compiled(ctx context.Context) (map[string]bool, error) {
	out, err := v.run(ctx, ffmpeg.BuildEncodersListCommand())
	if err != nil {
		return nil, fmt.Errorf("list encoders: %w", err)
	}
	return parseEncoderList(out), nil
}

// Version returns the ffmpeg version or "unknown".
func (v *Validator) Version(ctx context.Context) string {
	out, err := v.run(ctx, "ffmpeg -version")
	if err != nil {
		return "unknown"
	}
	// "ffmpeg version 7.1.1 Copyright ..."
	line, _, _ := strings.Cut(string(out), "\n")
	parts := strings.Fields(line)
	if len(parts) >= 3 {
		return parts[2]
	}
	return "unknown"
}

// Results is the outcome of validating every catalogued encoder.
type Results struct {
	Timestamp      string            `toml:"timestamp"`
	FFmpegVersion  string            `toml:"ffmpeg_version"`
	TestResolution string            `toml:"test_resolution"`
	Working        []string          `toml:"working"`
	Failed         []string          `toml:"failed"`
	Errors         map[string]string `toml:"errors,omitempty"`
}

// ValidateAll probes every catalogued encoder that ffmpeg was built with.
// Encoders missing from the build are recorded as failed without a probe.
func (v *Validator) ValidateAll(ctx context.Context) (*Results, error) {
	compiled, err := v.Compiled(ctx)
	if err != nil {
		return nil, err
	}

	results := &Results{
		Timestamp:      time.Now().Format(time.RFC3339),
		FFmpegVersion:  v.Version(ctx),
		TestResolution: fmt.Sprintf("%dx%d", v.width, v.height),
		Working:        []string{},
		Failed:         []string{},
		Errors:         make(map[string]string),
	}

	for _, p := range profiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !compiled[p.Name] {
			v.logger.Info("Encoder not compiled into ffmpeg", "encoder", p.Name)
			results.Failed = append(results.Failed, p.Name)
			results.Errors[p.Name] = "not compiled"
			continue
		}

		if err := v.Probe(ctx, p.Name, Quality{BitrateKbps: 2000, FPS: v.fps}); err != nil {
			v.logger.Info("Encoder failed", "encoder", p.Name, "error", err)
			results.Failed = append(results.Failed, p.Name)
			results.Errors[p.Name] = err.Error()
			continue
		}

		v.logger.Info("Encoder working", "encoder", p.Name)
		results.Working = append(results.Working, p.Name)
	}

	return results, nil
}

// Best returns the first working encoder in the candidate order for
// preference, or "" when none works.
func (r *Results) Best(preference string) string {
	working := make(map[string]bool, len(r.Working))
	for _, name := range r.Working {
		working[name] = true
	}
	for _, name := range Candidates(preference) {
		if working[name] {
			return name
		}
	}
	return ""
}

// WriteResults saves results as TOML.
func WriteResults(path string, r *Results) error {
	data, err := toml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal validation results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// LoadResults reads results written by WriteResults.
func LoadResults(path string) (*Results, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Results
	if err := toml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &r, nil
}

// PrintSummary writes a human readable summary.
func PrintSummary(w io.Writer, r *Results) {
	fmt.Fprintln(w, "=== VALIDATION SUMMARY ===")
	fmt.Fprintf(w, "FFmpeg %s, test resolution %s\n", r.FFmpegVersion, r.TestResolution)
	fmt.Fprintf(w, "H.264 encoders working: %d\n", len(r.Working))
	if len(r.Working) > 0 {
		fmt.Fprintf(w, "  Working: %s\n", strings.Join(r.Working, ", "))
	}
	if len(r.Failed) > 0 {
		fmt.Fprintf(w, "  Failed: %s\n", strings.Join(r.Failed, ", "))
	}
}

// parseEncoderList reads the table printed by "ffmpeg -encoders":
//
//	V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
func parseEncoderList(out []byte) map[string]bool {
	names := make(map[string]bool)
	inTable := false

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inTable {
			inTable = strings.HasPrefix(line, "------")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && len(fields[0]) == 6 {
			names[fields[1]] = true
		}
	}
	return names
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
