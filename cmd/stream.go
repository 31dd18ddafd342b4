package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smazurov/screencast/internal/capture"
	"github.com/smazurov/screencast/internal/config"
	"github.com/smazurov/screencast/internal/encode"
	"github.com/smazurov/screencast/internal/encoders"
	"github.com/smazurov/screencast/internal/events"
	"github.com/smazurov/screencast/internal/ffmpeg"
	"github.com/smazurov/screencast/internal/logging"
	"github.com/smazurov/screencast/internal/metrics/exporters"
	"github.com/smazurov/screencast/internal/pipeline"
	"github.com/smazurov/screencast/internal/systemd"
	"github.com/smazurov/screencast/internal/transmit"
)

// CreateStreamCmd creates the stream command. It streams exactly like the
// bare root command, with options from the root's persistent flags.
func CreateStreamCmd(options func() *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "stream",
		Short: "Capture the screen and stream it over UDP",
		Long: `Captures the display at the requested frame rate, encodes it to H.264 and sends ` +
			`every access unit to the destination in MTU-sized UDP datagrams. Hardware encoders are ` +
			`tried first and libx264 is used when none is available.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := options()
			if opts == nil {
				return errors.New("options were not parsed")
			}
			return startStream(cmd.Context(), opts, cmd)
		},
	}
}

// startStream layers the config file and environment under the flags set on
// cmd, validates the result and streams until ctx is done.
func startStream(ctx context.Context, opts *config.Options, cmd *cobra.Command) error {
	if err := config.LoadConfig(opts, cmd); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	return runStream(ctx, opts)
}

func runStream(parent context.Context, opts *config.Options) error {
	logCfg := opts.LoggingConfig()
	logging.Initialize(logCfg)
	logger := logging.GetLogger("main")

	if _, err := os.Stat(opts.Config); err == nil {
		watcher, err := config.WatchLogging(opts.Config, logCfg, logging.GetLogger("config"))
		if err != nil {
			logger.Warn("Failed to start config watcher, log level reload disabled", "error", err)
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	framing, err := transmit.ParseFraming(opts.Framing)
	if err != nil {
		return err
	}

	source := ffmpeg.Source(opts.Source)
	if source != ffmpeg.SourceScreen && source != ffmpeg.SourceTest {
		return fmt.Errorf("unknown capture source %q", opts.Source)
	}

	ffmpegOptions := ffmpeg.GetDefaultOptions()
	if list := opts.FFmpegOptionList(); len(list) > 0 {
		ffmpegOptions = make([]ffmpeg.OptionType, len(list))
		for i, o := range list {
			ffmpegOptions[i] = ffmpeg.OptionType(o)
		}
		if err := ffmpeg.ValidateOptions(ffmpegOptions); err != nil {
			return err
		}
	}

	validator := encoders.NewValidator(logging.GetLogger("encoders"))
	preference := selectEncoder(ctx, opts, validator, logger)

	grabber, err := capture.NewFFmpegGrabber(capture.GrabberConfig{
		Source:      source,
		InputFormat: opts.InputFormat,
		Display:     opts.Display,
		Width:       opts.Width,
		Height:      opts.Height,
		FPS:         opts.FPS,
		Format:      capture.FormatBGRA,
		Options:     ffmpegOptions,
	}, logging.GetLogger("capture"))
	if err != nil {
		return err
	}
	logger.Debug("Grab command", "command", grabber.Command())

	tx := transmit.DefaultConfig()
	tx.Host = opts.Host
	tx.Port = opts.Port
	tx.MaxChunkSize = opts.MTU
	tx.SendBuffer = opts.SendBuffer
	tx.QueueSize = opts.SendQueue
	tx.Framing = framing

	bus := events.New()
	unsub := bus.Subscribe(func(e events.EncoderSelectedEvent) {
		if e.Fallback {
			logger.Warn("Requested encoder unavailable, using fallback", "requested", e.Requested, "encoder", e.Encoder)
		}
	})
	defer unsub()

	notifier := systemd.NewNotifier(logging.GetLogger("systemd"))
	go notifier.Watchdog(ctx)

	p, err := pipeline.New(pipeline.Options{
		Grabber: grabber,
		Opener: encode.NewFFmpegOpener(logging.GetLogger("encode"), validator,
			encode.WithFFmpegOptions(ffmpegOptions),
			encode.WithGOP(opts.GOP)),
		Capture: capture.StageConfig{FPS: opts.FPS, QueueSize: opts.CaptureQueue},
		Encode: encode.Config{
			Width:       opts.Width,
			Height:      opts.Height,
			FPS:         opts.FPS,
			BitrateKbps: opts.Bitrate,
			Format:      capture.FormatBGRA,
			QueueSize:   opts.EncodeQueue,
		},
		Transmit:      tx,
		Encoder:       preference,
		StatsInterval: opts.StatsPeriod(),
		Bus:           bus,
		Notifier:      notifier,
		Logger:        logging.GetLogger("pipeline"),
	})
	if err != nil {
		return err
	}

	metricsDone := make(chan error, 1)
	if opts.MetricsAddr != "" {
		srv, err := exporters.Listen(opts.MetricsAddr, logging.GetLogger("metrics"))
		if err != nil {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
		go func() { metricsDone <- srv.Serve(ctx) }()
	} else {
		metricsDone <- nil
	}

	logger.Info("Starting stream",
		"session_id", p.SessionID(),
		"resolution", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"fps", opts.FPS,
		"bitrate_kbps", opts.Bitrate,
		"encoder", preference,
		"destination", fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		"mtu", opts.MTU)

	runErr := p.Run(ctx)
	stop()

	if err := <-metricsDone; err != nil {
		logger.Warn("Metrics endpoint failed", "error", err)
	}

	if runErr != nil {
		if errors.Is(runErr, encode.ErrNoEncoder) {
			logger.Error("No usable H.264 encoder, run 'screencast encoders' for details", "error", runErr)
		}
		return runErr
	}
	logger.Info("Stream stopped", "session_id", p.SessionID())
	return nil
}

// selectEncoder narrows the preference with validation results when they
// are available. Without results the encode stage walks the candidates.
func selectEncoder(ctx context.Context, opts *config.Options, validator *encoders.Validator, logger logging.Logger) string {
	preference := opts.EncoderPreference()
	if encoders.IsSoftware(preference) {
		return preference
	}

	var results *encoders.Results
	switch {
	case opts.ValidateOnStart:
		r, err := validator.ValidateAll(ctx)
		if err != nil {
			logger.Warn("Encoder validation failed", "error", err)
			return preference
		}
		results = r
		if opts.ValidationFile != "" {
			if err := encoders.WriteResults(opts.ValidationFile, r); err != nil {
				logger.Warn("Failed to save validation results", "error", err)
			}
		}
	case opts.ValidationFile != "":
		r, err := encoders.LoadResults(opts.ValidationFile)
		if err != nil {
			logger.Warn("Failed to load validation results, probing at startup", "file", opts.ValidationFile, "error", err)
			return preference
		}
		results = r
	default:
		return preference
	}

	best := results.Best(preference)
	if best == "" {
		logger.Warn("No validated encoder matches, probing at startup", "preference", preference)
		return preference
	}
	if best != preference {
		logger.Info("Using validated encoder", "preference", preference, "encoder", best)
	}
	return best
}
