// Package cmd holds the screencast command-line interface.
package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/screencast/internal/config"
)

// NewCLI builds the screencast CLI. The root command streams with the
// options humacli parsed from its flags; the subcommands share those flags.
func NewCLI() humacli.CLI {
	var (
		cli    humacli.CLI
		parsed *config.Options
	)

	cli = humacli.New(func(hooks humacli.Hooks, opts *config.Options) {
		parsed = opts

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		hooks.OnStart(func() {
			defer close(done)
			if err := startStream(ctx, opts, cli.Root()); err != nil {
				slog.Error("Stream failed", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			cancel()
			<-done
		})
	})

	root := cli.Root()
	root.Use = "screencast"
	root.Short = "Stream the screen as low-latency H.264 over UDP"
	root.Long = `Captures the display, encodes each frame to H.264 with a hardware encoder when one ` +
		`is available and sends the stream to a remote viewer over UDP.

Settings are read from flags, SCREENCAST_* environment variables and the TOML config file, ` +
		`in that order of precedence.`
	root.SilenceUsage = true

	root.AddCommand(
		CreateStreamCmd(func() *config.Options { return parsed }),
		CreateEncodersCmd(),
		CreateReceiveCmd(),
		CreateVersionCmd(),
	)
	return cli
}
