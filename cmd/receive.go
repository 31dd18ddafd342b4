package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smazurov/screencast/internal/logging"
	"github.com/smazurov/screencast/internal/transmit"
)

// CreateReceiveCmd creates the receive command, a minimal viewer-side
// endpoint that writes the incoming H.264 stream to a file or stdout.
func CreateReceiveCmd() *cobra.Command {
	var (
		listen     string
		framing    string
		outputFile string
		recvBuffer int
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive a stream and write the H.264 elementary stream",
		Long: `Listens for a screencast stream and writes it as Annex B H.264. With --framing rtp ` +
			`payloads are reassembled and incomplete ones are dropped. Pipe stdout into a player, ` +
			`e.g. "screencast receive | ffplay -f h264 -".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if outputFile == "-" {
				logging.SetOutput(os.Stderr)
			}
			logging.Initialize(logging.Config{Level: logLevel, Format: "text"})
			logger := logging.GetLogger("transmit")

			mode, err := transmit.ParseFraming(framing)
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if outputFile != "-" {
				f, err := os.Create(outputFile)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			receiver := transmit.NewReceiver(transmit.ReceiverConfig{
				Addr:          listen,
				Framing:       mode,
				ReceiveBuffer: recvBuffer,
			}, out, logger)

			err = receiver.Run(ctx)

			st := receiver.Stats()
			logger.Info("Receiver stopped",
				"datagrams", st.Datagrams,
				"bytes", st.Bytes,
				"payloads", st.Payloads,
				"lost", st.Reassembly.Lost,
				"late", st.Reassembly.Late,
				"discarded", st.Reassembly.Discarded,
				"sender_reports", st.SenderReports)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&listen, "listen", "l", ":10000", "UDP address to listen on")
	f.StringVar(&framing, "framing", string(transmit.FramingRaw), "Chunk framing: raw or rtp")
	f.StringVarP(&outputFile, "output", "o", "-", "Output file, - for stdout")
	f.IntVar(&recvBuffer, "recv-buffer", transmit.DefaultSendBuffer, "Socket receive buffer in bytes")
	f.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}
