package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/screencast/internal/encoders"
	"github.com/smazurov/screencast/internal/logging"
)

// CreateEncodersCmd creates the encoders command, which probes every
// catalogued H.264 encoder with a short test encode.
func CreateEncodersCmd() *cobra.Command {
	var (
		outputFile string
		quiet      bool
		list       bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "encoders",
		Short: "Validate H.264 encoder availability",
		Long: `Tests every supported H.264 encoder (NVENC, AMF, QSV, VAAPI, VideoToolbox and libx264) ` +
			`with a one-frame encode to find out which ones work on this machine. Results are ` +
			`written as TOML and can be passed to "screencast stream --validation-file".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				printProfiles(cmd.OutOrStdout())
				return nil
			}

			level := "info"
			if quiet {
				level = "warn"
			}
			logging.Initialize(logging.Config{Level: level, Format: "text"})

			validator := encoders.NewValidator(logging.GetLogger("encoders"), encoders.WithTimeout(timeout))
			results, err := validator.ValidateAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("validate encoders: %w", err)
			}

			if outputFile != "" {
				if err := encoders.WriteResults(outputFile, results); err != nil {
					return err
				}
			}

			encoders.PrintSummary(cmd.OutOrStdout(), results)
			if outputFile != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Results saved to %s\n", outputFile)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "validated_encoders.toml", "Output file for validation results (empty to skip)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress per-encoder progress output")
	cmd.Flags().BoolVar(&list, "list", false, "List supported encoders without testing them")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Time limit for each encoder test")

	return cmd
}

func printProfiles(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENCODER\tVENDOR\tTYPE\tDESCRIPTION")
	for _, p := range encoders.Profiles() {
		kind := "software"
		if p.Hardware {
			kind = "hardware"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Vendor, kind, p.Description)
	}
	tw.Flush()
}
