package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose     bool
	metricsAddr string
	hardware    bool

	rootCmd = &cobra.Command{
		Use:   "playerctl",
		Short: "Drive the lumenplay playback engine against a local or remote media file",
		Long: `playerctl is a terminal harness for the engine: play, seek, probe, and
preview commands each construct a Player against a real MP4 file (or http(s)
URL) using playerctl's own concrete container parser, decode backends, and
audio device.`,
	}

	log *slog.Logger
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics on (empty disables telemetry)")
	rootCmd.PersistentFlags().BoolVar(&hardware, "hardware", false, "exercise the hardware-video-backend path instead of always using software")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	rootCmd.AddCommand(newPlayCommand())
	rootCmd.AddCommand(newSeekCommand())
	rootCmd.AddCommand(newProbeCommand())
	rootCmd.AddCommand(newPreviewCommand())
}
