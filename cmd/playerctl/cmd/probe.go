package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lumenplay/engine/internal/demux"
)

func newProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <source>",
		Short: "Load a source and print its container and track metadata, then exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(args[0])
		},
	}
}

func runProbe(src string) error {
	p, _, cleanup, err := newPlayerForSource(src)
	if err != nil {
		return err
	}
	defer cleanup()
	defer p.Destroy()

	ctx := context.Background()
	info, err := p.Load(ctx)
	if err != nil {
		return fmt.Errorf("playerctl: load: %w", err)
	}

	color.Green("%s", info.String())
	for _, t := range info.Tracks {
		printTrack(t)
	}
	return nil
}

func printTrack(t demux.Track) {
	switch v := t.(type) {
	case demux.VideoTrack:
		fmt.Printf("  [%d] video  codec=%s %dx%d\n", v.ID(), v.Codec, v.Width, v.Height)
	case demux.AudioTrack:
		fmt.Printf("  [%d] audio  codec=%s rate=%d channels=%d lang=%s\n", v.ID(), v.Codec, v.SampleRate, v.Channels, v.Language)
	case demux.SubtitleTrack:
		fmt.Printf("  [%d] subtitle codec=%s lang=%s\n", v.ID(), v.Codec, v.Language)
	default:
		fmt.Printf("  [%d] %s codec=%s\n", t.ID(), t.Kind(), t.CodecName())
	}
}
