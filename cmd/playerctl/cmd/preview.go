package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newPreviewCommand() *cobra.Command {
	var out string
	var width, height int

	cmd := &cobra.Command{
		Use:   "preview <source> <seconds>",
		Short: "Decode a single frame at a timestamp without disturbing playback state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("playerctl: invalid seconds %q: %w", args[1], err)
			}
			return runPreview(args[0], t, width, height, out)
		},
	}

	cmd.Flags().StringVar(&out, "out", "preview.png", "file to write the decoded frame to (PNG)")
	cmd.Flags().IntVar(&width, "width", 320, "preview frame width")
	cmd.Flags().IntVar(&height, "height", 180, "preview frame height")
	return cmd
}

func runPreview(src string, t float64, width, height int, out string) error {
	p, _, cleanup, err := newPlayerForSource(src)
	if err != nil {
		return err
	}
	defer cleanup()
	defer p.Destroy()

	ctx := context.Background()
	if _, err := p.Load(ctx); err != nil {
		return fmt.Errorf("playerctl: load: %w", err)
	}

	png, err := p.GeneratePreview(ctx, t, width, height)
	if err != nil {
		return fmt.Errorf("playerctl: generate preview: %w", err)
	}
	if err := os.WriteFile(out, png, 0o644); err != nil {
		return fmt.Errorf("playerctl: write %s: %w", out, err)
	}

	color.Green("wrote %d bytes to %s", len(png), out)
	return nil
}
