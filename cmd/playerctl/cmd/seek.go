package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newSeekCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seek <source> <seconds>",
		Short: "Load a source, seek to a timestamp, and report where playback landed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("playerctl: invalid seconds %q: %w", args[1], err)
			}
			return runSeek(args[0], target)
		},
	}
}

func runSeek(src string, target float64) error {
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

	if err := p.Seek(ctx, target); err != nil {
		return fmt.Errorf("playerctl: seek: %w", err)
	}

	color.Green("seeked to requested=%.3fs landed=%.3fs", target, p.GetCurrentTime())
	return nil
}
