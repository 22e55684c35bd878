package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lumenplay/engine/internal/player"
)

func newPlayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <source>",
		Short: "Load and play a local file or http(s) URL until it ends or is interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(args[0])
		},
	}
	return cmd
}

func runPlay(src string) error {
	p, _, cleanup, err := newPlayerForSource(src)
	if err != nil {
		return err
	}
	defer cleanup()
	defer p.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		color.Yellow("interrupted, shutting down")
		cancel()
	}()

	sub, unsubscribe := p.Subscribe()
	defer unsubscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				logEvent(ev)
				if ev.Name == player.EventEnded || ev.Name == player.EventError {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	info, err := p.Load(ctx)
	if err != nil {
		return fmt.Errorf("playerctl: load: %w", err)
	}
	color.Green("loaded %s", info.String())

	if err := p.Play(); err != nil {
		return fmt.Errorf("playerctl: play: %w", err)
	}

	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Tick()
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func logEvent(ev player.Event) {
	fmt.Println(color.CyanString("event:"), ev.Name, ev.Payload)
}
