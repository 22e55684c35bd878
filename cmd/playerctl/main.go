// Command playerctl is a terminal harness for the playback engine: it
// supplies the concrete Parser, decode backends, and audio device the
// library only ever consumes, so a real MP4 file can be driven end to
// end from a shell instead of a browser tab.
package main

import (
	"fmt"
	"os"

	"github.com/lumenplay/engine/cmd/playerctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
