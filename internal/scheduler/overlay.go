package scheduler

import "github.com/lumenplay/engine/media"

// SubtitleOverlay tracks the set of pending caption cues for the active
// subtitle track and recomputes which one (if any) is on screen for a
// given media time.
type SubtitleOverlay struct {
	pending []media.CaptionFrame // unordered; small (a handful of cues buffered ahead)
}

// Push enqueues a newly decoded cue.
func (o *SubtitleOverlay) Push(cue media.CaptionFrame) {
	o.pending = append(o.pending, cue)
}

// Active returns the cue whose display window contains now, if any, and
// drops cues whose window has fully elapsed.
func (o *SubtitleOverlay) Active(now float64) (media.CaptionFrame, bool) {
	var active media.CaptionFrame
	found := false

	kept := o.pending[:0]
	for _, cue := range o.pending {
		if now > cue.EndPTS {
			continue // elapsed, drop
		}
		kept = append(kept, cue)
		if cue.StartPTS <= now && now <= cue.EndPTS {
			active = cue
			found = true
		}
	}
	o.pending = kept
	return active, found
}

// Flush clears all pending cues, used on seek and track deselection.
func (o *SubtitleOverlay) Flush() { o.pending = o.pending[:0] }
