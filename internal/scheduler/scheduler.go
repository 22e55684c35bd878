// Package scheduler owns the video presentation pipeline: a pts-ordered
// frame queue and a per-tick presentation loop that selects which queued
// frame is due, drives fit-mode scaling animation, and recomputes the
// active subtitle overlay (spec.md §4.7).
package scheduler

import (
	"log/slog"
	"sort"

	"github.com/lumenplay/engine/internal/demux"
	"github.com/lumenplay/engine/media"
)

const (
	// QueueCapacity is the nominal frame_queue size (≈2s at 60fps).
	QueueCapacity = 120
	// EmergencyOverflow is 10x nominal capacity; incoming frames are
	// dropped with a warning once the queue grows past this.
	EmergencyOverflow = QueueCapacity * 10

	dueToleranceSeconds  = 0.005 // 5ms
	lowFPSThreshold      = 20.0
	lowFPSPruneLookback  = 0.2 // 200ms
	staleDropMinLookback = 2.0 // 2.0s floor on the stale-drop window
	fitModeLerpFactor    = 0.15
)

// FitMode is how a frame's pixels are scaled/positioned within the
// presentation surface.
type FitMode int

const (
	FitContain FitMode = iota
	FitCover
	FitFill
	FitZoom
	FitControl // host controls positioning entirely; no scaling applied
)

// Clock is the media-time source the presentation loop reads each tick.
type Clock interface {
	GetTime() float64
}

// Presenter receives the frame selected for display each tick, already
// clamped to the animated fit-mode scale and the track's rotation.
type Presenter interface {
	Present(frame *media.VideoFrame, scale float64, fit FitMode, rotation demux.Rotation)
}

// MetricsSink receives frame-drop counts. A narrow interface, not a
// direct *telemetry.Registry field, so this package never imports
// internal/telemetry.
type MetricsSink interface {
	FrameDropped(reason string)
}

// Scheduler owns the frame queue and presentation loop for one video
// track. It is driven by repeated Tick calls from the host's frame
// callback (~60Hz); it performs no timing of its own.
type Scheduler struct {
	log       *slog.Logger
	clock     Clock
	presenter Presenter
	metrics   MetricsSink
	rotation  demux.Rotation

	queue []*media.VideoFrame // sorted by PTS ascending

	lastPresentedPTS float64
	lastFrame        *media.VideoFrame // retained clone for resize-during-pause redraw

	fitMode      FitMode
	fitScale     float64 // current animated scale factor, target always 1.0
	snapFitScale bool
}

// New constructs a Scheduler presenting to presenter, reading time from
// clock.
func New(clock Clock, presenter Presenter, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:       log.With("component", "scheduler"),
		clock:     clock,
		presenter: presenter,
		fitScale:  1.0,
	}
}

// SetMetrics attaches a metrics sink. Safe to call with nil to disable.
func (s *Scheduler) SetMetrics(m MetricsSink) { s.metrics = m }

// SetFitMode changes the active fit mode; the scale animates toward it
// over subsequent ticks unless SnapFitMode was requested.
func (s *Scheduler) SetFitMode(mode FitMode) { s.fitMode = mode }

// SnapFitMode forces the next tick to apply the fit mode immediately
// without animating, used right after a seek.
func (s *Scheduler) SnapFitMode() { s.snapFitScale = true }

// SetRotation sets the track rotation applied at presentation time.
func (s *Scheduler) SetRotation(r demux.Rotation) { s.rotation = r }

// Push inserts frame into the queue, fast-path appending when PTS is
// monotonic and binary-search inserting otherwise. Frames are dropped with
// a warning once the queue exceeds EmergencyOverflow.
func (s *Scheduler) Push(frame *media.VideoFrame) {
	if len(s.queue) >= EmergencyOverflow {
		s.log.Warn("frame queue emergency overflow, dropping frame", "pts", frame.PTS, "queue_len", len(s.queue))
		if s.metrics != nil {
			s.metrics.FrameDropped("overflow")
		}
		return
	}

	if len(s.queue) == 0 || frame.PTS >= s.queue[len(s.queue)-1].PTS {
		s.queue = append(s.queue, frame)
		return
	}

	i := sort.Search(len(s.queue), func(i int) bool { return s.queue[i].PTS >= frame.PTS })
	s.queue = append(s.queue, nil)
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = frame
}

// QueueLen reports the current queue depth, for telemetry.
func (s *Scheduler) QueueLen() int { return len(s.queue) }

// Tick runs one presentation-loop iteration: selects the due frame (if
// any), drops stale frames, animates the fit scale, and presents.
// frameInterval is the track's nominal 1/fps in seconds, used for the
// early-by-one-frame and low-fps pruning rules.
func (s *Scheduler) Tick(frameInterval float64) {
	now := s.clock.GetTime()

	selected := s.selectDueFrame(now)
	if selected == nil && len(s.queue) > 0 {
		next := s.queue[0]
		if next.PTS-now <= frameInterval {
			selected = next
		}
	}

	s.dropConsumedAndStale(now, frameInterval, selected)

	if selected != nil {
		s.present(selected)
		s.lastPresentedPTS = selected.PTS
	}
}

// selectDueFrame finds the latest queued frame whose pts <= now+tolerance.
func (s *Scheduler) selectDueFrame(now float64) *media.VideoFrame {
	cutoff := now + dueToleranceSeconds
	var best *media.VideoFrame
	for _, f := range s.queue {
		if f.PTS <= cutoff {
			best = f
		} else {
			break // queue is pts-sorted ascending; nothing later can qualify
		}
	}
	return best
}

// dropConsumedAndStale removes every frame superseded by the just-selected
// one (anything at or before its pts, since time only moves forward) plus
// anything older than the stale-drop window that selection skipped over,
// and — for low-fps tracks on a tick where nothing was due — prunes a
// tighter 200ms lookback to bound memory under software 4K decode.
func (s *Scheduler) dropConsumedAndStale(now, frameInterval float64, selected *media.VideoFrame) {
	lookback := 2 * frameInterval
	if lookback < staleDropMinLookback {
		lookback = staleDropMinLookback
	}
	staleBefore := now - lookback

	fps := 0.0
	if frameInterval > 0 {
		fps = 1.0 / frameInterval
	}
	if selected == nil && fps > 0 && fps < lowFPSThreshold {
		if pruneBefore := now - lowFPSPruneLookback; pruneBefore > staleBefore {
			staleBefore = pruneBefore
		}
	}

	kept := s.queue[:0]
	for _, f := range s.queue {
		switch {
		case f == selected:
			continue // consumed by this tick's presentation
		case selected != nil && f.PTS <= selected.PTS:
			continue // superseded by the frame just presented
		case f.PTS < staleBefore:
			if s.metrics != nil {
				s.metrics.FrameDropped("stale")
			}
			continue // too old to ever be selected
		default:
			kept = append(kept, f)
		}
	}
	s.queue = kept
}

func (s *Scheduler) present(frame *media.VideoFrame) {
	s.animateFitScale()
	clone := *frame
	s.lastFrame = &clone
	s.presenter.Present(frame, s.fitScale, s.fitMode, s.rotation)
}

func (s *Scheduler) animateFitScale() {
	const target = 1.0
	if s.snapFitScale {
		s.fitScale = target
		s.snapFitScale = false
		return
	}
	s.fitScale += (target - s.fitScale) * fitModeLerpFactor
}

// LastPresented returns the most recently presented frame (a retained
// clone, safe to redraw during a pause-triggered resize) and whether one
// has ever been presented.
func (s *Scheduler) LastPresented() (*media.VideoFrame, bool) {
	return s.lastFrame, s.lastFrame != nil
}

// LastPresentedPTS returns the pts of the most recently presented frame.
func (s *Scheduler) LastPresentedPTS() float64 { return s.lastPresentedPTS }

// Flush clears the queue and retained frame, used on seek.
func (s *Scheduler) Flush() {
	s.queue = s.queue[:0]
	s.lastFrame = nil
	s.snapFitScale = true
}
