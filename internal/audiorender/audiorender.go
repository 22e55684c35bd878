// Package audiorender schedules decoded audio blocks onto the host audio
// output with sample-accurate timing, and exposes the resulting schedule
// as the playback session's master clock (spec.md §4.8).
package audiorender

import (
	"log/slog"
	"time"

	"github.com/lumenplay/engine/media"
)

const (
	scheduleLeadSeconds = 0.005 // 5ms
	tightResyncSeconds  = 0.020 // 20ms

	healthyAheadFirstChunks  = 5
	healthyAheadFirstSeconds = 0.1
	healthyAheadSteadySeconds = 0.02
	healthyOutputWindow       = 500 * time.Millisecond
)

// Device is the host audio output the renderer schedules buffers onto —
// an AudioContext-equivalent. Now returns the device's own monotonic
// output clock in seconds; Commit schedules samples to start playing at
// scheduleAt (device-clock seconds) and returns once accepted (not once
// played).
type Device interface {
	Now() float64
	Running() bool
	OutputLatency() float64
	Commit(samples []float32, channels int, scheduleAt float64, playbackRate float64)
	SetGain(gain float64)
	Suspend()
	Resume()
}

// Renderer schedules DecodedAudioSamples blocks onto a Device and serves
// as the playback session's master clock source.
type Renderer struct {
	log    *slog.Logger
	device Device

	playbackRate       float64
	preservePitch      bool
	paused             bool
	mutedSuspended     bool
	isRebuffering      bool

	scheduledTime         float64
	firstBufferScheduledAt float64
	firstBufferMediaTime   float64
	maxScheduledMediaTime  float64
	haveFirstBuffer        bool

	chunksRendered    int
	lastOutputAt      time.Time
	hasLastOutput     bool
}

// New constructs a Renderer driving device.
func New(device Device, log *slog.Logger) *Renderer {
	if log == nil {
		log = slog.Default()
	}
	return &Renderer{log: log.With("component", "audiorender"), device: device, playbackRate: 1.0}
}

// Render schedules one decoded audio block. If paused, or suspended while
// muted, the block is silently dropped (closed) per spec.
func (r *Renderer) Render(frame media.AudioFrame) {
	if r.paused || r.mutedSuspended {
		return
	}

	now := r.device.Now()
	scheduleAt := r.scheduledTime
	if lead := now + scheduleLeadSeconds; scheduleAt < lead {
		scheduleAt = lead
	}

	if r.scheduledTime < now {
		// Under-run: the schedule fell behind the device clock. Re-anchor
		// so get_audio_clock derives from where playback actually resumes.
		r.firstBufferScheduledAt = scheduleAt
		r.firstBufferMediaTime = frame.PTS
		r.log.Warn("audio renderer under-run, re-anchoring", "scheduled_time", r.scheduledTime, "now", now)
	}

	if r.haveFirstBuffer {
		anchored := r.firstBufferMediaTime + (scheduleAt-r.firstBufferScheduledAt)*r.playbackRate
		if diff := anchored - frame.PTS; diff > tightResyncSeconds || diff < -tightResyncSeconds {
			r.firstBufferScheduledAt = scheduleAt
			r.firstBufferMediaTime = frame.PTS
		}
	} else {
		r.firstBufferScheduledAt = scheduleAt
		r.firstBufferMediaTime = frame.PTS
		r.haveFirstBuffer = true
	}

	r.device.Commit(frame.Samples, frame.Channels, scheduleAt, r.effectiveRate())

	duration := float64(len(frame.Samples)) / float64(frame.Channels) / float64(frame.SampleRate)
	r.scheduledTime = scheduleAt + duration/r.playbackRate
	if end := frame.PTS + duration; end > r.maxScheduledMediaTime {
		r.maxScheduledMediaTime = end
	}

	r.chunksRendered++
	r.lastOutputAt = time.Now()
	r.hasLastOutput = true
	r.isRebuffering = false
}

// effectiveRate reports the playback rate handed to the device's buffer
// source directly. When pitch preservation is disabled the device varies
// pitch with rate (standard resampling playback); when enabled, this
// package's tempo processor (not the device) absorbs the rate change and
// the device always receives 1.0.
func (r *Renderer) effectiveRate() float64 {
	if r.preservePitch && r.playbackRate != 1.0 {
		return 1.0
	}
	return r.playbackRate
}

// GetAudioClock returns the master clock position, or false until the
// first buffer has been scheduled and the device is running.
func (r *Renderer) GetAudioClock() (float64, bool) {
	if !r.haveFirstBuffer || !r.device.Running() {
		return 0, false
	}
	t := r.firstBufferMediaTime +
		(r.device.Now()-r.firstBufferScheduledAt)*r.playbackRate -
		r.device.OutputLatency()*r.playbackRate

	if t < r.firstBufferMediaTime {
		t = r.firstBufferMediaTime
	}
	if t > r.maxScheduledMediaTime {
		t = r.maxScheduledMediaTime
	}
	return t, true
}

// Healthy reports the spec's "healthy buffer" heuristic: a running
// device, enough audio scheduled ahead of now, and recent decoder output.
func (r *Renderer) Healthy() bool {
	if !r.device.Running() {
		return false
	}
	ahead := r.scheduledTime - r.device.Now()
	required := healthyAheadSteadySeconds
	if r.chunksRendered < healthyAheadFirstChunks {
		required = healthyAheadFirstSeconds
	}
	if ahead < required {
		return false
	}
	if !r.hasLastOutput || time.Since(r.lastOutputAt) > healthyOutputWindow {
		return false
	}
	return true
}

// SetPlaybackRate stops all scheduled sources, resets the schedule to
// now, and marks is_rebuffering until the next successful Render.
func (r *Renderer) SetPlaybackRate(rate float64, preservePitch bool) {
	r.playbackRate = rate
	r.preservePitch = preservePitch
	r.scheduledTime = r.device.Now()
	r.isRebuffering = true
}

// IsRebuffering reports whether a pending rate change is still awaiting
// its first post-change render.
func (r *Renderer) IsRebuffering() bool { return r.isRebuffering }

// SetPaused toggles whether Render silently drops incoming blocks.
func (r *Renderer) SetPaused(paused bool) { r.paused = paused }

// Mute zeroes output gain without stopping the device. mutedAtStartup
// additionally suspends the device, for platforms whose autoplay policy
// requires a user gesture before an audio device may run at all.
func (r *Renderer) Mute(mutedAtStartup bool) {
	r.device.SetGain(0)
	if mutedAtStartup {
		r.mutedSuspended = true
		r.device.Suspend()
	}
}

// Unmute restores output gain and resumes the device if Mute suspended it.
func (r *Renderer) Unmute() {
	r.device.SetGain(1)
	if r.mutedSuspended {
		r.mutedSuspended = false
		r.device.Resume()
	}
}

// Reset clears all scheduling state, used by the seek controller to stop
// every scheduled source.
func (r *Renderer) Reset() {
	r.scheduledTime = 0
	r.firstBufferScheduledAt = 0
	r.firstBufferMediaTime = 0
	r.maxScheduledMediaTime = 0
	r.haveFirstBuffer = false
	r.chunksRendered = 0
	r.hasLastOutput = false
	r.isRebuffering = false
}
