// Package malgodevice adapts github.com/gen2brain/malgo's cross-platform
// playback device into audiorender.Device, the host audio output the
// engine's audio renderer schedules buffers onto. It is the one piece of
// playerctl that actually reaches real OS audio hardware rather than
// standing in for it.
package malgodevice

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/lumenplay/engine/internal/audiorender"
)

const outputLatencySeconds = 0.025

// scheduledChunk is one Commit call awaiting its turn in the output
// callback.
type scheduledChunk struct {
	scheduleAt float64 // device-clock seconds
	samples    []float32
	channels   int
	cursor     int // index into samples already written to the callback
}

// Device drives a malgo playback device, mixing Commit-scheduled chunks
// into its output callback in device-clock order. The device clock is the
// count of frames the callback has emitted divided by the sample rate —
// monotonic, glitch-free, and exactly the clock audiorender.Renderer
// expects Now() to report.
type Device struct {
	log *slog.Logger

	ctx *malgo.AllocatedContext
	dev *malgo.Device

	sampleRate int
	channels   int

	mu        sync.Mutex
	framesOut uint64
	gain      float32
	running   bool
	queue     []*scheduledChunk
}

// New opens the platform default playback device at sampleRate/channels.
// Call Close when the caller is done with it.
func New(sampleRate, channels int, log *slog.Logger) (*Device, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "malgodevice")

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("malgodevice: init context: %w", err)
	}

	d := &Device{
		log:        log,
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
		gain:       1,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{Data: d.onSendFrames}
	dev, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("malgodevice: init device: %w", err)
	}
	d.dev = dev
	return d, nil
}

// onSendFrames is malgo's render callback: it must fill pOutputSample with
// frameCount frames of interleaved float32, mixing whatever scheduled
// chunks have reached their scheduleAt by the time this slice plays.
func (d *Device) onSendFrames(pOutputSample, _ []byte, frameCount uint32) {
	framesNeeded := int(frameCount)
	out := make([]float32, framesNeeded*d.channels)

	d.mu.Lock()
	gain := d.gain
	startDeviceTime := float64(d.framesOut) / float64(d.sampleRate)

	for i := 0; i < framesNeeded; i++ {
		deviceTime := startDeviceTime + float64(i)/float64(d.sampleRate)
		d.mixFrameLocked(out[i*d.channels:(i+1)*d.channels], deviceTime, gain)
	}
	d.framesOut += uint64(framesNeeded)
	d.dropConsumedLocked()
	d.mu.Unlock()

	for i, v := range out {
		binary.LittleEndian.PutUint32(pOutputSample[i*4:], math.Float32bits(v))
	}
}

// mixFrameLocked writes one frame (d.channels samples) of mixed output,
// consuming from the head of the queue. Called with d.mu held.
func (d *Device) mixFrameLocked(dst []float32, deviceTime float64, gain float32) {
	for _, c := range d.queue {
		if c.scheduleAt > deviceTime || c.cursor >= len(c.samples) {
			continue
		}
		for ch := 0; ch < d.channels && ch < c.channels; ch++ {
			if c.cursor+ch < len(c.samples) {
				dst[ch] += c.samples[c.cursor+ch] * gain
			}
		}
		c.cursor += c.channels
	}
}

// dropConsumedLocked removes chunks fully played out, so the queue
// doesn't grow without bound over a long playback session.
func (d *Device) dropConsumedLocked() {
	live := d.queue[:0]
	for _, c := range d.queue {
		if c.cursor < len(c.samples) {
			live = append(live, c)
		}
	}
	d.queue = live
}

// Now returns the device clock: total frames emitted so far / sample rate.
func (d *Device) Now() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return float64(d.framesOut) / float64(d.sampleRate)
}

// Running reports whether the device has been Resume()d.
func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// OutputLatency returns a fixed estimate of the buffering between the
// callback and physical output. malgo doesn't expose the backend's actual
// reported latency through a cross-platform call, so this is a constant
// rather than a measured value.
func (d *Device) OutputLatency() float64 { return outputLatencySeconds }

// Commit enqueues samples to start mixing in at scheduleAt (device-clock
// seconds). playbackRate is accepted for interface compatibility but
// unused: the renderer already resamples for pitch-preserving rate
// changes before calling Commit, and disables pitch preservation by
// asking the device to vary pitch with rate — a capability this fixed
// sample-rate device doesn't implement, so out-of-1.0 rates without pitch
// preservation are not supported here.
func (d *Device) Commit(samples []float32, channels int, scheduleAt float64, playbackRate float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	d.queue = append(d.queue, &scheduledChunk{scheduleAt: scheduleAt, samples: cp, channels: channels})
}

// SetGain scales every subsequently-mixed sample.
func (d *Device) SetGain(gain float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gain = float32(gain)
}

// Suspend stops the underlying device; Now() keeps reporting the frame
// count already emitted rather than resetting.
func (d *Device) Suspend() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	if err := d.dev.Stop(); err != nil {
		d.log.Warn("failed to stop playback device", "error", err)
	}
}

// Resume starts (or restarts) the underlying device.
func (d *Device) Resume() {
	if err := d.dev.Start(); err != nil {
		d.log.Warn("failed to start playback device", "error", err)
		return
	}
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
}

// Close releases the malgo device and context. Not part of
// audiorender.Device; callers hold the concrete *Device to call it at
// shutdown.
func (d *Device) Close() {
	d.dev.Uninit()
	d.ctx.Uninit()
	d.ctx.Free()
}

var _ audiorender.Device = (*Device)(nil)
