package decode

import (
	"fmt"
	"log/slog"

	"github.com/lumenplay/engine/internal/demux"
	"github.com/lumenplay/engine/media"
)

// AudioDecoder owns one audio elementary stream's backend. Unlike the
// video decoder, it has no hardware/software FSM of its own in practice —
// spec.md §4.5 names "same backend duality", but audio backends rarely
// fail in ways that warrant the video decoder's elaborate recovery ladder
// — so failures here are reported to the caller rather than retried, per
// the "audio errors are never fatal" policy: the caller decides whether to
// drop the packet and continue.
type AudioDecoder struct {
	log     *slog.Logger
	metrics MetricsSink

	backend          AudioBackend
	downmixToStereo  bool
	sourceChannels   int
}

// NewAudioDecoder constructs an AudioDecoder. downmixToStereo controls
// whether tracks with more than two channels are downmixed on output.
func NewAudioDecoder(backend AudioBackend, downmixToStereo bool, log *slog.Logger) *AudioDecoder {
	if log == nil {
		log = slog.Default()
	}
	return &AudioDecoder{log: log.With("component", "audio-decoder"), backend: backend, downmixToStereo: downmixToStereo}
}

// SetMetrics attaches a metrics sink. Safe to call with nil to disable.
func (d *AudioDecoder) SetMetrics(m MetricsSink) { d.metrics = m }

// Configure initializes the backend for track.
func (d *AudioDecoder) Configure(track demux.AudioTrack) error {
	codecString := track.Codec
	d.sourceChannels = track.Channels
	if err := d.backend.Configure(codecString, track.Extradata); err != nil {
		return fmt.Errorf("decode: configure audio backend: %w", err)
	}
	return nil
}

// Decode submits pkt and downmixes the result to stereo if configured and
// the source has more than two channels. A decode failure is returned to
// the caller, never escalated — playback continues on video alone.
func (d *AudioDecoder) Decode(pkt demux.Packet) (*media.AudioFrame, error) {
	frame, err := d.backend.Decode(pkt)
	if err != nil {
		if d.metrics != nil {
			d.metrics.DecodeError("audio", "software")
		}
		return nil, fmt.Errorf("decode: audio decode failed (non-fatal): %w", err)
	}
	if frame == nil {
		return nil, nil
	}
	if d.downmixToStereo && frame.Channels > 2 {
		downmixToStereo(frame)
	}
	return frame, nil
}

// downmixToStereo collapses an N-channel interleaved-by-frame float buffer
// to stereo: channel 0 goes to L and channel 1 to R at full weight, and
// every further channel is added to L (even index) or R (odd index) scaled
// by 1/(n-1).
func downmixToStereo(frame *media.AudioFrame) {
	n := frame.Channels
	frames := len(frame.Samples) / n
	out := make([]float32, frames*2)
	weight := float32(1) / float32(n-1)
	for i := 0; i < frames; i++ {
		base := i * n
		var l, r float32
		for ch := 0; ch < n; ch++ {
			s := frame.Samples[base+ch]
			switch {
			case ch == 0:
				l += s
			case ch == 1:
				r += s
			case ch%2 == 0:
				l += s * weight
			default:
				r += s * weight
			}
		}
		out[i*2] = l
		out[i*2+1] = r
	}
	frame.Samples = out
	frame.Channels = 2
}

// SourceChannels reports the track's native channel count, for telemetry
// and for deciding whether Decode's stereo downmix actually changed anything.
func (d *AudioDecoder) SourceChannels() int { return d.sourceChannels }

// Flush resets backend state, e.g. after a seek.
func (d *AudioDecoder) Flush() error { return d.backend.Reset() }

// Close releases the backend.
func (d *AudioDecoder) Close() error { return d.backend.Close() }
