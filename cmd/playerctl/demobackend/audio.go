package demobackend

import (
	"fmt"
	"math"

	"github.com/lumenplay/engine/internal/decode"
	"github.com/lumenplay/engine/internal/demux"
	"github.com/lumenplay/engine/media"
)

const demoSampleRate = 48000

// AudioBackend synthesizes a quiet sine tone per packet instead of
// decoding AAC, for the same reason VideoBackend synthesizes frames: no
// AAC decoder is available in this module's dependency pack, and the
// point of playerctl is to exercise the scheduling/sync/rendering
// pipeline against real packet timing, not to ship a codec.
type AudioBackend struct {
	channels   int
	sampleRate int
	configured bool
	phase      float64
}

// NewAudioBackend constructs the always-software audio decode path
// AudioBackendFactory expects.
func NewAudioBackend() (decode.AudioBackend, error) {
	return &AudioBackend{}, nil
}

func (b *AudioBackend) Name() string { return "software" }

func (b *AudioBackend) Configure(codecString string, extradata []byte) error {
	if codecString == "" {
		return fmt.Errorf("demobackend: empty codec string")
	}
	b.sampleRate = demoSampleRate
	b.channels = 2
	b.configured = true
	return nil
}

// Decode ignores pkt.Data and emits one packet-duration's worth of a
// quiet 220Hz tone, so the renderer has real, audible-if-faint audio to
// schedule rather than silence indistinguishable from a bug.
func (b *AudioBackend) Decode(pkt demux.Packet) (*media.AudioFrame, error) {
	if !b.configured {
		return nil, fmt.Errorf("demobackend: Decode called before Configure")
	}
	duration := pkt.Duration
	if duration <= 0 {
		duration = 0.02
	}
	frames := int(duration * float64(b.sampleRate))
	samples := make([]float32, frames*b.channels)
	const amplitude = 0.05
	const freq = 220.0
	step := 2 * math.Pi * freq / float64(b.sampleRate)
	for i := 0; i < frames; i++ {
		v := float32(amplitude * math.Sin(b.phase))
		for ch := 0; ch < b.channels; ch++ {
			samples[i*b.channels+ch] = v
		}
		b.phase += step
	}
	return &media.AudioFrame{
		PTS:        pkt.PTS,
		SampleRate: b.sampleRate,
		Channels:   b.channels,
		Samples:    samples,
	}, nil
}

func (b *AudioBackend) Reset() error {
	b.phase = 0
	return nil
}

func (b *AudioBackend) Close() error { return nil }
