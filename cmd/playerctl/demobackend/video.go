// Package demobackend provides the concrete decode.VideoBackend and
// decode.AudioBackend playerctl hands the engine: the real platform codec
// APIs this package's interfaces stand in for (VideoToolbox, MediaCodec,
// a WebCodecs VideoDecoder) have no Go binding in this module's
// dependency pack, so playerctl's demo backends decode structurally —
// they honor Configure/Decode/Reset/Close and produce correctly-shaped
// frames — without performing real AVC/HEVC/AAC bitstream decoding. That
// keeps the orchestration layer (FSM, fallback, resurrection, A/V sync)
// exercised against a real file end to end, which is what the CLI is for.
package demobackend

import (
	"fmt"
	"image/color"

	"github.com/lumenplay/engine/internal/decode"
	"github.com/lumenplay/engine/internal/demux"
	"github.com/lumenplay/engine/media"
)

// VideoBackend emits a flat-colored RGBA frame per keyframe packet and
// drops everything else, rather than actually decoding the bitstream.
type VideoBackend struct {
	name   string
	width  int
	height int

	configured bool
	frameNo    int
}

// NewSoftwareVideoBackend constructs the always-available fallback path
// decode.BackendFactory expects for VideoSoftwareBackend.
func NewSoftwareVideoBackend() (decode.VideoBackend, error) {
	return &VideoBackend{name: "software"}, nil
}

// NewHardwareVideoBackend constructs the optional hardware-path stand-in
// used for VideoHardwareBackend. It behaves identically to the software
// backend — there's no real hardware codec API to wrap in this
// environment — so it exists mainly to exercise Configure/Decode's
// hardware-vs-software bookkeeping in internal/decode, not to demonstrate
// an actual hardware fast path.
func NewHardwareVideoBackend() (decode.VideoBackend, error) {
	return &VideoBackend{name: "hardware"}, nil
}

func (b *VideoBackend) Name() string { return b.name }

func (b *VideoBackend) Configure(codecString string, extradata []byte) error {
	if codecString == "" {
		return fmt.Errorf("demobackend: empty codec string")
	}
	b.configured = true
	b.frameNo = 0
	return nil
}

// Decode ignores pkt.Data's actual bitstream content and synthesizes a
// frame whenever the packet carries a keyframe. Width/height default to a
// placeholder size since the backend is never told the track's
// dimensions directly — a real backend would learn them from the
// bitstream's SPS during Configure or the first Decode call.
func (b *VideoBackend) Decode(pkt demux.Packet) (*media.VideoFrame, error) {
	if !b.configured {
		return nil, fmt.Errorf("demobackend: Decode called before Configure")
	}
	if !pkt.Keyframe {
		return nil, nil
	}
	w, h := b.width, b.height
	if w == 0 || h == 0 {
		w, h = 16, 9
	}
	b.frameNo++
	return &media.VideoFrame{
		PTS:      pkt.PTS,
		Duration: pkt.Duration,
		Width:    w,
		Height:   h,
		Format:   media.PixelFormatRGBA,
		Data:     solidRGBA(w, h, placeholderColor(b.frameNo)),
	}, nil
}

func (b *VideoBackend) Reset() error {
	b.frameNo = 0
	return nil
}

func (b *VideoBackend) Close() error { return nil }

func solidRGBA(w, h int, c color.RGBA) []byte {
	out := make([]byte, w*h*4)
	for i := 0; i < len(out); i += 4 {
		out[i], out[i+1], out[i+2], out[i+3] = c.R, c.G, c.B, c.A
	}
	return out
}

// placeholderColor cycles through a small palette so consecutive
// keyframes are visibly distinct in a preview JPEG/PNG, rather than every
// synthesized frame looking identical.
func placeholderColor(frameNo int) color.RGBA {
	palette := []color.RGBA{
		{R: 40, G: 40, B: 40, A: 255},
		{R: 80, G: 40, B: 120, A: 255},
		{R: 20, G: 90, B: 110, A: 255},
	}
	return palette[frameNo%len(palette)]
}
