// Package pipeline dispatches demuxed packets from a [demux.Bridge] to the
// per-kind decode stage, decoupling the single-reader demux pull loop from
// independently-paced video/audio/subtitle consumers.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/lumenplay/engine/internal/demux"
	"github.com/lumenplay/engine/media"
)

// Sink receives dispatched packets. Implementations typically feed a
// decoder; accepting an interface here keeps the pipeline decoupled from
// any concrete decoder type, making it testable with stubs.
type Sink interface {
	DeliverVideo(pkt demux.Packet)
	DeliverAudio(pkt demux.Packet)
	DeliverSubtitle(pkt demux.Packet)
}

// Pipeline reads packets from a Bridge and fans them out to a Sink through
// per-kind buffered channels, forwarding a pending video packet ahead of
// audio and subtitle packets so video is never starved by a bursty audio
// track. Every kind is delivered from the same loop, so a slow Sink method
// (a slow subtitle consumer included) delays video delivery too.
type Pipeline struct {
	log    *slog.Logger
	bridge *demux.Bridge
	sink   Sink
	tracks []demux.Track

	videoForwarded atomic.Int64
	audioForwarded atomic.Int64
	subsForwarded  atomic.Int64
	videoChanDepth atomic.Int32
	audioChanDepth atomic.Int32
}

// New creates a Pipeline that reads from bridge (already Open'd, with
// tracks describing each stream index's kind) and dispatches to sink.
func New(bridge *demux.Bridge, tracks []demux.Track, sink Sink, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log:    log.With("component", "pipeline"),
		bridge: bridge,
		sink:   sink,
		tracks: tracks,
	}
}

func (p *Pipeline) kindOf(streamIndex uint32) demux.TrackKind {
	for _, t := range p.tracks {
		if t.ID() == streamIndex {
			return t.Kind()
		}
	}
	return demux.KindVideo
}

// Debug returns low-level forwarding counters and channel depths for
// diagnostics.
type Debug struct {
	VideoForwarded int64
	AudioForwarded int64
	SubsForwarded  int64
	VideoChanDepth int
	AudioChanDepth int
}

// Debug returns a point-in-time snapshot of forwarding counters.
func (p *Pipeline) Debug() Debug {
	return Debug{
		VideoForwarded: p.videoForwarded.Load(),
		AudioForwarded: p.audioForwarded.Load(),
		SubsForwarded:  p.subsForwarded.Load(),
		VideoChanDepth: int(p.videoChanDepth.Load()),
		AudioChanDepth: int(p.audioChanDepth.Load()),
	}
}

// Run pulls packets from the bridge until EOF or ctx cancellation, and
// forwards them to the sink. It blocks until the read loop ends.
func (p *Pipeline) Run(ctx context.Context) error {
	videoCh := make(chan demux.Packet, media.VideoBufferSize)
	audioCh := make(chan demux.Packet, media.AudioBufferSize)
	subsCh := make(chan demux.Packet, media.CaptionBufferSize)

	readErr := make(chan error, 1)
	go func() {
		defer close(videoCh)
		defer close(audioCh)
		defer close(subsCh)
		readErr <- p.readLoop(ctx, videoCh, audioCh, subsCh)
	}()

	for {
		p.videoChanDepth.Store(int32(len(videoCh)))
		p.audioChanDepth.Store(int32(len(audioCh)))

		// Priority drain: always forward a pending video packet first, so
		// a bursty audio or subtitle track (which can produce far more
		// packets per second) never starves video delivery under Go's
		// random select scheduling.
		select {
		case pkt, ok := <-videoCh:
			if !ok {
				return p.finish(readErr)
			}
			p.sink.DeliverVideo(pkt)
			p.videoForwarded.Add(1)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case pkt, ok := <-videoCh:
			if !ok {
				return p.finish(readErr)
			}
			p.sink.DeliverVideo(pkt)
			p.videoForwarded.Add(1)

		case pkt, ok := <-audioCh:
			if !ok {
				return p.finish(readErr)
			}
			p.sink.DeliverAudio(pkt)
			p.audioForwarded.Add(1)

		case pkt, ok := <-subsCh:
			if !ok {
				return p.finish(readErr)
			}
			p.sink.DeliverSubtitle(pkt)
			p.subsForwarded.Add(1)
		}
	}
}

func (p *Pipeline) finish(readErr chan error) error {
	err := <-readErr
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (p *Pipeline) readLoop(ctx context.Context, videoCh, audioCh, subsCh chan<- demux.Packet) error {
	for {
		pkt, err := p.bridge.ReadPacket(ctx)
		if err != nil {
			return err
		}

		var out chan<- demux.Packet
		switch p.kindOf(pkt.StreamIndex) {
		case demux.KindAudio:
			out = audioCh
		case demux.KindSubtitle:
			out = subsCh
		default:
			out = videoCh
		}

		select {
		case out <- pkt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
