package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lumenplay/engine/internal/decode"
	"github.com/lumenplay/engine/internal/demux"
	"github.com/lumenplay/engine/internal/source"
	"github.com/lumenplay/engine/media"
)

const (
	previewWindowSize   = 512 << 10 // 512 KiB
	previewMaxFetchSize = 5 << 20   // 5 MiB
	previewDecodeWatchdog = 500 * time.Millisecond
)

// previewPipeline is an isolated {source, demuxer, hardware decoder}
// instance (spec.md §4.12) sharing no state with the playback session's
// own source/bridge/decoder, so a preview request can never race or stall
// playback. At most one decode runs at a time per distinct (t, w, h) key —
// concurrent callers asking for the same preview collapse onto one
// in-flight decode via singleflight.
type previewPipeline struct {
	log *slog.Logger
	cfg Config
	sf  singleflight.Group
}

func newPreviewPipeline(p *Player, cfg Config) *previewPipeline {
	return &previewPipeline{log: p.log.With("component", "preview"), cfg: cfg}
}

// Generate decodes the frame nearest t and returns it PNG-encoded at the
// decoded frame's own size; w and h are used only by the software RGBA
// fallback, which decodes at w x h (320 x 180 when not positive).
func (pv *previewPipeline) Generate(ctx context.Context, t float64, w, h int) ([]byte, error) {
	key := fmt.Sprintf("%.3f:%d:%d", t, w, h)
	v, err, _ := pv.sf.Do(key, func() (any, error) {
		return pv.generate(ctx, t, w, h)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (pv *previewPipeline) generate(ctx context.Context, t float64, w, h int) ([]byte, error) {
	src, err := pv.openIsolatedSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("preview: open source: %w", err)
	}
	defer src.Close()

	parser, err := pv.cfg.ParserFactory()
	if err != nil {
		return nil, fmt.Errorf("preview: construct parser: %w", err)
	}
	bridge := demux.NewBridge(parser, src, pv.log)
	defer bridge.Close()

	info, err := bridge.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("preview: open container: %w", err)
	}

	var vt demux.VideoTrack
	streamIdx := -1
	for _, tr := range info.Tracks {
		if v, ok := tr.(demux.VideoTrack); ok {
			vt, streamIdx = v, int(v.ID())
			break
		}
	}
	if streamIdx < 0 {
		return nil, errors.New("preview: source has no video track")
	}

	if err := bridge.Seek(ctx, t, streamIdx, demux.SeekFlagBackward); err != nil {
		return nil, fmt.Errorf("preview: seek: %w", err)
	}

	frameCh := make(chan *media.VideoFrame, 1)
	errCh := make(chan error, 1)
	go pv.decodeHardware(bridge, vt, frameCh, errCh)

	select {
	case frame := <-frameCh:
		return encodePreview(frame)
	case err := <-errCh:
		return nil, fmt.Errorf("preview: hardware decode: %w", err)
	case <-time.After(previewDecodeWatchdog):
		pv.log.Warn("preview decode watchdog expired, falling back to software RGBA decode")
		return pv.decodeSoftwareRGBA(parser, w, h)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (pv *previewPipeline) openIsolatedSource(ctx context.Context) (source.Source, error) {
	switch {
	case pv.cfg.Source.File != "":
		return source.OpenLocal(pv.cfg.Source.File, pv.log)
	case pv.cfg.Source.URL != "":
		return source.NewRemoteWithLimits(ctx, pv.cfg.Source.URL, pv.cfg.HTTPClient, pv.log, previewWindowSize, previewMaxFetchSize)
	default:
		return nil, errors.New("preview: config.Source must set URL or File")
	}
}

// decodeHardware reads packets until the hardware-preferred VideoDecoder
// produces a frame (it internally handles software fallback on a
// configuration failure, just like the playback decoder).
func (pv *previewPipeline) decodeHardware(bridge *demux.Bridge, vt demux.VideoTrack, frameCh chan<- *media.VideoFrame, errCh chan<- error) {
	vd := decode.NewVideoDecoder(pv.cfg.VideoHardwareBackend, pv.cfg.VideoSoftwareBackend, pv.log)
	if err := vd.Configure(vt); err != nil {
		errCh <- err
		return
	}
	defer vd.Close()

	for {
		pkt, err := bridge.ReadPacket(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		frame, err := vd.Decode(pkt)
		if err != nil {
			errCh <- err
			return
		}
		if frame != nil {
			frameCh <- frame
			return
		}
	}
}

// decodeSoftwareRGBA bypasses this module's decoder entirely and asks the
// isolated parser to decode straight to RGBA (spec.md §4.12's fallback
// path), for hosts whose container library bundles its own software
// decode.
func (pv *previewPipeline) decodeSoftwareRGBA(parser demux.Parser, w, h int) ([]byte, error) {
	if w <= 0 {
		w = 320
	}
	if h <= 0 {
		h = 180
	}
	rgba, err := parser.DecodeVideoRGBA(w, h)
	if err != nil {
		return nil, fmt.Errorf("preview: software RGBA fallback: %w", err)
	}
	return encodePreview(&media.VideoFrame{Width: w, Height: h, Format: media.PixelFormatRGBA, Data: rgba})
}

// encodePreview PNG-encodes frame. Non-RGBA pixel formats are out of
// scope for the preview encoder (every configured hardware/software
// backend in this module's test doubles and the spec's own raster-sink
// surface deal exclusively in RGBA for still-image output).
func encodePreview(frame *media.VideoFrame) ([]byte, error) {
	if frame.Format != media.PixelFormatRGBA {
		return nil, fmt.Errorf("preview: unsupported pixel format %v for still-image encode", frame.Format)
	}
	img := &image.RGBA{
		Pix:    frame.Data,
		Stride: frame.Width * 4,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("preview: png encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (pv *previewPipeline) Close() {}
