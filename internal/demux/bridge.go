package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// inFlightTimeout bounds how long a single parser call may hold the
// in-flight slot before the Bridge forcibly releases the slot so new
// requests can proceed (spec.md §4.2, §5 "Timeouts").
const inFlightTimeout = 10 * time.Second

var (
	// ErrCallInFlight is returned by Bridge methods when a caller's context
	// is cancelled while still waiting for the single in-flight slot.
	ErrCallInFlight = errors.New("demux: parser call already in flight")
)

// Bridge drives a [Parser] through its blocking Open, ReadFrame, Seek and
// Extradata calls. Exactly one parser call may be in flight at a time; a
// stuck call's slot is force-released after inFlightTimeout so the bridge
// never wedges permanently. The Bridge does not answer parser read/seek
// callbacks or park continuations: the parser reads its input itself, and
// the byte source is consulted only by [Bridge.Size].
type Bridge struct {
	log    *slog.Logger
	parser Parser
	reader ByteReader

	slot chan struct{} // buffered(1); a token present means the bridge is free

	mu     sync.Mutex
	tracks []Track
}

// ByteReader is the subset of source.Source the Bridge needs: random-access,
// 64-bit offset reads and a size. Kept as a narrow local interface so demux
// doesn't import source and create a dependency cycle; source.Source
// satisfies this interface structurally.
type ByteReader interface {
	GetSize() uint64
	Read(ctx context.Context, offset, length uint64) ([]byte, error)
}

// NewBridge creates a Bridge that drives parser and reports reader's size.
// If log is nil, slog.Default() is used.
func NewBridge(parser Parser, reader ByteReader, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	b := &Bridge{
		log:    log.With("component", "demux-bridge"),
		parser: parser,
		reader: reader,
		slot:   make(chan struct{}, 1),
	}
	b.slot <- struct{}{}
	return b
}

// enter acquires the single in-flight slot, waiting on ctx or returning
// ErrCallInFlight if ctx is cancelled first. The returned release func must
// be called exactly once; it is also called automatically by a watchdog
// timer if the caller never calls it within inFlightTimeout.
func (b *Bridge) enter(ctx context.Context) (release func(), err error) {
	select {
	case <-b.slot:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrCallInFlight, ctx.Err())
	}

	var once sync.Once
	release = func() {
		once.Do(func() {
			select {
			case b.slot <- struct{}{}:
			default:
			}
		})
	}

	watchdog := time.AfterFunc(inFlightTimeout, func() {
		b.log.Warn("demux in-flight call timed out, force-releasing slot")
		release()
	})
	wrapped := func() {
		watchdog.Stop()
		release()
	}
	return wrapped, nil
}

// Open drives the parser's Open() and builds a MediaInfo from its reported
// streams, applying the color-metadata normalization heuristic to video
// tracks whose primaries/transfer/space came back unspecified.
func (b *Bridge) Open(ctx context.Context) (MediaInfo, error) {
	release, err := b.enter(ctx)
	if err != nil {
		return MediaInfo{}, err
	}
	defer release()

	count, err := b.parser.Open()
	if err != nil {
		return MediaInfo{}, fmt.Errorf("demux: open: %w", err)
	}

	tracks := make([]Track, 0, count)
	for i := 0; i < count; i++ {
		tr, err := b.parser.StreamInfo(i)
		if err != nil {
			b.log.Warn("stream info failed, skipping", "index", i, "error", err)
			continue
		}
		if vt, ok := tr.(VideoTrack); ok {
			tr = normalizeColorMetadata(vt)
		}
		tracks = append(tracks, tr)
	}

	b.mu.Lock()
	b.tracks = tracks
	b.mu.Unlock()

	return MediaInfo{Tracks: tracks}, nil
}

// ReadPacket drives one Parser.ReadFrame() call, returning io.EOF when the
// parser is exhausted.
func (b *Bridge) ReadPacket(ctx context.Context) (Packet, error) {
	release, err := b.enter(ctx)
	if err != nil {
		return Packet{}, err
	}
	defer release()

	pkt, err := b.parser.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Packet{}, io.EOF
		}
		return Packet{}, fmt.Errorf("demux: read packet: %w", err)
	}
	return pkt, nil
}

// Seek drives one Parser.Seek call for streamIndex. targetSeconds is a
// media-timeline time, not a byte offset.
func (b *Bridge) Seek(ctx context.Context, targetSeconds float64, streamIndex int, flags SeekFlag) error {
	release, err := b.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := b.parser.Seek(targetSeconds, streamIndex, flags); err != nil {
		return fmt.Errorf("demux: seek: %w", err)
	}
	return nil
}

// Extradata returns the codec-specific out-of-band configuration bytes for
// a stream index (e.g. avcC/hvcC/av1C/vpcC payloads).
func (b *Bridge) Extradata(ctx context.Context, streamIndex int) ([]byte, error) {
	release, err := b.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return b.parser.Extradata(streamIndex)
}

// Size returns the total byte length of the underlying source, when known.
func (b *Bridge) Size() uint64 {
	return b.reader.GetSize()
}

// Close tears down the parser. It neither waits for nor cancels a call that
// currently holds the in-flight slot.
func (b *Bridge) Close() {
	b.parser.Destroy()
}

// normalizeColorMetadata applies spec.md §4.2's heuristic: when the parser
// reports unknown/unspecified primaries/transfer/space on a ≥4K HEVC
// Main10/Rext (or primaries-missing) track, assume BT.2020 + SMPTE 2084 +
// BT.2020-NCL. Otherwise color metadata is left empty ("None").
func normalizeColorMetadata(t VideoTrack) VideoTrack {
	hasColor := t.ColorPrimaries != "" && t.ColorTransfer != "" && t.ColorSpace != ""
	if hasColor {
		return t
	}

	is4K := t.Width >= 3840 && t.Height >= 2160
	isHEVC10OrRext := strings.EqualFold(t.Codec, "hevc") &&
		(strings.Contains(strings.ToLower(t.Profile), "main10") ||
			strings.Contains(strings.ToLower(t.Profile), "rext"))

	if is4K && (isHEVC10OrRext || t.ColorPrimaries == "") {
		t.ColorPrimaries = "bt2020"
		t.ColorTransfer = "smpte2084"
		t.ColorSpace = "bt2020nc"
		t.IsHDR = true
	}
	return t
}
