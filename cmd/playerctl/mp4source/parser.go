// Package mp4source adapts a local MP4/ISOBMFF file into a demux.Parser,
// the same role tsfixture plays for MPEG-TS in tests: a real, concrete
// implementation of the interface the core engine only ever consumes, so
// playerctl has something to hand the player besides a mock.
//
// It reads moov's sample tables (stsd/stts/stsc/stsz/stco-co64/stss) up
// front, flattens each track into an ordered sample list carrying absolute
// file offsets, and serves demux.Parser's pull-based methods by seeking
// into the file per sample. DecodeSubtitle and DecodeVideoRGBA are left to
// the embedding host's codec stack in production; here they return
// ErrUnsupported, same as tsfixture does for the pieces a plain stream
// demuxer can't produce on its own.
package mp4source

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/abema/go-mp4"

	"github.com/lumenplay/engine/internal/demux"
)

// ErrUnsupported mirrors tsfixture.ErrUnsupported: bitmap subtitle decode
// and RGBA frame extraction need a real codec, not a container demuxer.
var ErrUnsupported = errors.New("mp4source: not supported by the file-based container parser")

type sample struct {
	offset   uint64
	size     uint32
	pts      float64
	dts      float64
	duration float64
	keyframe bool
}

type track struct {
	info      demux.Track
	samples   []sample
	extradata []byte
}

// Parser is a demux.Parser backed by an os.File holding an MP4 container.
// Not safe for concurrent use, matching every other Parser implementation
// in this codebase.
type Parser struct {
	log  *slog.Logger
	path string
	f    *os.File

	tracks  []*track
	packets []demux.Packet // merged, DTS-ordered, built once at Open
	cursor  int
}

// New creates a Parser reading the MP4 file at path. Opening the
// underlying os.File is deferred to Open, matching demux.Parser's
// contract that construction and I/O are separate steps.
func New(path string, log *slog.Logger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	return &Parser{log: log.With("component", "mp4source"), path: path}
}

// Open parses moov, builds the flat per-track sample lists, and merges
// them into one DTS-ordered packet sequence ReadFrame walks linearly.
func (p *Parser) Open() (int, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return 0, fmt.Errorf("mp4source: open %s: %w", p.path, err)
	}
	p.f = f

	bm := &boxMerger{}
	if _, err := mp4.ReadBoxStructure(f, bm.handle); err != nil {
		f.Close()
		return 0, fmt.Errorf("mp4source: parse box structure: %w", err)
	}

	for _, t := range bm.tracks {
		built, err := buildTrack(t)
		if err != nil {
			p.log.Warn("skipping unparseable track", "error", err)
			continue
		}
		p.tracks = append(p.tracks, built)
	}
	if len(p.tracks) == 0 {
		f.Close()
		return 0, errors.New("mp4source: no decodable tracks found in moov")
	}

	var all []demux.Packet
	for idx, t := range p.tracks {
		for _, s := range t.samples {
			all = append(all, demux.Packet{
				StreamIndex: uint32(idx),
				PTS:         s.pts,
				DTS:         s.dts,
				Duration:    s.duration,
				Keyframe:    s.keyframe,
			})
		}
		_ = idx
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].DTS < all[j].DTS })
	p.packets = all

	return len(p.tracks), nil
}

// StreamInfo returns the Track description built from stsd/tkhd/mdhd.
func (p *Parser) StreamInfo(index int) (demux.Track, error) {
	if index < 0 || index >= len(p.tracks) {
		return nil, fmt.Errorf("mp4source: stream index %d out of range", index)
	}
	return p.tracks[index].info, nil
}

// Extradata returns the avcC/hvcC configuration record collected while
// parsing stsd, ready for demux.ComputeVideoCodecString; other sample
// entries (including esds) yield no extradata.
func (p *Parser) Extradata(index int) ([]byte, error) {
	if index < 0 || index >= len(p.tracks) {
		return nil, fmt.Errorf("mp4source: stream index %d out of range", index)
	}
	return p.tracks[index].extradata, nil
}

// ReadFrame returns the next packet in DTS order, reading its payload
// from the file at the sample's recorded absolute offset. Returns io.EOF
// once every track's samples have been delivered.
func (p *Parser) ReadFrame() (demux.Packet, error) {
	if p.cursor >= len(p.packets) {
		return demux.Packet{}, io.EOF
	}
	pkt := p.packets[p.cursor]
	s := p.findSample(pkt)
	if s == nil {
		p.cursor++
		return demux.Packet{}, fmt.Errorf("mp4source: sample table inconsistent at packet %d", p.cursor-1)
	}
	data := make([]byte, s.size)
	if _, err := p.f.ReadAt(data, int64(s.offset)); err != nil {
		return demux.Packet{}, fmt.Errorf("mp4source: read sample at offset %d: %w", s.offset, err)
	}
	pkt.Data = data
	p.cursor++
	return pkt, nil
}

// findSample locates the sample backing pkt by its stream index and PTS.
// Packets don't carry a sample index directly (demux.Packet has no room
// for one), so this re-derives it; fine for the CLI's scale of file, not
// something a production-grade parser should do per frame.
func (p *Parser) findSample(pkt demux.Packet) *sample {
	t := p.tracks[pkt.StreamIndex]
	for i := range t.samples {
		if t.samples[i].pts == pkt.PTS && t.samples[i].dts == pkt.DTS {
			return &t.samples[i]
		}
	}
	return nil
}

// Seek repositions the read cursor to the first packet at or after
// ptsSeconds. flags is honored loosely: SeekFlagBackward snaps to the
// preceding keyframe on streamIndex when it is non-negative, or on any
// stream otherwise; other flags land on the first sample at/after the
// target.
func (p *Parser) Seek(ptsSeconds float64, streamIndex int, flags demux.SeekFlag) error {
	target := sort.Search(len(p.packets), func(i int) bool { return p.packets[i].PTS >= ptsSeconds })

	if flags == demux.SeekFlagBackward {
		for i := target; i >= 0 && i < len(p.packets); i-- {
			pkt := p.packets[i]
			if streamIndex >= 0 && int(pkt.StreamIndex) != streamIndex {
				continue
			}
			if pkt.Keyframe {
				target = i
				break
			}
			if i == 0 {
				target = 0
			}
		}
	}
	p.cursor = target
	return nil
}

// DecodeSubtitle is unsupported: this parser demuxes elementary streams,
// it doesn't decode bitmap or text subtitle payloads.
func (p *Parser) DecodeSubtitle(index int, pkt demux.Packet) (string, error) {
	return "", ErrUnsupported
}

// DecodeVideoRGBA is unsupported: RGBA frame extraction is a codec's job,
// not the container parser's — the embedding host's VideoBackend does this
// in production.
func (p *Parser) DecodeVideoRGBA(width, height int) ([]byte, error) {
	return nil, ErrUnsupported
}

// Destroy releases the underlying file handle.
func (p *Parser) Destroy() {
	if p.f != nil {
		p.f.Close()
		p.f = nil
	}
}
