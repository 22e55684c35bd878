package mp4source

import (
	"bytes"
	"fmt"

	"github.com/abema/go-mp4"

	"github.com/lumenplay/engine/internal/demux"
)

// rawTrack accumulates everything one trak box yields while its subtree is
// walked: tkhd gives the track id, mdhd the timescale, hdlr the
// vide/soun/sbtl kind, stsd's sample entry the codec and avcC/hvcC
// extradata, and stbl's four tables the per-sample layout.
type rawTrack struct {
	trackID     uint32
	timescale   uint32
	handlerType string
	codec       string
	width       int
	height      int
	channels    int
	sampleRate  int
	extradata   []byte

	sttsEntries []mp4.SttsEntry
	stscEntries []mp4.StscEntry
	sampleSize  uint32 // stsz.SampleSize: nonzero means every sample is this size
	sampleCount uint32 // stsz.SampleCount: authoritative even when sampleSize is uniform
	entrySizes  []uint32
	chunkOffset []uint64
	syncSamples map[uint32]bool // 1-indexed sample numbers; nil means every sample is sync
}

// boxMerger walks the moov subtree via mp4.ReadBoxStructure, pushing a
// rawTrack onto a stack on every trak and letting descendant box handlers
// populate whichever track is on top.
type boxMerger struct {
	stack  []*rawTrack
	tracks []*rawTrack
}

func (bm *boxMerger) cur() *rawTrack {
	if len(bm.stack) == 0 {
		return nil
	}
	return bm.stack[len(bm.stack)-1]
}

func (bm *boxMerger) handle(h *mp4.BoxInfo) (interface{}, error) {
	switch h.Type.String() {
	case "moov", "mdia", "minf", "stbl", "stsd":
		return h.Expand()

	case "trak":
		bm.stack = append(bm.stack, &rawTrack{})
		if _, err := h.Expand(); err != nil {
			bm.stack = bm.stack[:len(bm.stack)-1]
			return nil, err
		}
		t := bm.stack[len(bm.stack)-1]
		bm.stack = bm.stack[:len(bm.stack)-1]
		if t.trackID != 0 {
			bm.tracks = append(bm.tracks, t)
		}
		return nil, nil

	case "tkhd":
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		if t := bm.cur(); t != nil {
			t.trackID = box.(*mp4.Tkhd).TrackID
		}
		return nil, nil

	case "mdhd":
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		if t := bm.cur(); t != nil {
			t.timescale = box.(*mp4.Mdhd).Timescale
		}
		return nil, nil

	case "hdlr":
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		if t := bm.cur(); t != nil {
			t.handlerType = box.(*mp4.Hdlr).HandlerType.String()
		}
		return nil, nil

	case "avc1", "avc3":
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		if t := bm.cur(); t != nil {
			entry := box.(*mp4.VisualSampleEntry)
			t.codec = "avc"
			t.width, t.height = int(entry.Width), int(entry.Height)
		}
		return h.Expand()

	case "hev1", "hvc1":
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		if t := bm.cur(); t != nil {
			entry := box.(*mp4.VisualSampleEntry)
			t.codec = "hevc"
			t.width, t.height = int(entry.Width), int(entry.Height)
		}
		return h.Expand()

	case "mp4a":
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		if t := bm.cur(); t != nil {
			entry := box.(*mp4.AudioSampleEntry)
			t.codec = "aac"
			t.channels = int(entry.ChannelCount)
			t.sampleRate = int(entry.SampleRate >> 16)
		}
		return h.Expand()

	case "avcC", "hvcC":
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		if t := bm.cur(); t != nil {
			var buf bytes.Buffer
			if _, err := mp4.Marshal(&buf, box.(mp4.IImmutableBox), mp4.Context{}); err != nil {
				return nil, fmt.Errorf("mp4source: re-marshal %s: %w", h.Type.String(), err)
			}
			t.extradata = buf.Bytes()
		}
		return nil, nil

	case "stts":
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		if t := bm.cur(); t != nil {
			t.sttsEntries = box.(*mp4.Stts).Entries
		}
		return nil, nil

	case "stsc":
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		if t := bm.cur(); t != nil {
			t.stscEntries = box.(*mp4.Stsc).Entries
		}
		return nil, nil

	case "stsz":
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		if t := bm.cur(); t != nil {
			stsz := box.(*mp4.Stsz)
			t.sampleSize = stsz.SampleSize
			t.sampleCount = stsz.SampleCount
			t.entrySizes = stsz.EntrySize
		}
		return nil, nil

	case "stco":
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		if t := bm.cur(); t != nil {
			stco := box.(*mp4.Stco)
			t.chunkOffset = make([]uint64, len(stco.ChunkOffset))
			for i, off := range stco.ChunkOffset {
				t.chunkOffset[i] = uint64(off)
			}
		}
		return nil, nil

	case "co64":
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		if t := bm.cur(); t != nil {
			t.chunkOffset = box.(*mp4.Co64).ChunkOffset
		}
		return nil, nil

	case "stss":
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		if t := bm.cur(); t != nil {
			stss := box.(*mp4.Stss)
			t.syncSamples = make(map[uint32]bool, len(stss.SampleNumber))
			for _, n := range stss.SampleNumber {
				t.syncSamples[n] = true
			}
		}
		return nil, nil

	default:
		return nil, nil
	}
}

// buildTrack flattens a rawTrack's four sample tables into an ordered
// sample list with absolute file offsets and second-denominated
// timestamps, and derives the demux.Track description.
func buildTrack(t *rawTrack) (*track, error) {
	if t.timescale == 0 {
		return nil, fmt.Errorf("mp4source: track %d has no timescale", t.trackID)
	}
	sizes := sampleSizes(t)
	chunkOfSample := expandStsc(t.stscEntries, len(t.chunkOffset), len(sizes))
	if len(chunkOfSample) != len(sizes) {
		return nil, fmt.Errorf("mp4source: track %d sample/chunk table mismatch", t.trackID)
	}

	samples := make([]sample, len(sizes))
	offsetInChunk := make(map[int]uint64)
	var cumTime uint64
	deltaIdx, deltaLeft := 0, uint32(0)
	if len(t.sttsEntries) > 0 {
		deltaLeft = t.sttsEntries[0].SampleCount
	}

	for i := range samples {
		chunk := chunkOfSample[i]
		base := t.chunkOffset[chunk]
		off := base + offsetInChunk[chunk]
		offsetInChunk[chunk] += uint64(sizes[i])

		var delta uint32
		if len(t.sttsEntries) > 0 {
			for deltaLeft == 0 && deltaIdx < len(t.sttsEntries)-1 {
				deltaIdx++
				deltaLeft = t.sttsEntries[deltaIdx].SampleCount
			}
			delta = t.sttsEntries[deltaIdx].SampleDelta
			if deltaLeft > 0 {
				deltaLeft--
			}
		}

		pts := float64(cumTime) / float64(t.timescale)
		duration := float64(delta) / float64(t.timescale)
		keyframe := t.syncSamples == nil || t.syncSamples[uint32(i+1)]

		samples[i] = sample{
			offset:   off,
			size:     sizes[i],
			pts:      pts,
			dts:      pts, // no ctts support: decode and presentation order match
			duration: duration,
			keyframe: keyframe,
		}
		cumTime += uint64(delta)
	}

	info, err := trackInfo(t)
	if err != nil {
		return nil, err
	}
	return &track{info: info, samples: samples, extradata: t.extradata}, nil
}

func sampleSizes(t *rawTrack) []uint32 {
	if t.sampleSize != 0 {
		sizes := make([]uint32, t.sampleCount)
		for i := range sizes {
			sizes[i] = t.sampleSize
		}
		return sizes
	}
	return t.entrySizes
}

// expandStsc turns stsc's run-length (first-chunk, samples-per-chunk)
// table into a per-sample chunk index, the inverse of how the box stores
// it on disk.
func expandStsc(entries []mp4.StscEntry, chunkCount, sampleCount int) []int {
	out := make([]int, 0, sampleCount)
	for e := 0; e < len(entries) && len(out) < sampleCount; e++ {
		firstChunk := int(entries[e].FirstChunk)
		var lastChunk int
		if e+1 < len(entries) {
			lastChunk = int(entries[e+1].FirstChunk) - 1
		} else {
			lastChunk = chunkCount
		}
		for chunk := firstChunk; chunk <= lastChunk && len(out) < sampleCount; chunk++ {
			for s := 0; s < int(entries[e].SamplesPerChunk) && len(out) < sampleCount; s++ {
				out = append(out, chunk-1) // chunk numbers are 1-indexed
			}
		}
	}
	return out
}

func trackInfo(t *rawTrack) (demux.Track, error) {
	switch t.handlerType {
	case "vide":
		return demux.VideoTrack{
			IDValue:   t.trackID,
			Codec:     t.codec,
			Width:     t.width,
			Height:    t.height,
			Extradata: t.extradata,
		}, nil
	case "soun":
		return demux.AudioTrack{
			IDValue:    t.trackID,
			Codec:      t.codec,
			SampleRate: t.sampleRate,
			Channels:   t.channels,
			Extradata:  t.extradata,
		}, nil
	default:
		return nil, fmt.Errorf("mp4source: unsupported handler type %q on track %d", t.handlerType, t.trackID)
	}
}
