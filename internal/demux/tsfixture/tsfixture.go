// Package tsfixture adapts an MPEG-TS transport stream reader into a
// [demux.Parser] implementation, for use as a concrete test fixture in
// packages that need a real Parser without depending on a platform's
// production container-parsing library.
//
// It eagerly demuxes H.264/H.265 video and AAC audio elementary streams,
// embedded CEA-608/708 captions, and PMT-declared track metadata, all
// adapted from an MPEG-TS PID/PES/PSI accumulator into the pull-based
// Open/ReadFrame/Seek/DecodeSubtitle shape demux.Parser expects.
package tsfixture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/zsiec/ccx"

	"github.com/lumenplay/engine/internal/demux"
	"github.com/lumenplay/engine/internal/mpegts"
)

const (
	streamTypeH264 = 0x1B
	streamTypeH265 = 0x24
	streamTypeAAC  = 0x0F

	subtitleStreamIndex = 1 << 16 // out of band of real PID-derived indices; embedded-caption pseudo-track
)

// ErrUnsupported is returned by Parser methods the fixture doesn't back —
// bitmap subtitle decode and RGBA video frame extraction require a real
// decoder, not a transport-stream demuxer.
var ErrUnsupported = errors.New("tsfixture: not supported by the transport-stream fixture")

// Parser demuxes an entire MPEG-TS stream up front into an ordered packet
// list, then serves demux.Parser's pull-based methods against that list.
// It is not safe for concurrent use.
type Parser struct {
	log *slog.Logger
	r   io.Reader

	tracks  []demux.Track
	packets []demux.Packet
	cursor  int

	videoExtradata []byte
	audioExtradata []byte

	captionsByPTS map[int64]string
}

// New creates a Parser reading MPEG-TS packets from r. If log is nil,
// slog.Default() is used.
func New(r io.Reader, log *slog.Logger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	return &Parser{
		log:           log.With("component", "tsfixture"),
		r:             r,
		captionsByPTS: make(map[int64]string),
	}
}

// state accumulated while draining the transport stream, kept separate from
// Parser's public/query-time fields.
type drainState struct {
	videoPID    uint16
	isHEVC      bool
	audioPIDs   map[uint16]int
	audioTracks int

	sps, pps, vps []byte
	spsInfo       demux.VideoTrack // filled lazily once first SPS is seen

	cea608Decs map[int]*ccx.CEA608Decoder
	cea708Svcs map[int]*ccx.CEA708Service
	dtvccBuf   []byte
	videoCount int64

	lastCCCtrl      [2][2]byte
	lastCCWasCtrl   [2]bool
	lastCCCtrlFrame [2]int64
}

func newDrainState() *drainState {
	return &drainState{
		audioPIDs: make(map[uint16]int),
		cea708Svcs: map[int]*ccx.CEA708Service{
			1: ccx.NewCEA708Service(), 2: ccx.NewCEA708Service(), 3: ccx.NewCEA708Service(),
			4: ccx.NewCEA708Service(), 5: ccx.NewCEA708Service(), 6: ccx.NewCEA708Service(),
		},
		cea608Decs: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(), 2: ccx.NewCEA608Decoder(), 3: ccx.NewCEA608Decoder(), 4: ccx.NewCEA608Decoder(),
		},
	}
}

// Open drains the entire transport stream into an ordered packet list and
// builds the track list. It is the only method that performs I/O; every
// other Parser method operates on the already-drained state.
func (p *Parser) Open() (int, error) {
	ctx := context.Background()
	st := newDrainState()

	dmx := mpegts.NewDemuxer(ctx, p.r)

	var videoPkts, audioPkts []demux.Packet

	for {
		data, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			p.log.Debug("skipping corrupt packet", "error", err)
			continue
		}

		switch {
		case data.PMT != nil:
			p.handlePMT(st, data.PMT)
		case data.PES != nil:
			pid := data.FirstPacket.Header.PID
			switch {
			case pid == st.videoPID:
				videoPkts = append(videoPkts, p.drainVideo(st, data.PES)...)
			default:
				if trackIdx, ok := st.audioPIDs[pid]; ok {
					audioPkts = append(audioPkts, p.drainAudio(st, data.PES, trackIdx)...)
				}
			}
		}
	}

	p.packets = append(videoPkts, audioPkts...)
	sort.SliceStable(p.packets, func(i, j int) bool { return p.packets[i].PTS < p.packets[j].PTS })

	if len(st.sps) > 0 || len(st.pps) > 0 || len(st.vps) > 0 {
		var ed []byte
		for _, nal := range [][]byte{st.vps, st.sps, st.pps} {
			if len(nal) > 0 {
				ed = append(ed, 0, 0, 0, 1)
				ed = append(ed, nal...)
			}
		}
		p.videoExtradata = ed

		codec := "h264"
		vt := demux.VideoTrack{IDValue: 0, Codec: codec}
		if st.isHEVC {
			vt.Codec = "h265"
		}
		if st.spsInfo.Width > 0 {
			vt.Width, vt.Height = st.spsInfo.Width, st.spsInfo.Height
			vt.Profile, vt.Level = st.spsInfo.Profile, st.spsInfo.Level
		}
		p.tracks = append(p.tracks, vt)
	}

	if len(st.audioPIDs) > 0 {
		p.tracks = append(p.tracks, demux.AudioTrack{IDValue: 1, Codec: "aac"})
	}

	if len(p.captionsByPTS) > 0 {
		p.tracks = append(p.tracks, demux.SubtitleTrack{
			IDValue:   subtitleStreamIndex,
			Codec:     "cea-608/708",
			TrackKind: demux.SubtitleText,
		})
	}

	return len(p.tracks), nil
}

func (p *Parser) handlePMT(st *drainState, pmt *mpegts.PMTData) {
	for _, es := range pmt.ElementaryStreams {
		switch es.StreamType {
		case streamTypeH264:
			if st.videoPID == 0 {
				st.videoPID = es.ElementaryPID
				st.isHEVC = false
			}
		case streamTypeH265:
			if st.videoPID == 0 {
				st.videoPID = es.ElementaryPID
				st.isHEVC = true
			}
		case streamTypeAAC:
			if _, exists := st.audioPIDs[es.ElementaryPID]; !exists {
				st.audioPIDs[es.ElementaryPID] = st.audioTracks
				st.audioTracks++
			}
		}
	}
}

func (p *Parser) drainVideo(st *drainState, pes *mpegts.PESData) []demux.Packet {
	if len(pes.Data) == 0 {
		return nil
	}

	var pts, dts int64
	if pes.Header != nil && pes.Header.OptionalHeader != nil {
		if pes.Header.OptionalHeader.PTS != nil {
			pts = pes.Header.OptionalHeader.PTS.Base * 1_000_000 / 90000
		}
		if pes.Header.OptionalHeader.DTS != nil {
			dts = pes.Header.OptionalHeader.DTS.Base * 1_000_000 / 90000
		} else {
			dts = pts
		}
	}

	var nalus []demux.NALUnit
	if st.isHEVC {
		nalus = demux.ParseAnnexBHEVC(pes.Data)
	} else {
		nalus = demux.ParseAnnexB(pes.Data)
	}
	if len(nalus) == 0 {
		return nil
	}

	isKeyframe := false
	var payload []byte

	for _, nalu := range nalus {
		if st.isHEVC {
			switch {
			case demux.IsHEVCVPS(nalu.Type):
				st.vps = append([]byte(nil), nalu.Data...)
			case demux.IsHEVCSPS(nalu.Type):
				st.sps = append([]byte(nil), nalu.Data...)
				if info, err := demux.ParseHEVCSPS(nalu.Data); err == nil {
					st.spsInfo.Width, st.spsInfo.Height = info.Width, info.Height
					st.spsInfo.Profile = fmt.Sprintf("%d", info.ProfileIDC)
					st.spsInfo.Level = fmt.Sprintf("%d", info.LevelIDC)
				}
			case demux.IsHEVCPPS(nalu.Type):
				st.pps = append([]byte(nil), nalu.Data...)
			case demux.IsHEVCKeyframe(nalu.Type):
				isKeyframe = true
			case nalu.Type == demux.HEVCNALSEIPrefix:
				p.handleCaptionSEI(st, nalu.Data, pts)
			}
		} else {
			switch {
			case demux.IsSPS(nalu.Type):
				st.sps = append([]byte(nil), nalu.Data...)
				if info, err := demux.ParseSPS(nalu.Data); err == nil {
					st.spsInfo.Width, st.spsInfo.Height = info.Width, info.Height
					st.spsInfo.Profile = fmt.Sprintf("%d", info.ProfileIDC)
					st.spsInfo.Level = fmt.Sprintf("%d", info.LevelIDC)
				}
			case demux.IsPPS(nalu.Type):
				st.pps = append([]byte(nil), nalu.Data...)
			case demux.IsKeyframe(nalu.Type):
				isKeyframe = true
			case nalu.Type == demux.NALTypeSEI:
				p.handleCaptionSEI(st, nalu.Data, pts)
			}
		}

		payload = append(payload, 0, 0, 0, 1)
		payload = append(payload, nalu.Data...)
	}

	st.videoCount++
	return []demux.Packet{{
		StreamIndex: 0,
		PTS:         float64(pts) / 1e6,
		DTS:         float64(dts) / 1e6,
		Keyframe:    isKeyframe,
		Data:        payload,
	}}
}

func (p *Parser) drainAudio(st *drainState, pes *mpegts.PESData, trackIndex int) []demux.Packet {
	if len(pes.Data) == 0 {
		return nil
	}

	var pts int64
	if pes.Header != nil && pes.Header.OptionalHeader != nil && pes.Header.OptionalHeader.PTS != nil {
		pts = pes.Header.OptionalHeader.PTS.Base * 1_000_000 / 90000
	}

	frames, err := demux.ParseADTS(pes.Data)
	if err != nil {
		p.log.Warn("failed to parse ADTS", "error", err)
		return nil
	}

	out := make([]demux.Packet, 0, len(frames))
	for i, f := range frames {
		framePTS := pts
		if f.SampleRate > 0 {
			framePTS += int64(i) * 1024 * 1_000_000 / int64(f.SampleRate)
		}
		out = append(out, demux.Packet{
			StreamIndex: 1,
			PTS:         float64(framePTS) / 1e6,
			DTS:         float64(framePTS) / 1e6,
			Keyframe:    true,
			Data:        f.Data,
		})
		if p.audioExtradata == nil {
			p.audioExtradata = audioSpecificConfig(f.SampleRate, f.Channels)
		}
	}
	return out
}

// handleCaptionSEI decodes CEA-608/708 caption bytes embedded in a video SEI
// NAL unit and appends the resulting text to the pseudo subtitle track,
// keyed by presentation time. Mirrors the grouping/dedup logic a caption
// decoder needs to avoid re-emitting a repeated control-code pair.
func (p *Parser) handleCaptionSEI(st *drainState, seiData []byte, pts int64) {
	cd := ccx.ExtractCaptions(seiData)
	if cd == nil {
		return
	}

	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]
		isCtrl := cc1 >= 0x10 && cc1 <= 0x1F
		f := pair.Field
		if isCtrl {
			cp := [2]byte{cc1, cc2}
			frameGap := st.videoCount - st.lastCCCtrlFrame[f]
			if st.lastCCWasCtrl[f] && st.lastCCCtrl[f] == cp && frameGap <= 2 {
				st.lastCCWasCtrl[f] = false
				continue
			}
			st.lastCCCtrl[f] = cp
			st.lastCCWasCtrl[f] = true
			st.lastCCCtrlFrame[f] = st.videoCount
		} else {
			st.lastCCWasCtrl[f] = false
		}

		dec := st.cea608Decs[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			p.captionsByPTS[pts] += text
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			p.drainDTVCC(st, pts)
			st.dtvccBuf = st.dtvccBuf[:0]
		}
		st.dtvccBuf = append(st.dtvccBuf, t.Data[0], t.Data[1])
	}
}

func (p *Parser) drainDTVCC(st *drainState, pts int64) {
	if len(st.dtvccBuf) < 1 {
		return
	}
	packetSize := ccx.DTVCCPacketSize(st.dtvccBuf[0])
	if len(st.dtvccBuf) < packetSize {
		return
	}
	for _, block := range ccx.ParseDTVCCPacket(st.dtvccBuf[:packetSize]) {
		svc := st.cea708Svcs[block.ServiceNum]
		if svc == nil {
			continue
		}
		if svc.ProcessBlock(block.Data) {
			if text := svc.DisplayText(); text != "" {
				p.captionsByPTS[pts] += text
			}
		}
	}
	st.dtvccBuf = st.dtvccBuf[packetSize:]
}

// audioSpecificConfig builds a minimal 2-byte MPEG-4 AudioSpecificConfig
// (AOT=2 AAC-LC, fixed-width sample-rate index lookup, channel config) —
// enough for a codec-string/extradata round trip in tests; it is not a
// full ASC encoder.
func audioSpecificConfig(sampleRate, channels int) []byte {
	rates := []int{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}
	idx := 4 // default 44100
	for i, r := range rates {
		if r == sampleRate {
			idx = i
			break
		}
	}
	b0 := byte(2<<3) | byte(idx>>1)
	b1 := byte(idx&1)<<7 | byte(channels&0x0F)<<3
	return []byte{b0, b1}
}

// StreamInfo returns the track descriptor for index, matching the order
// tracks were discovered in during Open: video (if present), then audio,
// then the embedded-caption subtitle pseudo-track.
func (p *Parser) StreamInfo(index int) (demux.Track, error) {
	if index < 0 || index >= len(p.tracks) {
		return nil, fmt.Errorf("tsfixture: stream index %d out of range", index)
	}
	return p.tracks[index], nil
}

// Extradata returns the out-of-band configuration bytes for index: raw
// Annex-B VPS/SPS/PPS for video, a minimal AudioSpecificConfig for audio.
func (p *Parser) Extradata(index int) ([]byte, error) {
	if index < 0 || index >= len(p.tracks) {
		return nil, fmt.Errorf("tsfixture: stream index %d out of range", index)
	}
	switch p.tracks[index].Kind() {
	case demux.KindVideo:
		return p.videoExtradata, nil
	case demux.KindAudio:
		return p.audioExtradata, nil
	default:
		return nil, nil
	}
}

// ReadFrame returns the next packet in presentation-time order, io.EOF once
// every drained packet has been returned.
func (p *Parser) ReadFrame() (demux.Packet, error) {
	if p.cursor >= len(p.packets) {
		return demux.Packet{}, io.EOF
	}
	pkt := p.packets[p.cursor]
	p.cursor++
	return pkt, nil
}

// Seek repositions the read cursor to the first packet on streamIndex whose
// PTS is >= ptsSeconds, backing up to the preceding keyframe unless flags
// requests exact positioning.
func (p *Parser) Seek(ptsSeconds float64, streamIndex int, flags demux.SeekFlag) error {
	target := -1
	for i, pkt := range p.packets {
		if int(pkt.StreamIndex) != streamIndex {
			continue
		}
		if pkt.PTS >= ptsSeconds {
			target = i
			break
		}
	}
	if target == -1 {
		p.cursor = len(p.packets)
		return nil
	}
	if flags != demux.SeekFlagAny {
		for i := target; i >= 0; i-- {
			if int(p.packets[i].StreamIndex) == streamIndex && p.packets[i].Keyframe {
				target = i
				break
			}
		}
	}
	p.cursor = target
	return nil
}

// DecodeSubtitle returns the caption text accumulated at pkt's PTS, for the
// embedded-caption pseudo-track this fixture synthesizes.
func (p *Parser) DecodeSubtitle(index int, pkt demux.Packet) (string, error) {
	if index >= len(p.tracks) || p.tracks[index].Kind() != demux.KindSubtitle {
		return "", ErrUnsupported
	}
	key := int64(pkt.PTS * 1e6)
	return p.captionsByPTS[key], nil
}

// DecodeVideoRGBA is unsupported: pixel decode requires an actual video
// decoder, not a transport-stream demuxer.
func (p *Parser) DecodeVideoRGBA(width, height int) ([]byte, error) {
	return nil, ErrUnsupported
}

// Destroy releases fixture state. The underlying reader is not closed here;
// callers that constructed Parser from an os.File remain responsible for it.
func (p *Parser) Destroy() {
	p.packets = nil
	p.tracks = nil
	p.captionsByPTS = nil
}

var _ demux.Parser = (*Parser)(nil)
