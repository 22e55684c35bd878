package demux

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/av1"
)

// ComputeVideoCodecString derives the RFC 6381 codec parameter string a
// WebCodecs-style VideoDecoder.configure() call needs, from a container's
// out-of-band extradata blob (avcC/hvcC/av1C/vpcC) and a normalized codec
// name ("avc", "hevc", "av1", "vp9"). It is step 1/2 of Configure in the
// video decoder's open path: the string must be computed before the first
// hardware decoder attempt, since a wrong or missing one causes the
// hardware path to reject configuration outright rather than fail softly.
//
// For avc and hevc, extradata that is empty or Annex-B (starts with a
// 00 00 01 / 00 00 00 01 start code) carries no configuration record; the
// result is then a fixed per-family default ("avc1.42E01E" for avc,
// "hvc1.1.6.L93.B0" for hevc) that does not reflect the track's actual
// profile or level.
func ComputeVideoCodecString(codec string, extradata []byte, log *slog.Logger) (string, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "demux-codec")

	if len(extradata) == 0 || bytes.HasPrefix(extradata, []byte{0, 0, 1}) || bytes.HasPrefix(extradata, []byte{0, 0, 0, 1}) {
		switch codec {
		case "avc", "h264", "avc1":
			log.Warn("no avcC record in extradata, using default codec string")
			return "avc1.42E01E", nil
		case "hevc", "h265", "hvc1":
			log.Warn("no hvcC record in extradata, using default codec string")
			return "hvc1.1.6.L93.B0", nil
		}
	}

	switch codec {
	case "avc", "h264", "avc1":
		return avcCodecString(extradata)
	case "hevc", "h265", "hvc1":
		return hevcCodecString(extradata)
	case "av1":
		s, err := av1CodecString(extradata)
		if err != nil {
			log.Warn("av1 sequence header parse failed, using profile-0 default", "error", err)
			return "av01.0.00M.08", nil
		}
		return s, nil
	case "vp9", "vp09":
		s, err := vp9CodecString(extradata)
		if err != nil {
			log.Warn("vp9 parse failed, using profile-0 default", "error", err)
			return "vp09.00.10.08", nil
		}
		return s, nil
	default:
		return "", fmt.Errorf("demux: unsupported codec %q for codec-string computation", codec)
	}
}

// avcCodecString unmarshals an avcC configuration record and computes the
// codec string from its first SPS NAL unit.
func avcCodecString(extradata []byte) (string, error) {
	var avcC mp4.AVCDecoderConfiguration
	if _, err := mp4.Unmarshal(bytes.NewReader(extradata), uint64(len(extradata)), &avcC, mp4.Context{}); err != nil {
		return "", fmt.Errorf("demux: unmarshal avcC: %w", err)
	}
	if len(avcC.SequenceParameterSets) == 0 {
		return "", fmt.Errorf("demux: avcC has no SPS")
	}
	info, err := ParseSPS(avcC.SequenceParameterSets[0].NALUnit)
	if err != nil {
		// The avcC record itself already carries profile/constraint/level
		// bytes redundantly with the SPS; fall back to those rather than
		// failing configuration entirely.
		return fmt.Sprintf("avc1.%02X%02X%02X", avcC.AVCProfileIndication, avcC.ProfileCompatibility, avcC.AVCLevelIndication), nil
	}
	return info.CodecString(), nil
}

// hevcCodecString unmarshals an hvcC configuration record and computes the
// codec string from its first SPS NAL unit found among the NALU arrays.
func hevcCodecString(extradata []byte) (string, error) {
	var hvcC mp4.HvcC
	if _, err := mp4.Unmarshal(bytes.NewReader(extradata), uint64(len(extradata)), &hvcC, mp4.Context{}); err != nil {
		return "", fmt.Errorf("demux: unmarshal hvcC: %w", err)
	}

	for _, arr := range hvcC.NaluArrays {
		if arr.NaluType != HEVCNALSPS {
			continue
		}
		for _, nalu := range arr.Nalus {
			info, err := ParseHEVCSPS(nalu.NALUnit)
			if err != nil {
				continue
			}
			return info.CodecString(), nil
		}
	}

	return "", fmt.Errorf("demux: hvcC has no parseable SPS")
}

// av1CodecString builds an "av01.P.LLT.DD" codec string from an av1C
// configuration record's embedded sequence header, using the mediacommon
// AV1 bitstream parser rather than reimplementing OBU parsing here.
func av1CodecString(extradata []byte) (string, error) {
	if len(extradata) < 4 {
		return "", fmt.Errorf("demux: av1C too short")
	}
	// av1C layout: marker/version(1) + seq_profile/seq_level_idx_0(1) +
	// seq_tier_0/bitdepth/monochrome/chroma flags(1) + reserved(1), followed
	// by the raw sequence header OBU.
	configOBUs := extradata[4:]

	var sh av1.SequenceHeader
	if err := sh.Unmarshal(configOBUs); err != nil {
		return "", fmt.Errorf("demux: unmarshal av1 sequence header: %w", err)
	}

	tierChar := "M"
	if sh.SeqTier0 {
		tierChar = "H"
	}
	bitDepth := 8
	if sh.ColorConfig.TwelveBit {
		bitDepth = 12
	} else if sh.ColorConfig.HighBitdepth {
		bitDepth = 10
	}

	return fmt.Sprintf("av01.%d.%02d%s.%02d", sh.SeqProfile, sh.SeqLevelIdx0, tierChar, bitDepth), nil
}

// vp9CodecString builds a "vp09.PP.LL.DD" codec string from a vpcC
// configuration record.
func vp9CodecString(extradata []byte) (string, error) {
	var vpcC mp4.VpcC
	if _, err := mp4.Unmarshal(bytes.NewReader(extradata), uint64(len(extradata)), &vpcC, mp4.Context{}); err != nil {
		return "", fmt.Errorf("demux: unmarshal vpcC: %w", err)
	}
	return fmt.Sprintf("vp09.%02d.%02d.%02d", vpcC.Profile, vpcC.Level, vpcC.BitDepth), nil
}
