package decode

import (
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"github.com/lumenplay/engine/internal/demux"
	"github.com/lumenplay/engine/media"
)

const (
	minTextCueDuration = 800 * 1e-3  // 0.8s
	maxTextCueDuration = 10.0        // 10s
	defaultImageCueDuration = 3.0    // 3s
	buggyCueDurationLimit   = 3600.0 // 1 hour

	// msPerCharEstimate is the text-length-derived duration estimate when
	// neither packet duration nor end_display_time is available.
	msPerCharEstimate = 60.0
)

// styleTagRE matches an inline style tag, in both the ASS-style (\i1, \b1,
// \u1) and bracket-style ([i], [b], [u]) inline markup the parser's cue
// structure may carry; convertInlineMarkup turns each match into the
// matching safe HTML element.
var styleTagRE = regexp.MustCompile(`\\([ibu])(\d)|\[(/?)(i|b|u)\]`)

// colorTagRE matches an ASS-style font-color override, \c&HBBGGRR&.
var colorTagRE = regexp.MustCompile(`\\c&H([0-9A-Fa-f]{6})&`)

// SubtitleDecoder converts the parser's raw cue structure into display-
// ready CaptionFrame values: text cues get inline markup converted to a
// safe HTML subset, bitmap cues get their palette expanded to RGBA.
type SubtitleDecoder struct {
	log   *slog.Logger
	track demux.SubtitleTrack
}

// NewSubtitleDecoder constructs a SubtitleDecoder for track.
func NewSubtitleDecoder(track demux.SubtitleTrack, log *slog.Logger) *SubtitleDecoder {
	if log == nil {
		log = slog.Default()
	}
	return &SubtitleDecoder{log: log.With("component", "subtitle-decoder"), track: track}
}

// DecodeText converts a text cue. endDisplayTime, if non-zero, is the
// parser-provided end-of-display time in seconds; it is used when the
// packet carries no explicit duration.
func (d *SubtitleDecoder) DecodeText(pkt demux.Packet, rawText string, endDisplayTime float64) media.CaptionFrame {
	text := convertInlineMarkup(rawText)
	start := pkt.PTS

	var duration float64
	switch {
	case pkt.Duration > 0:
		duration = pkt.Duration
	case endDisplayTime > start:
		duration = endDisplayTime - start
	default:
		duration = clamp(float64(len(text))*msPerCharEstimate/1000, minTextCueDuration, maxTextCueDuration)
	}

	if duration > buggyCueDurationLimit {
		d.log.Warn("cue duration implausible, using fallback estimate", "duration", duration)
		duration = clamp(float64(len(text))*msPerCharEstimate/1000, minTextCueDuration, maxTextCueDuration)
	}

	return media.CaptionFrame{StartPTS: start, EndPTS: start + duration, Text: text}
}

// Kind reports whether this track's cues are text or bitmap, so the
// pipeline consumer knows whether to call DecodeText or DecodeBitmap.
func (d *SubtitleDecoder) Kind() demux.SubtitleKind { return d.track.TrackKind }

// DecodeBitmap expands a palette-indexed bitmap cue to RGBA using the
// parser-provided BGRA palette (4 bytes per entry).
func (d *SubtitleDecoder) DecodeBitmap(pkt demux.Packet, width, height int, indices []byte, palette []byte) (media.CaptionFrame, error) {
	if len(palette)%4 != 0 {
		return media.CaptionFrame{}, fmt.Errorf("decode: bitmap palette length %d is not a multiple of 4", len(palette))
	}
	if width*height != len(indices) {
		return media.CaptionFrame{}, fmt.Errorf("decode: bitmap index count %d does not match %dx%d", len(indices), width, height)
	}

	rgba := make([]byte, width*height*4)
	for i, idx := range indices {
		p := int(idx) * 4
		if p+4 > len(palette) {
			continue
		}
		b, g, r, a := palette[p], palette[p+1], palette[p+2], palette[p+3]
		o := i * 4
		rgba[o], rgba[o+1], rgba[o+2], rgba[o+3] = r, g, b, a
	}

	start := pkt.PTS
	duration := pkt.Duration
	if duration <= 0 {
		duration = defaultImageCueDuration
	}
	if duration > buggyCueDurationLimit {
		duration = defaultImageCueDuration
	}

	return media.CaptionFrame{
		StartPTS: start,
		EndPTS:   start + duration,
		Image: &media.VideoFrame{
			PTS:      start,
			Duration: duration,
			Width:    width,
			Height:   height,
			Format:   media.PixelFormatRGBA,
			Data:     rgba,
		},
	}, nil
}

// convertInlineMarkup escapes all cue text, restores only the small set of
// style tags the safe subset allows, normalizes \N/\n line-break markers to
// real newlines, and — if present — wraps the whole cue in a font-color
// span (a single color override for the whole cue is all the safe subset
// supports; per-run color changes within one cue are dropped).
func convertInlineMarkup(raw string) string {
	raw = strings.ReplaceAll(raw, `\N`, "\n")
	raw = strings.ReplaceAll(raw, `\n`, "\n")

	var color string
	if m := colorTagRE.FindStringSubmatch(raw); m != nil {
		bb, gg, rr := m[1][0:2], m[1][2:4], m[1][4:6]
		color = rr + gg + bb
		raw = colorTagRE.ReplaceAllString(raw, "")
	}

	var b strings.Builder
	open := map[string]bool{}
	last := 0
	for _, loc := range styleTagRE.FindAllStringSubmatchIndex(raw, -1) {
		b.WriteString(html.EscapeString(raw[last:loc[0]]))
		last = loc[1]

		assTag, assState := submatch(raw, loc, 1), submatch(raw, loc, 2)
		bracketClose, bracketTag := submatch(raw, loc, 3), submatch(raw, loc, 4)

		switch {
		case assTag != "":
			tag := styleElement(assTag)
			enabled := assState == "1"
			if enabled && !open[tag] {
				b.WriteString("<" + tag + ">")
				open[tag] = true
			} else if !enabled && open[tag] {
				b.WriteString("</" + tag + ">")
				open[tag] = false
			}
		case bracketTag != "":
			tag := styleElement(bracketTag)
			if bracketClose == "/" {
				b.WriteString("</" + tag + ">")
				open[tag] = false
			} else {
				b.WriteString("<" + tag + ">")
				open[tag] = true
			}
		}
	}
	b.WriteString(html.EscapeString(raw[last:]))

	out := b.String()
	for tag := range open {
		if open[tag] {
			out += "</" + tag + ">"
		}
	}
	if color != "" {
		out = fmt.Sprintf(`<span style="color:#%s">%s</span>`, color, out)
	}
	return out
}

func submatch(s string, loc []int, group int) string {
	start, end := loc[group*2], loc[group*2+1]
	if start < 0 || end < 0 {
		return ""
	}
	return s[start:end]
}

func styleElement(tag string) string {
	switch tag {
	case "i":
		return "i"
	case "b":
		return "b"
	case "u":
		return "u"
	default:
		return "span"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
