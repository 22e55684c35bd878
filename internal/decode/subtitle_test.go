package decode

import (
	"strings"
	"testing"

	"github.com/lumenplay/engine/internal/demux"
)

func TestDecodeTextEscapesAndConvertsStyleTags(t *testing.T) {
	d := NewSubtitleDecoder(demux.SubtitleTrack{TrackKind: demux.SubtitleText}, nil)
	cue := d.DecodeText(demux.Packet{PTS: 1, Duration: 2}, `\i1<script>alert(1)</script>\i0 line1\Nline2`, 0)

	if strings.Contains(cue.Text, "<script>") {
		t.Fatalf("expected raw <script> to be escaped, got %q", cue.Text)
	}
	if !strings.Contains(cue.Text, "<i>") || !strings.Contains(cue.Text, "</i>") {
		t.Fatalf("expected italic tags to survive conversion, got %q", cue.Text)
	}
	if !strings.Contains(cue.Text, "line1\nline2") {
		t.Fatalf("expected \\N to become a real newline, got %q", cue.Text)
	}
	if cue.StartPTS != 1 || cue.EndPTS != 3 {
		t.Fatalf("expected cue window [1,3], got [%v,%v]", cue.StartPTS, cue.EndPTS)
	}
}

func TestDecodeTextClampsEstimatedDuration(t *testing.T) {
	d := NewSubtitleDecoder(demux.SubtitleTrack{}, nil)

	short := d.DecodeText(demux.Packet{PTS: 0}, "hi", 0)
	if got := short.EndPTS - short.StartPTS; got != minTextCueDuration {
		t.Fatalf("expected minimum duration clamp %v, got %v", minTextCueDuration, got)
	}

	long := d.DecodeText(demux.Packet{PTS: 0}, strings.Repeat("word ", 500), 0)
	if got := long.EndPTS - long.StartPTS; got != maxTextCueDuration {
		t.Fatalf("expected maximum duration clamp %v, got %v", maxTextCueDuration, got)
	}
}

func TestDecodeTextRejectsBuggyDuration(t *testing.T) {
	d := NewSubtitleDecoder(demux.SubtitleTrack{}, nil)
	cue := d.DecodeText(demux.Packet{PTS: 0, Duration: buggyCueDurationLimit + 1}, "hello", 0)
	if got := cue.EndPTS - cue.StartPTS; got > maxTextCueDuration {
		t.Fatalf("expected implausible duration to be replaced by fallback estimate, got %v", got)
	}
}

func TestDecodeBitmapExpandsPalette(t *testing.T) {
	d := NewSubtitleDecoder(demux.SubtitleTrack{TrackKind: demux.SubtitleImage}, nil)
	palette := []byte{
		0x00, 0x00, 0x00, 0x00, // index 0: transparent
		0x00, 0x00, 0xFF, 0xFF, // index 1: opaque red (BGRA)
	}
	cue, err := d.DecodeBitmap(demux.Packet{PTS: 2}, 2, 1, []byte{0, 1}, palette)
	if err != nil {
		t.Fatalf("DecodeBitmap: %v", err)
	}
	if cue.Image == nil {
		t.Fatal("expected an Image frame")
	}
	if got := cue.Image.Data[4:8]; got[0] != 0xFF || got[3] != 0xFF {
		t.Fatalf("expected pixel 1 to be opaque red in RGBA, got %v", got)
	}
	if cue.EndPTS-cue.StartPTS != defaultImageCueDuration {
		t.Fatalf("expected default image cue duration, got %v", cue.EndPTS-cue.StartPTS)
	}
}

func TestDecodeBitmapRejectsMismatchedDimensions(t *testing.T) {
	d := NewSubtitleDecoder(demux.SubtitleTrack{}, nil)
	if _, err := d.DecodeBitmap(demux.Packet{}, 4, 4, []byte{0, 1}, nil); err == nil {
		t.Fatal("expected an error for mismatched index count")
	}
}
