package mp4source

import (
	"testing"

	"github.com/abema/go-mp4"

	"github.com/lumenplay/engine/internal/demux"
)

func TestBuildTrackVideoTimestampsAndKeyframes(t *testing.T) {
	tr := &rawTrack{
		trackID:     1,
		timescale:   30,
		handlerType: "vide",
		codec:       "avc",
		width:       640,
		height:      360,
		sttsEntries: []mp4.SttsEntry{{SampleCount: 4, SampleDelta: 1}}, // 4 samples, 1 tick (1/30s) apart
		stscEntries: []mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 4, SampleDescriptionIndex: 1}},
		sampleSize:  0,
		entrySizes:  []uint32{10, 20, 30, 40},
		chunkOffset: []uint64{1000},
		syncSamples: map[uint32]bool{1: true}, // only the first sample is a keyframe
	}

	built, err := buildTrack(tr)
	if err != nil {
		t.Fatalf("buildTrack: %v", err)
	}
	if len(built.samples) != 4 {
		t.Fatalf("len(samples)=%d, want 4", len(built.samples))
	}

	if !built.samples[0].keyframe {
		t.Fatalf("sample 0 should be a keyframe")
	}
	for i := 1; i < 4; i++ {
		if built.samples[i].keyframe {
			t.Fatalf("sample %d should not be a keyframe", i)
		}
	}

	wantOffsets := []uint64{1000, 1010, 1030, 1060}
	for i, want := range wantOffsets {
		if built.samples[i].offset != want {
			t.Fatalf("sample %d offset=%d, want %d", i, built.samples[i].offset, want)
		}
	}

	for i := 0; i < 4; i++ {
		wantPTS := float64(i) / 30.0
		if got := built.samples[i].pts; got != wantPTS {
			t.Fatalf("sample %d pts=%v, want %v", i, got, wantPTS)
		}
	}

	vt, ok := built.info.(demux.VideoTrack)
	if !ok {
		t.Fatalf("info is %T, want demux.VideoTrack", built.info)
	}
	if vt.Width != 640 || vt.Height != 360 {
		t.Fatalf("unexpected dimensions: %dx%d", vt.Width, vt.Height)
	}
}

func TestBuildTrackAudioAllSamplesAreSync(t *testing.T) {
	tr := &rawTrack{
		trackID:     2,
		timescale:   48000,
		handlerType: "soun",
		codec:       "aac",
		sampleRate:  48000,
		channels:    2,
		sttsEntries: []mp4.SttsEntry{{SampleCount: 2, SampleDelta: 1024}},
		stscEntries: []mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 2, SampleDescriptionIndex: 1}},
		sampleSize:  200,
		sampleCount: 2,
		chunkOffset: []uint64{0},
	}

	built, err := buildTrack(tr)
	if err != nil {
		t.Fatalf("buildTrack: %v", err)
	}
	for i, s := range built.samples {
		if !s.keyframe {
			t.Fatalf("audio sample %d should be marked sync (no stss present)", i)
		}
	}
	if _, ok := built.info.(demux.AudioTrack); !ok {
		t.Fatalf("info is %T, want demux.AudioTrack", built.info)
	}
}
