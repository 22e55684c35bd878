package mp4source

import (
	"testing"

	"github.com/abema/go-mp4"
)

func TestExpandStscSingleChunkPerSample(t *testing.T) {
	entries := []mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 1, SampleDescriptionIndex: 1}}
	got := expandStsc(entries, 4, 4)
	want := []int{0, 1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("len(got)=%d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%d, want %d", i, got[i], want[i])
		}
	}
}

func TestExpandStscMultipleRuns(t *testing.T) {
	// First 2 chunks hold 3 samples each, remaining chunks hold 1 each.
	entries := []mp4.StscEntry{
		{FirstChunk: 1, SamplesPerChunk: 3, SampleDescriptionIndex: 1},
		{FirstChunk: 3, SamplesPerChunk: 1, SampleDescriptionIndex: 1},
	}
	got := expandStsc(entries, 5, 9)
	want := []int{0, 0, 0, 1, 1, 1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("len(got)=%d, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%d, want %d", i, got[i], want[i])
		}
	}
}

func TestSampleSizesConstant(t *testing.T) {
	tr := &rawTrack{sampleSize: 512, sampleCount: 3, chunkOffset: []uint64{0, 512, 1024}}
	sizes := sampleSizes(tr)
	if len(sizes) != 3 {
		t.Fatalf("len(sizes)=%d, want 3", len(sizes))
	}
	for _, s := range sizes {
		if s != 512 {
			t.Fatalf("size=%d, want 512", s)
		}
	}
}

func TestSampleSizesVariable(t *testing.T) {
	tr := &rawTrack{entrySizes: []uint32{100, 200, 50}}
	sizes := sampleSizes(tr)
	if len(sizes) != 3 || sizes[1] != 200 {
		t.Fatalf("unexpected sizes: %v", sizes)
	}
}
