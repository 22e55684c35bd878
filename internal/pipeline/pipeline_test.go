package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/lumenplay/engine/internal/demux"
	"github.com/lumenplay/engine/internal/demux/tsfixture"
)

type recordingSink struct {
	mu       sync.Mutex
	video    int
	audio    int
	subtitle int
}

func (s *recordingSink) DeliverVideo(demux.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.video++
}

func (s *recordingSink) DeliverAudio(demux.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio++
}

func (s *recordingSink) DeliverSubtitle(demux.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subtitle++
}

type emptyReader struct{}

func (emptyReader) GetSize() uint64 { return 0 }
func (emptyReader) Read(ctx context.Context, offset, length uint64) ([]byte, error) {
	return nil, nil
}

func newTestBridge(t *testing.T, data string) (*demux.Bridge, []demux.Track) {
	t.Helper()
	parser := tsfixture.New(strings.NewReader(data), nil)
	bridge := demux.NewBridge(parser, emptyReader{}, nil)
	info, err := bridge.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return bridge, info.Tracks
}

func TestRunWithEmptyStreamReturnsNil(t *testing.T) {
	t.Parallel()

	bridge, tracks := newTestBridge(t, "")
	sink := &recordingSink{}
	p := New(bridge, tracks, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Run(ctx); err != nil {
		t.Errorf("Run with empty stream: %v", err)
	}
}

func TestDebugCountersStartAtZero(t *testing.T) {
	t.Parallel()

	bridge, tracks := newTestBridge(t, "")
	sink := &recordingSink{}
	p := New(bridge, tracks, sink, nil)

	debug := p.Debug()
	if debug.VideoForwarded != 0 || debug.AudioForwarded != 0 || debug.SubsForwarded != 0 {
		t.Errorf("expected zeroed counters before Run, got %+v", debug)
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	bridge, tracks := newTestBridge(t, "")
	sink := &recordingSink{}
	p := New(bridge, tracks, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A pre-cancelled context must not hang Run against an already-drained stream.
	_ = p.Run(ctx)
}
