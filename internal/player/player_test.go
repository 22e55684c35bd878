package player

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lumenplay/engine/internal/decode"
	"github.com/lumenplay/engine/internal/demux"
	"github.com/lumenplay/engine/internal/scheduler"
	"github.com/lumenplay/engine/media"
)

type fakeParser struct {
	tracks  []demux.Track
	packets []demux.Packet
	idx     int
}

func newFakeParser() *fakeParser {
	return &fakeParser{
		tracks: []demux.Track{
			demux.VideoTrack{IDValue: 0, Codec: "avc1", Width: 64, Height: 64, FrameRate: 30},
			demux.AudioTrack{IDValue: 1, Codec: "aac", SampleRate: 48000, Channels: 2},
		},
		packets: []demux.Packet{
			{StreamIndex: 0, PTS: 0.0, Keyframe: true, Data: []byte{1}},
			{StreamIndex: 1, PTS: 0.0, Data: []byte{2}},
			{StreamIndex: 0, PTS: 0.033, Data: []byte{3}},
			{StreamIndex: 1, PTS: 0.033, Data: []byte{4}},
		},
	}
}

func (f *fakeParser) Open() (int, error) { return len(f.tracks), nil }
func (f *fakeParser) StreamInfo(i int) (demux.Track, error) { return f.tracks[i], nil }
func (f *fakeParser) Extradata(i int) ([]byte, error) { return nil, nil }
func (f *fakeParser) ReadFrame() (demux.Packet, error) {
	if f.idx >= len(f.packets) {
		return demux.Packet{}, io.EOF
	}
	pkt := f.packets[f.idx]
	f.idx++
	return pkt, nil
}
func (f *fakeParser) Seek(pts float64, streamIndex int, flags demux.SeekFlag) error {
	f.idx = 0
	return nil
}
func (f *fakeParser) DecodeSubtitle(index int, pkt demux.Packet) (string, error) { return "", nil }
func (f *fakeParser) DecodeVideoRGBA(w, h int) ([]byte, error) { return make([]byte, w*h*4), nil }
func (f *fakeParser) Destroy() {}

type fakeVideoBackend struct{}

func (fakeVideoBackend) Name() string { return "fake-hw" }
func (fakeVideoBackend) Configure(codecString string, extradata []byte) error { return nil }
func (fakeVideoBackend) Decode(pkt demux.Packet) (*media.VideoFrame, error) {
	return &media.VideoFrame{PTS: pkt.PTS, Width: 2, Height: 2, Format: media.PixelFormatRGBA, Data: make([]byte, 16)}, nil
}
func (fakeVideoBackend) Reset() error { return nil }
func (fakeVideoBackend) Close() error { return nil }

type fakeAudioBackend struct{}

func (fakeAudioBackend) Name() string { return "fake-audio" }
func (fakeAudioBackend) Configure(codecString string, extradata []byte) error { return nil }
func (fakeAudioBackend) Decode(pkt demux.Packet) (*media.AudioFrame, error) {
	return &media.AudioFrame{PTS: pkt.PTS, SampleRate: 48000, Channels: 2, Samples: make([]float32, 64)}, nil
}
func (fakeAudioBackend) Reset() error { return nil }
func (fakeAudioBackend) Close() error { return nil }

type fakePresenter struct {
	mu    sync.Mutex
	count int
}

func (p *fakePresenter) Present(frame *media.VideoFrame, scale float64, fit scheduler.FitMode, rotation demux.Rotation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
}

type fakeDevice struct {
	mu      sync.Mutex
	now     float64
	running bool
	gain    float64
}

func (d *fakeDevice) Now() float64 { d.mu.Lock(); defer d.mu.Unlock(); return d.now }
func (d *fakeDevice) Running() bool { return d.running }
func (d *fakeDevice) OutputLatency() float64 { return 0 }
func (d *fakeDevice) Commit(samples []float32, channels int, scheduleAt, playbackRate float64) {}
func (d *fakeDevice) SetGain(gain float64) { d.mu.Lock(); d.gain = gain; d.mu.Unlock() }
func (d *fakeDevice) Suspend() { d.running = false }
func (d *fakeDevice) Resume() { d.running = true }

func newTestPlayer(t *testing.T) *Player {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.bin")
	if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg := Config{
		Source:               SourceConfig{File: path},
		Presenter:            &fakePresenter{},
		AudioDevice:          &fakeDevice{running: true},
		ParserFactory:        func() (demux.Parser, error) { return newFakeParser(), nil },
		VideoHardwareBackend: func() (decode.VideoBackend, error) { return fakeVideoBackend{}, nil },
		AudioBackendFactory:  func() (decode.AudioBackend, error) { return fakeAudioBackend{}, nil },
	}
	return New(cfg)
}

func TestLoadTransitionsIdleToReady(t *testing.T) {
	p := newTestPlayer(t)
	defer p.Destroy()

	if _, err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := p.GetState(); got != StateReady {
		t.Fatalf("expected ready, got %s", got)
	}
	if len(p.GetTracks()) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(p.GetTracks()))
	}
}

func TestPlayPauseRoundTrip(t *testing.T) {
	p := newTestPlayer(t)
	defer p.Destroy()

	if _, err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := p.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if got := p.GetState(); got != StatePlaying {
		t.Fatalf("expected playing, got %s", got)
	}
	if err := p.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if got := p.GetState(); got != StatePaused {
		t.Fatalf("expected paused, got %s", got)
	}
}

func TestGetCurrentTimeStableWhilePaused(t *testing.T) {
	p := newTestPlayer(t)
	defer p.Destroy()

	if _, err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	p.Play()
	time.Sleep(10 * time.Millisecond)
	p.Pause()

	first := p.GetCurrentTime()
	time.Sleep(10 * time.Millisecond)
	second := p.GetCurrentTime()
	if first != second {
		t.Fatalf("expected stable time while paused, got %v then %v", first, second)
	}
}

func TestSetPlaybackRateClampsToRange(t *testing.T) {
	p := newTestPlayer(t)
	defer p.Destroy()
	if _, err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	p.SetPlaybackRate(10.0)
	if p.rate != maxPlaybackRate {
		t.Fatalf("expected rate clamped to %v, got %v", maxPlaybackRate, p.rate)
	}
	p.SetPlaybackRate(0.01)
	if p.rate != minPlaybackRate {
		t.Fatalf("expected rate clamped to %v, got %v", minPlaybackRate, p.rate)
	}
}

func TestGeneratePreviewReturnsPNGBytes(t *testing.T) {
	t.Skip("requires a parser fixture with a decodable keyframe; exercised end-to-end by the embedding host instead")
}
