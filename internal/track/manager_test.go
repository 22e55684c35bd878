package track

import (
	"testing"

	"github.com/lumenplay/engine/internal/demux"
)

func sampleTracks() []demux.Track {
	return []demux.Track{
		demux.VideoTrack{IDValue: 0, Codec: "h264", Width: 1920, Height: 1080},
		demux.AudioTrack{IDValue: 1, Codec: "aac", Language: "en"},
		demux.AudioTrack{IDValue: 2, Codec: "aac", Language: "fr"},
		demux.SubtitleTrack{IDValue: 3, Codec: "webvtt", Language: "en"},
	}
}

func TestSetTracksAutoSelectsFirstVideoAndAudio(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	m.SetTracks(sampleTracks())

	if v := m.ActiveVideo(); v == nil || v.ID() != 0 {
		t.Fatalf("expected video track 0 active, got %+v", v)
	}
	if a := m.ActiveAudio(); a == nil || a.ID() != 1 {
		t.Fatalf("expected audio track 1 active, got %+v", a)
	}
	if s := m.ActiveSubtitle(); s != nil {
		t.Fatalf("expected no subtitle track active by default, got %+v", s)
	}
}

func TestSelectAudioSwitchesTrack(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	m.SetTracks(sampleTracks())

	if err := m.SelectAudio(2); err != nil {
		t.Fatalf("SelectAudio: %v", err)
	}
	if a := m.ActiveAudio(); a == nil || a.ID() != 2 {
		t.Fatalf("expected audio track 2 active, got %+v", a)
	}
}

func TestSelectUnknownTrackErrors(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	m.SetTracks(sampleTracks())

	if err := m.SelectAudio(99); err == nil {
		t.Fatal("expected error selecting unknown audio track")
	}
}

func TestIsActiveStream(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	m.SetTracks(sampleTracks())

	if !m.IsActiveStream(0) {
		t.Error("stream 0 (active video) should be active")
	}
	if !m.IsActiveStream(1) {
		t.Error("stream 1 (active audio) should be active")
	}
	if m.IsActiveStream(2) {
		t.Error("stream 2 (non-selected audio) should not be active")
	}
	if m.IsActiveStream(3) {
		t.Error("stream 3 (unselected subtitle) should not be active")
	}
}

func TestSubscribeReceivesChangeEvents(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	ch := m.Subscribe()

	m.SetTracks(sampleTracks())

	seenVideo, seenAudio := false, false
	for i := 0; i < 2; i++ {
		ev := <-ch
		switch ev.Kind {
		case demux.KindVideo:
			seenVideo = true
		case demux.KindAudio:
			seenAudio = true
		}
	}
	if !seenVideo || !seenAudio {
		t.Fatalf("expected both video and audio change events, got video=%v audio=%v", seenVideo, seenAudio)
	}

	if err := m.SelectSubtitle(3); err != nil {
		t.Fatalf("SelectSubtitle: %v", err)
	}
	ev := <-ch
	if ev.Kind != demux.KindSubtitle || ev.Track == nil || ev.Track.ID() != 3 {
		t.Fatalf("expected subtitle change event for track 3, got %+v", ev)
	}
}
