// Package track tracks the set of tracks a source exposes and which one of
// each kind (video, audio, subtitle) is currently selected for decode and
// presentation.
package track

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/lumenplay/engine/internal/demux"
)

// ChangeEvent is published to subscribers whenever the active track for a
// kind changes, including selection to "none" (track == nil).
type ChangeEvent struct {
	Kind  demux.TrackKind
	Track demux.Track // nil if the kind was deselected
}

// Manager owns the track list for one opened source and the currently
// selected track per kind. Selection changes are broadcast to subscribers
// so the player and its UI layer can react (e.g. swap decoder
// configuration, update a captions menu).
type Manager struct {
	log *slog.Logger

	mu          sync.RWMutex
	tracks      []demux.Track
	activeVideo demux.Track
	activeAudio demux.Track
	activeSubs  demux.Track

	subMu sync.Mutex
	subs  []chan ChangeEvent
}

// NewManager creates a Manager with no tracks loaded. If log is nil,
// slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log.With("component", "track-manager")}
}

// SetTracks replaces the known track list (typically right after demux
// Open) and auto-selects the first track of each kind.
func (m *Manager) SetTracks(tracks []demux.Track) {
	m.mu.Lock()
	m.tracks = tracks
	m.activeVideo = nil
	m.activeAudio = nil
	m.activeSubs = nil
	for _, t := range tracks {
		switch t.Kind() {
		case demux.KindVideo:
			if m.activeVideo == nil {
				m.activeVideo = t
			}
		case demux.KindAudio:
			if m.activeAudio == nil {
				m.activeAudio = t
			}
		case demux.KindSubtitle:
			// Subtitles default to off; an explicit SelectSubtitle call is
			// required, matching how a player usually starts with captions
			// disabled.
		}
	}
	m.mu.Unlock()

	m.log.Info("tracks loaded", "count", len(tracks))
	if v := m.activeVideo; v != nil {
		m.publish(ChangeEvent{Kind: demux.KindVideo, Track: v})
	}
	if a := m.activeAudio; a != nil {
		m.publish(ChangeEvent{Kind: demux.KindAudio, Track: a})
	}
}

// List returns all known tracks.
func (m *Manager) List() []demux.Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]demux.Track, len(m.tracks))
	copy(out, m.tracks)
	return out
}

func (m *Manager) find(id uint32, kind demux.TrackKind) (demux.Track, error) {
	for _, t := range m.tracks {
		if t.Kind() == kind && t.ID() == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("track: no %s track with id %d", kind, id)
}

// SelectVideo switches the active video track by ID.
func (m *Manager) SelectVideo(id uint32) error { return m.selectKind(demux.KindVideo, id) }

// SelectAudio switches the active audio track by ID.
func (m *Manager) SelectAudio(id uint32) error { return m.selectKind(demux.KindAudio, id) }

// SelectSubtitle switches the active subtitle track by ID.
func (m *Manager) SelectSubtitle(id uint32) error { return m.selectKind(demux.KindSubtitle, id) }

// DeselectSubtitle turns subtitles off.
func (m *Manager) DeselectSubtitle() {
	m.mu.Lock()
	m.activeSubs = nil
	m.mu.Unlock()
	m.publish(ChangeEvent{Kind: demux.KindSubtitle, Track: nil})
}

func (m *Manager) selectKind(kind demux.TrackKind, id uint32) error {
	t, err := m.find(id, kind)
	if err != nil {
		return err
	}

	m.mu.Lock()
	switch kind {
	case demux.KindVideo:
		m.activeVideo = t
	case demux.KindAudio:
		m.activeAudio = t
	case demux.KindSubtitle:
		m.activeSubs = t
	}
	m.mu.Unlock()

	m.log.Info("track selected", "kind", kind, "id", id)
	m.publish(ChangeEvent{Kind: kind, Track: t})
	return nil
}

// ActiveVideo returns the selected video track, or nil if none.
func (m *Manager) ActiveVideo() demux.Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeVideo
}

// ActiveAudio returns the selected audio track, or nil if none.
func (m *Manager) ActiveAudio() demux.Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeAudio
}

// ActiveSubtitle returns the selected subtitle track, or nil if none.
func (m *Manager) ActiveSubtitle() demux.Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeSubs
}

// IsActiveStream reports whether streamIndex belongs to a track currently
// selected for decode. Packets on any other stream index should be dropped
// by the pipeline rather than decoded.
func (m *Manager) IsActiveStream(streamIndex uint32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range []demux.Track{m.activeVideo, m.activeAudio, m.activeSubs} {
		if t != nil && t.ID() == streamIndex {
			return true
		}
	}
	return false
}

// Subscribe returns a channel of future selection-change events. The
// returned channel is buffered and never closed; callers that stop
// listening should simply stop reading from it.
func (m *Manager) Subscribe() <-chan ChangeEvent {
	ch := make(chan ChangeEvent, 8)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Manager) publish(ev ChangeEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.log.Warn("change-event subscriber is slow, dropping event", "kind", ev.Kind)
		}
	}
}
